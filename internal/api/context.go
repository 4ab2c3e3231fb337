package api

import (
	"context"
	"fmt"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity 鉴权后的调用者身份
type Identity struct {
	Subject string
	Roles   []string
}

// WithIdentity 注入身份到 context
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom 从 context 取身份
func IdentityFrom(ctx context.Context) (*Identity, error) {
	id, ok := ctx.Value(identityKey).(*Identity)
	if !ok || id == nil {
		return nil, fmt.Errorf("identity not found in context")
	}
	return id, nil
}
