package rag

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateDocument 文档 ID 已存在（防止重复入库破坏 chunk 编号）
	ErrDuplicateDocument = errors.New("document id already exists")

	// ErrDocumentNotFound 文档不存在
	ErrDocumentNotFound = errors.New("document not found")

	// ErrChunkNotFound chunk 不存在
	ErrChunkNotFound = errors.New("chunk not found")

	// ErrNoTextToIngest 上游抽取结果为空，无可入库文本
	ErrNoTextToIngest = errors.New("no text to ingest")
)

// ConfigError 配置错误（分块参数非法、向量维度不匹配等）。
// 在触发调用处立即失败，绝不静默修正。
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Reason
}

// NewConfigError 创建配置错误。
func NewConfigError(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// IsConfigError 判断是否为配置错误。
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// CapabilityError 外部能力（embedding / generation）不可达或超时。
// 可重试；依赖它的入库/查询操作整体中止，不提交任何部分状态。
type CapabilityError struct {
	Capability string // "embedding" | "generation"
	Err        error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s capability unavailable: %v", e.Capability, e.Err)
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}

// IsCapabilityError 判断是否为外部能力错误。
func IsCapabilityError(err error) bool {
	var ce *CapabilityError
	return errors.As(err, &ce)
}
