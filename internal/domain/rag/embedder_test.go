package rag

import (
	"context"
	"fmt"
	"testing"
)

// countingEmbed 记录每批实际送达的文本，按文本长度生成确定性向量。
type countingEmbed struct {
	dims    int
	batches [][]string
	fail    bool
}

func (c *countingEmbed) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.fail {
		return nil, fmt.Errorf("backend unavailable")
	}
	c.batches = append(c.batches, append([]string(nil), texts...))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, c.dims)
		for j := range v {
			v[j] = float32(len(t)+i) / float32(j+1)
		}
		out[i] = v
	}
	return out, nil
}

func (c *countingEmbed) Dims() int { return c.dims }

func TestEmbedBatchPreservesOrder(t *testing.T) {
	backend := &countingEmbed{dims: 4}
	e := NewEmbedder(backend, 64)

	texts := []string{"one", "twotwo", "three33"}
	vectors, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != 4 {
			t.Errorf("vector %d: expected dims 4, got %d", i, len(v))
		}
	}
}

func TestEmbedBatchSplitsIntoBatches(t *testing.T) {
	backend := &countingEmbed{dims: 2}
	e := NewEmbedder(backend, 2)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	if _, err := e.EmbedBatch(context.Background(), texts); err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}

	if len(backend.batches) != 3 {
		t.Fatalf("expected 3 batches of size <=2, got %d", len(backend.batches))
	}
	for i, b := range backend.batches {
		if len(b) > 2 {
			t.Errorf("batch %d exceeds batch size: %d", i, len(b))
		}
	}
}

func TestEmbedBatchDeduplicatesWithinCall(t *testing.T) {
	backend := &countingEmbed{dims: 2}
	e := NewEmbedder(backend, 64)

	texts := []string{"header", "body", "header", "header"}
	vectors, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}

	sent := 0
	for _, b := range backend.batches {
		sent += len(b)
	}
	if sent != 2 {
		t.Errorf("expected 2 unique texts sent to backend, got %d", sent)
	}

	// 重复文本得到同一向量
	if len(vectors) != 4 {
		t.Fatalf("expected 4 vectors, got %d", len(vectors))
	}
	for i := range vectors[0] {
		if vectors[0][i] != vectors[2][i] || vectors[0][i] != vectors[3][i] {
			t.Fatalf("duplicate texts produced different vectors")
		}
	}
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	e := NewEmbedder(&countingEmbed{dims: 2}, 64)
	vectors, err := e.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if vectors != nil {
		t.Errorf("expected nil for empty input, got %v", vectors)
	}
}

func TestEmbedBatchWrapsBackendFailure(t *testing.T) {
	e := NewEmbedder(&countingEmbed{dims: 2, fail: true}, 64)
	_, err := e.EmbedBatch(context.Background(), []string{"x"})
	if !IsCapabilityError(err) {
		t.Fatalf("expected capability error, got %v", err)
	}
}

type wrongDimsEmbed struct{}

func (wrongDimsEmbed) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}

func (wrongDimsEmbed) Dims() int { return 8 }

func TestEmbedBatchRejectsDimensionMismatch(t *testing.T) {
	e := NewEmbedder(wrongDimsEmbed{}, 64)
	_, err := e.EmbedBatch(context.Background(), []string{"x"})
	if !IsConfigError(err) {
		t.Fatalf("expected config error on dimension mismatch, got %v", err)
	}
}
