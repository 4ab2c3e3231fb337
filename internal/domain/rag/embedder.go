package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	applog "matrag/internal/platform/log"
)

// ── Embedder 适配层 ───────────────────────────────────────────

// Embedder 对外部 embedding 能力的适配：分批、调用内去重缓存、维度校验。
// 不包含任何模型逻辑。
type Embedder struct {
	capability EmbedCapability
	batchSize  int
	dims       int
}

// NewEmbedder 创建 Embedder 适配器。维度在此固定，之后每个向量都必须匹配。
func NewEmbedder(capability EmbedCapability, batchSize int) *Embedder {
	if batchSize <= 0 {
		batchSize = 64
	}
	return &Embedder{
		capability: capability,
		batchSize:  batchSize,
		dims:       capability.Dims(),
	}
}

// Dims 返回固定向量维度。
func (e *Embedder) Dims() int {
	return e.dims
}

// EmbedBatch 批量向量化，保持输入顺序，一个输入一个向量。
// 重复文本在单次调用内只向量化一次（缓存仅限本次调用，不持久化）。
// 任何一批失败则整体失败，调用方不得提交部分状态。
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	// 调用内去重：重复 boilerplate（如逐页页眉）只算一次
	cache := make(map[string][]float32, len(texts))
	var unique []string
	for _, t := range texts {
		if _, ok := cache[t]; ok {
			continue
		}
		cache[t] = nil
		unique = append(unique, t)
	}

	for i := 0; i < len(unique); i += e.batchSize {
		end := i + e.batchSize
		if end > len(unique) {
			end = len(unique)
		}
		batch := unique[i:end]

		vectors, err := e.capability.Embed(ctx, batch)
		if err != nil {
			return nil, &CapabilityError{Capability: "embedding", Err: err}
		}
		if len(vectors) != len(batch) {
			return nil, &CapabilityError{
				Capability: "embedding",
				Err:        fmt.Errorf("got %d vectors for %d texts", len(vectors), len(batch)),
			}
		}
		for j, v := range vectors {
			if len(v) != e.dims {
				return nil, NewConfigError("embedding dimension mismatch: want %d, got %d", e.dims, len(v))
			}
			cache[batch[j]] = v
		}
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = cache[t]
	}
	return out, nil
}

// ── OpenAI 兼容 embedding 客户端 ──────────────────────────────

// OpenAIEmbedClient 调用 OpenAI 兼容 /v1/embeddings API。
type OpenAIEmbedClient struct {
	baseURL string
	apiKey  string
	model   string
	dims    int
	client  *http.Client
}

// OpenAIEmbedConfig 客户端配置。
type OpenAIEmbedConfig struct {
	BaseURL        string // e.g. https://api.openai.com/v1
	APIKey         string
	Model          string
	Dims           int
	TimeoutSeconds int
}

// NewOpenAIEmbedClient 创建 OpenAI 兼容 embedding 客户端。
func NewOpenAIEmbedClient(cfg OpenAIEmbedConfig) *OpenAIEmbedClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Dims <= 0 {
		cfg.Dims = 1536
	}
	timeout := 60 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	return &OpenAIEmbedClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		dims:    cfg.Dims,
		client:  &http.Client{Timeout: timeout},
	}
}

// Dims 返回向量维度。
func (c *OpenAIEmbedClient) Dims() int {
	return c.dims
}

type embeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	Dimensions     int      `json:"dimensions,omitempty"`
	EncodingFormat string   `json:"encoding_format,omitempty"`
}

type embeddingResponse struct {
	Data []embeddingData `json:"data"`
}

type embeddingData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

// Embed 单次 API 调用向量化一批文本。
func (c *OpenAIEmbedClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()

	reqBody := embeddingRequest{
		Input:          texts,
		Model:          c.model,
		EncodingFormat: "float",
	}
	// 支持 dimensions 参数的模型（text-embedding-3-*）
	if strings.Contains(c.model, "embedding-3") {
		reqBody.Dimensions = c.dims
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	// 按 index 归位，防止乱序返回
	vectors := make([][]float32, len(texts))
	for _, d := range embResp.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for text index %d", i)
		}
	}

	applog.Debug("[RAG/Embedder] Batch embedded",
		"count", len(texts),
		"dims", len(vectors[0]),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	return vectors, nil
}
