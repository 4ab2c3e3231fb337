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

// OllamaGenerator 调用 Ollama /api/generate 生成答案。
// 低温度配置，答案尽量贴合给定上下文。
type OllamaGenerator struct {
	baseURL string
	model   string
	client  *http.Client
}

// OllamaGeneratorConfig 生成客户端配置。
type OllamaGeneratorConfig struct {
	BaseURL        string // e.g. http://localhost:11434
	Model          string // e.g. mistral:7b
	TimeoutSeconds int
}

// NewOllamaGenerator 创建 Ollama 生成客户端。
func NewOllamaGenerator(cfg OllamaGeneratorConfig) *OllamaGenerator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "mistral:7b"
	}
	timeout := 120 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	return &OllamaGenerator{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate 生成答案文本。超时/不可达作为 CapabilityError 上抛，
// 不产生任何部分状态。
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()

	reqBody := generateRequest{
		Model:  g.model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: 0.1,
			TopP:        0.9,
			NumPredict:  1000,
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", &CapabilityError{Capability: "generation", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &CapabilityError{Capability: "generation", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &CapabilityError{
			Capability: "generation",
			Err:        fmt.Errorf("generate API error (%d): %s", resp.StatusCode, string(respBody)),
		}
	}

	var genResp generateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}

	applog.Debug("[RAG/Generator] Answer generated",
		"model", g.model,
		"prompt_len", len(prompt),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	return strings.TrimSpace(genResp.Response), nil
}
