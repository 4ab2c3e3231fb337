package rag

// Config 检索引擎配置。
type Config struct {
	// 分块
	ChunkSize    int `json:"chunk_size"`    // 每块字符数（rune）
	ChunkOverlap int `json:"chunk_overlap"` // 块间重叠字符数

	// 检索
	DefaultTopK      int     `json:"default_top_k"`
	OverfetchFactor  int     `json:"overfetch_factor"`  // 过滤前多取倍数
	RebuildThreshold float64 `json:"rebuild_threshold"` // tombstone/存活 超过该比例触发重建

	// 上下文组装
	ContextBudget int `json:"context_budget"` // prompt 上下文字符预算（rune）

	// Embedding
	EmbeddingBaseURL        string `json:"embedding_base_url,omitempty"`
	EmbeddingAPIKey         string `json:"-"`
	EmbeddingModel          string `json:"embedding_model,omitempty"`
	EmbeddingDims           int    `json:"embedding_dims,omitempty"`
	EmbeddingBatchSize      int    `json:"embedding_batch_size,omitempty"`
	EmbeddingTimeoutSeconds int    `json:"embedding_timeout_seconds,omitempty"`

	// Generation
	GeneratorBaseURL        string `json:"generator_base_url,omitempty"`
	GeneratorModel          string `json:"generator_model,omitempty"`
	GeneratorTimeoutSeconds int    `json:"generator_timeout_seconds,omitempty"`

	// 缓存 / 上传
	CacheTTL    int `json:"cache_ttl"`     // 检索缓存 TTL（秒），0=禁用
	MaxFileSize int `json:"max_file_size"` // 上传文件上限（MB）
}

// DefaultConfig 默认配置。
func DefaultConfig() *Config {
	return &Config{
		ChunkSize:               500,
		ChunkOverlap:            100,
		DefaultTopK:             5,
		OverfetchFactor:         3,
		RebuildThreshold:        0.25,
		ContextBudget:           2000,
		EmbeddingBaseURL:        "http://localhost:11434/v1",
		EmbeddingModel:          "nomic-embed-text",
		EmbeddingDims:           384,
		EmbeddingBatchSize:      64,
		EmbeddingTimeoutSeconds: 60,
		GeneratorBaseURL:        "http://localhost:11434",
		GeneratorModel:          "mistral:7b",
		GeneratorTimeoutSeconds: 120,
		CacheTTL:                300,
		MaxFileSize:             50,
	}
}

// Validate 校验引擎配置。分块参数非法属于配置错误，在启动时失败。
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return NewConfigError("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return NewConfigError("chunk_overlap must be in [0, chunk_size), got %d", c.ChunkOverlap)
	}
	if c.DefaultTopK <= 0 {
		return NewConfigError("default_top_k must be positive, got %d", c.DefaultTopK)
	}
	if c.OverfetchFactor <= 0 {
		return NewConfigError("overfetch_factor must be positive, got %d", c.OverfetchFactor)
	}
	if c.RebuildThreshold <= 0 {
		return NewConfigError("rebuild_threshold must be positive, got %v", c.RebuildThreshold)
	}
	if c.ContextBudget <= 0 {
		return NewConfigError("context_budget must be positive, got %d", c.ContextBudget)
	}
	return nil
}

// HasCache 是否启用检索缓存。
func (c *Config) HasCache() bool {
	return c.CacheTTL > 0
}

// HasGenerator 是否配置了生成能力。
func (c *Config) HasGenerator() bool {
	return c.GeneratorBaseURL != "" && c.GeneratorModel != ""
}
