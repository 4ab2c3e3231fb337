package rag

import "context"

// MetadataStore 文档/chunk 元数据存储。
// 文档与 chunk 存在性的唯一权威；向量索引只是可重建的派生结构。
type MetadataStore interface {
	// PutDocument 写入文档记录；ID 已存在时返回 ErrDuplicateDocument
	PutDocument(ctx context.Context, doc *Document) error
	// PutChunks 批量写入 chunk（含向量）
	PutChunks(ctx context.Context, chunks []Chunk) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	GetChunk(ctx context.Context, id string) (*Chunk, error)
	ListDocuments(ctx context.Context) ([]Document, error)
	// DeleteDocument 事务性删除文档及其全部 chunk，返回被删 chunk ID；
	// 任何底层失败都不留下部分删除
	DeleteDocument(ctx context.Context, id string) ([]string, error)
	// AllVectors 全量 (chunk id, 向量) 快照，用于索引重建
	AllVectors(ctx context.Context) ([]ChunkVector, error)
	Stats(ctx context.Context) (*Stats, error)
	// Clear 清空全部文档与 chunk
	Clear(ctx context.Context) error
}

// VectorIndex 向量索引的四操作契约。实现可替换（暴力精确 / 近似图等），
// Retriever 与 Lifecycle 不感知后端。
type VectorIndex interface {
	// Add 添加向量；维度不匹配返回 ConfigError
	Add(id string, vector []float32) error
	// Remove 使 id 立即对后续 Search 不可见（tombstone 亦可）
	Remove(id string)
	// Search 返回至多 k 条命中，score 降序，同分按 id 升序
	Search(vector []float32, k int) ([]IndexHit, error)
	// Rebuild 用全量快照重建索引，清除所有 tombstone
	Rebuild(snapshot []ChunkVector) error
	// Len 存活向量数
	Len() int
	// Tombstones 已逻辑删除、待重建回收的向量数
	Tombstones() int
}

// EmbedCapability 外部 embedding 能力：一次调用向量化一批文本。
type EmbedCapability interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dims() int
}

// Generator 外部文本生成能力。
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ResultCache 检索结果缓存（可选）。
type ResultCache interface {
	Get(ctx context.Context, q *Query) (*RetrievalResult, bool)
	Set(ctx context.Context, q *Query, result *RetrievalResult)
	// InvalidateAll 任何文档变更后整体失效
	InvalidateAll(ctx context.Context)
}
