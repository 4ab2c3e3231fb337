package rag

import (
	"fmt"
	"time"
)

// Document 已入库文档。入库时创建，创建后不可变，仅随显式删除销毁。
type Document struct {
	ID         string            `json:"id"`
	SourceText string            `json:"source_text,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	ChunkCount int               `json:"chunk_count"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Chunk 文档分块，embedding 与检索的基本单位。
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Text       string    `json:"text"`
	Position   int       `json:"position"`
	Vector     []float32 `json:"vector,omitempty"`
}

// ChunkID 按文档 ID + 序号生成确定性 chunk ID。
func ChunkID(docID string, position int) string {
	return fmt.Sprintf("%s_chunk_%d", docID, position)
}

// QuestionCategory 问题类型（封闭集合，决定 prompt 模板）。
type QuestionCategory string

const (
	CategoryGeneral QuestionCategory = "general"
	CategoryNumeric QuestionCategory = "numeric"
	CategoryArea    QuestionCategory = "area"
	CategoryOwner   QuestionCategory = "owner"
)

// Valid 判断类型是否在封闭集合内。
func (c QuestionCategory) Valid() bool {
	switch c {
	case CategoryGeneral, CategoryNumeric, CategoryArea, CategoryOwner:
		return true
	}
	return false
}

// Query 检索请求。
type Query struct {
	Text       string           `json:"text"`
	Category   QuestionCategory `json:"category,omitempty"`
	TopK       int              `json:"top_k,omitempty"`
	DocumentID string           `json:"document_id,omitempty"` // 可选：仅检索该文档
}

// RetrievalItem 单条检索结果：chunk + 相似度 + 所属文档属性。
type RetrievalItem struct {
	Chunk      Chunk             `json:"chunk"`
	Score      float64           `json:"score"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// RetrievalResult 检索结果，按相似度降序，长度 ≤ top_k。
// 空结果是合法输出而不是错误。
type RetrievalResult struct {
	Items     []RetrievalItem `json:"items"`
	ElapsedMs int64           `json:"elapsed_ms"`
}

// Empty 结果是否为空。
func (r *RetrievalResult) Empty() bool {
	return r == nil || len(r.Items) == 0
}

// SourceRef 答案引用的来源 chunk。
type SourceRef struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
}

// Answer 生成的答案及其引用与置信度。
type Answer struct {
	Text       string           `json:"text"`
	Sources    []SourceRef      `json:"sources"`
	Confidence float64          `json:"confidence"`
	Category   QuestionCategory `json:"category"`
}

// IngestResult 入库结果。
type IngestResult struct {
	DocumentID string `json:"document_id"`
	ChunkCount int    `json:"chunk_count"`
}

// Stats 存储统计。
type Stats struct {
	DocumentCount int `json:"document_count"`
	ChunkCount    int `json:"chunk_count"`
}

// ChunkVector 重建索引用的 (chunk id, 向量) 快照项。
type ChunkVector struct {
	ID     string
	Vector []float32
}

// IndexHit 向量索引命中项。
type IndexHit struct {
	ID    string
	Score float64
}
