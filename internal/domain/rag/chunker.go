package rag

import "strings"

// Chunker 文档分块器。按固定偏移切分：第 n 块起点 = n*(size-overlap)，
// 末块可短于 size，但绝不丢弃。
type Chunker struct {
	size    int
	overlap int
}

// NewChunker 创建分块器。参数非法是配置错误，在构造时失败而不是每次调用时。
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, NewConfigError("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, NewConfigError("chunk overlap must be in [0, size), got overlap=%d size=%d", overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split 将文本切分为有序的重叠分块。
// 空白文本返回空序列（合法输出，不是错误）。文本单位是 rune。
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= c.size {
		return []string{text}
	}

	step := c.size - c.overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
