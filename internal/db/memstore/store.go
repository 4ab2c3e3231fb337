// Package memstore 提供进程内元数据存储，用于测试与无数据库的开发模式。
// 生产部署使用 postgres 实现。
package memstore

import (
	"context"
	"sort"
	"sync"

	"matrag/internal/domain/rag"
)

// Store 内存元数据存储。
type Store struct {
	mu        sync.RWMutex
	documents map[string]rag.Document
	chunks    map[string]rag.Chunk
	byDoc     map[string][]string // doc id -> chunk ids（按 position 排序）
}

// New 创建空存储。
func New() *Store {
	return &Store{
		documents: make(map[string]rag.Document),
		chunks:    make(map[string]rag.Chunk),
		byDoc:     make(map[string][]string),
	}
}

func (s *Store) PutDocument(ctx context.Context, doc *rag.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[doc.ID]; ok {
		return rag.ErrDuplicateDocument
	}
	s.documents[doc.ID] = *doc
	return nil
}

func (s *Store) PutChunks(ctx context.Context, chunks []rag.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		s.chunks[c.ID] = c
		s.byDoc[c.DocumentID] = append(s.byDoc[c.DocumentID], c.ID)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (*rag.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, rag.ErrDocumentNotFound
	}
	return &doc, nil
}

func (s *Store) GetChunk(ctx context.Context, id string) (*rag.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunk, ok := s.chunks[id]
	if !ok {
		return nil, rag.ErrChunkNotFound
	}
	return &chunk, nil
}

func (s *Store) ListDocuments(ctx context.Context) ([]rag.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]rag.Document, 0, len(s.documents))
	for _, doc := range s.documents {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// DeleteDocument 删除文档及其全部 chunk，返回被删 chunk ID。
// 内存实现天然原子（写锁内完成）。
func (s *Store) DeleteDocument(ctx context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[id]; !ok {
		return nil, rag.ErrDocumentNotFound
	}

	chunkIDs := s.byDoc[id]
	for _, chunkID := range chunkIDs {
		delete(s.chunks, chunkID)
	}
	delete(s.byDoc, id)
	delete(s.documents, id)
	return chunkIDs, nil
}

func (s *Store) AllVectors(ctx context.Context) ([]rag.ChunkVector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]rag.ChunkVector, 0, len(s.chunks))
	for _, c := range s.chunks {
		out = append(out, rag.ChunkVector{ID: c.ID, Vector: c.Vector})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Stats(ctx context.Context) (*rag.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &rag.Stats{
		DocumentCount: len(s.documents),
		ChunkCount:    len(s.chunks),
	}, nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.documents = make(map[string]rag.Document)
	s.chunks = make(map[string]rag.Chunk)
	s.byDoc = make(map[string][]string)
	return nil
}
