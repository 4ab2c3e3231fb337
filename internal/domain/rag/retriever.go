package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	applog "matrag/internal/platform/log"
)

// Retriever 检索引擎：embed 查询 → 索引搜索 → 元数据 join → 过滤截断。
type Retriever struct {
	index    VectorIndex
	store    MetadataStore
	embedder *Embedder
	config   *Config
	state    *sync.RWMutex
	cache    ResultCache // 可选
}

// NewRetriever 创建检索引擎。state 与 Lifecycle 共享：
// 读者持读锁，绝不观察到半提交的入库状态。
func NewRetriever(index VectorIndex, store MetadataStore, embedder *Embedder, config *Config, state *sync.RWMutex) *Retriever {
	return &Retriever{
		index:    index,
		store:    store,
		embedder: embedder,
		config:   config,
		state:    state,
	}
}

// SetCache 设置检索缓存。
func (r *Retriever) SetCache(c ResultCache) {
	r.cache = c
}

// Retrieve 执行一次检索。空结果是合法输出，由上层决定如何回应。
func (r *Retriever) Retrieve(ctx context.Context, q *Query) (*RetrievalResult, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, fmt.Errorf("query text is required")
	}

	// 默认值填在副本上，调用方的 Query 保持原样
	query := *q
	if query.TopK <= 0 {
		query.TopK = r.config.DefaultTopK
	}
	if query.Category == "" {
		query.Category = CategoryGeneral
	}
	if !query.Category.Valid() {
		return nil, NewConfigError("unknown question category: %s", query.Category)
	}

	if r.cache != nil {
		if cached, ok := r.cache.Get(ctx, &query); ok {
			return cached, nil
		}
	}

	start := time.Now()

	vectors, err := r.embedder.EmbedBatch(ctx, []string{query.Text})
	if err != nil {
		return nil, err
	}
	queryVector := vectors[0]

	// 过滤（文档筛选、陈旧索引项）会吃掉候选，先多取再截断
	overfetch := query.TopK * r.config.OverfetchFactor

	r.state.RLock()
	defer r.state.RUnlock()

	hits, err := r.index.Search(queryVector, overfetch)
	if err != nil {
		return nil, err
	}

	items := make([]RetrievalItem, 0, query.TopK)
	for _, hit := range hits {
		if len(items) >= query.TopK {
			break
		}

		// 防御性 join：并发删除后残留的索引项在此被过滤，
		// 元数据存储才是存在性的权威
		chunk, err := r.store.GetChunk(ctx, hit.ID)
		if err != nil {
			if errors.Is(err, ErrChunkNotFound) {
				continue
			}
			return nil, fmt.Errorf("join chunk %s: %w", hit.ID, err)
		}
		doc, err := r.store.GetDocument(ctx, chunk.DocumentID)
		if err != nil {
			if errors.Is(err, ErrDocumentNotFound) {
				continue
			}
			return nil, fmt.Errorf("join document %s: %w", chunk.DocumentID, err)
		}

		if query.DocumentID != "" && chunk.DocumentID != query.DocumentID {
			continue
		}

		items = append(items, RetrievalItem{
			Chunk:      *chunk,
			Score:      hit.Score,
			Attributes: doc.Attributes,
		})
	}

	result := &RetrievalResult{
		Items:     items,
		ElapsedMs: time.Since(start).Milliseconds(),
	}

	applog.Debug("[RAG/Retriever] Query served",
		"top_k", query.TopK,
		"candidates", len(hits),
		"results", len(items),
		"elapsed_ms", result.ElapsedMs,
	)

	// Set 仍在读锁内：与变更侧写锁内的整体失效互斥，
	// 失效完成后不会再落下失效前的结果
	if r.cache != nil {
		r.cache.Set(ctx, &query, result)
	}

	return result, nil
}
