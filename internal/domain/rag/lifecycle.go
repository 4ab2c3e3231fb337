package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	applog "matrag/internal/platform/log"
)

// Lifecycle 文档生命周期管理：跨 Chunker、Embedder、向量索引、
// 元数据存储协调增删，保证三者互相一致。
//
// 结构性变更一次只进行一个（mu 串行）；提交段与读者通过 state 读写锁
// 协调，入库要么两个存储都提交、要么都不提交。
type Lifecycle struct {
	store    MetadataStore
	index    VectorIndex
	embedder *Embedder
	chunker  *Chunker
	config   *Config
	cache    ResultCache // 可选

	mu    sync.Mutex   // 变更入口串行
	state sync.RWMutex // 提交段 vs 读者
}

// NewLifecycle 创建生命周期管理器。
func NewLifecycle(store MetadataStore, index VectorIndex, embedder *Embedder, config *Config) (*Lifecycle, error) {
	chunker, err := NewChunker(config.ChunkSize, config.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	return &Lifecycle{
		store:    store,
		index:    index,
		embedder: embedder,
		chunker:  chunker,
		config:   config,
	}, nil
}

// Guard 返回与读者共享的状态锁（Retriever 构造时注入）。
func (l *Lifecycle) Guard() *sync.RWMutex {
	return &l.state
}

// SetCache 设置检索缓存；任何文档变更后整体失效。
func (l *Lifecycle) SetCache(c ResultCache) {
	l.cache = c
}

// AddDocument 入库：分块 → 批量 embedding → 全部向量就绪后
// 原子提交元数据 + 索引。embedding 中途失败不产生任何索引变更。
// id 为空时在此分配（入库即定 ID）。
func (l *Lifecycle) AddDocument(ctx context.Context, id, text string, attributes map[string]string) (*IngestResult, error) {
	if id == "" {
		id = uuid.New().String()
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoTextToIngest
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// 先查重，避免为注定被拒的文档白跑 embedding
	if _, err := l.store.GetDocument(ctx, id); err == nil {
		return nil, ErrDuplicateDocument
	} else if !errors.Is(err, ErrDocumentNotFound) {
		return nil, fmt.Errorf("check duplicate: %w", err)
	}

	pieces := l.chunker.Split(text)
	if len(pieces) == 0 {
		return nil, ErrNoTextToIngest
	}

	vectors, err := l.embedder.EmbedBatch(ctx, pieces)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		// 取消发生在提交前：不提交任何部分结果，重试从头开始
		return nil, err
	}

	doc := &Document{
		ID:         id,
		SourceText: text,
		Attributes: attributes,
		ChunkCount: len(pieces),
		CreatedAt:  time.Now(),
	}
	chunks := make([]Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = Chunk{
			ID:         ChunkID(id, i),
			DocumentID: id,
			Text:       piece,
			Position:   i,
			Vector:     vectors[i],
		}
	}

	l.state.Lock()
	defer l.state.Unlock()

	if err := l.store.PutDocument(ctx, doc); err != nil {
		return nil, err
	}
	if err := l.store.PutChunks(ctx, chunks); err != nil {
		// 补偿：撤掉刚写入的文档记录，保持存储无痕
		if _, derr := l.store.DeleteDocument(ctx, id); derr != nil {
			applog.Error("[RAG/Lifecycle] Rollback after chunk write failure failed", "doc_id", id, "error", derr)
		}
		return nil, fmt.Errorf("persist chunks: %w", err)
	}
	for i := range chunks {
		if err := l.index.Add(chunks[i].ID, chunks[i].Vector); err != nil {
			for j := 0; j < i; j++ {
				l.index.Remove(chunks[j].ID)
			}
			if _, derr := l.store.DeleteDocument(ctx, id); derr != nil {
				applog.Error("[RAG/Lifecycle] Rollback after index failure failed", "doc_id", id, "error", derr)
			}
			return nil, fmt.Errorf("index chunk %s: %w", chunks[i].ID, err)
		}
	}

	l.invalidateCache()

	applog.Info("[RAG/Lifecycle] Document added",
		"doc_id", id,
		"chunks", len(chunks),
	)

	return &IngestResult{DocumentID: id, ChunkCount: len(chunks)}, nil
}

// RemoveDocument 删除文档。元数据存储先删（权威）；索引端逻辑删除，
// 即便残留也会被 Retriever 的防御性 join 过滤，直到下次重建回收。
func (l *Lifecycle) RemoveDocument(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.Lock()
	chunkIDs, err := l.store.DeleteDocument(ctx, id)
	if err != nil {
		l.state.Unlock()
		return err
	}
	for _, chunkID := range chunkIDs {
		l.index.Remove(chunkID)
	}
	l.invalidateCache()
	l.state.Unlock()

	applog.Info("[RAG/Lifecycle] Document removed",
		"doc_id", id,
		"chunks", len(chunkIDs),
	)

	return l.maybeRebuild(ctx)
}

// RemoveAll 整体清空两个存储。
func (l *Lifecycle) RemoveAll(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.Lock()
	defer l.state.Unlock()

	if err := l.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear metadata store: %w", err)
	}
	if err := l.index.Rebuild(nil); err != nil {
		return fmt.Errorf("reset index: %w", err)
	}

	l.invalidateCache()

	applog.Info("[RAG/Lifecycle] All documents removed")
	return nil
}

// Restore 启动时从元数据存储重建索引。服务查询前必须完成，
// 保证重启后的一致性。
func (l *Lifecycle) Restore(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	snapshot, err := l.store.AllVectors(ctx)
	if err != nil {
		return fmt.Errorf("load vector snapshot: %w", err)
	}

	l.state.Lock()
	defer l.state.Unlock()

	if err := l.index.Rebuild(snapshot); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}

	applog.Info("[RAG/Lifecycle] Index restored", "vectors", len(snapshot))
	return nil
}

// Stats 存储统计。
func (l *Lifecycle) Stats(ctx context.Context) (*Stats, error) {
	return l.store.Stats(ctx)
}

// maybeRebuild tombstone 占比超过阈值时全量重建，摊销回收成本。
// 重建不改变未受影响查询的可见结果。
func (l *Lifecycle) maybeRebuild(ctx context.Context) error {
	dead := l.index.Tombstones()
	live := l.index.Len()
	if dead == 0 {
		return nil
	}
	if live > 0 && float64(dead)/float64(live) <= l.config.RebuildThreshold {
		return nil
	}

	snapshot, err := l.store.AllVectors(ctx)
	if err != nil {
		return fmt.Errorf("load vector snapshot: %w", err)
	}

	l.state.Lock()
	defer l.state.Unlock()

	if err := l.index.Rebuild(snapshot); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}

	applog.Info("[RAG/Lifecycle] Index rebuilt",
		"tombstones_reclaimed", dead,
		"vectors", len(snapshot),
	)
	return nil
}

// invalidateCache 在持有 state 写锁时同步执行：变更调用返回后，
// 缓存里不再有变更前的检索结果。
func (l *Lifecycle) invalidateCache() {
	if l.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	l.cache.InvalidateAll(ctx)
}
