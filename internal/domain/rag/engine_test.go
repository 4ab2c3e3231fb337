package rag_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"matrag/internal/db/memstore"
	"matrag/internal/db/vecmem"
	"matrag/internal/domain/rag"
)

// hashEmbed 按字符分布生成确定性向量：相同文本必得相同向量。
type hashEmbed struct{ dims int }

func (h hashEmbed) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, h.dims)
		for _, r := range t {
			v[int(r)%h.dims]++
		}
		out[i] = v
	}
	return out, nil
}

func (h hashEmbed) Dims() int { return h.dims }

type staticGenerator struct {
	reply   string
	prompts []string
}

func (g *staticGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return g.reply, nil
}

// memCache 进程内 ResultCache 假实现，key 与真实缓存同构。
type memCache struct {
	mu      sync.Mutex
	entries map[string]*rag.RetrievalResult
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]*rag.RetrievalResult)}
}

func (c *memCache) key(q *rag.Query) string {
	return fmt.Sprintf("%s|%s|%d|%s", q.Text, q.Category, q.TopK, q.DocumentID)
}

func (c *memCache) Get(ctx context.Context, q *rag.Query) (*rag.RetrievalResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[c.key(q)]
	return r, ok
}

func (c *memCache) Set(ctx context.Context, q *rag.Query, result *rag.RetrievalResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.key(q)] = result
}

func (c *memCache) InvalidateAll(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*rag.RetrievalResult)
}

func (c *memCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

type engineFixture struct {
	store     *memstore.Store
	index     *vecmem.Index
	lifecycle *rag.Lifecycle
	retriever *rag.Retriever
	assembler *rag.Assembler
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	cfg := rag.DefaultConfig()
	cfg.ChunkSize = 50
	cfg.ChunkOverlap = 10
	cfg.CacheTTL = 0

	store := memstore.New()
	index := vecmem.New()
	embedder := rag.NewEmbedder(hashEmbed{dims: 16}, 8)

	lifecycle, err := rag.NewLifecycle(store, index, embedder, cfg)
	if err != nil {
		t.Fatalf("NewLifecycle failed: %v", err)
	}

	return &engineFixture{
		store:     store,
		index:     index,
		lifecycle: lifecycle,
		retriever: rag.NewRetriever(index, store, embedder, cfg, lifecycle.Guard()),
		assembler: rag.NewAssembler(cfg),
	}
}

func TestAddAndRetrieveDocument(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	docText := "Registry number 45.231 of the 2nd registry office."
	if _, err := f.lifecycle.AddDocument(ctx, "deed-1", docText, map[string]string{"filename": "deed.pdf"}); err != nil {
		t.Fatalf("AddDocument failed: %v", err)
	}
	if _, err := f.lifecycle.AddDocument(ctx, "deed-2", "Total area of ninety square meters with parking.", nil); err != nil {
		t.Fatalf("AddDocument failed: %v", err)
	}

	result, err := f.retriever.Retrieve(ctx, &rag.Query{Text: docText, TopK: 1})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(result.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(result.Items))
	}
	if result.Items[0].Chunk.DocumentID != "deed-1" {
		t.Errorf("expected top hit from deed-1, got %s", result.Items[0].Chunk.DocumentID)
	}
	if result.Items[0].Score < 0.99 {
		t.Errorf("expected near-perfect self similarity, got %v", result.Items[0].Score)
	}
	if result.Items[0].Attributes["filename"] != "deed.pdf" {
		t.Errorf("expected document attributes joined in, got %v", result.Items[0].Attributes)
	}
}

func TestAddDocumentAssignsID(t *testing.T) {
	f := newEngineFixture(t)

	res, err := f.lifecycle.AddDocument(context.Background(), "", "some deed text", nil)
	if err != nil {
		t.Fatalf("AddDocument failed: %v", err)
	}
	if res.DocumentID == "" {
		t.Fatal("expected generated document id")
	}
	if res.ChunkCount != 1 {
		t.Errorf("expected 1 chunk, got %d", res.ChunkCount)
	}
}

func TestAddDocumentRejectsDuplicate(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	if _, err := f.lifecycle.AddDocument(ctx, "deed-1", "first version", nil); err != nil {
		t.Fatalf("AddDocument failed: %v", err)
	}
	_, err := f.lifecycle.AddDocument(ctx, "deed-1", "second version", nil)
	if !errors.Is(err, rag.ErrDuplicateDocument) {
		t.Fatalf("expected ErrDuplicateDocument, got %v", err)
	}

	// 原文档必须原样保留
	doc, err := f.store.GetDocument(ctx, "deed-1")
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if doc.SourceText != "first version" {
		t.Errorf("duplicate ingest mutated the stored document: %q", doc.SourceText)
	}
}

func TestAddDocumentRejectsBlankText(t *testing.T) {
	f := newEngineFixture(t)

	for _, text := range []string{"", "   \n\t"} {
		_, err := f.lifecycle.AddDocument(context.Background(), "deed-1", text, nil)
		if !errors.Is(err, rag.ErrNoTextToIngest) {
			t.Fatalf("AddDocument(%q): expected ErrNoTextToIngest, got %v", text, err)
		}
	}

	stats, _ := f.lifecycle.Stats(context.Background())
	if stats.DocumentCount != 0 {
		t.Errorf("rejected ingest left documents behind: %d", stats.DocumentCount)
	}
}

func TestRemoveDocument(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	text1 := "Registry number 45.231 of the 2nd registry office."
	if _, err := f.lifecycle.AddDocument(ctx, "deed-1", text1, nil); err != nil {
		t.Fatalf("AddDocument failed: %v", err)
	}
	if _, err := f.lifecycle.AddDocument(ctx, "deed-2", "Total area of ninety square meters.", nil); err != nil {
		t.Fatalf("AddDocument failed: %v", err)
	}

	if err := f.lifecycle.RemoveDocument(ctx, "deed-1"); err != nil {
		t.Fatalf("RemoveDocument failed: %v", err)
	}

	result, err := f.retriever.Retrieve(ctx, &rag.Query{Text: text1, TopK: 5})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	for _, item := range result.Items {
		if item.Chunk.DocumentID == "deed-1" {
			t.Fatalf("removed document still retrievable")
		}
	}

	if _, err := f.store.GetDocument(ctx, "deed-1"); !errors.Is(err, rag.ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound after removal, got %v", err)
	}
}

func TestRemoveDocumentNotFound(t *testing.T) {
	f := newEngineFixture(t)
	err := f.lifecycle.RemoveDocument(context.Background(), "missing")
	if !errors.Is(err, rag.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestRemoveTriggersRebuildAboveThreshold(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	if _, err := f.lifecycle.AddDocument(ctx, "deed-1", "first deed", nil); err != nil {
		t.Fatalf("AddDocument failed: %v", err)
	}
	if _, err := f.lifecycle.AddDocument(ctx, "deed-2", "second deed", nil); err != nil {
		t.Fatalf("AddDocument failed: %v", err)
	}

	// 删除一半，tombstone 占比 1/1 超过阈值，触发全量重建回收
	if err := f.lifecycle.RemoveDocument(ctx, "deed-1"); err != nil {
		t.Fatalf("RemoveDocument failed: %v", err)
	}
	if got := f.index.Tombstones(); got != 0 {
		t.Errorf("expected tombstones reclaimed by rebuild, got %d", got)
	}
	if got := f.index.Len(); got != 1 {
		t.Errorf("expected 1 live vector after rebuild, got %d", got)
	}
}

func TestRetrieveFiltersStaleIndexEntries(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	text := "Registry number 45.231."
	if _, err := f.lifecycle.AddDocument(ctx, "deed-1", text, nil); err != nil {
		t.Fatalf("AddDocument failed: %v", err)
	}

	// 索引里有、元数据存储没有的残留项：join 阶段必须静默过滤
	vectors, err := rag.NewEmbedder(hashEmbed{dims: 16}, 8).EmbedBatch(ctx, []string{text})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if err := f.index.Add("ghost_chunk_0", vectors[0]); err != nil {
		t.Fatalf("index.Add failed: %v", err)
	}

	result, err := f.retriever.Retrieve(ctx, &rag.Query{Text: text, TopK: 5})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	for _, item := range result.Items {
		if item.Chunk.ID == "ghost_chunk_0" {
			t.Fatalf("stale index entry leaked into results")
		}
	}
	if len(result.Items) != 1 {
		t.Errorf("expected only the real chunk, got %d items", len(result.Items))
	}
}

func TestRetrieveDocumentFilter(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	if _, err := f.lifecycle.AddDocument(ctx, "deed-1", "registry number one", nil); err != nil {
		t.Fatalf("AddDocument failed: %v", err)
	}
	if _, err := f.lifecycle.AddDocument(ctx, "deed-2", "registry number two", nil); err != nil {
		t.Fatalf("AddDocument failed: %v", err)
	}

	result, err := f.retriever.Retrieve(ctx, &rag.Query{Text: "registry number", TopK: 5, DocumentID: "deed-2"})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(result.Items) == 0 {
		t.Fatal("expected results from deed-2")
	}
	for _, item := range result.Items {
		if item.Chunk.DocumentID != "deed-2" {
			t.Errorf("document filter leaked chunk from %s", item.Chunk.DocumentID)
		}
	}
}

func TestRetrieveRejectsInvalidCategory(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.retriever.Retrieve(context.Background(), &rag.Query{Text: "q", Category: "bogus"})
	if !rag.IsConfigError(err) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestRetrieveEmptyIndex(t *testing.T) {
	f := newEngineFixture(t)
	result, err := f.retriever.Retrieve(context.Background(), &rag.Query{Text: "anything"})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if !result.Empty() {
		t.Errorf("expected empty result, got %d items", len(result.Items))
	}
}

func TestRemoveAll(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	if _, err := f.lifecycle.AddDocument(ctx, "deed-1", "first deed", nil); err != nil {
		t.Fatalf("AddDocument failed: %v", err)
	}
	if _, err := f.lifecycle.AddDocument(ctx, "deed-2", "second deed", nil); err != nil {
		t.Fatalf("AddDocument failed: %v", err)
	}

	if err := f.lifecycle.RemoveAll(ctx); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}

	stats, err := f.lifecycle.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.DocumentCount != 0 || stats.ChunkCount != 0 {
		t.Errorf("expected empty stats, got %+v", stats)
	}
	if f.index.Len() != 0 {
		t.Errorf("expected empty index, got %d", f.index.Len())
	}
}

func TestRestoreRebuildsIndexFromStore(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	text := "Registry number 45.231 of the 2nd registry office."
	if _, err := f.lifecycle.AddDocument(ctx, "deed-1", text, nil); err != nil {
		t.Fatalf("AddDocument failed: %v", err)
	}

	// 模拟重启：全新索引，仅靠元数据存储恢复
	cfg := rag.DefaultConfig()
	cfg.CacheTTL = 0
	freshIndex := vecmem.New()
	embedder := rag.NewEmbedder(hashEmbed{dims: 16}, 8)
	restored, err := rag.NewLifecycle(f.store, freshIndex, embedder, cfg)
	if err != nil {
		t.Fatalf("NewLifecycle failed: %v", err)
	}
	if err := restored.Restore(ctx); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	retriever := rag.NewRetriever(freshIndex, f.store, embedder, cfg, restored.Guard())
	result, err := retriever.Retrieve(ctx, &rag.Query{Text: text, TopK: 1})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(result.Items) != 1 || result.Items[0].Chunk.DocumentID != "deed-1" {
		t.Fatalf("restored index did not serve the persisted document: %+v", result)
	}
}

func TestRetrieveServesCachedResult(t *testing.T) {
	f := newEngineFixture(t)
	cache := newMemCache()
	f.retriever.SetCache(cache)
	f.lifecycle.SetCache(cache)
	ctx := context.Background()

	text := "Registry number 45.231 of the 2nd registry office."
	if _, err := f.lifecycle.AddDocument(ctx, "deed-1", text, nil); err != nil {
		t.Fatalf("AddDocument failed: %v", err)
	}

	q := &rag.Query{Text: text, TopK: 3}
	if _, err := f.retriever.Retrieve(ctx, q); err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if cache.size() != 1 {
		t.Fatalf("expected retrieval result in cache, got %d entries", cache.size())
	}

	// 把缓存项换成哨兵：命中时必须原样返回
	sentinel := &rag.RetrievalResult{ElapsedMs: 12345}
	cache.Set(ctx, &rag.Query{Text: text, Category: rag.CategoryGeneral, TopK: 3}, sentinel)

	again, err := f.retriever.Retrieve(ctx, q)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if again.ElapsedMs != 12345 {
		t.Errorf("expected cached result to be served, got %+v", again)
	}
}

func TestRemoveDocumentInvalidatesCachedResults(t *testing.T) {
	f := newEngineFixture(t)
	cache := newMemCache()
	f.retriever.SetCache(cache)
	f.lifecycle.SetCache(cache)
	ctx := context.Background()

	text := "Registry number 45.231 of the 2nd registry office."
	if _, err := f.lifecycle.AddDocument(ctx, "deed-1", text, nil); err != nil {
		t.Fatalf("AddDocument failed: %v", err)
	}

	q := &rag.Query{Text: text, TopK: 3}
	warm, err := f.retriever.Retrieve(ctx, q)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(warm.Items) == 0 {
		t.Fatal("expected items before removal")
	}

	if err := f.lifecycle.RemoveDocument(ctx, "deed-1"); err != nil {
		t.Fatalf("RemoveDocument failed: %v", err)
	}

	// 删除返回时缓存必须已清空
	if got := cache.size(); got != 0 {
		t.Fatalf("stale cached results survived RemoveDocument: %d entries", got)
	}

	again, err := f.retriever.Retrieve(ctx, q)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	for _, item := range again.Items {
		if item.Chunk.DocumentID == "deed-1" {
			t.Fatalf("removed document served after RemoveDocument returned: %s", item.Chunk.ID)
		}
	}
}

func TestDocumentMutationsInvalidateCache(t *testing.T) {
	f := newEngineFixture(t)
	cache := newMemCache()
	f.retriever.SetCache(cache)
	f.lifecycle.SetCache(cache)
	ctx := context.Background()

	if _, err := f.lifecycle.AddDocument(ctx, "deed-1", "registry number one", nil); err != nil {
		t.Fatalf("AddDocument failed: %v", err)
	}
	if _, err := f.retriever.Retrieve(ctx, &rag.Query{Text: "registry number"}); err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if cache.size() == 0 {
		t.Fatal("expected warmed cache")
	}

	if _, err := f.lifecycle.AddDocument(ctx, "deed-2", "registry number two", nil); err != nil {
		t.Fatalf("AddDocument failed: %v", err)
	}
	if got := cache.size(); got != 0 {
		t.Fatalf("AddDocument left %d stale cache entries", got)
	}

	if _, err := f.retriever.Retrieve(ctx, &rag.Query{Text: "registry number"}); err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if err := f.lifecycle.RemoveAll(ctx); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}
	if got := cache.size(); got != 0 {
		t.Fatalf("RemoveAll left %d stale cache entries", got)
	}
}

func TestRetrieveDoesNotMutateQuery(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	if _, err := f.lifecycle.AddDocument(ctx, "deed-1", "registry number one", nil); err != nil {
		t.Fatalf("AddDocument failed: %v", err)
	}

	q := &rag.Query{Text: "registry number"}
	if _, err := f.retriever.Retrieve(ctx, q); err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if q.TopK != 0 || q.Category != "" {
		t.Errorf("Retrieve wrote defaults back into the caller query: %+v", q)
	}
}

func TestAnswererAsk(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	docText := "Registry number 45.231 of the 2nd registry office."
	if _, err := f.lifecycle.AddDocument(ctx, "deed-1", docText, nil); err != nil {
		t.Fatalf("AddDocument failed: %v", err)
	}

	gen := &staticGenerator{reply: "The registry number is 45.231."}
	answerer := rag.NewAnswerer(f.retriever, f.assembler, gen)

	answer, err := answerer.Ask(ctx, &rag.Query{Text: docText, Category: rag.CategoryNumeric, TopK: 3})
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if answer.Text != gen.reply {
		t.Errorf("expected generator reply, got %q", answer.Text)
	}
	if len(answer.Sources) == 0 {
		t.Error("expected sources in answer")
	}
	if answer.Confidence <= 0 {
		t.Errorf("expected positive confidence, got %v", answer.Confidence)
	}
	if len(gen.prompts) != 1 || !strings.Contains(gen.prompts[0], "45.231") {
		t.Errorf("prompt missing retrieved context: %v", gen.prompts)
	}
}

func TestAnswererAskNoResults(t *testing.T) {
	f := newEngineFixture(t)

	gen := &staticGenerator{reply: "No relevant information was found."}
	answerer := rag.NewAnswerer(f.retriever, f.assembler, gen)

	answer, err := answerer.Ask(context.Background(), &rag.Query{Text: "anything"})
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if answer.Confidence != 0 {
		t.Errorf("expected zero confidence with no sources, got %v", answer.Confidence)
	}
	if len(answer.Sources) != 0 {
		t.Errorf("expected no sources, got %d", len(answer.Sources))
	}
	if len(gen.prompts) != 1 || !strings.Contains(gen.prompts[0], "No relevant documents were found") {
		t.Errorf("empty-result prompt missing the no-results instruction")
	}
}
