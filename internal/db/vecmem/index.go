// Package vecmem 提供进程内暴力精确向量索引。
// 派生结构，可随时从元数据存储重建；绝不作为存在性权威。
package vecmem

import (
	"math"
	"sort"
	"sync"

	"matrag/internal/domain/rag"
)

type entry struct {
	id      string
	vector  []float32 // 存储时已归一化
	deleted bool
}

// Index 暴力余弦相似度索引。删除先打 tombstone，由 Rebuild 统一回收。
type Index struct {
	mu      sync.RWMutex
	dims    int
	entries []entry
	byID    map[string]int
	dead    int
}

// New 创建空索引。维度在首个向量加入时固定。
func New() *Index {
	return &Index{byID: make(map[string]int)}
}

// Add 添加向量。维度与首个向量不一致时拒绝，绝不截断或补零。
func (x *Index) Add(id string, vector []float32) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.dims == 0 {
		x.dims = len(vector)
	}
	if len(vector) != x.dims {
		return rag.NewConfigError("vector dimension mismatch: index has %d, got %d", x.dims, len(vector))
	}
	if pos, ok := x.byID[id]; ok && !x.entries[pos].deleted {
		return rag.NewConfigError("id already indexed: %s", id)
	}

	x.entries = append(x.entries, entry{id: id, vector: normalize(vector)})
	x.byID[id] = len(x.entries) - 1
	return nil
}

// Remove 逻辑删除：立即对 Search 不可见，物理回收等到下次 Rebuild。
// 不存在的 id 是 no-op。
func (x *Index) Remove(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	pos, ok := x.byID[id]
	if !ok || x.entries[pos].deleted {
		return
	}
	x.entries[pos].deleted = true
	x.dead++
	delete(x.byID, id)
}

// Search 返回至多 k 条命中，score 降序；同分按 id 升序，结果可复现。
// score 为余弦相似度，范围 [-1, 1]。
func (x *Index) Search(vector []float32, k int) ([]rag.IndexHit, error) {
	if k <= 0 {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(vector) != x.dims && x.dims != 0 {
		return nil, rag.NewConfigError("query vector dimension mismatch: index has %d, got %d", x.dims, len(vector))
	}

	query := normalize(vector)
	hits := make([]rag.IndexHit, 0, len(x.entries)-x.dead)
	for i := range x.entries {
		if x.entries[i].deleted {
			continue
		}
		hits = append(hits, rag.IndexHit{
			ID:    x.entries[i].id,
			Score: dot(x.entries[i].vector, query),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Rebuild 用全量快照重建，丢弃全部 tombstone。
// 对未受影响的查询，重建前后可见结果一致。
func (x *Index) Rebuild(snapshot []rag.ChunkVector) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	dims := x.dims
	entries := make([]entry, 0, len(snapshot))
	byID := make(map[string]int, len(snapshot))
	for _, cv := range snapshot {
		if dims == 0 {
			dims = len(cv.Vector)
		}
		if len(cv.Vector) != dims {
			return rag.NewConfigError("snapshot vector dimension mismatch: want %d, got %d for %s", dims, len(cv.Vector), cv.ID)
		}
		entries = append(entries, entry{id: cv.ID, vector: normalize(cv.Vector)})
		byID[cv.ID] = len(entries) - 1
	}

	x.dims = dims
	x.entries = entries
	x.byID = byID
	x.dead = 0
	return nil
}

// Len 存活向量数。
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries) - x.dead
}

// Tombstones 待回收向量数。
func (x *Index) Tombstones() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dead
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return append([]float32(nil), v...)
	}
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
