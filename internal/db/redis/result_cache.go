package redisdb

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"matrag/internal/domain/rag"
	applog "matrag/internal/platform/log"
)

// ResultCache 检索结果 Redis 缓存。任何文档变更后整体失效，
// 因此缓存命中永远不会返回已删除文档的 chunk。
type ResultCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
}

// NewResultCache 创建检索缓存。
func NewResultCache(rdb *redis.Client, ttlSeconds int) *ResultCache {
	ttl := 5 * time.Minute
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	return &ResultCache{
		redis:  rdb,
		ttl:    ttl,
		prefix: "matrag:cache:",
	}
}

// Get 从缓存获取检索结果。
func (c *ResultCache) Get(ctx context.Context, q *rag.Query) (*rag.RetrievalResult, bool) {
	key := c.cacheKey(q)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}

	var result rag.RetrievalResult
	if err := json.Unmarshal(data, &result); err != nil {
		applog.Warn("[RAG/Cache] Failed to unmarshal cached result", "error", err)
		return nil, false
	}

	applog.Debug("[RAG/Cache] Hit", "key", key)
	return &result, true
}

// Set 写入检索结果。
func (c *ResultCache) Set(ctx context.Context, q *rag.Query, result *rag.RetrievalResult) {
	data, err := json.Marshal(result)
	if err != nil {
		return
	}

	key := c.cacheKey(q)
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		applog.Warn("[RAG/Cache] Failed to set cache", "key", key, "error", err)
	}
}

// InvalidateAll 清除全部检索缓存（SCAN + DEL）。
func (c *ResultCache) InvalidateAll(ctx context.Context) {
	pattern := c.prefix + "*"
	iter := c.redis.Scan(ctx, 0, pattern, 500).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		c.redis.Del(ctx, keys...)
		applog.Info("[RAG/Cache] Invalidated", "keys_deleted", len(keys))
	}
}

// cacheKey = hash(text | category | top_k | document filter)
func (c *ResultCache) cacheKey(q *rag.Query) string {
	raw := fmt.Sprintf("%s|%s|%d|%s", q.Text, q.Category, q.TopK, q.DocumentID)
	hash := sha256.Sum256([]byte(raw))
	return c.prefix + fmt.Sprintf("%x", hash[:12])
}
