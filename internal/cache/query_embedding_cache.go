package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"zenocloud/internal/logger"
	"zenocloud/internal/rag"
)

// QueryEmbeddingCache wraps an Embedder and keeps query vectors in Redis.
// Cache failures are logged and the wrapped embedder is used instead.
type QueryEmbeddingCache struct {
	rag.Embedder
	client *redisv9.Client
	ttl    time.Duration
	log    *logger.Logger
}

func NewQueryEmbeddingCache(next rag.Embedder, client *redisv9.Client, ttl time.Duration, log *logger.Logger) *QueryEmbeddingCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &QueryEmbeddingCache{Embedder: next, client: client, ttl: ttl, log: log}
}

func (c *QueryEmbeddingCache) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := queryKey(c.Model(), text)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var vec []float32
		if jsonErr := json.Unmarshal(raw, &vec); jsonErr == nil && len(vec) == c.Dimension() {
			return vec, nil
		}
		c.log.Warn("drop malformed cached query embedding", "key", key)
	case err != redisv9.Nil:
		c.log.Warn("redis get query embedding failed", "error", err)
	}

	vec, err := c.Embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(vec); err == nil {
		if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.log.Warn("redis set query embedding failed", "error", err)
		}
	}
	return vec, nil
}

func queryKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return fmt.Sprintf("rag:qembed:%s", hex.EncodeToString(sum[:]))
}
