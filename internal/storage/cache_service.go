package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/yield-vault/internal/errors"
	"github.com/yield-vault/internal/types"
)

// CacheKeyType prefixes keys of one kind
type CacheKeyType string

const (
	// CacheKeySummary holds a vault's last published summary
	CacheKeySummary CacheKeyType = "vault:summary"
	// CacheKeyLock holds harvest locks
	CacheKeyLock CacheKeyType = "vault:lock"
)

// CacheKey builds <type>:<param>:... with lowercased params
func CacheKey(keyType CacheKeyType, params ...string) string {
	parts := make([]string, 0, len(params)+1)
	parts = append(parts, string(keyType))
	for _, p := range params {
		parts = append(parts, strings.ToLower(p))
	}
	return strings.Join(parts, ":")
}

// SummaryCache serves recently published vault summaries (price per share, totals)
// to readers that do not need the ledger lock
type SummaryCache struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewSummaryCache creates a summary cache with the given TTL
func NewSummaryCache(redis *RedisCache, ttl time.Duration) *SummaryCache {
	return &SummaryCache{redis: redis, ttl: ttl}
}

// Put publishes a summary
func (c *SummaryCache) Put(ctx context.Context, s types.VaultSummary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return apperrors.NewCacheError("marshal summary", err)
	}
	if err := c.redis.set(ctx, CacheKey(CacheKeySummary, s.ID), data, c.ttl); err != nil {
		return apperrors.NewCacheError("set summary", err)
	}
	return nil
}

// Get returns the cached summary; ok is false on a miss
func (c *SummaryCache) Get(ctx context.Context, vaultID string) (summary *types.VaultSummary, ok bool, err error) {
	raw, err := c.redis.get(ctx, CacheKey(CacheKeySummary, vaultID))
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.NewCacheError("get summary", err)
	}

	var s types.VaultSummary
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, false, apperrors.NewCacheError("unmarshal summary", err)
	}
	return &s, true, nil
}

// Invalidate drops a vault's cached summary
func (c *SummaryCache) Invalidate(ctx context.Context, vaultID string) error {
	if err := c.redis.del(ctx, CacheKey(CacheKeySummary, vaultID)); err != nil {
		return apperrors.NewCacheError("invalidate summary", err)
	}
	return nil
}
