package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/yield-vault/internal/errors"
)

// ErrLockHeld is returned when another process holds the lock
var ErrLockHeld = errors.New("lock held by another holder")

// releaseScript deletes the key only if it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// HarvestLock is a Redis lock keeping keepers on different hosts from
// harvesting the same strategy at once
type HarvestLock struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewHarvestLock creates a lock whose entries expire after ttl
func NewHarvestLock(client redis.Cmdable, ttl time.Duration) *HarvestLock {
	return &HarvestLock{client: client, ttl: ttl}
}

// Acquire takes the lock for one strategy. The returned release func is safe to
// call after expiry; it never removes a lock taken by someone else.
func (l *HarvestLock) Acquire(ctx context.Context, vaultID, strategyID string) (release func(context.Context) error, err error) {
	key := CacheKey(CacheKeyLock, vaultID, strategyID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, apperrors.NewCacheError("acquire harvest lock", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return apperrors.NewCacheError("release harvest lock", err)
		}
		return nil
	}, nil
}
