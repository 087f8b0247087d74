package calls

import (
	"context"
	"errors"
	"time"

	"commhub/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Limiter caps concurrent sessions per owner. A nil Limiter means unlimited.
type Limiter interface {
	Acquire(ctx context.Context, ownerID string) (bool, error)
	Release(ctx context.Context, ownerID string) error
}

// RedisLimiter is a Limiter shared across processes through Redis counters.
// Slots expire after ttl so a crashed process cannot leak them forever.
type RedisLimiter struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func NewRedisLimiter(rdb *redis.Client, limit int, ttl time.Duration) (*RedisLimiter, error) {
	if rdb == nil {
		return nil, errors.New("calls: redis client is nil")
	}
	if limit <= 0 || ttl <= 0 {
		return nil, errors.New("calls: limiter needs positive limit and ttl")
	}
	return &RedisLimiter{rdb: rdb, limit: limit, ttl: ttl}, nil
}

func limiterKey(ownerID string) string {
	return "voip:calls:active:" + ownerID
}

func (l *RedisLimiter) Acquire(ctx context.Context, ownerID string) (bool, error) {
	return utils.AcquireSlot(ctx, l.rdb, limiterKey(ownerID), l.limit, l.ttl)
}

func (l *RedisLimiter) Release(ctx context.Context, ownerID string) error {
	return utils.ReleaseSlot(ctx, l.rdb, limiterKey(ownerID))
}
