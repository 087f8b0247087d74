package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the client behind the per-owner call slots.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	PoolSize    int
	PoolTimeout time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 10
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis builds a client and pings it.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	cfg = cfg.withDefaults()

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		PoolTimeout:  cfg.PoolTimeout,
	})
	if err := PingRedis(ctx, rdb, cfg.PingTimeout); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// PingRedis pings rdb, bounded by timeout.
func PingRedis(ctx context.Context, rdb *redis.Client, timeout time.Duration) error {
	if rdb == nil {
		return errors.New("redis client is nil")
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// acquireSlotScript takes one slot under KEYS[1] if fewer than ARGV[1] are
// held, and refreshes the key TTL (ARGV[2], ms). Returns 1 on success.
var acquireSlotScript = redis.NewScript(`
local held = tonumber(redis.call('GET', KEYS[1]) or '0')
if held >= tonumber(ARGV[1]) then
  return 0
end
redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// releaseSlotScript gives one slot back; the key is removed at zero so a
// release after TTL expiry cannot push the count negative.
var releaseSlotScript = redis.NewScript(`
local held = tonumber(redis.call('GET', KEYS[1]) or '0')
if held <= 1 then
  redis.call('DEL', KEYS[1])
  return 0
end
return redis.call('DECR', KEYS[1])
`)

func validateSlotArgs(rdb *redis.Client, key string) error {
	if rdb == nil {
		return errors.New("redis client is nil")
	}
	if key == "" {
		return errors.New("slot key is required")
	}
	return nil
}

// AcquireSlot atomically takes one of limit slots under key. Slots expire
// after ttl so a crashed process cannot hold them forever.
func AcquireSlot(ctx context.Context, rdb *redis.Client, key string, limit int, ttl time.Duration) (bool, error) {
	if err := validateSlotArgs(rdb, key); err != nil {
		return false, err
	}
	if limit <= 0 {
		return false, errors.New("slot limit must be > 0")
	}
	if ttl <= 0 {
		return false, errors.New("slot ttl must be > 0")
	}

	res, err := acquireSlotScript.Run(ctx, rdb, []string{key}, limit, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquire slot: %w", err)
	}
	return res == 1, nil
}

// ReleaseSlot returns one slot under key.
func ReleaseSlot(ctx context.Context, rdb *redis.Client, key string) error {
	if err := validateSlotArgs(rdb, key); err != nil {
		return err
	}
	if err := releaseSlotScript.Run(ctx, rdb, []string{key}).Err(); err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}
