package utils

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisConfig_Defaults(t *testing.T) {
	got := RedisConfig{Addr: "localhost:6379"}.withDefaults()
	if got.PoolSize != 10 || got.DialTimeout != 3*time.Second || got.PingTimeout != 2*time.Second {
		t.Fatalf("unexpected defaults %+v", got)
	}
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestSlots_ValidateArguments(t *testing.T) {
	ctx := context.Background()
	// never dialed; validation fails before any command is sent
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	if _, err := AcquireSlot(ctx, nil, "k", 1, time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := AcquireSlot(ctx, rdb, "", 1, time.Second); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := AcquireSlot(ctx, rdb, "k", 0, time.Second); err == nil {
		t.Fatalf("expected error for zero limit")
	}
	if _, err := AcquireSlot(ctx, rdb, "k", 1, 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
	if err := ReleaseSlot(ctx, rdb, ""); err == nil {
		t.Fatalf("expected error for empty key")
	}
}
