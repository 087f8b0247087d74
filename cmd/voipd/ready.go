package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"commhub/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do/v2"
)

const readyTimeout = 2 * time.Second

type readyCheck struct {
	name  string
	check func(ctx context.Context) error
}

// readyChecks pings the backends that are configured.
func (c *container) readyChecks() []readyCheck {
	var out []readyCheck
	if db, err := do.Invoke[*sql.DB](c.Injector); err == nil {
		out = append(out, readyCheck{name: "postgres", check: func(ctx context.Context) error {
			return utils.PingPostgres(ctx, db, readyTimeout)
		}})
	}
	if rdb, err := do.Invoke[*redis.Client](c.Injector); err == nil {
		out = append(out, readyCheck{name: "redis", check: func(ctx context.Context) error {
			return utils.PingRedis(ctx, rdb, readyTimeout)
		}})
	}
	return out
}

func readyHandler(checks []readyCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		results := gin.H{}
		for _, ch := range checks {
			if err := ch.check(c.Request.Context()); err != nil {
				status = http.StatusServiceUnavailable
				results[ch.name] = err.Error()
				continue
			}
			results[ch.name] = "ok"
		}
		c.JSON(status, gin.H{"ready": status == http.StatusOK, "checks": results})
	}
}
