package main

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"

	"commhub/internal/audit"
	"commhub/internal/auth"
	"commhub/internal/calls"
	"commhub/internal/config"
	"commhub/internal/extensions"
	"commhub/internal/httpapi"
	"commhub/internal/reporting"
	"commhub/internal/routing"
	"commhub/internal/schedule"
	"commhub/internal/sip"
	"commhub/internal/telephony"
	"commhub/pkg/logger"
	"commhub/pkg/utils"

	"github.com/redis/go-redis/v9"
	"github.com/samber/do/v2"
)

// loadConfig reads the environment and builds the process logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(logger.Options{Env: cfg.App.Env, Level: cfg.App.LogLevel, Service: "voipd"})
	slog.SetDefault(log)
	return &cfg, log, nil
}

// container is the DI root plus the connections it opened. sql.DB and
// redis.Client have no Shutdown method, so they are closed explicitly after
// the services that use them.
type container struct {
	do.Injector

	mu      sync.Mutex
	closers []func() error
}

func (c *container) onClose(f func() error) {
	c.mu.Lock()
	c.closers = append(c.closers, f)
	c.mu.Unlock()
}

// Close stops every invoked service, then closes connections.
func (c *container) Close(ctx context.Context, log *slog.Logger) {
	if rep := c.ShutdownWithContext(ctx); rep != nil && !rep.Succeed {
		log.Error("service shutdown failed", "err", rep.Error())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			log.Error("close failed", "err", err)
		}
	}
	c.closers = nil
}

func setupDI(ctx context.Context, cfg *config.Config, log *slog.Logger) *container {
	c := &container{Injector: do.New()}

	do.ProvideValue(c.Injector, cfg)
	do.ProvideValue(c.Injector, log)
	c.registerInfra(ctx, cfg)

	audit.RegisterDI(c.Injector)
	sip.RegisterDI(c.Injector)
	telephony.RegisterDI(c.Injector)
	calls.RegisterDI(c.Injector)
	extensions.RegisterDI(c.Injector)
	schedule.RegisterDI(c.Injector)
	routing.RegisterDI(c.Injector)
	reporting.RegisterDI(c.Injector)

	return c
}

// registerInfra provides the optional Postgres and Redis clients.
func (c *container) registerInfra(ctx context.Context, cfg *config.Config) {
	if cfg.DBEnabled() {
		do.Provide(c.Injector, func(i do.Injector) (*sql.DB, error) {
			db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{
				MaxOpenConns:    cfg.DB.MaxOpenConns,
				MaxIdleConns:    cfg.DB.MaxIdleConns,
				ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
			})
			if err != nil {
				return nil, err
			}
			c.onClose(db.Close)
			return db, nil
		})
	}
	if cfg.RedisEnabled() {
		do.Provide(c.Injector, func(i do.Injector) (*redis.Client, error) {
			rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{
				Addr:     cfg.RedisAddr(),
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			if err != nil {
				return nil, err
			}
			c.onClose(rdb.Close)
			return rdb, nil
		})
	}
	do.Provide(c.Injector, func(i do.Injector) (*auth.Manager, error) {
		return auth.NewManager(cfg.Auth)
	})
}

// handlers resolves everything the HTTP layer needs.
func (c *container) handlers() (httpapi.Handlers, telephony.WebhookHandler, error) {
	orch, err := do.Invoke[*calls.Orchestrator](c.Injector)
	if err != nil {
		return httpapi.Handlers{}, telephony.WebhookHandler{}, err
	}
	authManager, err := do.Invoke[*auth.Manager](c.Injector)
	if err != nil {
		return httpapi.Handlers{}, telephony.WebhookHandler{}, err
	}
	exts, err := do.Invoke[*extensions.Manager](c.Injector)
	if err != nil {
		return httpapi.Handlers{}, telephony.WebhookHandler{}, err
	}
	scheds, err := do.Invoke[*schedule.Scheduler](c.Injector)
	if err != nil {
		return httpapi.Handlers{}, telephony.WebhookHandler{}, err
	}
	router, err := do.Invoke[telephony.InboundRouter](c.Injector)
	if err != nil {
		return httpapi.Handlers{}, telephony.WebhookHandler{}, err
	}
	auditLog, err := do.Invoke[audit.Reader](c.Injector)
	if err != nil {
		return httpapi.Handlers{}, telephony.WebhookHandler{}, err
	}

	api := httpapi.Handlers{
		Auth:       authManager,
		Calls:      orch,
		Extensions: exts,
		Schedules:  scheds,
		Registrar:  do.MustInvoke[sip.Gateway](c.Injector),
		Overrides:  do.MustInvoke[*routing.MemoryOverrideStore](c.Injector),
		AuditLog:   auditLog,
		Reports:    do.MustInvoke[*reporting.Service](c.Injector),
	}
	return api, telephony.WebhookHandler{Sessions: orch, Router: router}, nil
}
