package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"commhub/internal/schedule"
	"commhub/internal/sip"
	"commhub/internal/telephony"
	"commhub/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, provider webhooks and the recurring call runner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :APP_PORT)")
	return cmd
}

func runServe(rootCtx context.Context, addr string) error {
	rootCtx, stop := context.WithCancel(rootCtx)
	defer stop()

	cfg, log, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	c := setupDI(rootCtx, cfg, log)

	shutdownCtx := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), 20*time.Second)
	}
	defer func() {
		ctx, cancel := shutdownCtx()
		defer cancel()
		c.Close(ctx, log)
	}()

	api, webhooks, err := c.handlers()
	if err != nil {
		return fmt.Errorf("wiring failed: %w", err)
	}

	if cfg.Registrar.AutoStart {
		do.MustInvoke[sip.Gateway](c.Injector).Start(rootCtx)
	}

	runnerDone := make(chan struct{})
	if cfg.Scheduler.Enabled {
		runner := do.MustInvoke[*schedule.Runner](c.Injector)
		go func() {
			defer close(runnerDone)
			runner.Run(rootCtx)
		}()
	} else {
		close(runnerDone)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	opts := routeOptions{
		API:       api,
		Webhooks:  webhooks,
		DevTokens: cfg.Auth.DevTokens && !cfg.IsProduction(),
		Ready:     c.readyChecks(),
	}
	if cfg.Twilio.ValidateSignatures {
		opts.Signature = telephony.RequireTwilioSignature(cfg.Twilio.AuthToken, cfg.App.PublicBaseURL)
	}
	registerRoutes(r, opts)

	if addr == "" {
		addr = cfg.HTTPAddr()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "registrar_domain", cfg.Registrar.Domain)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	ctx, cancel := shutdownCtx()
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	<-runnerDone
	return nil
}
