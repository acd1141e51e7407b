// SPDX-License-Identifier: MIT

// Command cruxd runs the live contest engine daemon.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/cruxlive/cruxd/internal/api"
	"github.com/cruxlive/cruxd/internal/auth"
	"github.com/cruxlive/cruxd/internal/backup"
	"github.com/cruxlive/cruxd/internal/config"
	"github.com/cruxlive/cruxd/internal/hub"
	"github.com/cruxlive/cruxd/internal/live"
	"github.com/cruxlive/cruxd/internal/log"
	"github.com/cruxlive/cruxd/internal/ratelimit"
	"github.com/cruxlive/cruxd/internal/registry"
	"github.com/cruxlive/cruxd/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg := config.FromEnv()
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "cruxd"})
	logger := log.WithComponent("main")

	if err := run(cfg); err != nil {
		logger.Fatal().Err(err).Msg("daemon failed")
	}
}

func run(cfg config.Config) error {
	logger := log.WithComponent("main")

	st, err := store.New(cfg.StorageDir, cfg.MaxAuditFileSizeMB)
	if err != nil {
		return err
	}

	users, err := auth.NewUserService(st)
	if err != nil {
		return err
	}
	if err := users.EnsureDefaultAdmin(cfg.DefaultAdminPassword, cfg.ResetAdminPassword); err != nil {
		return err
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.AccessTokenExpiry)
	if err != nil {
		return err
	}

	reg := registry.New()
	limiter := ratelimit.New(ratelimit.DefaultConfig())
	fanout := hub.New()

	svc, err := live.New(reg, st, fanout, limiter, cfg.ServerSideTimer)
	if err != nil {
		return err
	}
	if err := svc.Preload(cfg.ResetBoxesOnStart); err != nil {
		return err
	}

	backups := backup.NewRunner(cfg.BackupDir, cfg.BackupInterval, cfg.BackupRetention, svc.CollectBackup)

	server, err := api.New(cfg, svc, fanout, tokens, users, st, backups)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		backups.Run(ctx)
		return nil
	})

	g.Go(func() error {
		limiter.Run(ctx, cfg.RateLimitCleanupInterval)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down")
		fanout.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
