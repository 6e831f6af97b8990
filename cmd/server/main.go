package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nvasko/push-delivery-system/internal/api"
	"github.com/nvasko/push-delivery-system/internal/config"
	"github.com/nvasko/push-delivery-system/internal/gateway"
	"github.com/nvasko/push-delivery-system/internal/processor"
	"github.com/nvasko/push-delivery-system/internal/store"
	"github.com/nvasko/push-delivery-system/internal/tokens"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize PostgreSQL
	ctx := context.Background()
	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := pgStore.RunMigrations(ctx, "migrations"); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	// Initialize Redis
	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")

	// Push gateway
	fcmClient, err := gateway.NewFCMClient(ctx, cfg.FCMCredentialsFile, cfg.GatewayTimeout, logger)
	if err != nil {
		logger.Error("failed to initialize push gateway", "error", err)
		os.Exit(1)
	}
	logger.Info("push gateway initialized")

	// Token directory with Redis-backed resolution cache
	directory := tokens.NewDirectory(pgStore, redisStore.Client(), cfg.TokenCacheTTL, logger)

	// Queue processor, invoked per cycle by the external scheduler
	proc := processor.New(pgStore, directory, fcmClient, pgStore, processor.Config{
		FetchLimit:     cfg.FetchLimit,
		SweepLimit:     cfg.SweepLimit,
		Concurrency:    cfg.Concurrency,
		ClaimStaleness: cfg.ClaimStaleness,
		Backoff: processor.BackoffPolicy{
			Base:       cfg.BackoffBase,
			Multiplier: cfg.BackoffMultiplier,
			Max:        cfg.BackoffMax,
		},
	}, logger)

	// Setup router
	router := api.NewRouter(pgStore, directory, proc, cfg.SchedulerToken, cfg.DefaultMaxRetries)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
