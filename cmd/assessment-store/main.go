package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/terra-clan/assessment-composer/internal/config"
	"github.com/terra-clan/assessment-composer/internal/services"
	"github.com/terra-clan/assessment-composer/internal/storage"
	"github.com/terra-clan/assessment-composer/internal/storeapi"
	"github.com/terra-clan/assessment-composer/migrations"
)

func main() {
	flags, err := config.ParseFlags(config.AppStore, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if err := config.LoadDotEnv(flags.EnvFile); err != nil {
		slog.Error("failed to load env file", "error", err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(config.AppStore)
	if err == nil {
		err = flags.Apply(cfg)
	}
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	slog.SetDefault(config.NewLogger(cfg.Log, os.Stdout))

	slog.Info("starting assessment-store",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	// Create context for initialization
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	// Initialize database repository
	repo, err := storage.NewPostgresRepository(initCtx, storage.PostgresConfig{
		DSN:          cfg.Database.DSN,
		MaxOpenConns: int32(cfg.Database.MaxOpenConns),
		MaxIdleConns: int32(cfg.Database.MaxIdleConns),
		MaxLifetime:  time.Hour,
	})
	if err != nil {
		slog.Error("failed to create database repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("database connected successfully")

	// Run database migrations
	if cfg.Database.MigrationsDir != "" {
		slog.Info("running database migrations", "dir", cfg.Database.MigrationsDir)
		err = storage.MigrateFromDir(initCtx, repo.Pool(), cfg.Database.MigrationsDir)
	} else {
		slog.Info("running embedded database migrations")
		err = storage.RunMigrations(initCtx, repo.Pool(), migrations.FS)
	}
	if err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize service registry
	registry := services.NewRegistry()

	postgresProvider, err := services.NewPostgresProvider(initCtx, cfg.Database.DSN)
	if err != nil {
		slog.Error("failed to create postgres provider", "error", err)
		os.Exit(1)
	}
	defer postgresProvider.Close()
	registry.Register("postgres", postgresProvider)

	// Setup HTTP server
	server := storeapi.NewServer(repo, registry)
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("assessment-store stopped")
}
