package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/terra-clan/assessment-composer/internal/api"
	"github.com/terra-clan/assessment-composer/internal/cache"
	"github.com/terra-clan/assessment-composer/internal/cleanup"
	"github.com/terra-clan/assessment-composer/internal/composition"
	"github.com/terra-clan/assessment-composer/internal/config"
	"github.com/terra-clan/assessment-composer/internal/presets"
	"github.com/terra-clan/assessment-composer/internal/services"
	"github.com/terra-clan/assessment-composer/internal/workspaces"
	"github.com/terra-clan/assessment-composer/pkg/client"
)

func main() {
	flags, err := config.ParseFlags(config.AppComposer, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if err := config.LoadDotEnv(flags.EnvFile); err != nil {
		slog.Error("failed to load env file", "error", err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(config.AppComposer)
	if err == nil {
		err = flags.Apply(cfg)
	}
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := config.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	slog.Info("starting composer",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"gateway", cfg.Gateway.BaseURL,
	)

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	// Gateway to the assessment store
	gateway := client.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, client.WithTimeout(cfg.Gateway.Timeout))

	// Initialize service registry
	registry := services.NewRegistry()
	registry.Register("gateway", services.NewFuncProvider("gateway", gateway.Health))

	var selections *cache.SelectionCache
	if cfg.Redis.Address != "" {
		redisProvider, err := services.NewRedisProvider(initCtx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			slog.Error("failed to create redis provider", "error", err)
			os.Exit(1)
		}
		defer redisProvider.Close()
		registry.Register("redis", redisProvider)
		selections = cache.NewSelectionCache(redisProvider.Client(), cfg.Redis.SelectionTTL)
	} else {
		slog.Info("selection cache disabled, REDIS_ADDRESS not set")
	}

	// Load presets
	presetLoader := presets.NewLoader()
	if err := presetLoader.LoadFromDir(cfg.Presets.Dir); err != nil {
		slog.Warn("failed to load presets from dir", "dir", cfg.Presets.Dir, "error", err)
	}

	// Workspaces: one per console session and assessment
	ws := workspaces.NewRegistry(gateway, func(key workspaces.Key) []composition.Option {
		opts := []composition.Option{
			composition.WithPresets(presetLoader),
			composition.WithIntentTTL(cfg.Workspace.IntentTTL),
		}
		if selections != nil {
			opts = append(opts, composition.WithSelectionStore(selections, cache.Key(key.ConsoleID, key.AssessmentID)))
		}
		return opts
	}, logger)

	cleaner := cleanup.NewCleaner(ws, cfg.Workspace.IdleTTL, cfg.Workspace.CleanupInterval)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start cleanup worker
	cleaner.Start(ctx)

	// Setup HTTP server. No write timeout: /events is a long-lived websocket.
	server := api.NewServer(cfg.Server, ws, registry, presetLoader)
	httpServer := &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     server.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
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

	// Cancel context to stop background workers
	cancel()

	// Close workspaces first so event streams end and Shutdown does not wait on them
	ws.CloseAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("composer stopped")
}
