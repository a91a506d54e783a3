// Package main is the entry point for the engramd memory daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/engramdev/engram"
	"github.com/engramdev/engram/internal/api"
	"github.com/engramdev/engram/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting engramd", "version", engram.Version)

	// Load configuration
	opts := []engram.Option{engram.WithLogger(logger)}
	var cfgManager *config.Manager
	if *configPath != "" {
		m, err := config.NewManager(*configPath, logger)
		if err != nil {
			logger.Error("failed to load configuration", "error", err)
			os.Exit(1)
		}
		cfgManager = m
		opts = append(opts, engram.WithConfig(m.Get()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfgManager != nil {
		if err := cfgManager.Watch(ctx); err != nil {
			logger.Warn("config hot-reload disabled", "error", err)
		}
	}

	// Register a file adapter for each enabled platform that names a
	// capture path.
	var preCfg *engram.Config
	if cfgManager != nil {
		preCfg = cfgManager.Get()
	} else {
		preCfg = engram.DefaultConfig()
	}
	for _, platform := range preCfg.Watcher.Platforms {
		if !platform.Enabled || platform.CachePath == "" {
			continue
		}
		opts = append(opts, engram.WithAdapter(engram.NewFileAdapter(platform.Name, platform.CachePath)))
		logger.Info("platform adapter registered", "platform", platform.Name, "path", platform.CachePath)
	}

	// Assemble the engine
	eng, err := engram.New(opts...)
	if err != nil {
		logger.Error("failed to initialize engine", "error", err)
		os.Exit(1)
	}

	cfg := eng.Config()

	// Write the PID file when running as a daemon
	if cfg.Watcher.PIDFile != "" {
		pid := fmt.Sprintf("%d\n", os.Getpid())
		if err := os.MkdirAll(filepath.Dir(cfg.Watcher.PIDFile), 0o755); err == nil {
			if err := os.WriteFile(cfg.Watcher.PIDFile, []byte(pid), 0o644); err != nil {
				logger.Warn("failed to write pid file", "path", cfg.Watcher.PIDFile, "error", err)
			} else {
				defer os.Remove(cfg.Watcher.PIDFile)
			}
		}
	}

	// Restore the most recent snapshot before accepting work
	if err := eng.Restore(ctx, ""); err != nil {
		logger.Warn("snapshot restore failed, starting empty", "error", err)
	}

	// Start the watcher pipeline and periodic snapshots
	if err := eng.Start(ctx); err != nil {
		logger.Error("failed to start pipeline", "error", err)
		os.Exit(1)
	}

	// Start the HTTP API
	server := api.NewServer(eng.Store(), eng.Index(), eng.Snapshots(), eng.Pipeline(), cfg, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down engramd...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := eng.Close(); err != nil {
		logger.Error("engine shutdown error", "error", err)
	}

	logger.Info("engramd stopped")
}
