// Package main runs the atlas worker: River workers for projection, satellite layout,
// similarity and clustering, plus the scheduler that enqueues owners with new items.
//
// Environment variables are documented in internal/config; the worker requires
// STORE_DRIVER=postgres since River keeps its queue in PostgreSQL.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/natefinch/lumberjack"

	"github.com/formbricks/atlas/internal/config"
)

const shutdownTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)

		return 1
	}

	closeLog := setupLogging(cfg)
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg)
	if err != nil {
		slog.Error("Failed to start atlas worker", "error", err)

		return 1
	}

	runErr := app.Run(ctx)
	if runErr != nil {
		slog.Error("Atlas worker failed", "error", runErr)
	}

	slog.Info("Shutting down atlas worker...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown failed", "error", err)

		return 1
	}

	slog.Info("Atlas worker exited")

	if runErr != nil {
		return 1
	}

	return 0
}

// Rotation settings for LOG_FILE.
const (
	logFileMaxBackups = 5
	logFileMaxAgeDays = 28
)

// setupLogging installs the configured slog handler. With LOG_FILE set, logs are also written
// to a size-rotated file; the returned func closes it.
func setupLogging(cfg *config.Config) func() {
	var (
		out     io.Writer = os.Stdout
		closeFn           = func() {}
	)

	if cfg.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogFileMaxSizeMB,
			MaxBackups: logFileMaxBackups,
			MaxAge:     logFileMaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closeFn = func() { _ = rotator.Close() }
	}

	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}

	var handler slog.Handler = slog.NewTextHandler(out, opts)
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	}

	slog.SetDefault(slog.New(handler))

	return closeFn
}
