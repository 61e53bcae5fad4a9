package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tmakinen/pixelset/cmd"
	"github.com/tmakinen/pixelset/internal/conf"
	"github.com/tmakinen/pixelset/internal/logging"
	"github.com/tmakinen/pixelset/internal/telemetry"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Init(settings.Debug)

	if cfg := settings.Main.Log; cfg.Enabled && cfg.Path != "" {
		fileLogger, closeLogs, err := logging.NewFileLogger(cfg.Path, settings.Main.Name, slog.LevelInfo)
		if err != nil {
			logging.Warn("main log file unavailable", "path", cfg.Path, "error", err)
		} else {
			fileLogger.Info("starting", "version", version)
			defer closeLogs()
		}
	}

	if err := telemetry.Init(settings, version); err != nil {
		logging.Warn("telemetry initialization failed", "error", err)
	}
	defer telemetry.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logging.Error("command failed", "error", err)
		os.Exit(1)
	}
}
