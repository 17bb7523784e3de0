// Package main is the entry point for the API directory server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"apidirectory/config"
	"apidirectory/internal/app"
	"apidirectory/internal/cache"
	"apidirectory/internal/logging"
	"apidirectory/internal/version"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	versionFlag := flag.Bool("version", false, "Print version information")
	invalidate := flag.Bool("invalidate-cache", false, "Ask running servers to drop their persistent cache, then exit")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Setup(cfg.Logging.Format, cfg.Logging.Level); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	if *invalidate {
		if err := cache.CreateInvalidationFlag(cfg.Cache.Dir); err != nil {
			slog.Error("failed to write invalidation flag", "error", err)
			os.Exit(1)
		}
		slog.Info("invalidation flag written", "dir", cfg.Cache.Dir)
		return
	}

	slog.Info("starting apidirectory",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
	)

	application, err := app.New(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	// Handle graceful shutdown. Start returns as soon as the listener closes,
	// so main waits for the final cache flush before exiting.
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := application.Shutdown(ctx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := application.Start(":" + cfg.Server.Port); err != nil {
		slog.Error("server failed", "error", err)
		_ = application.Shutdown(context.Background())
		os.Exit(1)
	}
	<-stopped
}
