// Command gateway runs the WebSocket message gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/unhidra/gateway/internal/config"
	"github.com/unhidra/gateway/internal/gateway"
	"github.com/unhidra/gateway/internal/observability"
)

// Build information, set via -ldflags at build time.
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to YAML configuration file")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("gateway %s (commit %s, built %s)\n", version, gitCommit, buildDate)
		return
	}

	if *configPath == "" {
		*configPath = os.Getenv(config.EnvConfigPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting gateway",
		observability.String("version", version),
		observability.String("commit", gitCommit),
		observability.String("addr", cfg.Addr),
	)

	gw, err := gateway.New(cfg, gateway.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to create gateway", observability.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The origin allow-list is the one setting safe to apply without a
	// restart; everything else needs a new process.
	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, func(next *config.Config) {
			gw.SetAllowedOrigins(next.AllowedOrigins)
		}, config.WithWatcherLogger(logger))
		if err != nil {
			logger.Warn("config watcher unavailable", observability.Error(err))
		} else {
			if err := watcher.Start(ctx); err != nil {
				logger.Warn("config watcher failed to start", observability.Error(err))
			} else {
				defer watcher.Stop()
			}
		}
	}

	if err := gw.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("gateway exited with error", observability.Error(err))
	}

	logger.Info("gateway stopped")
}
