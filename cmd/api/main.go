package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/congo-pay/credits/internal/config"
	"github.com/congo-pay/credits/internal/infra"
	"github.com/congo-pay/credits/internal/logging"
	"github.com/congo-pay/credits/internal/metrics"
	"github.com/congo-pay/credits/internal/routes"
	"github.com/congo-pay/credits/internal/server"
)

func main() {
	os.Exit(run())
}

// run owns every resource so deferred releases execute before the process exits.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	logger := logging.New(cfg.LogLevel, cfg.AppName)

	deps := routes.Deps{Cfg: cfg, Logger: logger, Metrics: metrics.New()}

	// Store handles dial on first use and are released on every exit path.
	switch cfg.StoreBackend {
	case config.BackendRedis:
		deps.Redis = infra.NewRedisHandle(cfg.RedisAddress())
		defer func() {
			if err := deps.Redis.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	case config.BackendPostgres:
		deps.DB = infra.NewPostgresHandle(cfg.DatabaseURL)
		defer deps.DB.Close()
		if cfg.RedisURL != "" {
			// Redis is optional here and only backs idempotent replays.
			deps.Redis = infra.NewRedisHandle(cfg.RedisURL)
			defer deps.Redis.Close()
		}
	}

	srv, err := server.New(deps)
	if err != nil {
		logger.Error("build server", "error", err)
		return 1
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen(logger)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			return 1
		}
		return 0
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return 1
	}

	logger.Info("server exited cleanly")
	return 0
}
