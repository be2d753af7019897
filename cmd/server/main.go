package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/dontdude/mypyplay/internal/config"
	"github.com/dontdude/mypyplay/internal/platform/queue"
	"github.com/dontdude/mypyplay/internal/platform/web"
	"github.com/dontdude/mypyplay/internal/sandbox"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := pflag.StringP("config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "path to a YAML config file")
	pflag.Parse()

	// 1. Load configuration
	cfg, err := config.Load(*configPath, nil)
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// 3. Select the sandbox backend (fail fast if it is unreachable)
	backend, closeBackend, err := sandbox.NewBackend(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init sandbox: %w", err)
	}
	defer func() { _ = closeBackend() }()

	dispatcher, err := sandbox.FromConfig(cfg, backend, logger)
	if err != nil {
		return err
	}
	catalog := dispatcher.Catalog()
	catalog.GATrackingID = cfg.GATrackingID

	// Rate: 0.5 tokens/sec (1 request every 2s), Capacity: 5 (Burst)
	limiter := web.NewRateLimiter(ctx, 0.5, 5.0)
	proxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		return err
	}
	limiter.TrustProxies(proxies)

	opts := web.Options{
		Checker:       dispatcher,
		Catalog:       catalog,
		Limiter:       limiter,
		EnableMetrics: cfg.EnablePrometheus,
		Logger:        logger,
	}

	// 4. Queued jobs are optional and need Redis
	if cfg.RedisAddr != "" {
		redisQ, err := queue.NewRedisQueue(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer func() { _ = redisQ.Close() }()

		hub := web.NewHub(logger)
		go func() {
			if err := hub.Run(ctx, redisQ); err != nil {
				logger.Error("Result broadcaster stopped", "error", err)
			}
		}()
		opts.Queue = redisQ
		opts.Hub = hub
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           web.NewServer(opts).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API Server starting", "addr", srv.Addr, "sandbox", dispatcher.Backend(), "async", cfg.RedisAddr != "")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down API Server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
