package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/dontdude/mypyplay/internal/config"
	"github.com/dontdude/mypyplay/internal/platform/docker"
	"github.com/dontdude/mypyplay/internal/platform/queue"
	"github.com/dontdude/mypyplay/internal/sandbox"
	"github.com/dontdude/mypyplay/internal/worker"
)

func main() {
	configPath := pflag.StringP("config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "path to a YAML config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath, nil)
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// 1. Initialize Logger
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	logger.Info("Starting mypyplay worker...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Worker failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.RedisAddr == "" {
		return errors.New("redis_addr is required to consume jobs")
	}

	// 2. Initialize the sandbox backend and dispatcher
	backend, closeBackend, err := sandbox.NewBackend(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init sandbox: %w", err)
	}
	defer func() { _ = closeBackend() }()

	dispatcher, err := sandbox.FromConfig(cfg, backend, logger)
	if err != nil {
		return err
	}

	// 3. Initialize Redis Queue
	redisQ, err := queue.NewRedisQueue(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() { _ = redisQ.Close() }()

	// 4. Reclaim jobs abandoned by crashed workers
	go redisQ.StartRecoveryRoutine(ctx, cfg.RunTimeout, staleAfter(cfg.RunTimeout))

	// 5. Start the pool and feed it until shutdown
	size := poolSize(cfg)
	if size < cfg.Workers {
		logger.Warn("Capping workers at sandbox concurrency", "workers", cfg.Workers, "concurrency", cfg.SandboxConcurrency)
	}
	pool := worker.NewPool(size, dispatcher, redisQ, logger)
	pool.Start(ctx)

	err = pool.Consume(ctx)
	pool.Stop()
	return err
}

// runBound is the longest a claimed job can stay pending: the run itself,
// then container cleanup.
func runBound(runTimeout time.Duration) time.Duration {
	return runTimeout + docker.CleanupTimeout
}

// staleAfter is the idle time after which a pending job is considered
// abandoned. Workers reset the idle clock when they start a job, so a live
// job is idle for at most one run once started and two runs while it waits
// behind the consumer's read-ahead.
func staleAfter(runTimeout time.Duration) time.Duration {
	return 3 * runBound(runTimeout)
}

// poolSize keeps every worker able to hold a sandbox slot, so no started job
// waits on the gate.
func poolSize(cfg *config.Config) int {
	return min(cfg.Workers, cfg.SandboxConcurrency)
}
