package sandbox

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dontdude/mypyplay/internal/config"
	"github.com/dontdude/mypyplay/internal/domain"
	"github.com/dontdude/mypyplay/internal/mypy"
	"github.com/dontdude/mypyplay/internal/platform/cloudfunc"
	"github.com/dontdude/mypyplay/internal/platform/docker"
)

// NewBackend selects the execution backend named in cfg. The returned close
// function releases the backend's connections.
func NewBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.Runner, func() error, error) {
	switch cfg.Sandbox {
	case config.SandboxDocker:
		engine, err := docker.NewEngine(ctx)
		if err != nil {
			return nil, nil, err
		}
		runner := docker.NewClient(engine, docker.Options{
			Tool:   cfg.Tool,
			Pull:   cfg.DockerPull,
			Logger: logger.With("backend", "docker"),
		})
		return runner, engine.Close, nil

	case config.SandboxCloudFunctions:
		runner, err := cloudfunc.New(cloudfunc.Config{
			BaseURL: cfg.CloudFunctionsBaseURL,
			Tokens:  cloudfunc.DefaultTokenSource(cfg.CloudFunctionsIdentityToken),
			Timeout: cfg.RunTimeout,
			Logger:  logger.With("backend", "cloud_functions"),
		})
		if err != nil {
			return nil, nil, err
		}
		return runner, func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown sandbox %q", domain.ErrMisconfigured, cfg.Sandbox)
	}
}

// FromConfig builds a dispatcher around backend using the versions, allow-lists
// and limits in cfg. The gate is created here, once, and owned by the dispatcher.
func FromConfig(cfg *config.Config, backend domain.Runner, logger *slog.Logger) (*Dispatcher, error) {
	list := make([]Version, 0, len(cfg.MypyVersions))
	for _, p := range cfg.MypyVersions {
		list = append(list, Version{Name: p.Name, ID: p.Value})
	}

	logger.Info("created concurrency gate for sandbox", "concurrency", cfg.SandboxConcurrency)
	return NewDispatcher(Config{
		Backend:              backend,
		Versions:             NewVersions(list, cfg.Targets()),
		Policy:               mypy.NewPolicy(nil, nil, cfg.PythonVersions),
		Gate:                 NewGate(cfg.SandboxConcurrency),
		RunTimeout:           cfg.RunTimeout,
		DefaultPythonVersion: cfg.DefaultPythonVersion,
		Logger:               logger,
	})
}
