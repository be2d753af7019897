// Package sandbox composes version resolution, the argument policy and the
// concurrency gate around a single execution backend.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dontdude/mypyplay/internal/domain"
	"github.com/dontdude/mypyplay/internal/mypy"
	"github.com/dontdude/mypyplay/internal/platform/metrics"
)

// DefaultRunTimeout bounds a single admitted run.
const DefaultRunTimeout = 60 * time.Second

// Config holds the dispatcher's collaborators. Backend, Versions, Policy and
// Gate are required.
type Config struct {
	Backend  domain.Runner
	Versions *Versions
	Policy   *mypy.Policy
	Gate     *Gate

	// RunTimeout bounds the backend call once a slot is held. Zero selects DefaultRunTimeout.
	RunTimeout time.Duration

	// DefaultPythonVersion is advertised in the catalog.
	DefaultPythonVersion string

	Logger *slog.Logger
}

// Dispatcher runs type-check requests against the configured backend.
// The backend is fixed at construction; it is never re-selected per call.
type Dispatcher struct {
	backend       domain.Runner
	versions      *Versions
	policy        *mypy.Policy
	gate          *Gate
	timeout       time.Duration
	defaultPython string
	logger        *slog.Logger
}

var _ domain.Checker = (*Dispatcher)(nil)

// NewDispatcher validates cfg and returns a dispatcher.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	switch {
	case cfg.Backend == nil:
		return nil, errors.New("sandbox: backend is required")
	case cfg.Versions == nil:
		return nil, errors.New("sandbox: versions are required")
	case cfg.Policy == nil:
		return nil, errors.New("sandbox: argument policy is required")
	case cfg.Gate == nil:
		return nil, errors.New("sandbox: concurrency gate is required")
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		backend:       cfg.Backend,
		versions:      cfg.Versions,
		policy:        cfg.Policy,
		gate:          cfg.Gate,
		timeout:       cfg.RunTimeout,
		defaultPython: cfg.DefaultPythonVersion,
		logger:        cfg.Logger,
	}, nil
}

// Backend returns the name of the configured backend.
func (d *Dispatcher) Backend() string {
	return d.backend.Name()
}

// Run type-checks req.Source in the sandbox.
//
// Unknown tool versions fail with domain.ErrUnknownVersion before a slot is
// taken or the backend is touched. Waiting for a slot is bounded by ctx; the
// backend call is additionally bounded by the run timeout.
func (d *Dispatcher) Run(ctx context.Context, req domain.Request) (*domain.Result, error) {
	if req.Source == "" {
		return nil, fmt.Errorf("%w: source is required", domain.ErrInvalidRequest)
	}

	target, ok := d.versions.Resolve(req.ToolVersion)
	if !ok {
		metrics.RunsTotal.WithLabelValues(d.backend.Name(), metrics.OutcomeUnknown).Inc()
		d.logger.Error("cannot resolve tool version", "backend", d.backend.Name(), "version", req.ToolVersion)
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownVersion, req.ToolVersion)
	}

	inv := domain.Invocation{
		Source: req.Source,
		Target: target,
		Args:   d.policy.Args(req.Options),
	}

	d.logger.Debug("acquiring sandbox slot",
		"version", target,
		"options", d.policy.Sanitize(req.Options),
		"inFlight", d.gate.InFlight(),
		"capacity", d.gate.Capacity())
	if err := d.gate.Acquire(ctx); err != nil {
		metrics.RunsTotal.WithLabelValues(d.backend.Name(), metrics.OutcomeRejected).Inc()
		return nil, fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
	metrics.InFlightRuns.Inc()
	defer func() {
		metrics.InFlightRuns.Dec()
		d.gate.Release()
	}()
	d.logger.Debug("acquired sandbox slot")

	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	result, err := d.backend.Run(runCtx, inv)
	if err != nil {
		outcome := metrics.OutcomeUnavailable
		if errors.Is(err, domain.ErrUnknownVersion) {
			outcome = metrics.OutcomeUnknown
		}
		metrics.RunsTotal.WithLabelValues(d.backend.Name(), outcome).Inc()
		return nil, err
	}

	metrics.RunsTotal.WithLabelValues(d.backend.Name(), metrics.OutcomeOK).Inc()
	metrics.RunDuration.WithLabelValues(d.backend.Name()).Observe(float64(result.DurationMs) / 1000)
	return result, nil
}
