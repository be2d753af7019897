// Package cloudfunc runs the type checker on remote HTTP functions, one
// function per tool version.
package cloudfunc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/dontdude/mypyplay/internal/domain"
)

// DefaultTimeout is the per-request HTTP timeout.
const DefaultTimeout = 60 * time.Second

// UserAgent identifies the playground to the function endpoint.
const UserAgent = "mypy-playground"

// maxResponseBytes caps the body read from the function.
const maxResponseBytes = 8 << 20

// Config configures the remote function backend.
type Config struct {
	// BaseURL is the functions base address without function name,
	// e.g. https://<region>-<project>.cloudfunctions.net/
	BaseURL string
	// Tokens provides the bearer credential (required).
	Tokens  TokenSource
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client invokes the type checker on remote functions.
type Client struct {
	base   *url.URL
	tokens TokenSource
	http   *http.Client
	logger *slog.Logger
	now    func() time.Time
}

var _ domain.Runner = (*Client)(nil)

// New validates cfg and returns a client. An empty BaseURL is accepted; every
// run then fails resolution.
func New(cfg Config) (*Client, error) {
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("%w: cloud functions backend requires a token source", domain.ErrMisconfigured)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var base *url.URL
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid functions base url: %w", domain.ErrMisconfigured, err)
		}
		base = u
	}

	return &Client{
		base:   base,
		tokens: cfg.Tokens,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: cfg.Logger,
		now:    time.Now,
	}, nil
}

// Name implements domain.Runner.
func (c *Client) Name() string {
	return "cloud_functions"
}

// FunctionURL joins the base address with a function name using URL
// reference resolution: a base ending in "/" gets the name appended.
func (c *Client) FunctionURL(name string) (string, bool) {
	if c.base == nil || name == "" {
		return "", false
	}
	ref, err := url.Parse(name)
	if err != nil {
		return "", false
	}
	return c.base.ResolveReference(ref).String(), true
}

type runRequest struct {
	Source  string   `json:"source"`
	Options []string `json:"options"`
}

type runResponse struct {
	ExitCode *int   `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Run implements domain.Runner. A missing credential is returned as
// domain.ErrMisconfigured; HTTP and transport failures as domain.ErrUnavailable.
func (c *Client) Run(ctx context.Context, inv domain.Invocation) (*domain.Result, error) {
	start := c.now()

	fnURL, ok := c.FunctionURL(inv.Target)
	if !ok {
		c.logger.Error("cannot find a cloud function", "function", inv.Target)
		return nil, fmt.Errorf("%w: no function url for %q", domain.ErrUnknownVersion, inv.Target)
	}

	token, err := c.tokens.Token(ctx, fnURL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get identity token: %w", domain.ErrMisconfigured, err)
	}

	args := inv.Args
	if args == nil {
		args = []string{}
	}
	body, err := json.Marshal(runRequest{Source: inv.Source, Options: args})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %w", domain.ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fnURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", domain.ErrUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("cloud function request failed", "function", inv.Target, "error", err)
		return nil, fmt.Errorf("%w: request failed: %w", domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain body to allow connection reuse
		_, _ = io.Copy(io.Discard, resp.Body)
		c.logger.Error("unexpected status code from cloud functions", "function", inv.Target, "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: %w", domain.ErrUnavailable, &StatusError{Code: resp.StatusCode})
	}

	var out runResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", domain.ErrUnavailable, err)
	}
	if out.ExitCode == nil {
		return nil, fmt.Errorf("%w: decode response: %w", domain.ErrUnavailable, errors.New("missing exit_code"))
	}

	duration := c.now().Sub(start).Milliseconds()
	c.logger.Info("cloud function finished", "function", inv.Target, "exitCode", *out.ExitCode, "durationMs", duration)
	return &domain.Result{
		ExitCode:   *out.ExitCode,
		Stdout:     out.Stdout,
		Stderr:     out.Stderr,
		DurationMs: duration,
	}, nil
}

// StatusError is returned for non-200 responses from a function.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}
