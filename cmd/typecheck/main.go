// Command typecheck runs a single file through the configured sandbox and
// prints the result as JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/pflag"

	"github.com/dontdude/mypyplay/internal/config"
	"github.com/dontdude/mypyplay/internal/domain"
	"github.com/dontdude/mypyplay/internal/sandbox"
)

func main() {
	var (
		configPath    = pflag.StringP("config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "path to a YAML config file")
		version       = pflag.StringP("mypy-version", "m", "", "mypy version id (defaults to the first configured version)")
		pythonVersion = pflag.StringP("python-version", "p", "", "target Python version")
		flags         = pflag.StringSliceP("flag", "f", nil, "mypy flag to enable, without leading dashes (repeatable)")
		options       = pflag.StringArrayP("option", "o", nil, "multi-select option as name=value (repeatable)")
	)
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] FILE|-\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if pflag.NArg() != 1 {
		pflag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	level := slog.LevelWarn
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	source, err := readSource(pflag.Arg(0))
	if err != nil {
		logger.Error("Failed to read source", "error", err)
		os.Exit(1)
	}

	req := domain.Request{
		Source:      source,
		ToolVersion: *version,
		Options:     buildOptions(*pythonVersion, *flags, *options),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result, err := run(ctx, cfg, logger, req)
	if err != nil {
		logger.Error("Type-check failed", "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	os.Exit(result.ExitCode)
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, req domain.Request) (*domain.Result, error) {
	backend, closeBackend, err := sandbox.NewBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer func() { _ = closeBackend() }()

	dispatcher, err := sandbox.FromConfig(cfg, backend, logger)
	if err != nil {
		return nil, err
	}
	return dispatcher.Run(ctx, req)
}

func readSource(path string) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(path)
	return string(b), err
}

// buildOptions turns command-line values into request options. Names are
// filtered by the argument policy, not here.
func buildOptions(pythonVersion string, flags, options []string) domain.Options {
	opts := domain.Options{
		PythonVersion: pythonVersion,
		Flags:         make(map[string]bool, len(flags)),
		MultiSelect:   make(map[string][]string),
	}
	for _, f := range flags {
		opts.Flags[strings.TrimLeft(f, "-")] = true
	}
	for _, o := range options {
		name, value, ok := strings.Cut(o, "=")
		if !ok {
			continue
		}
		name = strings.TrimLeft(name, "-")
		opts.MultiSelect[name] = append(opts.MultiSelect[name], value)
	}
	return opts
}
