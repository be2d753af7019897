package domain

import "context"

// Result is the captured output of one completed tool process.
// A non-zero ExitCode is a normal outcome: the analyzed code has type errors.
type Result struct {
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMs int64  `json:"duration"`
}

// Options carries the caller-selected tool options before they are filtered
// through the argument policy.
type Options struct {
	PythonVersion string              `json:"python_version,omitempty"`
	Flags         map[string]bool     `json:"flags,omitempty"`
	MultiSelect   map[string][]string `json:"multi_select,omitempty"`
}

// Request is a single type-check submission.
type Request struct {
	Source      string  `json:"source"`
	ToolVersion string  `json:"tool_version"`
	Options     Options `json:"options"`
}

// Invocation is what a backend receives once the dispatcher has resolved the
// tool version and translated the options into command-line arguments.
type Invocation struct {
	Source string
	// Target is the backend-specific reference: an image tag or a function name.
	Target string
	// Args are the tool arguments, without the tool name and the source file name.
	Args []string
}

// Runner defines the contract for executing the type checker in an isolated environment.
// Implementations must be safe for concurrent use and must not leak backend
// resources on any exit path.
type Runner interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Run executes the tool once. It returns a Result only when the tool process
	// actually ran; otherwise it returns nil and an error wrapping one of the
	// sentinel errors in this package.
	Run(ctx context.Context, inv Invocation) (*Result, error)
}

// Checker runs a request end-to-end: version resolution, admission and
// execution. It is the contract the HTTP layer and the workers depend on.
type Checker interface {
	Run(ctx context.Context, req Request) (*Result, error)
}
