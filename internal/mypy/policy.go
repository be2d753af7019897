package mypy

import (
	"slices"

	"github.com/dontdude/mypyplay/internal/domain"
)

// cacheArgs keep every run hermetic: no cache directory and no site packages
// from the sandbox image.
var cacheArgs = []string{"--cache-dir", "/dev/null", "--no-site-packages"}

// Policy translates request options into tool arguments.
type Policy struct {
	flags          []string
	multiSelect    []MultiSelectOption
	pythonVersions []string
}

// NewPolicy builds a policy over the given allow-lists.
// A nil flags or options slice selects the package defaults.
func NewPolicy(flags []string, options []MultiSelectOption, pythonVersions []string) *Policy {
	if flags == nil {
		flags = Flags
	}
	if options == nil {
		options = MultiSelectOptions
	}
	return &Policy{
		flags:          flags,
		multiSelect:    options,
		pythonVersions: pythonVersions,
	}
}

// Flags returns the boolean flag allow-list.
func (p *Policy) Flags() []string {
	return slices.Clone(p.flags)
}

// MultiSelect returns the multi-select allow-list as option name -> choices.
func (p *Policy) MultiSelect() map[string][]string {
	out := make(map[string][]string, len(p.multiSelect))
	for _, o := range p.multiSelect {
		out[o.Name] = slices.Clone(o.Choices)
	}
	return out
}

// PythonVersions returns the accepted --python-version values.
func (p *Policy) PythonVersions() []string {
	return slices.Clone(p.pythonVersions)
}

// Args returns the full argument list for opts: the fixed hermetic flags, the
// python version when allowed, then the allowed boolean flags and
// multi-select values.
func (p *Policy) Args(opts domain.Options) []string {
	args := slices.Clone(cacheArgs)
	if opts.PythonVersion != "" && slices.Contains(p.pythonVersions, opts.PythonVersion) {
		args = append(args, "--python-version", opts.PythonVersion)
	}
	return append(args, p.OptionArgs(opts)...)
}

// OptionArgs returns only the tokens derived from boolean flags and
// multi-select options. Flags and options follow allow-list order; values
// keep the order the caller supplied them in.
func (p *Policy) OptionArgs(opts domain.Options) []string {
	var args []string
	for _, name := range p.flags {
		if opts.Flags[name] {
			args = append(args, "--"+name)
		}
	}
	for _, o := range p.multiSelect {
		values, ok := opts.MultiSelect[o.Name]
		if !ok {
			continue
		}
		seen := make(map[string]bool, len(values))
		for _, v := range values {
			if seen[v] || !slices.Contains(o.Choices, v) {
				continue
			}
			seen[v] = true
			args = append(args, "--"+o.Name+"="+v)
		}
	}
	return args
}

// Sanitize drops every flag, option and value not on an allow-list.
// The result is safe to echo back to clients or to log.
func (p *Policy) Sanitize(opts domain.Options) domain.Options {
	var out domain.Options
	if slices.Contains(p.pythonVersions, opts.PythonVersion) {
		out.PythonVersion = opts.PythonVersion
	}
	for _, name := range p.flags {
		if opts.Flags[name] {
			if out.Flags == nil {
				out.Flags = make(map[string]bool)
			}
			out.Flags[name] = true
		}
	}
	for _, o := range p.multiSelect {
		var kept []string
		for _, v := range opts.MultiSelect[o.Name] {
			if slices.Contains(o.Choices, v) && !slices.Contains(kept, v) {
				kept = append(kept, v)
			}
		}
		if len(kept) == 0 {
			continue
		}
		if out.MultiSelect == nil {
			out.MultiSelect = make(map[string][]string)
		}
		out.MultiSelect[o.Name] = kept
	}
	return out
}
