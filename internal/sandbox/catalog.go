package sandbox

import "github.com/dontdude/mypyplay/internal/mypy"

// InitialCode is the sample program shown to new playground sessions.
const InitialCode = `from typing import Iterator


def fib(n: int) -> Iterator[int]:
    a, b = 0, 1
    while a < n:
        yield a
        a, b = b, a + b


fib(10)
fib("10")
`

// Catalog is the read-only view of what callers may select.
type Catalog struct {
	DefaultConfig        map[string]any      `json:"defaultConfig"`
	InitialCode          string              `json:"initialCode"`
	PythonVersions       []string            `json:"pythonVersions"`
	DefaultPythonVersion string              `json:"-"`
	ToolVersions         [][2]string         `json:"mypyVersions"`
	Flags                []string            `json:"flags"`
	MultiSelectOptions   map[string][]string `json:"multiSelectOptions"`
	GATrackingID         string              `json:"gaTrackingId,omitempty"`
}

// Catalog returns the versions and allow-lists the dispatcher accepts.
func (d *Dispatcher) Catalog() Catalog {
	return buildCatalog(d.versions, d.policy, d.defaultPython)
}

func buildCatalog(versions *Versions, policy *mypy.Policy, defaultPython string) Catalog {
	list := versions.List()
	pairs := make([][2]string, 0, len(list))
	for _, v := range list {
		pairs = append(pairs, [2]string{v.Name, v.ID})
	}

	flags := policy.Flags()
	multi := policy.MultiSelect()

	config := make(map[string]any, len(flags)+len(multi)+2)
	for _, f := range flags {
		config[f] = false
	}
	for name := range multi {
		config[name] = []string{}
	}
	config["mypyVersion"] = versions.Default()
	config["pythonVersion"] = defaultPython

	return Catalog{
		DefaultConfig:        config,
		InitialCode:          InitialCode,
		PythonVersions:       policy.PythonVersions(),
		DefaultPythonVersion: defaultPython,
		ToolVersions:         pairs,
		Flags:                flags,
		MultiSelectOptions:   multi,
	}
}
