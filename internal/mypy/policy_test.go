package mypy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dontdude/mypyplay/internal/domain"
)

func TestArgs_FixedPrefix(t *testing.T) {
	p := NewPolicy(nil, nil, []string{"3.12"})

	got := p.Args(domain.Options{})

	assert.Equal(t, []string{"--cache-dir", "/dev/null", "--no-site-packages"}, got)
}

func TestArgs_PythonVersion(t *testing.T) {
	p := NewPolicy(nil, nil, []string{"3.12", "3.13"})

	tests := []struct {
		name    string
		version string
		want    []string
	}{
		{"allowed version", "3.13", []string{"--cache-dir", "/dev/null", "--no-site-packages", "--python-version", "3.13"}},
		{"unknown version ignored", "2.7", []string{"--cache-dir", "/dev/null", "--no-site-packages"}},
		{"injection ignored", "3.12; rm -rf /", []string{"--cache-dir", "/dev/null", "--no-site-packages"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Args(domain.Options{PythonVersion: tt.version}))
		})
	}
}

func TestOptionArgs_UnknownFlagDropped(t *testing.T) {
	p := NewPolicy(nil, nil, nil)

	got := p.OptionArgs(domain.Options{Flags: map[string]bool{
		"rm -rf /": true,
		"strict":   true,
	}})

	assert.Equal(t, []string{"--strict"}, got)
}

func TestOptionArgs_FalseFlagDropped(t *testing.T) {
	p := NewPolicy(nil, nil, nil)

	got := p.OptionArgs(domain.Options{Flags: map[string]bool{
		"strict":  false,
		"verbose": true,
	}})

	assert.Equal(t, []string{"--verbose"}, got)
}

func TestOptionArgs_FlagsFollowAllowListOrder(t *testing.T) {
	p := NewPolicy([]string{"b", "a", "c"}, []MultiSelectOption{}, nil)

	got := p.OptionArgs(domain.Options{Flags: map[string]bool{"a": true, "b": true, "c": true}})

	assert.Equal(t, []string{"--b", "--a", "--c"}, got)
}

func TestOptionArgs_MultiSelect(t *testing.T) {
	p := NewPolicy([]string{}, []MultiSelectOption{
		{Name: "enable-feature", Choices: []string{"A", "B"}},
	}, nil)

	got := p.OptionArgs(domain.Options{MultiSelect: map[string][]string{
		"enable-feature": {"A", "C"},
	}})

	assert.Equal(t, []string{"--enable-feature=A"}, got)
	assert.NotContains(t, got, "--enable-feature=C")
}

func TestOptionArgs_MultiSelectPreservesInputOrder(t *testing.T) {
	p := NewPolicy([]string{}, []MultiSelectOption{
		{Name: "enable-feature", Choices: []string{"A", "B"}},
	}, nil)

	got := p.OptionArgs(domain.Options{MultiSelect: map[string][]string{
		"enable-feature": {"B", "A", "B"},
		"unknown-option": {"A"},
	}})

	assert.Equal(t, []string{"--enable-feature=B", "--enable-feature=A"}, got)
}

func TestSanitize(t *testing.T) {
	p := NewPolicy(nil, nil, []string{"3.13"})

	got := p.Sanitize(domain.Options{
		PythonVersion: "9.9",
		Flags:         map[string]bool{"strict": true, "--evil": true, "verbose": false},
		MultiSelect: map[string][]string{
			"enable-error-code": {"truthy-bool", "bogus"},
			"made-up":           {"x"},
		},
	})

	assert.Empty(t, got.PythonVersion)
	assert.Equal(t, map[string]bool{"strict": true}, got.Flags)
	assert.Equal(t, map[string][]string{"enable-error-code": {"truthy-bool"}}, got.MultiSelect)
}

func TestFlags_ContainsBothGroups(t *testing.T) {
	assert.Len(t, Flags, len(FlagsNormal)+len(FlagsStrict))
	assert.Contains(t, Flags, "verbose")
	assert.Contains(t, Flags, "strict")
}
