// Package mypy holds the allow-lists of mypy options a caller may select and
// translates a request's options into a safe argument list.
//
// Anything not on an allow-list is dropped silently, so free-form input can
// never reach the tool's command line.
package mypy

// FlagsNormal are the general-purpose boolean flags.
var FlagsNormal = []string{
	"verbose",
	"ignore-missing-imports",
	"show-error-context",
	"stats",
	"inferstats",
	"version",
	"show-traceback",
	"scripts-are-modules",
	"show-column-numbers",
	"show-error-codes",
	"implicit-optional",
}

// FlagsStrict are the strictness-related boolean flags.
var FlagsStrict = []string{
	"allow-redefinition",
	"allow-redefinition-new",
	"allow-untyped-globals",
	"strict",
	"strict-bytes",
	"check-untyped-defs",
	"disallow-any-decorated",
	"disallow-any-expr",
	"disallow-any-explicit",
	"disallow-any-generics",
	"disallow-any-unimported",
	"disallow-incomplete-defs",
	"disallow-subclassing-any",
	"disallow-untyped-calls",
	"disallow-untyped-decorators",
	"disallow-untyped-defs",
	"no-implicit-reexport",
	"local-partial-types",
	"no-strict-optional",
	"no-warn-no-return",
	"strict-equality",
	"strict-equality-for-none",
	"warn-incomplete-stub",
	"warn-redundant-casts",
	"warn-return-any",
	"warn-unreachable",
	"warn-unused-configs",
	"warn-unused-ignores",
	"extra-checks",
}

// Flags is the full boolean flag allow-list, normal flags first.
var Flags = append(append([]string{}, FlagsNormal...), FlagsStrict...)

// MultiSelectOption is an option that may be repeated with values from a fixed set.
type MultiSelectOption struct {
	Name    string
	Choices []string
}

// MultiSelectOptions is the multi-select allow-list.
var MultiSelectOptions = []MultiSelectOption{
	{
		Name:    "enable-incomplete-feature",
		Choices: []string{"PreciseTupleTypes", "InlineTypedDict"},
	},
	{
		Name: "enable-error-code",
		Choices: []string{
			"deprecated",
			"exhaustive-match",
			"explicit-override",
			"ignore-without-code",
			"mutable-override",
			"narrowed-type-not-subtype",
			"possibly-undefined",
			"redundant-expr",
			"redundant-self",
			"truthy-bool",
			"truthy-iterable",
			"unimported-reveal",
			"unused-awaitable",
			"unused-ignore",
		},
	},
}
