package sandbox

import "slices"

// Version is a user-facing tool version entry.
type Version struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Versions resolves tool version IDs to backend targets.
// The list keeps the display order; the first entry is the default.
type Versions struct {
	list    []Version
	targets map[string]string
}

// NewVersions builds a resolver from the display list and the id -> target map
// of the selected backend.
func NewVersions(list []Version, targets map[string]string) *Versions {
	t := make(map[string]string, len(targets))
	for id, target := range targets {
		t[id] = target
	}
	return &Versions{
		list:    slices.Clone(list),
		targets: t,
	}
}

// List returns the versions in display order.
func (v *Versions) List() []Version {
	return slices.Clone(v.list)
}

// Default returns the ID of the first listed version, or "" when none are configured.
func (v *Versions) Default() string {
	if len(v.list) == 0 {
		return ""
	}
	return v.list[0].ID
}

// Resolve returns the backend target for id. An empty id resolves the default.
func (v *Versions) Resolve(id string) (string, bool) {
	if id == "" {
		id = v.Default()
	}
	target, ok := v.targets[id]
	if !ok || target == "" {
		return "", false
	}
	return target, true
}
