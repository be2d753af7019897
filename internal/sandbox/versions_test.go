package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersions_Resolve(t *testing.T) {
	v := NewVersions(
		[]Version{{Name: "mypy latest", ID: "latest"}, {Name: "mypy 1.10", ID: "1.10"}},
		map[string]string{"latest": "ymyzk/mypy-playground-sandbox:latest", "1.10": "ymyzk/mypy-playground-sandbox:mypy1.10"},
	)

	tests := []struct {
		name   string
		id     string
		want   string
		wantOK bool
	}{
		{"known id", "1.10", "ymyzk/mypy-playground-sandbox:mypy1.10", true},
		{"empty id uses default", "", "ymyzk/mypy-playground-sandbox:latest", true},
		{"unknown id", "0.1", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := v.Resolve(tt.id)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVersions_ListedWithoutTarget(t *testing.T) {
	v := NewVersions([]Version{{Name: "basedmypy", ID: "basedmypy-latest"}}, map[string]string{})

	_, ok := v.Resolve("basedmypy-latest")
	assert.False(t, ok)
}

func TestVersions_EmptyList(t *testing.T) {
	v := NewVersions(nil, nil)

	assert.Equal(t, "", v.Default())
	_, ok := v.Resolve("")
	assert.False(t, ok)
}

func TestVersions_ListIsCopy(t *testing.T) {
	v := NewVersions([]Version{{Name: "a", ID: "a"}}, nil)

	l := v.List()
	l[0].ID = "changed"

	assert.Equal(t, "a", v.List()[0].ID)
}
