package archive

import (
	"archive/tar"
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCode = `
import this
print(this.__name__)
`

func extract(t *testing.T, data []byte) []*tar.Header {
	t.Helper()
	var headers []*tar.Header
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return headers
		}
		require.NoError(t, err)
		headers = append(headers, hdr)
	}
}

func TestBuild_RoundTrip(t *testing.T) {
	sources := []string{
		sampleCode,
		"",
		"reveal_type(1)",
		"x: str = 'héllo wörld ✓'\n",
	}

	for _, src := range sources {
		data, err := Build(src, time.Unix(1700000000, 0))
		require.NoError(t, err)

		tr := tar.NewReader(bytes.NewReader(data))
		hdr, err := tr.Next()
		require.NoError(t, err)
		assert.Equal(t, FileName, hdr.Name)
		assert.Equal(t, int64(len([]byte(src))), hdr.Size)
		assert.Equal(t, byte(tar.TypeReg), hdr.Typeflag)

		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		assert.Equal(t, src, string(body))

		_, err = tr.Next()
		assert.Equal(t, io.EOF, err, "archive must hold exactly one entry")
	}
}

func TestBuild_Reproducible(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 600, time.UTC)

	a, err := Build(sampleCode, ts)
	require.NoError(t, err)
	b, err := Build(sampleCode, ts)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestBuild_ModTime(t *testing.T) {
	ts := time.Unix(1700000000, 0)

	data, err := Build(sampleCode, ts)
	require.NoError(t, err)

	headers := extract(t, data)
	require.Len(t, headers, 1)
	assert.True(t, headers[0].ModTime.Equal(ts))
}

func TestNew_UsesBuildTime(t *testing.T) {
	before := time.Now().Add(-time.Second)

	data, err := New(sampleCode)
	require.NoError(t, err)

	headers := extract(t, data)
	require.Len(t, headers, 1)
	assert.False(t, headers[0].ModTime.Before(before.Truncate(time.Second)))
}
