package cloudfunc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dontdude/mypyplay/internal/domain"
)

type failingTokens struct{}

func (failingTokens) Token(context.Context, string) (string, error) {
	return "", errors.New("no metadata server")
}

type recordingTokens struct {
	audience string
}

func (r *recordingTokens) Token(_ context.Context, audience string) (string, error) {
	r.audience = audience
	return "id-token", nil
}

func newTestClient(t *testing.T, baseURL string, tokens TokenSource) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: baseURL, Tokens: tokens, Timeout: 2 * time.Second})
	require.NoError(t, err)
	return c
}

func TestRun_Success(t *testing.T) {
	var received runRequest
	var headers http.Header
	var path string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		headers = r.Header.Clone()
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("unmarshal: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"exit_code": 1, "stdout": "main.py:1: error: x", "stderr": ""}`))
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL+"/", StaticToken("dev-token"))

	res, err := c.Run(t.Context(), domain.Invocation{
		Source: "x: int = ''",
		Target: "mypy-latest",
		Args:   []string{"--cache-dir", "/dev/null", "--strict", "--enable-error-code=truthy-bool"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "main.py:1: error: x", res.Stdout)
	assert.GreaterOrEqual(t, res.DurationMs, int64(0))

	assert.Equal(t, "/mypy-latest", path)
	assert.Equal(t, "Bearer dev-token", headers.Get("Authorization"))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, UserAgent, headers.Get("User-Agent"))
	assert.Equal(t, "x: int = ''", received.Source)
	assert.Equal(t, []string{"--cache-dir", "/dev/null", "--strict", "--enable-error-code=truthy-bool"}, received.Options)
}

func TestRun_EmptyOptionsSentAsArray(t *testing.T) {
	var raw map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
		_, _ = w.Write([]byte(`{"exit_code": 0, "stdout": "Success", "stderr": ""}`))
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL+"/", StaticToken("t"))

	_, err := c.Run(t.Context(), domain.Invocation{Source: "x = 1", Target: "fn"})
	require.NoError(t, err)

	assert.Equal(t, []any{}, raw["options"])
}

func TestRun_NonOKStatusIsUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL+"/", StaticToken("t"))

	res, err := c.Run(t.Context(), domain.Invocation{Source: "x = 1", Target: "fn"})

	assert.Nil(t, res)
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
}

func TestRun_TransportErrorIsUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := ts.URL
	ts.Close()

	c := newTestClient(t, url+"/", StaticToken("t"))

	res, err := c.Run(t.Context(), domain.Invocation{Source: "x = 1", Target: "fn"})

	assert.Nil(t, res)
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestRun_MalformedBodyIsUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"stdout": "no exit code"}`))
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL+"/", StaticToken("t"))

	_, err := c.Run(t.Context(), domain.Invocation{Source: "x = 1", Target: "fn"})

	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestRun_MissingBaseURLIsResolutionFailure(t *testing.T) {
	tokens := &recordingTokens{}
	c := newTestClient(t, "", tokens)

	_, err := c.Run(t.Context(), domain.Invocation{Source: "x = 1", Target: "fn"})

	assert.ErrorIs(t, err, domain.ErrUnknownVersion)
	assert.Empty(t, tokens.audience, "no credential lookup before resolution")
}

func TestRun_TokenFailureIsMisconfiguration(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		hits.Add(1)
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL+"/", failingTokens{})

	res, err := c.Run(t.Context(), domain.Invocation{Source: "x = 1", Target: "fn"})

	assert.Nil(t, res)
	assert.ErrorIs(t, err, domain.ErrMisconfigured)
	assert.NotErrorIs(t, err, domain.ErrUnavailable)
	assert.Equal(t, int32(0), hits.Load())
}

func TestRun_TokenAudienceIsFunctionURL(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"exit_code": 0, "stdout": "", "stderr": ""}`))
	}))
	defer ts.Close()

	tokens := &recordingTokens{}
	c := newTestClient(t, ts.URL+"/", tokens)

	_, err := c.Run(t.Context(), domain.Invocation{Source: "x = 1", Target: "mypy-latest"})
	require.NoError(t, err)

	assert.Equal(t, ts.URL+"/mypy-latest", tokens.audience)
}

func TestFunctionURL(t *testing.T) {
	tests := []struct {
		name   string
		base   string
		fn     string
		want   string
		wantOK bool
	}{
		{"trailing slash appends", "https://us-central1-proj.cloudfunctions.net/", "mypy-latest", "https://us-central1-proj.cloudfunctions.net/mypy-latest", true},
		{"no trailing slash replaces last segment", "https://example.com/api/old", "mypy-latest", "https://example.com/api/mypy-latest", true},
		{"missing base", "", "mypy-latest", "", false},
		{"missing name", "https://example.com/", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.base, StaticToken("t"))
			got, ok := c.FunctionURL(tt.fn)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_RequiresTokenSource(t *testing.T) {
	_, err := New(Config{BaseURL: "https://example.com/"})

	assert.ErrorIs(t, err, domain.ErrMisconfigured)
}
