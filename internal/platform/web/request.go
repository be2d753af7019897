package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/dontdude/mypyplay/internal/domain"
)

// maxBodyBytes caps request bodies; playground snippets are small.
const maxBodyBytes = 1 << 20

var errNotJSON = errors.New("content type must be application/json")

// typecheckRequest is the wire shape of a run request. Besides the named
// fields it carries one key per option: booleans for flags and string lists
// for multi-select options. Option keys may use hyphens or underscores.
type typecheckRequest struct {
	Source        string  `json:"source"`
	PythonVersion *string `json:"pythonVersion"`
	MypyVersion   *string `json:"mypyVersion"`
}

var reservedKeys = map[string]bool{
	"source":        true,
	"pythonVersion": true,
	"mypyVersion":   true,
}

// isJSON reports whether the request declares a JSON body.
func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

// decodeRequest reads a run request. Option values of the wrong JSON type are
// ignored, as are unknown keys; the argument policy filters names later.
func decodeRequest(w http.ResponseWriter, r *http.Request) (domain.Request, error) {
	if !isJSON(r) {
		return domain.Request{}, errNotJSON
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return domain.Request{}, fmt.Errorf("read body: %w", err)
	}

	var named typecheckRequest
	if err := json.Unmarshal(body, &named); err != nil {
		return domain.Request{}, fmt.Errorf("invalid request body: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return domain.Request{}, fmt.Errorf("invalid request body: %w", err)
	}

	req := domain.Request{
		Source: named.Source,
		Options: domain.Options{
			Flags:       make(map[string]bool),
			MultiSelect: make(map[string][]string),
		},
	}
	if named.PythonVersion != nil {
		req.Options.PythonVersion = *named.PythonVersion
	}
	if named.MypyVersion != nil {
		req.ToolVersion = *named.MypyVersion
	}

	for key, value := range raw {
		if reservedKeys[key] {
			continue
		}
		name := strings.ReplaceAll(key, "_", "-")

		var flag bool
		if err := json.Unmarshal(value, &flag); err == nil {
			if flag {
				req.Options.Flags[name] = true
			}
			continue
		}
		var values []string
		if err := json.Unmarshal(value, &values); err == nil && len(values) > 0 {
			req.Options.MultiSelect[name] = values
		}
	}
	return req, nil
}
