package cloudfunc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	"google.golang.org/api/idtoken"
)

// TokenSource returns a bearer token valid for the given audience.
type TokenSource interface {
	Token(ctx context.Context, audience string) (string, error)
}

// StaticToken is an operator-provided token, mainly for local development.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token(context.Context, string) (string, error) {
	if s == "" {
		return "", errors.New("static identity token is empty")
	}
	return string(s), nil
}

// GoogleIdentity fetches Google-signed ID tokens from the ambient credentials
// (metadata server, GOOGLE_APPLICATION_CREDENTIALS, ...). One token source is
// kept per audience so tokens are reused until they expire.
type GoogleIdentity struct {
	newSource func(ctx context.Context, audience string) (oauth2.TokenSource, error)

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

// NewGoogleIdentity returns a token source backed by google.golang.org/api/idtoken.
func NewGoogleIdentity() *GoogleIdentity {
	return &GoogleIdentity{
		newSource: func(ctx context.Context, audience string) (oauth2.TokenSource, error) {
			return idtoken.NewTokenSource(ctx, audience)
		},
	}
}

// Token implements TokenSource.
func (g *GoogleIdentity) Token(ctx context.Context, audience string) (string, error) {
	ts, err := g.source(ctx, audience)
	if err != nil {
		return "", err
	}
	tok, err := ts.Token()
	if err != nil {
		return "", fmt.Errorf("fetch identity token: %w", err)
	}
	return tok.AccessToken, nil
}

// source returns the cached token source for audience, creating it on first
// use. Failed creations are not cached.
func (g *GoogleIdentity) source(ctx context.Context, audience string) (oauth2.TokenSource, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if ts, ok := g.sources[audience]; ok {
		return ts, nil
	}
	// The source outlives this request; its refreshes must not inherit
	// the request's cancellation.
	ts, err := g.newSource(context.WithoutCancel(ctx), audience)
	if err != nil {
		return nil, fmt.Errorf("identity token source: %w", err)
	}
	if g.sources == nil {
		g.sources = make(map[string]oauth2.TokenSource)
	}
	g.sources[audience] = ts
	return ts, nil
}

// Chain tries each source in order and returns the first token obtained.
type Chain []TokenSource

// Token implements TokenSource.
func (c Chain) Token(ctx context.Context, audience string) (string, error) {
	var errs []error
	for _, src := range c {
		tok, err := src.Token(ctx, audience)
		if err == nil && tok != "" {
			return tok, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return "", errors.New("no token source configured")
	}
	return "", errors.Join(errs...)
}

// DefaultTokenSource prefers the override token when set and falls back to
// Google identity tokens.
func DefaultTokenSource(override string) TokenSource {
	if override != "" {
		return Chain{StaticToken(override), NewGoogleIdentity()}
	}
	return NewGoogleIdentity()
}
