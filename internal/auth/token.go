// Package auth obtains and caches the bearer credential used by both the
// REST fetcher and the streaming subscriptions.
//
// The provider refreshes lazily: the cached token is reused until 30 seconds
// before its server-side expiry, so a consumer never observes an expired
// credential. Concurrent callers share a single in-flight refresh.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tde/go-alor-collector/internal/errs"
)

const (
	// defaultTTL applies when the auth endpoint omits ExpiresIn.
	defaultTTL = 300 * time.Second

	// refreshMargin is subtracted from the server TTL so a refresh always
	// completes before the token actually lapses.
	refreshMargin = 30 * time.Second

	requestTimeout = 30 * time.Second
)

// credential is the cached bearer token with its local expiry instant.
type credential struct {
	token     string
	expiresAt time.Time
}

// Provider exchanges a long-lived refresh token for short-lived bearer
// tokens and caches the result.
type Provider struct {
	authURL      string
	refreshToken string
	httpClient   *http.Client
	logger       *slog.Logger
	now          func() time.Time

	mu   sync.Mutex
	cred credential
}

// Option customizes a Provider.
type Option func(*Provider)

// WithHTTPClient overrides the HTTP client used for refresh calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// NewProvider creates a token provider for the given auth endpoint.
func NewProvider(authURL, refreshToken string, logger *slog.Logger, opts ...Option) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{
		authURL:      authURL,
		refreshToken: refreshToken,
		httpClient:   &http.Client{Timeout: requestTimeout},
		logger:       logger,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Token returns a valid bearer token, refreshing it first when the cached
// one is missing or within the refresh margin of expiry. The mutex makes
// concurrent callers observe a single in-flight refresh.
func (p *Provider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cred.token != "" && p.now().Before(p.cred.expiresAt) {
		return p.cred.token, nil
	}

	if err := p.refreshLocked(ctx); err != nil {
		return "", err
	}
	return p.cred.token, nil
}

// ForceRefresh discards the cached credential and obtains a fresh one.
// Used before re-subscribing a stream with a new token.
func (p *Provider) ForceRefresh(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.refreshLocked(ctx); err != nil {
		return "", err
	}
	return p.cred.token, nil
}

// refreshLocked performs the refresh call. Caller holds p.mu.
func (p *Provider) refreshLocked(ctx context.Context) error {
	if p.refreshToken == "" {
		return errs.Newf(errs.KindAuth, "refresh", "refresh token is not configured")
	}

	body, err := json.Marshal(map[string]string{"token": p.refreshToken})
	if err != nil {
		return errs.New(errs.KindAuth, "refresh", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.authURL, bytes.NewReader(body))
	if err != nil {
		return errs.New(errs.KindAuth, "refresh", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return errs.New(errs.KindAuth, "refresh", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.New(errs.KindAuth, "refresh", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errs.Newf(errs.KindAuth, "refresh", "auth endpoint returned %d: %s", resp.StatusCode, respBody)
	}

	var payload struct {
		AccessToken string `json:"AccessToken"`
		ExpiresIn   int64  `json:"ExpiresIn"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return errs.New(errs.KindAuth, "refresh", fmt.Errorf("parse auth response: %w", err))
	}
	if payload.AccessToken == "" {
		return errs.Newf(errs.KindAuth, "refresh", "auth response carries no access token")
	}

	ttl := defaultTTL
	if payload.ExpiresIn > 0 {
		ttl = time.Duration(payload.ExpiresIn) * time.Second
	}
	lifetime := ttl - refreshMargin
	if lifetime < refreshMargin {
		lifetime = refreshMargin
	}

	p.cred = credential{
		token:     payload.AccessToken,
		expiresAt: p.now().Add(lifetime),
	}

	p.logger.Info("bearer token refreshed", "ttl_seconds", int(ttl.Seconds()))
	return nil
}
