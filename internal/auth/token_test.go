package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tde/go-alor-collector/internal/errs"
)

// authServer serves the refresh endpoint and counts hits.
func authServer(t *testing.T, token string, expiresIn int64, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.NotEmpty(t, body["token"], "refresh token must be posted")

		resp := map[string]any{"AccessToken": token}
		if expiresIn > 0 {
			resp["ExpiresIn"] = expiresIn
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestTokenLazyRefreshAndCache(t *testing.T) {
	var hits atomic.Int64
	srv := authServer(t, "jwt-1", 300, &hits)
	defer srv.Close()

	p := NewProvider(srv.URL, "refresh-token", nil)

	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "jwt-1", tok)
	assert.Equal(t, int64(1), hits.Load())

	// Second call is served from cache.
	tok, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "jwt-1", tok)
	assert.Equal(t, int64(1), hits.Load())
}

func TestTokenRefreshesBeforeServerExpiry(t *testing.T) {
	var hits atomic.Int64
	srv := authServer(t, "jwt-1", 300, &hits)
	defer srv.Close()

	now := time.Date(2024, time.March, 4, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	p := NewProvider(srv.URL, "refresh-token", nil, WithClock(clock))

	_, err := p.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), hits.Load())

	// 269s later the cached token (ttl 300s, margin 30s) is still valid.
	now = now.Add(269 * time.Second)
	_, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())

	// At 270s the margin is hit and a refresh happens.
	now = now.Add(1 * time.Second)
	_, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
}

func TestTokenShortTTLKeepsMinimumLifetime(t *testing.T) {
	var hits atomic.Int64
	srv := authServer(t, "jwt-1", 10, &hits)
	defer srv.Close()

	now := time.Date(2024, time.March, 4, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	p := NewProvider(srv.URL, "refresh-token", nil, WithClock(clock))

	_, err := p.Token(context.Background())
	require.NoError(t, err)

	// Even with a 10s server TTL the credential lives the 30s floor.
	now = now.Add(29 * time.Second)
	_, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())
}

func TestTokenDefaultTTLWhenOmitted(t *testing.T) {
	var hits atomic.Int64
	srv := authServer(t, "jwt-1", 0, &hits)
	defer srv.Close()

	now := time.Date(2024, time.March, 4, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	p := NewProvider(srv.URL, "refresh-token", nil, WithClock(clock))

	_, err := p.Token(context.Background())
	require.NoError(t, err)

	// Default TTL 300s minus margin: still cached at 269s.
	now = now.Add(269 * time.Second)
	_, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())
}

func TestConcurrentCallersSingleRefresh(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(20 * time.Millisecond) // widen the race window
		json.NewEncoder(w).Encode(map[string]any{"AccessToken": "jwt-1", "ExpiresIn": 300})
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, "refresh-token", nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := p.Token(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "jwt-1", tok)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), hits.Load())
}

func TestTokenErrors(t *testing.T) {
	t.Run("missing refresh token", func(t *testing.T) {
		p := NewProvider("http://localhost", "", nil)
		_, err := p.Token(context.Background())
		require.Error(t, err)
		assert.True(t, errs.IsKind(err, errs.KindAuth))
	})

	t.Run("non-success status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad refresh token", http.StatusForbidden)
		}))
		defer srv.Close()

		p := NewProvider(srv.URL, "refresh-token", nil)
		_, err := p.Token(context.Background())
		require.Error(t, err)
		assert.True(t, errs.IsKind(err, errs.KindAuth))
	})

	t.Run("empty access token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"ExpiresIn": 300})
		}))
		defer srv.Close()

		p := NewProvider(srv.URL, "refresh-token", nil)
		_, err := p.Token(context.Background())
		require.Error(t, err)
		assert.True(t, errs.IsKind(err, errs.KindAuth))
	})
}

func TestForceRefresh(t *testing.T) {
	var hits atomic.Int64
	srv := authServer(t, "jwt-1", 300, &hits)
	defer srv.Close()

	p := NewProvider(srv.URL, "refresh-token", nil)

	_, err := p.Token(context.Background())
	require.NoError(t, err)

	_, err = p.ForceRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
}
