package auth

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// RelayKeyTTL is how long a fetched relay key is trusted before refetching.
	RelayKeyTTL = 6 * time.Hour

	relayKeyPath         = "/public-key"
	defaultFetchTimeout  = 5 * time.Second
	maxRelayKeyBodyBytes = 1024
)

// RelayKeyCache fetches the relay's Ed25519 public key and caches it for RelayKeyTTL.
type RelayKeyCache struct {
	url        string
	httpClient *http.Client
	ttl        time.Duration
	now        func() time.Time
	logger     *slog.Logger

	group singleflight.Group

	mu        sync.RWMutex
	key       ed25519.PublicKey
	fetchedAt time.Time
}

// RelayKeyOption customizes a RelayKeyCache.
type RelayKeyOption func(*RelayKeyCache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) RelayKeyOption {
	return func(c *RelayKeyCache) { c.now = now }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) RelayKeyOption {
	return func(c *RelayKeyCache) { c.httpClient = client }
}

// NewRelayKeyCache builds a cache fetching from {relayURL}/public-key.
func NewRelayKeyCache(relayURL string, logger *slog.Logger, opts ...RelayKeyOption) *RelayKeyCache {
	c := &RelayKeyCache{
		url:        strings.TrimRight(relayURL, "/") + relayKeyPath,
		httpClient: &http.Client{Timeout: defaultFetchTimeout},
		ttl:        RelayKeyTTL,
		now:        time.Now,
		logger:     logger.With("component", "RelayKeyCache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PublicKey returns the cached key, refetching when none is held or the TTL
// has elapsed. A failed refetch leaves the previous key in place and returns
// the error.
func (c *RelayKeyCache) PublicKey(ctx context.Context) (ed25519.PublicKey, error) {
	if key, ok := c.cached(); ok {
		return key, nil
	}

	// The shared fetch outlives any one caller; each caller stops waiting
	// when its own context ends.
	ch := c.group.DoChan("relay-key", func() (any, error) {
		if key, ok := c.cached(); ok {
			return key, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultFetchTimeout)
		defer cancel()
		key, err := c.fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.key = key
		c.fetchedAt = c.now()
		c.mu.Unlock()
		c.logger.Info("Relay public key refreshed")
		return key, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			c.logger.Warn("Relay public key refresh failed", "err", res.Err)
			return nil, res.Err
		}
		return res.Val.(ed25519.PublicKey), nil
	}
}

func (c *RelayKeyCache) cached() (ed25519.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.key == nil || c.now().Sub(c.fetchedAt) > c.ttl {
		return nil, false
	}
	return c.key, true
}

func (c *RelayKeyCache) fetch(ctx context.Context) (ed25519.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build relay key request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay key fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("relay key fetch returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRelayKeyBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read relay key: %w", err)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(body)))
	if err != nil {
		return nil, fmt.Errorf("relay key is not hex: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, errors.New("relay key has invalid length")
	}
	return ed25519.PublicKey(raw), nil
}
