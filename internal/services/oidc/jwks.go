package oidc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/benvon/render-gate/internal/models"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// KeySource supplies the key set used to verify tokens.
type KeySource interface {
	Keys(ctx context.Context) (jwk.Set, error)
}

// JWKSCache caches JWKS keys
type JWKSCache struct {
	keys    jwk.Set
	expires time.Time
	mu      sync.RWMutex
}

// JWKSManager fetches and caches the provider's JWKS document.
type JWKSManager struct {
	url    string
	cache  *JWKSCache
	ttl    time.Duration
	client *http.Client
	mu     sync.Mutex
}

// NewJWKSManager creates a manager for the JWKS at url. Keys are cached for an hour.
func NewJWKSManager(url string) *JWKSManager {
	return &JWKSManager{
		url:    url,
		cache:  &JWKSCache{},
		ttl:    1 * time.Hour,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Keys returns the cached key set, fetching it when missing or stale.
// Fetch failures wrap models.ErrUnavailable.
func (m *JWKSManager) Keys(ctx context.Context) (jwk.Set, error) {
	m.cache.mu.RLock()
	if m.cache.keys != nil && time.Now().Before(m.cache.expires) {
		keys := m.cache.keys
		m.cache.mu.RUnlock()
		return keys, nil
	}
	m.cache.mu.RUnlock()

	// One fetch at a time; late arrivals pick up the fresh cache.
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache.mu.RLock()
	if m.cache.keys != nil && time.Now().Before(m.cache.expires) {
		keys := m.cache.keys
		m.cache.mu.RUnlock()
		return keys, nil
	}
	m.cache.mu.RUnlock()

	keys, err := m.fetchJWKS(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w: %w", models.ErrUnavailable, err)
	}

	m.cache.mu.Lock()
	m.cache.keys = keys
	m.cache.expires = time.Now().Add(m.ttl)
	m.cache.mu.Unlock()

	return keys, nil
}

// Ping fetches the JWKS document without touching the cache.
func (m *JWKSManager) Ping(ctx context.Context) error {
	_, err := m.fetchJWKS(ctx)
	return err
}

func (m *JWKSManager) fetchJWKS(ctx context.Context) (jwk.Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read JWKS response: %w", err)
	}

	keys, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}

	return keys, nil
}

// StaticKeys serves a fixed key set.
type StaticKeys struct {
	Set jwk.Set
}

// Keys implements KeySource.
func (s StaticKeys) Keys(context.Context) (jwk.Set, error) {
	return s.Set, nil
}
