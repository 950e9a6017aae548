// Package tokencache caches short-lived installation tokens for the
// version-control backend, keyed by organization. The cache is an
// explicitly injected component: callers own its lifecycle, there is
// no ambient global state.
package tokencache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Token is an installation-scoped access token with its expiry.
type Token struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// expirySlack is subtracted from the token expiry so a token is never
// handed out moments before the backend stops accepting it.
const expirySlack = time.Minute

// Valid reports whether the token is still usable at t.
func (tok Token) Valid(t time.Time) bool {
	return tok.Value != "" && t.Before(tok.ExpiresAt.Add(-expirySlack))
}

// Store persists tokens per organization. Implementations must treat an
// expired entry as absent.
type Store interface {
	Get(ctx context.Context, org string) (Token, bool, error)
	Put(ctx context.Context, org string, tok Token) error
}

// Exchanger performs the actual token exchange against the backend.
type Exchanger interface {
	Exchange(ctx context.Context, org string) (Token, error)
}

// StaticExchanger serves a fixed token from configuration. Deployments
// that use a GitHub App swap in a real exchange implementation.
type StaticExchanger struct {
	Value string
	TTL   time.Duration
}

func (e StaticExchanger) Exchange(ctx context.Context, org string) (Token, error) {
	ttl := e.TTL
	if ttl == 0 {
		ttl = time.Hour
	}
	return Token{Value: e.Value, ExpiresAt: time.Now().Add(ttl)}, nil
}

// Cache serves tokens from the store and refreshes synchronously on a
// miss. Concurrent refreshes for the same organization are deduplicated.
type Cache struct {
	store     Store
	exchanger Exchanger
	group     singleflight.Group
	now       func() time.Time
}

func New(store Store, exchanger Exchanger) *Cache {
	return &Cache{
		store:     store,
		exchanger: exchanger,
		now:       time.Now,
	}
}

// Token returns a valid token for the organization, refreshing it if
// the cached one is absent or expired.
func (c *Cache) Token(ctx context.Context, org string) (string, error) {
	tok, ok, err := c.store.Get(ctx, org)
	if err == nil && ok && tok.Valid(c.now()) {
		return tok.Value, nil
	}

	v, err, _ := c.group.Do(org, func() (any, error) {
		// Re-check under the flight: another caller may have refreshed
		// while this one waited.
		tok, ok, err := c.store.Get(ctx, org)
		if err == nil && ok && tok.Valid(c.now()) {
			return tok.Value, nil
		}

		fresh, err := c.exchanger.Exchange(ctx, org)
		if err != nil {
			return "", err
		}
		if err := c.store.Put(ctx, org, fresh); err != nil {
			return "", err
		}
		return fresh.Value, nil
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// MemoryStore keeps tokens in process memory. Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]Token)}
}

func (s *MemoryStore) Get(ctx context.Context, org string) (Token, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tok, ok := s.tokens[org]
	if !ok || !tok.Valid(time.Now()) {
		return Token{}, false, nil
	}
	return tok, true, nil
}

func (s *MemoryStore) Put(ctx context.Context, org string, tok Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[org] = tok
	return nil
}
