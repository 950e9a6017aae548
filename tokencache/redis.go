package tokencache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists tokens in Redis so multiple instances share one
// token per organization. Expiry is enforced with the key TTL.
type RedisStore struct {
	rdb       redis.UniversalClient
	keyPrefix string
}

func NewRedisStore(rdb redis.UniversalClient, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "changegate"
	}
	return &RedisStore{rdb: rdb, keyPrefix: keyPrefix}
}

func (s *RedisStore) key(org string) string {
	return s.keyPrefix + ":token:" + org
}

func (s *RedisStore) Get(ctx context.Context, org string) (Token, bool, error) {
	raw, err := s.rdb.Get(ctx, s.key(org)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, err
	}

	var tok Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return Token{}, false, err
	}
	if !tok.Valid(time.Now()) {
		return Token{}, false, nil
	}
	return tok, true, nil
}

func (s *RedisStore) Put(ctx context.Context, org string, tok Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return err
	}

	ttl := time.Until(tok.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, s.key(org), raw, ttl).Err()
}
