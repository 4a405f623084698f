package auth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceStore implements the atomic "set-if-absent with TTL" primitive the
// request authenticator uses to reject replayed nonces.
type NonceStore interface {
	// CheckAndSet returns true if nonce was not previously seen (and is now
	// recorded), false if it was already present.
	CheckAndSet(ctx context.Context, agentID, nonce string, ttl time.Duration) (bool, error)
}

// RedisNonceStore backs NonceStore with Redis SETNX+EXPIRE, atomic via SET
// ... NX EX in a single round trip.
type RedisNonceStore struct {
	client *redis.Client
	prefix string
}

func NewRedisNonceStore(client *redis.Client) *RedisNonceStore {
	return &RedisNonceStore{client: client, prefix: "nonce:"}
}

func (s *RedisNonceStore) CheckAndSet(ctx context.Context, agentID, nonce string, ttl time.Duration) (bool, error) {
	key := s.prefix + agentID + ":" + nonce
	ok, err := s.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}
