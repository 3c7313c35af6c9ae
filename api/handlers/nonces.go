package handlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

const DefaultNonceKeyPrefix = "gameledger:nonce"

// NonceStore claims request nonces. Claim reports false when key was already claimed and has
// not expired.
type NonceStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryNonceStore keeps claimed nonces in process until they expire.
type MemoryNonceStore struct {
	clock clockwork.Clock

	mu        sync.Mutex
	expires   map[string]time.Time
	nextSweep time.Time
}

func NewMemoryNonceStore(clock clockwork.Clock) *MemoryNonceStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryNonceStore{clock: clock, expires: make(map[string]time.Time)}
}

func (s *MemoryNonceStore) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.After(s.nextSweep) {
		for k, exp := range s.expires {
			if !exp.After(now) {
				delete(s.expires, k)
			}
		}
		s.nextSweep = now.Add(time.Minute)
	}

	if exp, ok := s.expires[key]; ok && exp.After(now) {
		return false, nil
	}
	s.expires[key] = now.Add(ttl)
	return true, nil
}

// Len returns the number of tracked nonces, expired ones included until the next sweep.
func (s *MemoryNonceStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expires)
}

// RedisNonceStore claims nonces with SET NX so every API replica shares one view.
type RedisNonceStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisNonceStore(client redis.UniversalClient, prefix string) *RedisNonceStore {
	if prefix == "" {
		prefix = DefaultNonceKeyPrefix
	}
	return &RedisNonceStore{client: client, prefix: prefix}
}

func (s *RedisNonceStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+":"+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim nonce: %w", err)
	}
	return ok, nil
}
