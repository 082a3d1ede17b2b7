package cache

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// RedisStore backs the cache with Redis for deployments where several
// pipeline replicas share one cache. Entries use the same envelope as the
// file store, stored without expiry — fingerprinted payloads never go stale.
type RedisStore struct {
	client *redis.Client
	clock  clockwork.Clock
}

// NewRedisStore connects and pings so an unreachable Redis fails the run at
// startup instead of silently degrading every lookup to a miss.
func NewRedisStore(ctx context.Context, addr, password string, db int, clock clockwork.Clock) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client, clock: clock}, nil
}

func (s *RedisStore) Get(ctx context.Context, fingerprint string) ([]byte, bool) {
	data, err := s.client.Get(ctx, fingerprint).Bytes()
	if err != nil {
		return nil, false
	}
	return decodeEntry(data)
}

func (s *RedisStore) Put(ctx context.Context, fingerprint string, payload []byte) error {
	data, err := encodeEntry(fingerprint, payload, s.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := s.client.Set(ctx, fingerprint, data, 0).Err(); err != nil {
		return fmt.Errorf("store cache entry: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
