package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of *redis.Client used by RedisStore.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type RedisStore struct {
	client RedisClient
	prefix string
}

func NewRedisStore(client RedisClient) *RedisStore {
	return &RedisStore{client: client, prefix: "idem:order:"}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, ttl time.Duration) (Record, bool, error) {
	pending := Record{Fingerprint: fingerprint, Status: StatusPending}
	data, err := json.Marshal(pending)
	if err != nil {
		return Record{}, false, err
	}

	ok, err := s.client.SetNX(ctx, s.key(key), data, ttl).Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if ok {
		return pending, true, nil
	}

	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, ErrKeyExpired
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("load idempotency key: %w", err)
	}

	var existing Record
	if err := json.Unmarshal(raw, &existing); err != nil {
		return Record{}, false, fmt.Errorf("decode idempotency record: %w", err)
	}
	if existing.Fingerprint != fingerprint {
		return Record{}, false, ErrFingerprintMismatch
	}
	return existing, false, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	rec.Status = StatusCompleted
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(key), data, ttl).Err()
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}
