package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations. Store calls on security-sensitive
// paths must complete fast or fail closed.
const (
	DefaultDialTimeout = 5 * time.Second
	DefaultOpTimeout   = 500 * time.Millisecond
)

// RedisStore implements Store on a Redis backend. Keys are namespaced with
// keyPrefix so one Redis can serve several deployments.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	opTimeout time.Duration
}

// NewRedisStore connects to Redis at addr and returns a Store. Returns an
// error if the connection cannot be established.
func NewRedisStore(ctx context.Context, addr, password string, db int, keyPrefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultOpTimeout,
		WriteTimeout: DefaultOpTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, opTimeout: DefaultOpTimeout}, nil
}

// NewRedisStoreWithClient wraps a pre-configured client. Useful for testing
// with miniredis.
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix, opTimeout: DefaultOpTimeout}
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks Redis connectivity. Used by the health endpoint.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *RedisStore) key(k string) string {
	return s.keyPrefix + k
}

// Get returns the value for key, ok=false when absent.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v, true, nil
}

// Set stores value under key for ttl.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// SetNX stores value only if key is absent; returns true if stored.
func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if ttl < 0 {
		ttl = 0
	}
	stored, err := s.client.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return stored, nil
}

// Incr atomically increments the counter at key, stamping ttl on first use.
func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	n, err := s.client.Incr(ctx, s.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n == 1 && ttl > 0 {
		if err := s.client.Expire(ctx, s.key(key), ttl).Err(); err != nil {
			return n, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return n, nil
}

// Delete removes key; returns true if it existed.
func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	n, err := s.client.Del(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

// Exists reports whether key is present.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}
