package server

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore tracks login attempt counters in Redis so throttling holds
// across replicas.
type redisStore struct {
	client  redis.UniversalClient
	timeout time.Duration
}

func newRedisStore(addr, password string, timeout time.Duration) *redisStore {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{strings.TrimSpace(addr)},
		Password:     password,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   2,
	})
	return &redisStore{client: client, timeout: timeout}
}

func (s *redisStore) opContext() (context.Context, context.CancelFunc) {
	timeout := s.timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

func (s *redisStore) Allow(key string, limit int, window time.Duration) (bool, time.Duration, error) {
	ctx, cancel := s.opContext()
	defer cancel()

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		if window < time.Second {
			window = time.Second
		}
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return false, 0, err
		}
	}
	if count <= int64(limit) {
		return true, 0, nil
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if ttl < 0 {
		return false, window, nil
	}
	return false, ttl, nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
