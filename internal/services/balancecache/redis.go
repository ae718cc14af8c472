package balancecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "coinchat:balance:"

// RedisStore shares cached balances between API replicas.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, userID string) (int64, bool, error) {
	balance, err := s.client.Get(ctx, keyPrefix+userID).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}

		return 0, false, fmt.Errorf("redis get: %w", err)
	}

	return balance, true, nil
}

func (s *RedisStore) Set(ctx context.Context, userID string, balance int64, ttl time.Duration) error {
	err := s.client.Set(ctx, keyPrefix+userID, balance, ttl).Err()
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	err := s.client.Del(ctx, keyPrefix+userID).Err()
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}
