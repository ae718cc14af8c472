package redisutil

import (
	"context"
	"fmt"
	"time"

	"github.com/fastprodman/coinchat/internal/config"
	"github.com/go-redis/redis/v8"
)

const pingTimeout = 5 * time.Second

// OpenRedis creates a client for cfg and verifies connectivity.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	err := client.Ping(pctx).Err()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}

	return client, nil
}
