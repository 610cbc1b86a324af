package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/imalyk/go-thumbnailer/internal/config"
)

// NewRedisClient connects and pings. The returned client is shared by every
// component of a process and closed by the caller.
func NewRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
