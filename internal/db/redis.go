package db

import (
	"context"
	"time"

	"backend-bravely/internal/config"

	"github.com/redis/go-redis/v9"
)

// ConnectRedis returns a client for cfg.RedisAddr, or nil when Redis is not
// configured. The client dials lazily.
func ConnectRedis(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}

	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		// Checkpoint writes sit on the fix ingest path.
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func PingRedis(ctx context.Context, client *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return client.Ping(ctx).Err()
}
