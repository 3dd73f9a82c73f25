package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"backend-bravely/internal/tracking"

	"github.com/redis/go-redis/v9"
)

const DefaultKey = "bravely:active-session"

// RedisStore keeps the checkpoint under a single key. Redis must be
// configured with AOF fsync for writes to be durable across restarts.
type RedisStore struct {
	client *redis.Client
	key    string
	codec  Codec
}

func NewRedisStore(client *redis.Client, key string, codec Codec) *RedisStore {
	if key == "" {
		key = DefaultKey
	}
	if codec == nil {
		codec = JSONCodec{}
	}
	return &RedisStore{client: client, key: key, codec: codec}
}

func (s *RedisStore) Save(ctx context.Context, snap tracking.SessionSnapshot) error {
	data, err := s.codec.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) (*tracking.SessionSnapshot, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decode(s.codec, data)
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
