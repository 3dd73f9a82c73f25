package checkpoint

import (
	"errors"
	"fmt"

	"backend-bravely/internal/db"
	"backend-bravely/internal/tracking"

	"github.com/redis/go-redis/v9"
)

// Options selects and configures a checkpoint backend.
type Options struct {
	Backend  string
	Codec    string
	Key      string
	Dir      string
	Postgres db.Querier
	Redis    *redis.Client
}

// Open builds the store named by opts.Backend.
func Open(opts Options) (tracking.CheckpointStore, error) {
	codec, err := CodecByName(opts.Codec)
	if err != nil {
		return nil, err
	}

	switch opts.Backend {
	case "", "redis":
		if opts.Redis == nil {
			return nil, errors.New("redis checkpoint backend needs a redis client")
		}
		return NewRedisStore(opts.Redis, opts.Key, codec), nil
	case "postgres":
		if opts.Postgres == nil {
			return nil, errors.New("postgres checkpoint backend needs a database")
		}
		return NewPostgresStore(opts.Postgres, "", codec), nil
	case "file":
		return NewFileStore(opts.Dir, codec)
	case "memory":
		return NewMemoryStore(codec), nil
	}
	return nil, fmt.Errorf("unknown checkpoint backend %q", opts.Backend)
}
