package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"backend-bravely/internal/checkpoint"
	"backend-bravely/internal/config"
	"backend-bravely/internal/db"
	"backend-bravely/internal/tracking"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// openStore connects to the configured checkpoint backend. The returned
// func releases any connections.
var openStore = func(ctx context.Context, cfg config.Config) (tracking.CheckpointStore, func(), error) {
	opts := checkpoint.Options{
		Backend: cfg.CheckpointBackend,
		Codec:   cfg.CheckpointCodec,
		Key:     cfg.CheckpointKey,
		Dir:     cfg.CheckpointDir,
	}
	closers := []func(){}
	release := func() {
		for _, c := range closers {
			c()
		}
	}

	switch cfg.CheckpointBackend {
	case "", "redis":
		rdb := db.ConnectRedis(cfg)
		if rdb != nil {
			closers = append(closers, func() { _ = rdb.Close() })
			opts.Redis = rdb
		}
	case "postgres":
		pool, err := db.ConnectPostgres(cfg)
		if err != nil {
			return nil, release, fmt.Errorf("connect postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		opts.Postgres = pool
	}

	store, err := checkpoint.Open(opts)
	if err != nil {
		return nil, release, err
	}
	return store, release, nil
}

func main() {
	if err := newRootCmd(viper.New(), os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Inspect and manage the active exposure session checkpoint",
		SilenceUsage:  true,
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.String("backend", "", "checkpoint backend: redis, postgres, file or memory")
	flags.String("codec", "", "checkpoint codec: json or cbor")
	flags.String("key", "", "redis key holding the checkpoint")
	flags.String("dir", "", "directory for the file backend")
	flags.String("redis-addr", "", "redis address")
	flags.String("postgres-url", "", "postgres connection string")
	flags.String("config", "", "YAML config file")

	for key, flag := range map[string]string{
		"CHECKPOINT_BACKEND": "backend",
		"CHECKPOINT_CODEC":   "codec",
		"CHECKPOINT_KEY":     "key",
		"CHECKPOINT_DIR":     "dir",
		"REDIS_ADDR":         "redis-addr",
		"POSTGRES_URL":       "postgres-url",
		"CONFIG_FILE":        "config",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		newInspectCmd(v),
		newDiscardCmd(v),
		newReplayCmd(v),
	)
	return root
}
