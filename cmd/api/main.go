package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-bravely/internal/checkpoint"
	"backend-bravely/internal/config"
	"backend-bravely/internal/db"
	"backend-bravely/internal/logging"
	"backend-bravely/internal/metrics"
	"backend-bravely/internal/recording"
	"backend-bravely/internal/server"
	"backend-bravely/internal/stream"
	"backend-bravely/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() config.Config
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, *pgxpool.Pool, *redis.Client, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		notify:          signal.Notify,
		run:             Run,
	}
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		log.Warn("postgres connection failed", "error", err)
	}

	rdb := deps.connectRedis(cfg)
	if rdb != nil {
		if err := db.PingRedis(context.Background(), rdb); err != nil {
			log.Warn("redis not reachable", "addr", cfg.RedisAddr, "error", err)
		}
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, pg, rdb, signals, nil); err != nil {
		log.Error("server exited with error", "error", err)
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

var openStore = checkpoint.Open

// Run builds the engine, resolves recovery, serves HTTP and waits for
// termination signals.
func Run(ctx context.Context, cfg config.Config, pg *pgxpool.Pool, rdb *redis.Client, signals <-chan os.Signal, listen ListenFunc) error {
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	var q db.Querier
	if pg != nil {
		q = pg
	}
	store, err := openStore(checkpoint.Options{
		Backend:  cfg.CheckpointBackend,
		Codec:    cfg.CheckpointCodec,
		Key:      cfg.CheckpointKey,
		Dir:      cfg.CheckpointDir,
		Postgres: q,
		Redis:    rdb,
	})
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}

	m := metrics.New()
	opts := []tracking.Option{tracking.WithLogger(log), tracking.WithObserver(m)}
	var recordings *recording.Service
	if pg != nil {
		recordings = recording.NewService(pg)
		opts = append(opts, tracking.WithRecorder(recordings))
	} else {
		log.Warn("no database, finished sessions will not be recorded")
	}
	engine := tracking.NewEngine(store, cfg.Engine(), opts...)

	if d, err := engine.Recover(ctx); err != nil {
		// The UI can still discard the checkpoint or retry recovery.
		log.Error("session recovery failed", "error", err)
	} else {
		log.Info("session recovery resolved", "decision", d.Kind)
	}

	hub := stream.NewHub(rdb, log)
	defer hub.Close()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	sub := engine.Bus().Subscribe(256)
	defer sub.Close()
	go engine.Run(runCtx)
	go hub.Forward(runCtx, sub, server.SessionTopic)

	srv := server.NewServer(cfg, engine, recordings, hub, m)

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := shutdownFn(srv.App, shutdownCtx); err != nil {
		return err
	}
	cancelRun()
	hub.Close()
	if pg != nil {
		pg.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	log.Info("shutdown complete")
	return nil
}
