package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/certflow/core/config"
	"github.com/dmitrymomot/certflow/core/email"
	"github.com/dmitrymomot/certflow/core/logger"
	"github.com/dmitrymomot/certflow/core/queue"
	"github.com/dmitrymomot/certflow/core/store"
	"github.com/dmitrymomot/certflow/integration/database/pg"
	"github.com/dmitrymomot/certflow/integration/database/redis"
	"github.com/dmitrymomot/certflow/integration/dns/route53"
	"github.com/dmitrymomot/certflow/integration/email/postmark"
)

// appConfig selects backends; each component reads its own Config.
type appConfig struct {
	Env              string        `env:"APP_ENV" envDefault:"development"`
	StoreBackend     string        `env:"STORE_BACKEND" envDefault:"postgres"`
	FlagBackend      string        `env:"FLAG_BACKEND" envDefault:"store"`
	RateBackend      string        `env:"RATE_BACKEND" envDefault:"memory"`
	EmailDevDir      string        `env:"EMAIL_DEV_DIR" envDefault:"./tmp/emails"`
	ReadinessTimeout time.Duration `env:"READINESS_TIMEOUT" envDefault:"2s"`
	Resolver         string        `env:"DNS_RESOLVER" envDefault:"8.8.8.8:53"`
}

const (
	backendPostgres = "postgres"
	backendMemory   = "memory"
	backendRedis    = "redis"
)

// runtime holds the shared infrastructure of one command invocation.
type runtime struct {
	cfg    appConfig
	log    *slog.Logger
	pool   *pgxpool.Pool
	redis  *goredis.Client
	store  store.Store
	flag   store.ReconciliationFlag
	queues queue.Storage

	closers []func()
}

func newRuntime(ctx context.Context) (*runtime, error) {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}

	log := logger.New(logger.WithDevelopment("certflow"))
	if cfg.Env == "production" {
		log = logger.New(logger.WithProduction("certflow"))
	}
	rt := &runtime{cfg: cfg, log: log}

	if cfg.FlagBackend == backendRedis || cfg.RateBackend == backendRedis {
		var rcfg redis.Config
		if err := config.Load(&rcfg); err != nil {
			return nil, err
		}
		client, err := redis.Connect(ctx, rcfg)
		if err != nil {
			return nil, err
		}
		rt.redis = client
		rt.closers = append(rt.closers, func() { _ = client.Close() })
		if cfg.FlagBackend == backendRedis {
			rt.flag = redis.NewFlag(client, rcfg.FlagKey)
		}
	}

	switch cfg.StoreBackend {
	case backendPostgres:
		pool, err := rt.postgres(ctx)
		if err != nil {
			rt.Close()
			return nil, err
		}
		var opts []pg.StoreOption
		if rt.flag != nil {
			opts = append(opts, pg.WithExternalFlag(rt.flag))
		}
		st := pg.NewStore(pool, opts...)
		rt.store, rt.queues = st, pg.NewQueueStorage(pool)
		if rt.flag == nil {
			rt.flag = st
		}
	case backendMemory:
		var opts []store.MemoryOption
		if rt.flag != nil {
			opts = append(opts, store.WithFlag(rt.flag))
		}
		st := store.NewMemory(opts...)
		rt.store, rt.queues = st, queue.NewMemoryStorage(queue.WithMemoryStorageLogger(log))
		if rt.flag == nil {
			rt.flag = st
		}
		log.WarnContext(ctx, "memory backend: state is lost when the process exits")
	default:
		rt.Close()
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	return rt, nil
}

func (rt *runtime) postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if rt.pool != nil {
		return rt.pool, nil
	}
	var pcfg pg.Config
	if err := config.Load(&pcfg); err != nil {
		return nil, err
	}
	pool, err := pg.Connect(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	rt.pool = pool
	rt.closers = append(rt.closers, pool.Close)
	return pool, nil
}

// dns builds the Route 53 client.
func (rt *runtime) dns(ctx context.Context) (*route53.Client, error) {
	var cfg route53.Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	return route53.New(ctx, cfg, route53.WithLogger(rt.log))
}

// emailSender uses Postmark when a token is configured and writes messages
// to disk otherwise.
func (rt *runtime) emailSender() (email.EmailSender, error) {
	var cfg postmark.Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	if cfg.Enabled() {
		return postmark.New(cfg)
	}
	if rt.cfg.Env == "production" {
		return nil, errors.New("POSTMARK_SERVER_TOKEN is required in production")
	}
	rt.log.Info("postmark disabled, writing emails to disk", slog.String("dir", rt.cfg.EmailDevDir))
	return email.NewDevSender(rt.cfg.EmailDevDir), nil
}

// Close releases connections in reverse order.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
