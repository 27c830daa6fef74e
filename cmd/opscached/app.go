package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/opscache"
	"github.com/unkn0wn-root/opscache/config"
	"github.com/unkn0wn-root/opscache/datastore"
	"github.com/unkn0wn-root/opscache/datastore/breaker"
	dsmem "github.com/unkn0wn-root/opscache/datastore/memory"
	"github.com/unkn0wn-root/opscache/datastore/redisfeed"
	"github.com/unkn0wn-root/opscache/datastore/supabase"
	"github.com/unkn0wn-root/opscache/genstore"
	asynchook "github.com/unkn0wn-root/opscache/hooks/async"
	promhook "github.com/unkn0wn-root/opscache/hooks/prom"
	sloghook "github.com/unkn0wn-root/opscache/hooks/slog"
	"github.com/unkn0wn-root/opscache/internal/fleet"
	"github.com/unkn0wn-root/opscache/internal/httpapi"
	opslogrus "github.com/unkn0wn-root/opscache/log/logrus"
	opsslog "github.com/unkn0wn-root/opscache/log/slog"
	opszap "github.com/unkn0wn-root/opscache/log/zap"
	opszerolog "github.com/unkn0wn-root/opscache/log/zerolog"
	pr "github.com/unkn0wn-root/opscache/provider"
	"github.com/unkn0wn-root/opscache/provider/bigcache"
	provmem "github.com/unkn0wn-root/opscache/provider/memory"
	provredis "github.com/unkn0wn-root/opscache/provider/redis"
	"github.com/unkn0wn-root/opscache/provider/ristretto"
)

const (
	hookWorkers = 2
	hookQueue   = 1024
)

type app struct {
	log      *zap.Logger
	store    *opscache.Store
	svc      *fleet.Service
	registry *prometheus.Registry
	checks   map[string]httpapi.Check
	hooks    *asynchook.Hooks
	watches  []*opscache.Watch
}

func newLogger(c config.Log) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func slogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// cacheLogger picks the adapter for the store's own log lines.
func cacheLogger(c config.Log, zl *zap.Logger) opscache.Logger {
	switch c.Backend {
	case "logrus":
		l := logrus.New()
		if lvl, err := logrus.ParseLevel(c.Level); err == nil {
			l.SetLevel(lvl)
		}
		if c.Format == "json" {
			l.SetFormatter(&logrus.JSONFormatter{})
		}
		return opslogrus.New(l)
	case "zerolog":
		lvl, err := zerolog.ParseLevel(c.Level)
		if err != nil {
			lvl = zerolog.InfoLevel
		}
		var w io.Writer = os.Stderr
		if c.Format == "console" {
			w = zerolog.ConsoleWriter{Out: os.Stderr}
		}
		return opszerolog.New(zerolog.New(w).Level(lvl).With().Timestamp().Logger())
	case "slog":
		opts := &slog.HandlerOptions{Level: slogLevel(c.Level)}
		if c.Format == "console" {
			return opsslog.New(slog.New(slog.NewTextHandler(os.Stderr, opts)))
		}
		return opsslog.New(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	default:
		return opszap.New(zl.Named("cache"))
	}
}

func newProvider(c config.Cache, rdb goredis.UniversalClient) (pr.Provider, error) {
	switch c.Provider {
	case "ristretto":
		return ristretto.New(ristretto.Config{
			NumCounters: 1_000_000,
			MaxCost:     int64(c.MaxMB) << 20,
			BufferItems: 64,
			Metrics:     true,
		})
	case "bigcache":
		return bigcache.New(bigcache.Config{
			LifeWindow:         c.Retention,
			MaxEntriesInWindow: 10_000,
			HardMaxCacheSizeMB: c.MaxMB,
		})
	case "redis":
		if rdb == nil {
			return nil, errors.New("redis provider needs redis.addr")
		}
		// The gen store owns the client.
		return provredis.New(provredis.Config{Client: rdb})
	default:
		return provmem.New(provmem.Config{}), nil
	}
}

// setCost charges ristretto by payload size so MaxCost bounds bytes. Other
// providers keep the store's default cost of 1.
func setCost(provider string) opscache.SetCostFunc {
	if provider != "ristretto" {
		return nil
	}
	return func(_ string, raw []byte) int64 { return int64(len(raw)) }
}

// build wires every component from cfg. The returned app owns the store,
// hooks and watches and releases them in close.
func build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{
		log:      log,
		registry: prometheus.NewRegistry(),
		checks:   map[string]httpapi.Check{},
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var rdb goredis.UniversalClient
	if cfg.Realtime() {
		rdb = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	prov, err := newProvider(cfg.Cache, rdb)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", cfg.Cache.Provider, err)
	}

	hl := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel(cfg.Log.Level)}))
	a.hooks = asynchook.New(opscache.MultiHooks{
		promhook.New(a.registry),
		sloghook.New(hl, sloghook.Options{HitEvery: 100, MissEvery: 10}),
	}, hookWorkers, hookQueue)

	opts := opscache.Options{
		Namespace:      cfg.Cache.Namespace,
		Provider:       prov,
		Logger:         cacheLogger(cfg.Log, log),
		Hooks:          a.hooks,
		TTL:            cfg.Cache.TTL,
		Retention:      cfg.Cache.Retention,
		Disabled:       cfg.Cache.Disabled,
		ComputeSetCost: setCost(cfg.Cache.Provider),
	}
	if rdb != nil {
		opts.GenStore = genstore.NewRedisGenStore(rdb, cfg.Cache.Namespace)
	}
	a.store, err = opscache.New(opts)
	if err != nil {
		return nil, err
	}

	var (
		data datastore.Store
		feed datastore.Subscriber
	)
	if cfg.Supabase.URL != "" {
		sb, err := supabase.Dial(cfg.Supabase.URL, cfg.Supabase.Key)
		if err != nil {
			return nil, fmt.Errorf("supabase: %w", err)
		}
		data = sb
	} else {
		log.Warn("supabase not configured; serving from the in-memory data store")
		mem := dsmem.New()
		data, feed = mem, mem
	}
	if cfg.Breaker.Enabled {
		cb := breaker.New(data, breaker.Config{
			Name:             "datastore",
			MaxRequests:      cfg.Breaker.MaxRequests,
			Interval:         cfg.Breaker.Interval,
			Timeout:          cfg.Breaker.Timeout,
			FailureThreshold: cfg.Breaker.FailureRatio,
			MinRequests:      cfg.Breaker.MinRequests,
			Logger:           log,
		})
		a.checks["datastore"] = func(context.Context) error {
			if cb.State() == gobreaker.StateOpen {
				return errors.New("circuit open")
			}
			return nil
		}
		data = cb
	}
	if rdb != nil {
		rf, err := redisfeed.New(redisfeed.Config{
			Client: rdb,
			Prefix: cfg.Redis.FeedPrefix,
			OnDecodeError: func(channel string, err error) {
				log.Warn("undecodable change event", zap.String("channel", channel), zap.Error(err))
			},
		})
		if err != nil {
			return nil, err
		}
		data = redisfeed.Publishing(data, rf, func(ev datastore.ChangeEvent, err error) {
			log.Warn("publish change event", zap.String("entity", ev.Entity), zap.String("kind", string(ev.Kind)), zap.Error(err))
		})
		feed = rf
	}

	a.svc, err = fleet.New(fleet.Config{
		Store:  a.store,
		Data:   data,
		Feed:   feed,
		Rules:  cfg.RuleSet(),
		Codec:  cfg.Cache.Codec,
		Logger: log,
	})
	if err != nil {
		return nil, err
	}

	if feed != nil {
		a.watches, err = a.svc.Watch(ctx)
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

// apply reacts to a reloaded config file. Only the TTL is live; other
// changes are logged and need a restart.
func (a *app) apply(old, updated *config.Config) {
	if old.Cache.TTL != updated.Cache.TTL {
		a.store.SetTTL(updated.Cache.TTL)
	}
	if old.Cache.Provider != updated.Cache.Provider || old.Redis != updated.Redis || old.Supabase != updated.Supabase {
		a.log.Warn("config change requires a restart to take effect")
	}
}

func (a *app) close(ctx context.Context) {
	for _, w := range a.watches {
		if err := w.Stop(); err != nil {
			a.log.Warn("stop watch", zap.String("entity", w.Entity()), zap.Error(err))
		}
	}
	if a.hooks != nil {
		a.hooks.Close()
	}
	if a.store != nil {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.store.Close(cctx); err != nil {
			a.log.Warn("close cache", zap.Error(err))
		}
	}
}
