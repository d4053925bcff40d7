package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mohammed-shakir/hv-route-sync/internal/cache"
	"github.com/mohammed-shakir/hv-route-sync/internal/cache/memstore"
	"github.com/mohammed-shakir/hv-route-sync/internal/cache/redisstore"
	"github.com/mohammed-shakir/hv-route-sync/internal/carto"
	"github.com/mohammed-shakir/hv-route-sync/internal/core/config"
	"github.com/mohammed-shakir/hv-route-sync/internal/core/health"
	"github.com/mohammed-shakir/hv-route-sync/internal/core/observability"
	"github.com/mohammed-shakir/hv-route-sync/internal/core/router"
	"github.com/mohammed-shakir/hv-route-sync/internal/core/server"
	"github.com/mohammed-shakir/hv-route-sync/internal/events"
	"github.com/mohammed-shakir/hv-route-sync/internal/fetcher"
	"github.com/mohammed-shakir/hv-route-sync/internal/hittest"
	"github.com/mohammed-shakir/hv-route-sync/internal/logger"
	"github.com/mohammed-shakir/hv-route-sync/internal/metrics"
	"github.com/mohammed-shakir/hv-route-sync/internal/resilience"
	"github.com/mohammed-shakir/hv-route-sync/internal/source"
	"github.com/mohammed-shakir/hv-route-sync/internal/style"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// overriding log level via flag
	levelFlag := flag.String("log-level", "", "log level (debug|info|warn|error)")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}
	if *levelFlag != "" {
		cfg.LogLevel = strings.TrimSpace(*levelFlag)
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: "hvsync",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsHandler http.Handler
	mcfg := metrics.ConfigFromEnv()
	if mcfg.Enabled {
		if mcfg.Build.Version == "" {
			mcfg.Build.Version = Version
		}
		p := metrics.Init(mcfg)
		if err := observability.Init(p.Registerer(), true); err != nil {
			appLog.Error("metrics registration failed", "err", err)
			return 1
		}
		p.Serve(ctx, mcfg.Addr, mcfg.Path, appLog)
		metricsHandler = p.Handler()
	} else {
		_ = observability.Init(nil, false)
	}
	observability.ExposeBuildInfo(Version)

	appLog.Info("starting hvsync",
		"addr", cfg.Addr,
		"version", Version,
		"sources", len(cfg.Sources),
		"cache", cfg.CacheDriver)

	store, closeStore, err := openCache(ctx, cfg)
	if err != nil {
		appLog.Error("cache setup failed", "err", err)
		return 1
	}
	defer closeStore()

	reg, err := buildSources(cfg, store, appLog)
	if err != nil {
		appLog.Error("source setup failed", "err", err)
		return 1
	}
	hits := hittest.NewFilter(cfg.HitTestLayers...)
	for _, l := range hits.Layers() {
		if _, err := reg.Get(l); err != nil {
			appLog.Warn("hit-test layer is not registered", "layer", l)
		}
	}

	opts := []fetcher.Option{fetcher.WithBaseContext(ctx)}
	if cfg.Kafka.RefreshEventsEnabled {
		pub, err := events.NewPublisher(events.SplitBrokers(cfg.Kafka.Brokers), cfg.Kafka.RefreshTopic, 256, appLog)
		if err != nil {
			appLog.Error("refresh publisher setup failed", "err", err)
			return 1
		}
		defer func() {
			if err := pub.Close(); err != nil {
				appLog.Warn("refresh publisher close", "err", err)
			}
		}()
		opts = append(opts, fetcher.WithNotifier(pub))
	}

	f := fetcher.New(fetcher.Config{
		Debounce:       cfg.RefreshDebounce,
		InitialZoom:    cfg.InitialZoom,
		RefreshTimeout: cfg.RefreshTimeout,
	}, reg, appLog, opts...)
	defer f.Close()

	if cfg.Kafka.ViewportEnabled {
		cc := events.DefaultConsumerConfig(cfg.Kafka.Brokers, cfg.Kafka.ViewportTopic, cfg.Kafka.GroupID)
		consumer := events.NewConsumer(cc, appLog, f)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				appLog.Error("viewport consumer stopped", "err", err)
			}
		}()
	}

	checks := []health.Check{{
		Name: "sources",
		Fn: func(context.Context) error {
			if reg.Len() == 0 {
				return errors.New("no sources registered")
			}
			return nil
		},
	}}
	if p, ok := store.(cache.Pinger); ok {
		checks = append(checks, health.Check{Name: "cache", Fn: p.Ping})
	}

	handler := router.New(router.Deps{
		Logger:         appLog,
		Fetcher:        f,
		Sources:        reg,
		HitTest:        hits,
		Styler:         style.NewStyler(),
		RefreshTimeout: cfg.RefreshTimeout,
		ViewportRPM:    cfg.RateLimitRPM,
		ReadyChecks:    checks,
		Metrics:        metricsHandler,
	})

	if err := server.Run(ctx, cfg.Addr, handler, appLog); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

func openCache(ctx context.Context, cfg config.Config) (cache.Interface, func(), error) {
	switch cfg.CacheDriver {
	case "redis":
		rc, err := redisstore.New(ctx, redisstore.DefaultConfig(cfg.RedisAddr))
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() { _ = rc.Close() }
		return cache.WithTimeout(rc, cfg.CacheOpTimeout), closeFn, nil
	case "memory", "":
		return memstore.New(cfg.CacheLRUSize), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache driver %q", cfg.CacheDriver)
	}
}

func upstream(cfg config.Config, name string) *resilience.Client {
	cc := resilience.DefaultClientConfig(name)
	cc.Timeout = cfg.UpstreamTimeout
	if cfg.UpstreamMaxRetries >= 0 {
		cc.MaxRetries = uint64(cfg.UpstreamMaxRetries)
	}
	return resilience.NewClient(cc)
}

func buildSources(cfg config.Config, store cache.Interface, log *slog.Logger) (*source.Registry, error) {
	reg := source.NewRegistry()
	hits := hittest.NewFilter(cfg.HitTestLayers...)

	for _, s := range cfg.Sources {
		src := source.NewArcGIS(source.ArcGISConfig{
			Name:       s.Name,
			ServiceURL: s.ServiceURL,
			Layer:      s.Layer,
			TileSize:   s.TileSize,
			MaxTiles:   cfg.FetchMaxTiles,
			MaxWorkers: cfg.FetchMaxWorkers,
			TTL:        cfg.TTLFor(s.Name),
			HitTesting: hits.Allows(s.Name),
		}, store, upstream(cfg, "arcgis_"+s.Name), log)
		if err := reg.Register(src); err != nil {
			return nil, err
		}
	}

	if cfg.Carto.Enabled {
		endpoint, err := carto.SQLEndpoint(cfg.Carto.Account)
		if err != nil {
			return nil, err
		}
		src, err := source.NewCarto(source.CartoConfig{
			Name:       "carto",
			Endpoint:   endpoint,
			APIKey:     cfg.Carto.APIKey,
			Query:      carto.DefaultRouteQuery(cfg.Carto.Account),
			TTL:        cfg.TTLFor("carto"),
			HitTesting: hits.Allows("carto"),
		}, store, upstream(cfg, "carto"), log)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(src); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
