package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cordum/edgeconf/core/acl"
	"github.com/cordum/edgeconf/core/audit"
	"github.com/cordum/edgeconf/core/configmgr"
	"github.com/cordum/edgeconf/core/configmgr/callback"
	"github.com/cordum/edgeconf/core/firewall"
	"github.com/cordum/edgeconf/core/infra/buildinfo"
	"github.com/cordum/edgeconf/core/infra/bus"
	"github.com/cordum/edgeconf/core/infra/config"
	"github.com/cordum/edgeconf/core/infra/locks"
	"github.com/cordum/edgeconf/core/infra/logging"
	"github.com/cordum/edgeconf/core/infra/metrics"
	"github.com/cordum/edgeconf/core/scheduler"
	"github.com/cordum/edgeconf/core/storage"
)

const service = "edgeconf"

func main() {
	defer logging.Sync()
	buildinfo.Log(service)

	if err := run(); err != nil {
		logging.Error(service, "exiting", "error", err)
		logging.Sync()
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer store.Close()

	natsBus, err := bus.NewNatsBus(cfg.NatsURL)
	if err != nil {
		return err
	}
	defer natsBus.Close()

	configMetrics := metrics.NewConfigProm(service)
	schedulerMetrics := metrics.NewSchedulerProm(service)
	srv := serveMetrics(cfg.MetricsAddr)
	defer shutdown(srv)

	allow := firewall.New()
	mgr, err := configmgr.New(configmgr.Deps{
		Store:   store,
		Audit:   audit.Multi{audit.NewStorageLogger(store), audit.NewBusLogger(natsBus)},
		ACL:     acl.NewManager(store, natsBus),
		Metrics: configMetrics,
	},
		configmgr.WithCacheSize(cfg.CacheSize),
		configmgr.WithScriptsDir(cfg.ScriptsDir),
		configmgr.WithFirewall(allow),
	)
	if err != nil {
		return err
	}

	forwarder := callback.NewBusForwarder(natsBus)
	for _, category := range cfg.PublishCategories {
		if err := mgr.RegisterInterest(category, "bus-forwarder", forwarder); err != nil {
			return err
		}
		if err := mgr.RegisterInterestChild(category, "bus-forwarder", forwarder); err != nil {
			return err
		}
	}

	if cfg.SeedPath != "" {
		seed, err := config.LoadSeed(cfg.SeedPath)
		if err != nil {
			return err
		}
		if err := mgr.ApplySeed(ctx, seed); err != nil {
			logging.Warn(service, "seed applied with errors", "path", cfg.SeedPath, "error", err)
		}
		watcher, err := config.NewSeedWatcher(cfg.SeedPath, 0)
		if err != nil {
			logging.Warn(service, "seed hot reload disabled", "path", cfg.SeedPath, "error", err)
		} else {
			go func() {
				err := watcher.Run(ctx, func(ctx context.Context, seed *config.Seed) {
					if err := mgr.ApplySeed(ctx, seed); err != nil {
						logging.Warn(service, "seed reapplied with errors", "error", err)
					}
				})
				if err != nil && !errors.Is(err, context.Canceled) {
					logging.Error(service, "seed watcher stopped", "error", err)
				}
			}()
		}
	}

	sched := scheduler.New(store, mgr, scheduler.ExecRunner{Dir: cfg.ScriptsDir},
		scheduler.WithLocks(locks.NewRedisStore(store.Client()), hostname()),
		scheduler.WithBus(natsBus),
		scheduler.WithMetrics(schedulerMetrics),
		scheduler.WithPollInterval(cfg.PollInterval),
	)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	logging.Info(service, "started", "redis", cfg.RedisURL, "nats", natsBus.ConnectedURL(), "metrics", cfg.MetricsAddr)
	sched.Run(ctx)
	logging.Info(service, "stopped")
	return nil
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logging.Info(service, "metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error(service, "metrics server error", "error", err)
		}
	}()
	return srv
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return ""
	}
	return name + "-" + strconv.Itoa(os.Getpid())
}
