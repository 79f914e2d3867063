package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/zgpcy/oci-cost-sync/internal/clock"
	"github.com/zgpcy/oci-cost-sync/internal/config"
	"github.com/zgpcy/oci-cost-sync/internal/costcache"
	"github.com/zgpcy/oci-cost-sync/internal/credentials"
	"github.com/zgpcy/oci-cost-sync/internal/hotcache"
	"github.com/zgpcy/oci-cost-sync/internal/inventory"
	"github.com/zgpcy/oci-cost-sync/internal/logger"
	"github.com/zgpcy/oci-cost-sync/internal/oci"
	"github.com/zgpcy/oci-cost-sync/internal/provider"
	"github.com/zgpcy/oci-cost-sync/internal/scheduler"
	"github.com/zgpcy/oci-cost-sync/internal/store"
	"github.com/zgpcy/oci-cost-sync/internal/telemetry"
	"github.com/zgpcy/oci-cost-sync/internal/utilization"
	"github.com/zgpcy/oci-cost-sync/internal/version"
)

// app holds the wired components shared by every subcommand
type app struct {
	cfg    *config.Config
	logger *logger.Logger

	store       *store.Store
	cache       *hotcache.Cache
	users       *credentials.Static
	pool        *provider.Pool
	costs       *costcache.Manager
	inventory   *inventory.Syncer
	utilization *utilization.Syncer
	sweeper     *utilization.Sweeper
	scheduler   *scheduler.Scheduler
}

// newApp loads configuration and connects the store and hot cache. reg may be
// nil, in which case no metrics are recorded.
func newApp(ctx context.Context, opts *rootOptions, reg prometheus.Registerer) (*app, error) {
	if err := config.LoadEnvFile(opts.envFile); err != nil {
		return nil, err
	}

	// Load configuration first (need log level from config)
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(cfg.LogLevel)
	log.Info("OCI cost sync starting",
		"version", version.Version,
		"config_path", opts.configPath,
		"users", len(cfg.Users),
		"database_driver", cfg.Database.Driver,
		"redis_addr", cfg.Redis.Addr)

	var metrics *telemetry.Metrics
	if reg != nil {
		if metrics, err = telemetry.New(reg); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	st, err := store.Open(ctx, store.Config{
		Driver:       cfg.Database.Driver,
		URL:          cfg.Database.URL,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open durable store: %w", err)
	}
	log.Info("Durable store ready", "driver", cfg.Database.Driver)

	cache, err := hotcache.New(ctx, hotcache.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.KeyPrefix,
		TTL:      cfg.Redis.TTL,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to connect hot cache: %w", err)
	}
	log.Info("Hot cache ready", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.TTL)

	aggregation, err := provider.ParseAggregation(cfg.Metrics.Aggregation)
	if err != nil {
		st.Close()
		cache.Close()
		return nil, err
	}

	clk := clock.RealClock{}
	users := credentials.NewStatic(cfg.Users)
	pool := provider.NewPool(users, oci.Factory,
		provider.LimiterConfig{CallsPerSecond: cfg.Gateway.CallsPerSecond, Burst: cfg.Gateway.Burst},
		provider.GatewayConfig{
			MaxAttempts:    cfg.Gateway.MaxAttempts,
			InitialBackoff: cfg.Gateway.InitialBackoff,
			MaxBackoff:     cfg.Gateway.MaxBackoff,
			CallTimeout:    cfg.Gateway.CallTimeout,
		},
		log.Component("gateway"), metrics)

	a := &app{
		cfg:    cfg,
		logger: log,
		store:  st,
		cache:  cache,
		users:  users,
		pool:   pool,
	}

	a.costs = costcache.New(st, cache, pool, users, costcache.Config{
		FetchTimeout:        cfg.Gateway.FetchTimeout,
		RolloverConcurrency: cfg.Rollover.Concurrency,
		RolloverTimeout:     cfg.Rollover.Timeout,
	}, clk, log, metrics)

	a.inventory = inventory.New(st, pool, users, inventory.Config{
		FamilyConcurrency:      cfg.Sync.FamilyConcurrency,
		CompartmentConcurrency: cfg.Sync.CompartmentConcurrency,
	}, clk, log, metrics)

	a.utilization = utilization.New(st, pool, users, utilization.Config{
		LookbackDays: cfg.Metrics.LookbackDays,
		Aggregation:  aggregation,
		Concurrency:  cfg.Metrics.Concurrency,
	}, clk, log, metrics)

	a.sweeper = utilization.NewSweeper(st, cfg.Metrics.RetentionDays, clk, log, metrics)

	a.scheduler = scheduler.New(a.costs, a.inventory, a.utilization, a.sweeper, users, scheduler.Config{
		RolloverInterval: cfg.Rollover.CheckInterval,
		ResourceInterval: cfg.Sync.ResourceInterval,
		StartupDelay:     cfg.Sync.StartupDelay,
		MetricsInterval:  cfg.Metrics.Interval,
		SweepInterval:    cfg.Metrics.SweepInterval,
	}, clk, log)

	return a, nil
}

// close releases the store and hot cache connections
func (a *app) close() error {
	return errors.Join(a.cache.Close(), a.store.Close())
}
