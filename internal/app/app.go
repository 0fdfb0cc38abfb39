// Package app wires the long-lived components shared by the API server and
// the refresh CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/timmy/safetrip/internal/catalog"
	"github.com/timmy/safetrip/internal/config"
	"github.com/timmy/safetrip/internal/lock"
	"github.com/timmy/safetrip/internal/logger"
	"github.com/timmy/safetrip/internal/metrics"
	"github.com/timmy/safetrip/internal/repository"
	"github.com/timmy/safetrip/internal/service"
	"github.com/timmy/safetrip/internal/storage"
	"gorm.io/gorm"
)

// App holds the initialized components.
type App struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           *gorm.DB
	Jobs         *repository.JobRepository
	Countries    *repository.CountryRepository
	Catalog      *catalog.Catalog
	Registry     *prometheus.Registry
	Metrics      *metrics.Metrics
	Fetcher      *service.AdvisoryService
	Orchestrator *service.Orchestrator

	redis *redis.Client
}

type bucketEnsurer interface {
	EnsureBucket(ctx context.Context) error
}

// New builds every component from cfg. Close releases what it opened.
// Parameters:
//   - ctx: used for connection checks during startup.
//   - cfg: loaded configuration.
//   - log: base logger.
// Returns:
//   - *App: ready components; no job is started.
//   - error: non-nil if a required dependency cannot be reached.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.DB = db
	a.Jobs = repository.NewJobRepository(db)
	a.Countries = repository.NewCountryRepository(db)
	a.Catalog = catalog.New()

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New(a.Registry)
	}

	var archive storage.ObjectStorage
	if cfg.Storage.Enabled {
		archive, err = storage.NewStorage(&cfg.Storage)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		if b, ok := archive.(bucketEnsurer); ok {
			if err := b.EnsureBucket(ctx); err != nil {
				a.Close()
				return nil, fmt.Errorf("failed to ensure storage bucket: %w", err)
			}
		}
		log.WithField("type", cfg.Storage.Type).Info("Snapshot archive enabled")
	}

	enhancer, err := service.NewEnhancer(&cfg.Enhancer)
	if err != nil {
		a.Close()
		return nil, err
	}
	if enhancer != nil {
		log.WithFields(logger.Fields{
			"provider": cfg.Enhancer.Provider,
			"model":    enhancer.Model(),
		}).Info("Advisory enhancement enabled")
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Lock.RedisURL != "" {
		client, err := lock.NewRedisClient(ctx, cfg.Lock.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = client
		locker = lock.NewRedisLocker(client)
		log.Info("Using redis admission lock")
	}

	sources := service.NewSources(&cfg.Sources)
	if len(sources) == 0 {
		log.Warn("No advisory sources enabled")
	}

	a.Fetcher = service.NewAdvisoryService(sources, a.Countries, a.Catalog, log, &service.AdvisoryOptions{
		Enhancer:       enhancer,
		EnhanceTimeout: cfg.Enhancer.Timeout,
		Archive:        archive,
		Metrics:        a.Metrics,
	})
	a.Orchestrator = service.NewOrchestrator(a.Jobs, a.Fetcher, a.Catalog, cfg.Refresh, log, &service.OrchestratorOptions{
		Locker:  locker,
		LockTTL: cfg.Lock.TTL,
		Metrics: a.Metrics,
	})
	return a, nil
}

// PingDB checks the database connection.
func (a *App) PingDB(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// PingRedis checks the lock backend, if one is configured.
func (a *App) PingRedis(ctx context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Ping(ctx).Err()
}

// HasRedis reports whether a redis lock backend is in use.
func (a *App) HasRedis() bool {
	return a.redis != nil
}

// Close releases connections. It does not stop running jobs; call
// Orchestrator.Shutdown first.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
