package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/timmy/safetrip/internal/api"
	"github.com/timmy/safetrip/internal/api/handler"
	"github.com/timmy/safetrip/internal/app"
	"github.com/timmy/safetrip/internal/config"
	"github.com/timmy/safetrip/internal/logger"
	"github.com/timmy/safetrip/internal/service"
)

const shutdownTimeout = 30 * time.Second

func main() {
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}
	defer a.Close()

	// Pick up jobs interrupted by a previous shutdown or crash
	resumed, err := a.Orchestrator.Resume(ctx)
	if err != nil {
		appLogger.WithError(err).Error("Failed to resume interrupted refresh jobs")
	} else if resumed > 0 {
		appLogger.WithField(logger.FieldCount, resumed).Info("Resuming interrupted refresh jobs")
	}

	var scheduler *service.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler, err = service.NewScheduler(cfg.Scheduler, cfg.Refresh.Location(), a.Orchestrator, appLogger)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to create scheduler")
		}
		if err := scheduler.Start(ctx); err != nil {
			appLogger.WithError(err).Fatal("Failed to start scheduler")
		}
	}

	deps := &api.Deps{
		Refresh:   a.Orchestrator,
		Catalog:   a.Catalog,
		Countries: a.Countries,
		HealthChecks: map[string]handler.HealthCheck{
			"database": a.PingDB,
		},
		Logger: appLogger,
	}
	if a.HasRedis() {
		deps.HealthChecks["redis"] = a.PingRedis
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})
		deps.MetricsPath = cfg.Metrics.Path
	}
	router := api.SetupRouter(deps, cfg.Server)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if scheduler != nil {
		scheduler.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}
	// Interrupted jobs stay running and are resumed on the next start
	if err := a.Orchestrator.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Refresh jobs did not stop in time")
	}

	appLogger.Info("Server exited")
}
