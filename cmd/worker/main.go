package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/authz-api/internal/config"
	"github.com/jwalitptl/authz-api/internal/handler/health"
	promHandler "github.com/jwalitptl/authz-api/internal/handler/prometheus"
	"github.com/jwalitptl/authz-api/internal/repository/postgres"
	"github.com/jwalitptl/authz-api/internal/worker"
	"github.com/jwalitptl/authz-api/pkg/logger"
	"github.com/jwalitptl/authz-api/pkg/messaging/redis"
	"github.com/jwalitptl/authz-api/pkg/metrics"
)

const (
	serviceName = "authz-worker"
	healthAddr  = ":8081"
)

func setupHealthServer(checks map[string]health.Pinger, reg *prometheus.Registry) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	health.NewHandler(checks).RegisterRoutes(engine)
	engine.GET("/metrics", promHandler.New(reg, reg).Handler())

	srv := &http.Server{Addr: healthAddr, Handler: engine}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Health check server failed")
		}
	}()
	return srv
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		Service:     serviceName,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics("authz_worker", reg)

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	base := postgres.NewBaseRepository(db)
	auditRepo := postgres.NewAuditRepository(base)
	checks := map[string]health.Pinger{"database": &base}

	var wg sync.WaitGroup

	if cfg.Redis.Enabled {
		broker, err := redis.NewRedisBroker(ctx, redis.Config{URL: cfg.Redis.URL, Metrics: m})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Redis broker")
		}
		defer broker.Close()
		checks["redis"] = broker

		collector := worker.NewAuditCollector(broker, auditRepo, cfg.Redis.Channel, m)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := collector.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Audit collector stopped")
				stop()
			}
		}()
	} else {
		log.Warn().Msg("Redis disabled, audit collector not started")
	}

	cleanup := worker.NewAuditCleanupWorker(nil, auditRepo, cfg.Audit.RetentionDays, cfg.Audit.CleanupPeriod)
	wg.Add(1)
	go func() {
		defer wg.Done()
		cleanup.Start(ctx)
	}()

	srv := setupHealthServer(checks, reg)
	log.Info().Str("health_addr", healthAddr).Msg("Worker started")

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Health server forced to shutdown")
	}
	wg.Wait()
}
