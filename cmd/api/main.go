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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/authz-api/internal/config"
	auditHandler "github.com/jwalitptl/authz-api/internal/handler/audit"
	"github.com/jwalitptl/authz-api/internal/handler/authz"
	"github.com/jwalitptl/authz-api/internal/handler/health"
	"github.com/jwalitptl/authz-api/internal/handler/patient"
	promHandler "github.com/jwalitptl/authz-api/internal/handler/prometheus"
	"github.com/jwalitptl/authz-api/internal/handler/user"
	"github.com/jwalitptl/authz-api/internal/middleware"
	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/internal/repository/postgres"
	"github.com/jwalitptl/authz-api/internal/router"
	"github.com/jwalitptl/authz-api/internal/service/access"
	"github.com/jwalitptl/authz-api/internal/service/audit"
	"github.com/jwalitptl/authz-api/internal/service/identity"
	"github.com/jwalitptl/authz-api/internal/worker"
	"github.com/jwalitptl/authz-api/pkg/cache"
	"github.com/jwalitptl/authz-api/pkg/circuitbreaker"
	"github.com/jwalitptl/authz-api/pkg/logger"
	"github.com/jwalitptl/authz-api/pkg/messaging/redis"
	"github.com/jwalitptl/authz-api/pkg/metrics"
)

const serviceName = "authz-api"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		Service:     serviceName,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics("authz", reg)

	// Initialize database
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Initialize repositories
	base := postgres.NewBaseRepository(db)
	resourceStore := postgres.NewResourceStore(db)
	directory := postgres.NewUserDirectory(base)
	auditRepo := postgres.NewAuditRepository(base)

	// Audit sinks
	auditOpts := []audit.Option{audit.WithMetrics(m)}
	if cfg.Audit.PersistEvents {
		auditOpts = append(auditOpts, audit.WithSink("postgres", audit.RepositorySink(auditRepo)))
	}

	var broker *redis.RedisBroker
	if cfg.Redis.Enabled {
		broker, err = redis.NewRedisBroker(ctx, redis.Config{URL: cfg.Redis.URL, Metrics: m})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer broker.Close()
		auditOpts = append(auditOpts, audit.WithSink("redis", audit.PublisherSink(broker, cfg.Redis.Channel, serviceName)))
	}

	auditor := audit.NewLogger(cfg.Audit.Config, auditOpts...)
	defer auditor.Close()

	// Caches
	decisions := access.NewDecisionCache(cache.Config{
		Capacity:      cfg.Cache.DecisionCapacity,
		TTL:           cfg.Cache.DecisionTTL,
		SweepInterval: cfg.Cache.SweepInterval,
	}, m)
	defer decisions.Close()

	sessions := identity.NewSessionCache(cache.Config{
		Capacity:      cfg.Cache.SessionCapacity,
		TTL:           cfg.Cache.SessionTTL,
		SweepInterval: cfg.Cache.SweepInterval,
	}, m)
	defer sessions.Close()

	// Initialize services
	verifier, err := identity.NewJWTVerifier(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.CacheTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize token verifier")
	}
	breaker := circuitbreaker.NewCircuitBreaker[*model.DirectoryUser](circuitbreaker.Settings{
		Name:             "directory",
		MaxRequests:      cfg.Directory.BreakerMaxRequests,
		Interval:         cfg.Directory.BreakerInterval,
		Timeout:          cfg.Directory.BreakerTimeout,
		FailureThreshold: cfg.Directory.BreakerFailures,
		Metrics:          m,
	})
	resolver := identity.NewResolver(verifier, directory, sessions, breaker, auditor, m)
	accessSvc := access.NewService(resourceStore, decisions, auditor, m)

	// Initialize middleware and handlers
	authMiddleware := middleware.NewAuthMiddleware(resolver, accessSvc, auditor, cfg.Server.HideExistence)

	checks := map[string]health.Pinger{"database": &base}
	if broker != nil {
		checks["redis"] = broker
	}

	var limit rate.Limit
	if cfg.RateLimit.Enabled {
		limit = rate.Limit(cfg.RateLimit.RequestsPerSecond)
	}

	r := router.NewRouter(
		authMiddleware,
		health.NewHandler(checks),
		promHandler.New(reg, reg),
		authz.NewHandler(accessSvc, resolver, auditor),
		auditHandler.NewHandler(auditor, auditRepo),
		user.NewHandler(directory, resolver, accessSvc),
		patient.NewHandler(accessSvc, auditor),
		router.RouterConfig{
			Debug:       cfg.Server.Debug,
			RateLimit:   limit,
			RateBurst:   cfg.RateLimit.Burst,
			MaxBodySize: cfg.Server.MaxBodySize,
		},
	)
	engine := r.Setup()

	// Background maintenance
	go worker.NewAuditCleanupWorker(auditor, nil, cfg.Audit.RetentionDays, cfg.Audit.CleanupPeriod).Start(ctx)
	if limiter := r.Limiter(); limiter != nil {
		go limiter.Start(ctx, time.Minute)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
