package router

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/authz-api/internal/handler/audit"
	"github.com/jwalitptl/authz-api/internal/handler/authz"
	"github.com/jwalitptl/authz-api/internal/handler/health"
	"github.com/jwalitptl/authz-api/internal/handler/patient"
	"github.com/jwalitptl/authz-api/internal/handler/prometheus"
	"github.com/jwalitptl/authz-api/internal/handler/user"
	"github.com/jwalitptl/authz-api/internal/middleware"
	"github.com/jwalitptl/authz-api/internal/model"
)

type RouterConfig struct {
	Debug       bool
	RateLimit   rate.Limit
	RateBurst   int
	MaxBodySize int64
}

type Router struct {
	engine      *gin.Engine
	auth        *middleware.AuthMiddleware
	limiter     *middleware.RateLimiter
	healthH     *health.Handler
	metricsH    *prometheus.Handler
	authzH      *authz.Handler
	auditH      *audit.Handler
	userH       *user.Handler
	patientH    *patient.Handler
	maxBodySize int64
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	healthH *health.Handler,
	metricsH *prometheus.Handler,
	authzH *authz.Handler,
	auditH *audit.Handler,
	userH *user.Handler,
	patientH *patient.Handler,
	config RouterConfig,
) *Router {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = middleware.DefaultMaxBodySize
	}

	engine := gin.New()
	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Debug(config.Debug),
		middleware.Logger(),
		middleware.ErrorHandler(),
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
		metricsH.Middleware(),
	)

	r := &Router{
		engine:      engine,
		auth:        auth,
		healthH:     healthH,
		metricsH:    metricsH,
		authzH:      authzH,
		auditH:      auditH,
		userH:       userH,
		patientH:    patientH,
		maxBodySize: config.MaxBodySize,
	}
	if config.RateLimit > 0 {
		r.limiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		})
	}

	return r
}

func (r *Router) Setup() *gin.Engine {
	api := r.engine.Group("/api/v1")

	r.healthH.RegisterRoutes(api)
	api.GET("/metrics", r.metricsH.Handler())

	protected := api.Group("")
	if r.limiter != nil {
		protected.Use(r.limiter.RateLimit())
	}
	protected.Use(
		middleware.SizeLimit(r.maxBodySize),
		r.auth.Authenticate(),
	)

	requireAdmin := r.auth.RequireRole(model.RoleAdmin)
	r.authzH.RegisterRoutes(protected, requireAdmin)
	r.auditH.RegisterRoutes(protected, requireAdmin)
	r.userH.RegisterRoutes(protected, requireAdmin)
	r.patientH.RegisterRoutes(protected, r.auth)

	return r.engine
}

// Limiter exposes the rate limiter for periodic cleanup, or nil
func (r *Router) Limiter() *middleware.RateLimiter {
	return r.limiter
}
