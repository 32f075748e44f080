package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/iho/cashledger/internal/adapter/http/handler"
	"github.com/iho/cashledger/internal/adapter/http/middleware"
	"github.com/iho/cashledger/internal/domain"
	"github.com/iho/cashledger/internal/infrastructure/auth"
	"github.com/iho/cashledger/internal/infrastructure/metrics"
	"github.com/iho/cashledger/internal/usecase"
)

// RouterConfig holds dependencies for the router. Everything below
// HealthHandler is optional.
type RouterConfig struct {
	MovementHandler *handler.MovementHandler
	ReportHandler   *handler.ReportHandler
	AuditHandler    *handler.AuditHandler
	LedgerHandler   *handler.LedgerHandler
	HealthHandler   *handler.HealthHandler

	// JWTManager enables bearer authentication and role checks.
	JWTManager       *auth.JWTManager
	IdempotencyStore usecase.IdempotencyStore
	IdempotencyTTL   time.Duration
	RateLimiter      *middleware.RateLimiter
	Metrics          *metrics.Metrics
	MetricsHandler   http.Handler
	Logger           zerolog.Logger
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.NewLoggingMiddleware(cfg.Logger).Wrap)
	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Limit)
	}

	// Health endpoints
	r.Get("/health", cfg.HealthHandler.Liveness)
	r.Get("/ready", cfg.HealthHandler.Readiness)

	metricsHandler := cfg.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.JWTManager != nil {
			r.Use(middleware.AuthMiddleware(cfg.JWTManager))
		}

		// Idempotency middleware for mutating requests
		if cfg.IdempotencyStore != nil {
			idempotencyMiddleware := middleware.NewIdempotencyMiddleware(cfg.IdempotencyStore, cfg.IdempotencyTTL, cfg.Logger)
			r.Use(idempotencyMiddleware.Wrap)
		}

		role := func(minRole domain.Role) func(http.Handler) http.Handler {
			if cfg.JWTManager == nil {
				return func(next http.Handler) http.Handler { return next }
			}
			return middleware.RequireRole(minRole)
		}

		// Reads
		r.Group(func(r chi.Router) {
			r.Use(role(domain.RoleViewer))

			r.Get("/movements", cfg.MovementHandler.List)
			r.Get("/movements/{id}", cfg.MovementHandler.Get)
			r.Get("/movements/{id}/audit", cfg.AuditHandler.MovementHistory)

			r.Get("/balance", cfg.ReportHandler.Balance)
			r.Get("/stats", cfg.ReportHandler.Stats)
			r.Get("/stats/dashboard", cfg.ReportHandler.Dashboard)
			r.Get("/analytics", cfg.ReportHandler.Analytics)

			r.Get("/audit", cfg.AuditHandler.List)
			r.Get("/audit/stats", cfg.AuditHandler.Stats)

			r.Get("/ledger/consistency", cfg.LedgerHandler.CheckConsistency)
		})

		// Record and amend
		r.Group(func(r chi.Router) {
			r.Use(role(domain.RoleOperator))

			r.Post("/movements", cfg.MovementHandler.Create)
			r.Patch("/movements/{id}", cfg.MovementHandler.Update)
		})

		// Delete
		r.Group(func(r chi.Router) {
			r.Use(role(domain.RoleAdmin))

			r.Delete("/movements/{id}", cfg.MovementHandler.Delete)
		})
	})

	return r
}
