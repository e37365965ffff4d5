package api

import (
	"context"

	"github.com/ayo6706/wager-lobby/internal/api/handler"
	"github.com/ayo6706/wager-lobby/internal/api/middleware"
	"github.com/ayo6706/wager-lobby/internal/api/spec"
	"github.com/ayo6706/wager-lobby/internal/config"
	"github.com/ayo6706/wager-lobby/internal/observability"
	"github.com/ayo6706/wager-lobby/internal/oracle"
	"github.com/ayo6706/wager-lobby/internal/repository"
	"github.com/ayo6706/wager-lobby/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services are the domain services exposed over HTTP.
type Services struct {
	Ledger         *service.LedgerService
	Registry       *service.MatchRegistry
	Settlement     *service.SettlementCoordinator
	Deposits       *service.DepositService
	Reconciliation *service.ReconciliationService
	Oracle         *oracle.Adapter
	// Identities may be nil when no directory is configured.
	Identities handler.IdentityDirectory
}

type Router struct {
	cfg    *config.Config
	logger *zap.Logger
	store  repository.Store
	idem   middleware.IdempotencyStore
	redis  redis.Cmdable
	auth   *middleware.Authenticator
	svc    Services
}

// NewRouter wires handlers and middleware. idem and redisClient may be nil,
// which disables Idempotency-Key enforcement and the Redis readiness check.
func NewRouter(cfg *config.Config, logger *zap.Logger, store repository.Store, idem middleware.IdempotencyStore, redisClient redis.Cmdable, svc Services) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		cfg:    cfg,
		logger: logger,
		store:  store,
		idem:   idem,
		redis:  redisClient,
		auth:   middleware.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience),
		svc:    svc,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))

	checks := []handler.HealthCheck{{Name: "store", Ping: api.store.Ping}}
	if api.redis != nil {
		checks = append(checks, handler.HealthCheck{Name: "redis", Ping: func(ctx context.Context) error {
			return api.redis.Ping(ctx).Err()
		}})
	}
	healthHandler := handler.NewHealthHandler(checks...)
	matchHandler := handler.NewMatchHandler(api.svc.Registry, api.svc.Settlement)
	walletHandler := handler.NewWalletHandler(api.svc.Ledger)
	oracleHandler := handler.NewOracleHandler(api.svc.Oracle)
	fundingHandler := handler.NewFundingHandler(api.svc.Deposits)
	identityHandler := handler.NewIdentityHandler(api.svc.Identities)
	adminHandler := handler.NewAdminHandler(api.svc.Reconciliation)

	// Public Routes
	r.Get("/healthz", healthHandler.Live)
	r.Get("/readyz", healthHandler.Ready)
	r.Handle("/metrics", observability.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Signed collaborator callbacks
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/v1/oracle/reports", oracleHandler.Report)
		r.Post("/v1/oracle/telemetry", oracleHandler.Telemetry)
		r.Post("/v1/funding/webhook", fundingHandler.Webhook)
	})

	// Protected Routes
	r.Group(func(r chi.Router) {
		r.Use(api.auth.Middleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))
		if api.idem != nil {
			r.Use(middleware.IdempotencyMiddleware(api.idem, api.logger))
		}

		r.Get("/v1/matches", matchHandler.List)
		r.Get("/v1/matches/{id}", matchHandler.Get)
		r.Post("/v1/matches/{id}/join", matchHandler.Join)
		r.Post("/v1/matches/{id}/ready", matchHandler.Ready)

		r.Get("/v1/wallet", walletHandler.Balance)
		r.Get("/v1/wallet/history", walletHandler.History)
		r.Post("/v1/wallet/withdraw", walletHandler.Withdraw)

		r.Get("/v1/identities", identityHandler.Mine)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleAdmin))
			r.Post("/v1/matches", matchHandler.Create)
			r.Post("/v1/matches/{id}/start", matchHandler.Start)
			r.Post("/v1/matches/{id}/cancel", matchHandler.Cancel)
			r.Post("/v1/matches/{id}/settle", matchHandler.Settle)
			r.Post("/v1/identities", identityHandler.Link)
			r.Get("/v1/admin/reconciliation", adminHandler.Reconcile)
		})
	})

	return r
}

// Authenticator exposes the token verifier, e.g. for minting operator tokens.
func (api *Router) Authenticator() *middleware.Authenticator {
	return api.auth
}
