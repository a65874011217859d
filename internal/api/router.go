package api

import (
	"github.com/Veenoway/spiky-faucet/internal/api/handler"
	"github.com/Veenoway/spiky-faucet/internal/api/middleware"
	"github.com/Veenoway/spiky-faucet/internal/chain"
	"github.com/Veenoway/spiky-faucet/internal/config"
	"github.com/Veenoway/spiky-faucet/internal/dispatch"
	"github.com/Veenoway/spiky-faucet/internal/faucet"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Router struct {
	cfg    *config.Config
	logger *zap.Logger
	svc    *faucet.Service
	worker *dispatch.Worker
	node   chain.Node
}

func NewRouter(cfg *config.Config, logger *zap.Logger, svc *faucet.Service, worker *dispatch.Worker, node chain.Node) *Router {
	return &Router{cfg: cfg, logger: logger, svc: svc, worker: worker, node: node}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))

	faucetHandler := handler.NewFaucetHandler(api.svc, api.worker)
	adminHandler := handler.NewAdminHandler(api.svc, api.cfg.TokenDecimals)
	healthHandler := handler.NewHealthHandler(api.node, api.cfg.FundingIDs[0])

	r.Get("/healthz/live", healthHandler.Live)
	r.Get("/healthz/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))

		r.Post("/v1/faucet/drip", faucetHandler.Drip)
		r.Get("/v1/faucet/requests/{id}", faucetHandler.GetRequest)
		r.Get("/v1/faucet/status", faucetHandler.Status)
	})

	// Admin routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.RequireRole("admin"))

		r.Post("/v1/admin/grant", adminHandler.Grant)
		r.Get("/v1/admin/balances", adminHandler.Balances)
	})

	return r
}
