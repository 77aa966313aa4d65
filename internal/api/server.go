package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jsverre/stevedore/internal/api/handler"
	mw "github.com/jsverre/stevedore/internal/api/middleware"
	"github.com/jsverre/stevedore/internal/audit"
	"github.com/jsverre/stevedore/internal/config"
	"github.com/jsverre/stevedore/internal/engine"
	"github.com/jsverre/stevedore/internal/identity"
	"github.com/jsverre/stevedore/internal/lifecycle"
	"github.com/jsverre/stevedore/internal/proxy"
	"github.com/jsverre/stevedore/internal/registry"
	"github.com/jsverre/stevedore/internal/supervisor"
)

type Server struct {
	router chi.Router
	logger zerolog.Logger
	pool   *pgxpool.Pool
	eng    engine.Engine
	proxy  *proxy.Manager
	cfg    *config.Config
}

func NewServer(
	logger zerolog.Logger,
	pool *pgxpool.Pool,
	eng engine.Engine,
	reg *registry.Registry,
	sup *supervisor.Supervisor,
	lc *lifecycle.Manager,
	idsvc *identity.Service,
	authz *identity.Authorizer,
	rec *audit.Recorder,
	proxyMgr *proxy.Manager,
	cfg *config.Config,
) *Server {
	s := &Server{
		router: chi.NewRouter(),
		logger: logger,
		pool:   pool,
		eng:    eng,
		proxy:  proxyMgr,
		cfg:    cfg,
	}

	s.setupMiddleware()
	s.setupRoutes(reg, sup, lc, idsvc, authz, rec)

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes(
	reg *registry.Registry,
	sup *supervisor.Supervisor,
	lc *lifecycle.Manager,
	idsvc *identity.Service,
	authz *identity.Authorizer,
	rec *audit.Recorder,
) {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	auth := handler.NewAuth(idsvc, s.cfg.SessionTTL)
	events := handler.NewEventStream(idsvc, reg, sup, authz)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", auth.Login)

		// The event socket authenticates itself; browsers cannot set
		// headers on WebSocket upgrades.
		r.Get("/events", events.Connect)

		r.Group(func(r chi.Router) {
			r.Use(mw.Auth(idsvc))

			r.Post("/auth/logout", auth.Logout)

			container := handler.NewContainer(lc, reg, sup, s.eng, authz)
			r.Get("/containers", container.List)
			r.Post("/containers", container.Create)
			r.Get("/containers/{id}", container.Get)
			r.Delete("/containers/{id}", container.Remove)
			r.Post("/containers/{id}/start", container.Start)
			r.Post("/containers/{id}/stop", container.Stop)
			r.Get("/containers/{id}/logs", container.Logs)
			r.Get("/containers/{id}/stats", container.Stats)

			dashboard := handler.NewDashboard(reg, sup, authz)
			r.Get("/dashboard/stats", dashboard.Stats)

			auditH := handler.NewAudit(rec)
			r.Get("/audit-events", auditH.List)
		})
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.pool.Ping(ctx); err != nil {
		checks["db"] = err.Error()
		healthy = false
	} else {
		checks["db"] = "ok"
	}

	if _, err := s.eng.List(ctx); err != nil {
		checks["engine"] = err.Error()
		healthy = false
	} else {
		checks["engine"] = "ok"
	}

	if err := s.proxy.LastError(); err != nil {
		checks["proxy"] = err.Error()
		healthy = false
	} else {
		checks["proxy"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
