// Package http is the admin surface: settings management, request review,
// manual sweep triggers and operational probes.
package http

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kitsadaphon/approvald/internal/cache"
	"github.com/kitsadaphon/approvald/internal/identity"
	"github.com/kitsadaphon/approvald/internal/rate"
	"github.com/kitsadaphon/approvald/internal/scheduler"
	"github.com/kitsadaphon/approvald/internal/store/core"
)

type Server struct {
	store   core.Store
	sched   *scheduler.Scheduler
	cache   cache.Cache
	limiter rate.Limiter
	metrics http.Handler
	keyHash string
	log     *zap.Logger
}

type Options struct {
	Store        core.Store
	Scheduler    *scheduler.Scheduler
	Cache        cache.Cache
	Limiter      rate.Limiter // nil disables rate limiting
	Metrics      http.Handler // nil disables /metrics
	AdminKeyHash string       // empty disables auth (dev only)
	Log          *zap.Logger
}

func NewServer(o Options) *Server {
	log := o.Log
	if log == nil {
		log = zap.NewNop()
	}
	if o.AdminKeyHash == "" {
		log.Warn("admin API auth disabled: no admin_key_hash configured")
	}
	return &Server{
		store:   o.Store,
		sched:   o.Scheduler,
		cache:   o.Cache,
		limiter: o.Limiter,
		metrics: o.Metrics,
		keyHash: o.AdminKeyHash,
		log:     log,
	}
}

// Handler builds the router. Probes and metrics stay outside admin auth.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(RequestLogger(s.log))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(AdminAuth(s.keyHash))

		r.Get("/settings", s.handleGetSettings)
		r.Get("/requests", s.handleListPending)
		r.Get("/requests/recent", s.handleListRecent)
		r.Get("/requests/{id}", s.handleGetRequest)
		r.Get("/stats", s.handleStats)

		// Mutations carry the rate limit.
		r.Group(func(r chi.Router) {
			r.Use(RateLimit(s.limiter, s.log))
			r.Put("/settings", s.handlePutSettings)
			r.Post("/requests/{id}/approve", s.handleApprove)
			r.Post("/requests/{id}/reject", s.handleReject)
			r.Post("/sweep", s.handleSweep)
		})
	})

	return r
}

// clientIP extracts and normalizes the caller address for audit entries and
// rate-limit keys.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return identity.NormalizeIP(host)
}
