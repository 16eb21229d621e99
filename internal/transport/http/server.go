// Package http provides the HTTP transport layer for warelay.
//
// Routes (Go 1.22+ method-qualified patterns):
//
//	POST /webhook      — upstream push ingestion (webhook secret gate)
//	POST /events       — direct API ingestion (receiver API-key gate)
//	GET  /health
//	GET  /stats
//	GET  /deadletters
//	GET  /metrics      — Prometheus text format
//	GET  /ws           — live feed of processed records
//
// Authentication is per-route: the two ingestion endpoints carry different
// gates, so it lives in the handlers rather than the middleware chain.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/warelay/warelay/internal/auth"
	"github.com/warelay/warelay/internal/broadcast"
	"github.com/warelay/warelay/internal/config"
	"github.com/warelay/warelay/internal/dispatch"
	"github.com/warelay/warelay/internal/metrics"
	"github.com/warelay/warelay/internal/normalize"
	"github.com/warelay/warelay/internal/queue"
	"github.com/warelay/warelay/internal/store"
)

// Server wraps the stdlib HTTP server with warelay route wiring.
type Server struct {
	inner *http.Server
}

// Deps carries the collaborators the transport exposes.
type Deps struct {
	WebhookGate  *auth.Gate
	ReceiverGate *auth.Gate
	Normalizer   *normalize.Normalizer
	Dispatcher   *dispatch.Dispatcher
	Lanes        *queue.Lanes
	Archive      *store.Store
	Hub          *broadcast.Hub
	Metrics      *metrics.Registry
	InstanceID   string
	Log          *slog.Logger
}

// New builds a Server from the pipeline collaborators.
// The caller is responsible for calling ListenAndServe / Shutdown.
func New(cfg *config.Config, d Deps) *Server {
	h := &Handler{
		webhookGate:  d.WebhookGate,
		receiverGate: d.ReceiverGate,
		norm:         d.Normalizer,
		disp:         d.Dispatcher,
		lanes:        d.Lanes,
		archive:      d.Archive,
		hub:          d.Hub,
		metrics:      d.Metrics,
		instanceID:   d.InstanceID,
		log:          d.Log,
	}

	mux := http.NewServeMux()

	// Ingestion
	mux.HandleFunc("POST /webhook", h.webhook)
	mux.HandleFunc("POST /events", h.events)

	// Observability
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /stats", h.stats)
	mux.HandleFunc("GET /deadletters", h.deadLetters)
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics.Handler())
	}

	// Live feed
	if d.Hub != nil {
		mux.Handle("GET /ws", d.Hub)
	}

	// Middleware chain (first = outermost).
	handler := chain(mux,
		CORSMiddleware,
		MaxBodyMiddleware,
		LoggingMiddleware(d.Metrics),
		RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	)

	return &Server{
		inner: &http.Server{
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Handler returns the composed http.Handler (useful for testing).
func (s *Server) Handler() http.Handler { return s.inner.Handler }

// ListenAndServe starts the server on the given address (e.g. ":8080").
// It returns when the server stops or encounters an error.
func (s *Server) ListenAndServe(addr string) error {
	s.inner.Addr = addr
	return s.inner.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting up to ctx's deadline for
// in-flight requests to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
