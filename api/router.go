package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/mreyes/signalrunner/config"
	"github.com/mreyes/signalrunner/notify"
	"github.com/mreyes/signalrunner/signalengine"
	"github.com/mreyes/signalrunner/state"
	"github.com/mreyes/signalrunner/tracing"
)

// NewRouter builds the operator HTTP surface (spec.md §6): the global
// middleware stack mirrors the teacher's, trimmed to what a password-gated
// diagnostics surface needs.
func NewRouter(cfg *config.Config, engine *signalengine.Engine, store *state.Store, ring *notify.RingSink) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(TraceMiddleware)
	r.Use(middleware.RealIP)
	r.Use(zerologLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Rate limiting protects the operator surface from accidental
	// hammering (e.g. a misconfigured polling dashboard), not from a
	// hostile public internet - this endpoint is never meant to be public.
	r.Use(httprate.LimitByIP(60, time.Minute))
	r.Use(httprate.LimitByIP(10, time.Second))

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
			next.ServeHTTP(w, r)
		})
	})

	h := NewHandler(cfg, engine, store, ring)

	r.Get("/health", h.HealthHandler)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg))
		r.Use(AuditMiddleware)

		r.Get("/log", h.LogHandler)
		r.Get("/trans", h.TransHandler)
		r.Get("/pnl", h.PnLHandler)
		r.Post("/pnl", h.PnLHandler)
		r.Get("/strategies", h.StrategiesHandler)
		r.Get("/trades", h.TradesHandler)
		r.Get("/virtual", h.VirtualHandler)
		r.Get("/graph.html", h.GraphHandler)
		r.Get("/metrics", h.MetricsHandler)
	})

	return r
}

// zerologLogger logs every request's method, path, status, and duration,
// tagged with the trace ID for correlation.
func zerologLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		tracing.Logger(r.Context()).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request completed")
	})
}
