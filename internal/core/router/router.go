// Package router wires the HTTP surface: viewport intake, refresh, layer
// listings, tiled feature reads and identify.
package router

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/hv-route-sync/internal/core/health"
	"github.com/mohammed-shakir/hv-route-sync/internal/core/middleware"
	"github.com/mohammed-shakir/hv-route-sync/internal/core/model"
	"github.com/mohammed-shakir/hv-route-sync/internal/core/observability"
	"github.com/mohammed-shakir/hv-route-sync/internal/fetcher"
	"github.com/mohammed-shakir/hv-route-sync/internal/hittest"
	"github.com/mohammed-shakir/hv-route-sync/internal/source"
	"github.com/mohammed-shakir/hv-route-sync/internal/style"
)

// Fetcher is the part of *fetcher.Fetcher the HTTP layer drives.
type Fetcher interface {
	OnViewportChanged(vp model.Viewport) bool
	Refetch(ctx context.Context) (fetcher.Result, error)
	Viewport() (model.Viewport, bool)
	LastZoom() float64
}

type Deps struct {
	Logger         *slog.Logger
	Fetcher        Fetcher
	Sources        *source.Registry
	HitTest        *hittest.Filter
	Styler         style.Styler
	RefreshTimeout time.Duration
	ViewportRPM    int
	ReadyChecks    []health.Check
	// served on /metrics when set
	Metrics http.Handler
}

type api struct {
	Deps
}

func New(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.RefreshTimeout <= 0 {
		d.RefreshTimeout = 30 * time.Second
	}
	a := &api{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.Recover(d.Logger))
	r.Use(middleware.Logging(d.Logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(2*time.Second, d.ReadyChecks...))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.With(middleware.RateLimitByIP(d.ViewportRPM)).
		Post("/viewport", instrument("/viewport", a.handleViewport))
	r.Post("/refresh", instrument("/refresh", a.handleRefresh))
	r.Get("/layers", instrument("/layers", a.handleLayers))
	r.Get("/layers/{layer}/query-url", instrument("/layers/{layer}/query-url", a.handleQueryURL))
	r.Get("/layers/{layer}/features", instrument("/layers/{layer}/features", a.handleFeatures))
	r.Get("/identify", instrument("/identify", a.handleIdentify))
	return r
}

func instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		h(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
