package app

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"schemaevo/internal/api"
	"schemaevo/internal/middleware"
)

// Router serves the JSON API under /v1 plus /metrics and /healthz.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestID)

	r.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{Registry: a.Registry}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if err := a.Pools.Read.PingContext(r.Context()); err != nil {
			status, code = err.Error(), http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  status,
			"backend": a.Cfg.SnapshotBackend,
		})
	})

	handler := api.NewHandler(a.Service, a.Lineage, a.InvalidateLineage, a.Logger.With("component", "api"))
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.AccessLog(a.Logger))
		if a.Cfg.HTTPRateLimitRPS > 0 {
			r.Use(middleware.RateLimiter(middleware.RateLimitConfig{
				RequestsPerSecond: a.Cfg.HTTPRateLimitRPS,
				Burst:             a.Cfg.HTTPRateLimitBurst,
			}))
		}
		handler.Routes(r)
	})
	return r
}
