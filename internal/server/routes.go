// Package server wires HTTP handlers into a chi router for the presence
// relay via routing helpers.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// SetupRoutes configures and returns the HTTP router: the WebSocket
// endpoint, the JSON views, Prometheus metrics and static assets.
func SetupRoutes(hub *Hub, cfg *Config, logger zerolog.Logger) *chi.Mux {
	origins := newOriginPolicy(cfg.AllowedOrigins, logger)
	h := NewHandler(hub, origins, logger)

	r := chi.NewRouter()
	r.Use(requestMetrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)

	r.Get("/ws", h.WebSocket)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins.corsOrigins(),
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
		r.Get("/health", h.Health)
		r.Get("/api/user/{id}", h.User)
	})

	r.Get("/*", http.FileServer(http.Dir(cfg.StaticDir)).ServeHTTP)

	return r
}
