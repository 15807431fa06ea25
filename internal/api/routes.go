package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fieldline/dispatchd/internal/config"
	"github.com/fieldline/dispatchd/internal/contractor"
	"github.com/fieldline/dispatchd/internal/dispatch"
	"github.com/fieldline/dispatchd/internal/metrics"
	"github.com/fieldline/dispatchd/internal/ws"
)

func NewRouter(cfg *config.Config, engine *dispatch.Engine, registry *contractor.Registry, wsServer *ws.Server, met *metrics.Collector) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	h := NewHandlers(cfg, engine, registry)

	// Health & Info
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	if met != nil {
		r.Handle("/metrics", met.Handler())
	}

	// Jobs API
	r.Post("/api/jobs", h.SubmitJob)
	r.Get("/api/jobs", h.ListJobs)
	r.Get("/api/jobs/{id}", h.GetJob)
	r.Delete("/api/jobs/{id}", h.CancelJob)

	// Offers API (REST fallback; websocket is the primary channel)
	r.Post("/api/offers/response", h.RespondToOffer)

	// Contractors API
	r.Get("/api/contractors", h.ListContractors)
	r.Get("/api/contractors/{id}", h.GetContractor)

	// WebSocket endpoints
	if wsServer != nil {
		r.Get("/ws/contractor", wsServer.HandleContractor)
		r.Get("/ws/jobs/{id}", wsServer.HandleJobFeed)
	}

	return r
}
