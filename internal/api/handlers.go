package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fieldline/dispatchd/internal/bus"
	"github.com/fieldline/dispatchd/internal/config"
	"github.com/fieldline/dispatchd/internal/contractor"
	"github.com/fieldline/dispatchd/internal/dispatch"
	"github.com/fieldline/dispatchd/internal/geo"
	"github.com/fieldline/dispatchd/internal/policy"
)

var startTime = time.Now()

type Handlers struct {
	cfg      *config.Config
	engine   *dispatch.Engine
	registry *contractor.Registry
}

func NewHandlers(cfg *config.Config, engine *dispatch.Engine, registry *contractor.Registry) *Handlers {
	return &Handlers{cfg: cfg, engine: engine, registry: registry}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	cStats := h.registry.Stats()
	jStats := h.engine.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":        h.cfg.NodeID,
		"uptime_seconds": int(time.Since(startTime).Seconds()),
		"contractors":    cStats,
		"jobs":           jStats,
	})
}

type JobRequest struct {
	UrgencyTier           int       `json:"urgency_tier"`
	Location              geo.Point `json:"location"`
	RequiredCertification int       `json:"required_certification"`
}

func (h *Handlers) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	j, err := h.engine.Submit(policy.Tier(req.UrgencyTier), req.Location, req.RequiredCertification)
	if err != nil {
		if errors.Is(err, dispatch.ErrUnknownTier) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, j)
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.engine.Job(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	state := r.URL.Query().Get("state")

	if limit <= 0 {
		limit = 20
	}

	recs, total := h.engine.List(limit, offset, state)
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":   recs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.Cancel(id); err != nil {
		switch {
		case errors.Is(err, dispatch.ErrJobNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		case errors.Is(err, dispatch.ErrJobClosed):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "job already closed"})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

type OfferResponseRequest struct {
	JobID           string `json:"job_id"`
	ContractorID    string `json:"contractor_id"`
	OfferInstanceID string `json:"offer_instance_id"`
	Decision        string `json:"decision"`
}

// RespondToOffer is the REST fallback for contractor decisions; the
// websocket channel is the primary path. Redeliveries are no-ops.
func (h *Handlers) RespondToOffer(w http.ResponseWriter, r *http.Request) {
	var req OfferResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Decision != string(bus.DecisionAccept) && req.Decision != string(bus.DecisionReject) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "decision must be accept or reject"})
		return
	}

	err := h.engine.Respond(bus.OfferResponse{
		JobID:           req.JobID,
		ContractorID:    req.ContractorID,
		OfferInstanceID: req.OfferInstanceID,
		Decision:        bus.Decision(req.Decision),
	})
	if err != nil {
		if errors.Is(err, dispatch.ErrStaleResponse) {
			writeJSON(w, http.StatusGone, map[string]string{"error": "offer already resolved"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) ListContractors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"contractors": h.registry.List()})
}

func (h *Handlers) GetContractor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, ok := h.registry.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "contractor not found"})
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
