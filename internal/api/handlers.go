package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/maltedev/mercari-scraper/internal/config"
	"github.com/maltedev/mercari-scraper/internal/jobs"
	"github.com/maltedev/mercari-scraper/internal/orchestrator"
)

// Health thresholds for the outbox backlog.
const (
	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
)

// JobService is the part of jobs.Manager the handlers use.
type JobService interface {
	Submit(ctx context.Context, seed orchestrator.Seed, limit int, trigger jobs.Trigger) (*jobs.Job, error)
	Get(ctx context.Context, id string) (*jobs.Job, error)
	List(ctx context.Context, limit int) ([]*jobs.Job, error)
	Cancel(ctx context.Context, id string) error
}

// OutboxStats reports the event relay backlog.
type OutboxStats interface {
	GetPendingCount(ctx context.Context) (int64, error)
	GetDeadLetterCount(ctx context.Context) (int64, error)
}

type Handlers struct {
	jobs         JobService
	site         *config.Site
	outbox       OutboxStats
	defaultLimit int
	validate     *validator.Validate
	logger       *slog.Logger
}

// NewHandlers wires the handlers. outbox may be nil when no relay runs.
func NewHandlers(jobs JobService, site *config.Site, outbox OutboxStats, defaultLimit int, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		jobs:         jobs,
		site:         site,
		outbox:       outbox,
		defaultLimit: defaultLimit,
		validate:     validator.New(),
		logger:       logger.With("component", "api"),
	}
}

// CreateRunRequest asks for a ranking run or a search run.
type CreateRunRequest struct {
	Mode  string             `json:"mode" validate:"required,oneof=ranking search"`
	Query orchestrator.Query `json:"query"`
	Limit int                `json:"limit" validate:"gte=0,lte=1000"`
}

func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var seed orchestrator.Seed
	switch req.Mode {
	case "ranking":
		seed = orchestrator.RankingSeed(h.site.RankingURL())
	case "search":
		if req.Query.Keyword == "" {
			h.respondError(w, http.StatusBadRequest, "query.keyword is required for search runs")
			return
		}
		var err error
		seed, err = orchestrator.SearchSeed(h.site.SearchURL(), req.Query)
		if err != nil {
			h.logger.Error("failed to build search url", "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to build search url")
			return
		}
	}

	limit := req.Limit
	if limit == 0 {
		limit = h.defaultLimit
	}

	job, err := h.jobs.Submit(r.Context(), seed, limit, jobs.TriggerAPI)
	if err != nil {
		h.logger.Error("failed to create run", "error", err)
		h.respondError(w, http.StatusServiceUnavailable, "failed to create run")
		return
	}

	h.respondJSON(w, http.StatusAccepted, job)
}

func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")

	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			h.respondError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("failed to get run", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	list, err := h.jobs.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if list == nil {
		list = []*jobs.Job{}
	}

	h.respondJSON(w, http.StatusOK, list)
}

func (h *Handlers) CancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")

	err := h.jobs.Cancel(r.Context(), id)
	switch {
	case err == nil:
		h.respondJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
	case errors.Is(err, jobs.ErrJobNotFound):
		h.respondError(w, http.StatusNotFound, "run not found")
	case errors.Is(err, jobs.ErrJobFinished):
		h.respondError(w, http.StatusConflict, "run already finished")
	default:
		h.logger.Error("failed to cancel run", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to cancel run")
	}
}

// Health reports ok, or the state of the event outbox when a relay runs.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{"status": "ok"}
	status := http.StatusOK

	if h.outbox != nil {
		pending, err := h.outbox.GetPendingCount(r.Context())
		if err != nil {
			h.logger.Warn("failed to count pending outbox events", "error", err)
		}
		deadLetter, err := h.outbox.GetDeadLetterCount(r.Context())
		if err != nil {
			h.logger.Warn("failed to count dead letter events", "error", err)
		}

		health["outbox"] = map[string]int64{
			"pending":     pending,
			"dead_letter": deadLetter,
		}
		if pending > pendingWarnThreshold {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if deadLetter > deadLetterFailThreshold {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
