// Package handler exposes the console lookup, action and stats endpoints.
// Routes are mounted under /events/{eventID}/console behind the session middleware.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"checkpoint/internal/checkin/models"
	"checkpoint/internal/checkin/service"
	id "checkpoint/pkg/domain"
	"checkpoint/pkg/platform/httputil"
	"checkpoint/pkg/requestcontext"
)

// Service is the check-in surface the console calls.
type Service interface {
	Resolve(ctx context.Context, eventID id.EventID, input string) (*models.Resolution, error)
	Execute(ctx context.Context, eventID id.EventID, cmd service.Command) (*service.Result, error)
	Stats(ctx context.Context, eventID id.EventID) (models.Stats, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts the console endpoints on a router scoped to one event.
func (h *Handler) Register(r chi.Router) {
	r.Get("/lookup", h.HandleLookup)
	r.Post("/actions", h.HandleAction)
	r.Get("/stats", h.HandleStats)
}

// HandleLookup handles GET /lookup?code=...
func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}

	res, err := h.service.Resolve(ctx, eventID, r.URL.Query().Get("code"))
	if err != nil {
		h.logger.WarnContext(ctx, "lookup failed",
			"event_id", eventID.String(),
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "lookup resolved",
		"event_id", eventID.String(),
		"scenario", string(res.Scenario),
		"request_id", requestID,
	)
	httputil.WriteJSON(w, http.StatusOK, FromResolution(res))
}

// HandleAction handles POST /actions.
func (h *Handler) HandleAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[ActionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.Execute(ctx, eventID, req.Command())
	if err != nil {
		h.logger.WarnContext(ctx, "console action failed",
			"event_id", eventID.String(),
			"action", req.Action,
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "console action applied",
		"event_id", eventID.String(),
		"action", req.Action,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", requestID,
	)
	httputil.WriteJSON(w, http.StatusOK, FromResult(result))
}

// HandleStats handles GET /stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}

	stats, err := h.service.Stats(ctx, eventID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read stats",
			"event_id", eventID.String(),
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, StatsResponse{Stats: stats})
}

// eventID prefers the id bound by the session middleware and falls back to the route.
func (h *Handler) eventID(w http.ResponseWriter, r *http.Request) (id.EventID, bool) {
	if eventID := requestcontext.EventID(r.Context()); !eventID.IsNil() {
		return eventID, true
	}
	eventID, err := id.ParseEventID(chi.URLParam(r, "eventID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.EventID{}, false
	}
	return eventID, true
}
