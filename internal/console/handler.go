package console

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	id "checkpoint/pkg/domain"
	dErrors "checkpoint/pkg/domain-errors"
	"checkpoint/pkg/platform/httputil"
	"checkpoint/pkg/requestcontext"
)

type LoginService interface {
	Login(ctx context.Context, eventID id.EventID, password string) (*Session, error)
}

type Handler struct {
	service LoginService
	logger  *slog.Logger
}

func NewHandler(service LoginService, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the login route on a router already scoped to /events/{eventID}/console.
func (h *Handler) Register(r chi.Router) {
	r.Post("/session", h.HandleLogin)
}

type loginRequest struct {
	Password string `json:"password"`
}

func (r *loginRequest) Validate() error {
	if strings.TrimSpace(r.Password) == "" {
		return dErrors.New(dErrors.CodeValidation, "password is required")
	}
	return nil
}

type loginResponse struct {
	SessionToken string    `json:"session_token"`
	CSRFToken    string    `json:"csrf_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	eventID, err := id.ParseEventID(chi.URLParam(r, EventIDParam))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[loginRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	session, err := h.service.Login(ctx, eventID, req.Password)
	if err != nil {
		h.logger.WarnContext(ctx, "console login failed",
			"event_id", eventID.String(),
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, loginResponse{
		SessionToken: session.Token,
		CSRFToken:    session.CSRFToken,
		ExpiresAt:    session.ExpiresAt,
	})
}
