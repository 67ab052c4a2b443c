package console

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	id "checkpoint/pkg/domain"
	dErrors "checkpoint/pkg/domain-errors"
	"checkpoint/pkg/platform/httputil"
	"checkpoint/pkg/platform/sentinel"
	"checkpoint/pkg/requestcontext"
)

const (
	CSRFHeader   = "X-CSRF-Token"
	EventIDParam = "eventID"
)

// RequireSession admits requests that carry a session token for the event in
// the route, issued under the event's current credential, and the matching
// CSRF token. The event and session ids are added to the request context.
func RequireSession(tokens *TokenService, events EventLookup, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			eventID, err := id.ParseEventID(chi.URLParam(r, EventIDParam))
			if err != nil {
				httputil.WriteError(w, err)
				return
			}

			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				logger.WarnContext(ctx, "console access without session token", "request_id", requestID)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "session token is required"))
				return
			}
			claims, err := tokens.Validate(raw, requestcontext.Now(ctx))
			if err != nil {
				logger.WarnContext(ctx, "console access with invalid session token",
					"error", err,
					"request_id", requestID,
				)
				httputil.WriteError(w, err)
				return
			}

			sessionID, err := id.ParseSessionID(claims.SessionID)
			if err != nil {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid session token"))
				return
			}
			if claims.EventID != eventID.String() {
				logger.WarnContext(ctx, "session token used for another event",
					"event_id", eventID.String(),
					"token_event_id", claims.EventID,
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "session is not valid for this event"))
				return
			}
			event, err := events.FindEvent(ctx, eventID)
			if err != nil {
				if errors.Is(err, sentinel.ErrNotFound) {
					httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "event not found"))
					return
				}
				logger.ErrorContext(ctx, "failed to load event for session check",
					"error", err,
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load event"))
				return
			}
			if !tokens.MatchesCredential(claims, event.CredentialHash) {
				logger.WarnContext(ctx, "session issued under a rotated credential",
					"event_id", eventID.String(),
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "session is no longer valid"))
				return
			}
			if !tokens.VerifyCSRF(sessionID, r.Header.Get(CSRFHeader)) {
				logger.WarnContext(ctx, "csrf token mismatch", "request_id", requestID)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "invalid csrf token"))
				return
			}

			ctx = requestcontext.WithEventID(ctx, eventID)
			ctx = requestcontext.WithSessionID(ctx, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
