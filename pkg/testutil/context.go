package testutil

import (
	"net/http"

	id "checkpoint/pkg/domain"
	"checkpoint/pkg/requestcontext"
)

// WithConsoleSession binds an event and session to the request context.
// This simulates what the console session middleware does for authenticated requests.
// Invalid IDs are silently ignored.
func WithConsoleSession(req *http.Request, eventID, sessionID string) *http.Request {
	ctx := req.Context()
	if parsed, err := id.ParseEventID(eventID); err == nil {
		ctx = requestcontext.WithEventID(ctx, parsed)
	}
	if parsed, err := id.ParseSessionID(sessionID); err == nil {
		ctx = requestcontext.WithSessionID(ctx, parsed)
	}
	return req.WithContext(ctx)
}

// WithConsoleHeaders sets the bearer token and CSRF header a console client sends.
func WithConsoleHeaders(req *http.Request, sessionToken, csrfToken string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+sessionToken)
	req.Header.Set("X-CSRF-Token", csrfToken)
	return req
}
