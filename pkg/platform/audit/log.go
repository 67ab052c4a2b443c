package audit

import (
	"context"
	"log/slog"

	"checkpoint/pkg/requestcontext"
)

// Publisher emits audit events for security and attendance operations.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
}

// LogAudit writes event to the structured log with log_type=audit and emits it to
// publisher. Request metadata already in ctx is copied onto the event when unset.
// Emission failures are logged and never returned.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher Publisher, event Event, attrs ...any) {
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.IP == "" {
		event.IP = requestcontext.ClientIP(ctx)
	}
	if event.Device == "" {
		event.Device = requestcontext.Device(ctx)
	}
	if event.SessionID == "" {
		if sid := requestcontext.SessionID(ctx); !sid.IsNil() {
			event.SessionID = sid.String()
		}
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}

	if logger != nil {
		args := append([]any{"event", event.Action, "log_type", "audit"}, attrs...)
		if event.RequestID != "" {
			args = append(args, "request_id", event.RequestID)
		}
		if !event.EventID.IsNil() {
			args = append(args, "event_id", event.EventID.String())
		}
		if event.Subject != "" {
			args = append(args, "subject", event.Subject)
		}
		logger.InfoContext(ctx, event.Action, args...)
	}

	if publisher == nil {
		return
	}
	if err := publisher.Emit(ctx, event); err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to emit audit event", "event", event.Action, "error", err)
	}
}
