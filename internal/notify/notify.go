// Package notify tells attendees about entry and exit. Delivery is best effort:
// the console never waits on it and a failed send never fails an action.
package notify

//go:generate mockgen -source=notify.go -destination=mocks/mocks.go -package=mocks Dispatcher

import (
	"context"
	"log/slog"

	"checkpoint/internal/checkin/models"
)

type Kind string

const (
	KindCheckIn  Kind = "check_in"
	KindCheckOut Kind = "check_out"
)

// Dispatcher sends one notification.
type Dispatcher interface {
	Send(ctx context.Context, kind Kind, user *models.User, event *models.Event) error
}

// LogDispatcher writes notifications to the log. It is the development default.
type LogDispatcher struct {
	logger *slog.Logger
}

func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Send(ctx context.Context, kind Kind, user *models.User, event *models.Event) error {
	d.logger.InfoContext(ctx, "notification",
		"kind", string(kind),
		"user_code", user.Code,
		"event_id", event.ID.String(),
		"event_slug", event.Slug,
	)
	return nil
}
