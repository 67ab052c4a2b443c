package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"checkpoint/internal/checkin/models"
	"checkpoint/pkg/platform/circuit"
	"checkpoint/pkg/requestcontext"
)

// ErrCircuitOpen is returned while the webhook breaker rejects calls.
var ErrCircuitOpen = errors.New("notification webhook circuit open")

type webhookPayload struct {
	Kind        Kind      `json:"kind"`
	EventID     string    `json:"event_id"`
	EventSlug   string    `json:"event_slug"`
	EventName   string    `json:"event_name"`
	UserID      string    `json:"user_id"`
	UserCode    string    `json:"user_code"`
	DisplayName string    `json:"display_name"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// WebhookDispatcher POSTs notifications as JSON. Repeated failures open a
// circuit breaker so a dead endpoint is not hammered by every scan.
type WebhookDispatcher struct {
	url     string
	client  *http.Client
	breaker *circuit.Breaker
	logger  *slog.Logger
}

type WebhookOption func(*WebhookDispatcher)

func WithHTTPClient(client *http.Client) WebhookOption {
	return func(d *WebhookDispatcher) { d.client = client }
}

func WithBreaker(b *circuit.Breaker) WebhookOption {
	return func(d *WebhookDispatcher) { d.breaker = b }
}

func WithLogger(logger *slog.Logger) WebhookOption {
	return func(d *WebhookDispatcher) { d.logger = logger }
}

func NewWebhookDispatcher(url string, opts ...WebhookOption) *WebhookDispatcher {
	d := &WebhookDispatcher{
		url:     url,
		client:  &http.Client{Timeout: 5 * time.Second},
		breaker: circuit.New("notify-webhook"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *WebhookDispatcher) Send(ctx context.Context, kind Kind, user *models.User, event *models.Event) error {
	if !d.breaker.Allow() {
		return ErrCircuitOpen
	}

	body, err := json.Marshal(webhookPayload{
		Kind:        kind,
		EventID:     event.ID.String(),
		EventSlug:   event.Slug,
		EventName:   event.Name,
		UserID:      user.ID.String(),
		UserCode:    user.Code,
		DisplayName: user.DisplayName,
		OccurredAt:  requestcontext.Now(ctx),
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	if err := d.post(ctx, body); err != nil {
		if _, change := d.breaker.RecordFailure(); change.Opened {
			d.logger.WarnContext(ctx, "notification webhook circuit opened", "breaker", d.breaker.Name())
		}
		return err
	}
	if _, change := d.breaker.RecordSuccess(); change.Closed {
		d.logger.InfoContext(ctx, "notification webhook circuit closed", "breaker", d.breaker.Name())
	}
	return nil
}

func (d *WebhookDispatcher) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if reqID := requestcontext.RequestID(ctx); reqID != "" {
		req.Header.Set("X-Request-ID", reqID)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned %d", resp.StatusCode)
	}
	return nil
}
