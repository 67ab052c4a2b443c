package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	dErrors "checkpoint/pkg/domain-errors"
	"checkpoint/pkg/platform/httputil"
)

// StatusError is a server answer that does not settle the item: the session
// expired, the client is throttled, the first delivery is still running, or
// the server failed.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server answered %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("server answered %d %s", e.Status, e.Code)
}

// HTTPTransport replays items against the console actions endpoint.
type HTTPTransport struct {
	baseURL      string
	sessionToken string
	csrfToken    string
	client       *http.Client
}

type TransportOption func(*HTTPTransport)

func WithHTTPClient(c *http.Client) TransportOption {
	return func(t *HTTPTransport) {
		t.client = c
	}
}

func NewHTTPTransport(baseURL, sessionToken, csrfToken string, opts ...TransportOption) *HTTPTransport {
	t := &HTTPTransport{
		baseURL:      strings.TrimRight(baseURL, "/"),
		sessionToken: sessionToken,
		csrfToken:    csrfToken,
		client:       &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type actionBody struct {
	Action           string  `json:"action"`
	UserID           string  `json:"user_id"`
	IdempotencyToken string  `json:"idempotency_token"`
	ReferenceNumber  *string `json:"reference_number,omitempty"`
	VestNumber       *string `json:"vest_number,omitempty"`
	VestReturned     *bool   `json:"vest_returned,omitempty"`
}

func (t *HTTPTransport) Deliver(ctx context.Context, item Item) (*Delivery, error) {
	body, err := json.Marshal(actionBody{
		Action:           string(item.Scan.Action),
		UserID:           item.Scan.UserID.String(),
		IdempotencyToken: item.Token,
		ReferenceNumber:  item.Scan.ReferenceNumber,
		VestNumber:       item.Scan.VestNumber,
		VestReturned:     item.Scan.VestReturned,
	})
	if err != nil {
		return nil, fmt.Errorf("encode action: %w", err)
	}

	url := t.baseURL + "/events/" + item.Scan.EventID.String() + "/console/actions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.sessionToken)
	req.Header.Set("X-CSRF-Token", t.csrfToken)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &Delivery{Status: resp.StatusCode}, nil
	}

	var errBody httputil.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&errBody)
	if isRejection(resp.StatusCode, errBody.Error) {
		return &Delivery{
			Status:   resp.StatusCode,
			Rejected: true,
			Code:     errBody.Error,
			Message:  errBody.ErrorDescription,
		}, nil
	}
	return nil, &StatusError{Status: resp.StatusCode, Code: errBody.Error, Message: errBody.ErrorDescription}
}

// isRejection reports whether the answer settles the item for good. Session,
// throttling, in-progress and server failures do not; retrying later may succeed.
func isRejection(status int, code string) bool {
	if code == string(dErrors.CodeInProgress) {
		return false
	}
	switch status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity:
		return true
	}
	return false
}
