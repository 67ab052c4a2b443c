// Package offline is the console's durable scan queue. Scans made while the
// server is unreachable are stored in a local SQLite file with their
// idempotency token and replayed in order once connectivity returns.
package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"checkpoint/internal/checkin/models"
	"checkpoint/internal/offline/migrations"
	id "checkpoint/pkg/domain"
	dErrors "checkpoint/pkg/domain-errors"
)

// Scan is one operator action captured while offline.
type Scan struct {
	EventID         id.EventID    `json:"event_id"`
	Action          models.Action `json:"action"`
	UserID          id.UserID     `json:"user_id"`
	ReferenceNumber *string       `json:"reference_number,omitempty"`
	VestNumber      *string       `json:"vest_number,omitempty"`
	VestReturned    *bool         `json:"vest_returned,omitempty"`
}

func (s Scan) Validate() error {
	if s.EventID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "event_id is required")
	}
	if !s.Action.IsMutating() {
		return dErrors.New(dErrors.CodeValidation, "only mutating actions can be queued")
	}
	if s.UserID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	return nil
}

// Item is a queued scan. Token is fixed at enqueue time and reused on every replay.
type Item struct {
	Seq        int64
	Token      string
	Scan       Scan
	EnqueuedAt time.Time
	Attempts   int
	LastError  string
}

// DeadLetter is a scan the server answered with a definitive rejection.
type DeadLetter struct {
	Item
	Status     int
	Code       string
	Message    string
	RejectedAt time.Time
}

type Queue struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	// drainMu keeps replays strictly one at a time.
	drainMu sync.Mutex
}

type Option func(*Queue)

func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

func WithTokenGenerator(fn func() string) Option {
	return func(q *Queue) {
		q.newID = fn
	}
}

// Open opens (or creates) the queue file at path and applies migrations.
func Open(ctx context.Context, path string, opts ...Option) (*Queue, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("queue path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	q := &Queue{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

func (q *Queue) Close() error {
	if q == nil || q.db == nil {
		return nil
	}
	return q.db.Close()
}

// Enqueue appends scan to the tail and assigns its idempotency token.
func (q *Queue) Enqueue(ctx context.Context, scan Scan) (*Item, error) {
	if err := scan.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(scan)
	if err != nil {
		return nil, fmt.Errorf("encode scan: %w", err)
	}
	item := &Item{
		Token:      q.newID(),
		Scan:       scan,
		EnqueuedAt: q.now().UTC(),
	}
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO queue_items (token, event_id, payload, enqueued_at) VALUES (?, ?, ?, ?)`,
		item.Token, scan.EventID.String(), string(payload), item.EnqueuedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("enqueue scan: %w", err)
	}
	if item.Seq, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("enqueue scan: %w", err)
	}
	return item, nil
}

// Pending lists undelivered items in replay order.
func (q *Queue) Pending(ctx context.Context) ([]Item, error) {
	rows, err := q.db.QueryContext(ctx, `
SELECT seq, token, payload, enqueued_at, attempts, last_error
FROM queue_items
ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT count(*) FROM queue_items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// DeadLetters lists rejected scans, oldest first.
func (q *Queue) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	rows, err := q.db.QueryContext(ctx, `
SELECT seq, token, payload, enqueued_at, status, code, message, rejected_at
FROM dead_letters
ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var (
			dl                     DeadLetter
			payload                string
			enqueuedAt, rejectedAt int64
		)
		if err := rows.Scan(&dl.Seq, &dl.Token, &payload, &enqueuedAt, &dl.Status, &dl.Code, &dl.Message, &rejectedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &dl.Scan); err != nil {
			return nil, fmt.Errorf("decode dead letter %s: %w", dl.Token, err)
		}
		dl.EnqueuedAt = time.UnixMilli(enqueuedAt).UTC()
		dl.RejectedAt = time.UnixMilli(rejectedAt).UTC()
		out = append(out, dl)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		item       Item
		payload    string
		enqueuedAt int64
	)
	if err := row.Scan(&item.Seq, &item.Token, &payload, &enqueuedAt, &item.Attempts, &item.LastError); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &item.Scan); err != nil {
		return nil, fmt.Errorf("decode item %s: %w", item.Token, err)
	}
	item.EnqueuedAt = time.UnixMilli(enqueuedAt).UTC()
	return &item, nil
}

// head returns the oldest undelivered item, or nil when the queue is empty.
func (q *Queue) head(ctx context.Context) (*Item, error) {
	item, err := scanItem(q.db.QueryRowContext(ctx, `
SELECT seq, token, payload, enqueued_at, attempts, last_error
FROM queue_items
ORDER BY seq
LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queue head: %w", err)
	}
	return item, nil
}
