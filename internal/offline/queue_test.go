package offline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"checkpoint/internal/checkin/models"
	id "checkpoint/pkg/domain"
	dErrors "checkpoint/pkg/domain-errors"
)

var errOffline = errors.New("dial tcp: connection refused")

// scriptedTransport answers each token from a script. Tokens without an entry are applied.
type scriptedTransport struct {
	sent    []string
	answers map[string][]func() (*Delivery, error)
}

func (t *scriptedTransport) Deliver(_ context.Context, item Item) (*Delivery, error) {
	t.sent = append(t.sent, item.Token)
	if queue := t.answers[item.Token]; len(queue) > 0 {
		next := queue[0]
		t.answers[item.Token] = queue[1:]
		return next()
	}
	return &Delivery{Status: 200}, nil
}

func (t *scriptedTransport) on(token string, answers ...func() (*Delivery, error)) {
	if t.answers == nil {
		t.answers = make(map[string][]func() (*Delivery, error))
	}
	t.answers[token] = append(t.answers[token], answers...)
}

func unreachable() (*Delivery, error) { return nil, errOffline }

func rejected() (*Delivery, error) {
	return &Delivery{Status: 409, Rejected: true, Code: "invalid_transition", Message: "already checked out"}, nil
}

type QueueSuite struct {
	suite.Suite
	path  string
	queue *Queue
	ctx   context.Context
	event id.EventID
	seq   int
}

func TestQueueSuite(t *testing.T) {
	suite.Run(t, new(QueueSuite))
}

func (s *QueueSuite) SetupTest() {
	s.ctx = context.Background()
	s.path = filepath.Join(s.T().TempDir(), "queue.db")
	s.event = id.EventID(uuid.New())
	s.seq = 0
	s.queue = s.open()
}

func (s *QueueSuite) TearDownTest() {
	s.Require().NoError(s.queue.Close())
}

func (s *QueueSuite) open() *Queue {
	q, err := Open(s.ctx, s.path,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithTokenGenerator(func() string {
			s.seq++
			return "offline-token-" + string(rune('a'+s.seq-1))
		}),
	)
	s.Require().NoError(err)
	return q
}

func (s *QueueSuite) enqueue(action models.Action) *Item {
	item, err := s.queue.Enqueue(s.ctx, Scan{EventID: s.event, Action: action, UserID: id.UserID(uuid.New())})
	s.Require().NoError(err)
	return item
}

func (s *QueueSuite) TestEnqueueAssignsTokens() {
	a := s.enqueue(models.ActionConfirmCheckin)
	b := s.enqueue(models.ActionConfirmCheckout)

	s.Equal("offline-token-a", a.Token)
	s.Equal("offline-token-b", b.Token)
	s.Less(a.Seq, b.Seq)

	pending, err := s.queue.Pending(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(pending, 2)
	s.Equal(a.Token, pending[0].Token)
	s.Equal(models.ActionConfirmCheckin, pending[0].Scan.Action)
	s.Equal(a.Scan.UserID, pending[0].Scan.UserID)
}

func (s *QueueSuite) TestEnqueueValidation() {
	cases := map[string]Scan{
		"missing event":   {Action: models.ActionConfirmCheckin, UserID: id.UserID(uuid.New())},
		"read-only":       {EventID: s.event, Action: models.ActionGetRecentAttendees, UserID: id.UserID(uuid.New())},
		"unknown action":  {EventID: s.event, Action: "teleport", UserID: id.UserID(uuid.New())},
		"missing user id": {EventID: s.event, Action: models.ActionConfirmCheckin},
	}
	for name, scan := range cases {
		s.Run(name, func() {
			_, err := s.queue.Enqueue(s.ctx, scan)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

func (s *QueueSuite) TestDrainDeliversInOrder() {
	items := []*Item{
		s.enqueue(models.ActionConfirmCheckin),
		s.enqueue(models.ActionVestUpdate),
		s.enqueue(models.ActionConfirmCheckout),
	}
	transport := &scriptedTransport{}

	report, err := s.queue.Drain(s.ctx, transport)
	s.Require().NoError(err)
	s.Equal(Report{Delivered: 3}, report)
	s.Equal([]string{items[0].Token, items[1].Token, items[2].Token}, transport.sent)

	n, err := s.queue.Len(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *QueueSuite) TestTransportErrorKeepsHead() {
	first := s.enqueue(models.ActionConfirmCheckin)
	second := s.enqueue(models.ActionConfirmCheckout)
	transport := &scriptedTransport{}
	transport.on(first.Token, unreachable)

	report, err := s.queue.Drain(s.ctx, transport)
	s.Require().ErrorIs(err, errOffline)
	s.Equal(Report{Remaining: 2}, report)
	s.Equal([]string{first.Token}, transport.sent, "nothing after the head is sent")

	pending, err := s.queue.Pending(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(pending, 2)
	s.Equal(first.Token, pending[0].Token)
	s.Equal(1, pending[0].Attempts)
	s.Contains(pending[0].LastError, "connection refused")

	s.Run("resume replays from the head with the same token", func() {
		report, err := s.queue.Drain(s.ctx, transport)
		s.Require().NoError(err)
		s.Equal(Report{Delivered: 2}, report)
		s.Equal([]string{first.Token, first.Token, second.Token}, transport.sent)
	})
}

func (s *QueueSuite) TestRejectionIsDeadLettered() {
	first := s.enqueue(models.ActionConfirmCheckout)
	second := s.enqueue(models.ActionConfirmCheckin)
	transport := &scriptedTransport{}
	transport.on(first.Token, rejected)

	report, err := s.queue.Drain(s.ctx, transport)
	s.Require().NoError(err)
	s.Equal(Report{Delivered: 1, Rejected: 1}, report)
	s.Equal([]string{first.Token, second.Token}, transport.sent)

	dead, err := s.queue.DeadLetters(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(dead, 1)
	s.Equal(first.Token, dead[0].Token)
	s.Equal(409, dead[0].Status)
	s.Equal("invalid_transition", dead[0].Code)
	s.Equal(models.ActionConfirmCheckout, dead[0].Scan.Action)
}

func (s *QueueSuite) TestQueueSurvivesReopen() {
	item := s.enqueue(models.ActionConfirmCheckin)
	s.Require().NoError(s.queue.Close())

	s.queue = s.open()
	pending, err := s.queue.Pending(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(item.Token, pending[0].Token)
	s.WithinDuration(item.EnqueuedAt, pending[0].EnqueuedAt, time.Millisecond)
}

func (s *QueueSuite) TestCancelledDrainStops() {
	s.enqueue(models.ActionConfirmCheckin)
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	report, err := s.queue.Drain(ctx, &scriptedTransport{})
	s.ErrorIs(err, context.Canceled)
	s.Equal(1, report.Remaining)
}

func TestUpSection(t *testing.T) {
	got := upSection("-- +migrate Up\nCREATE TABLE a (x INT);\n-- +migrate Down\nDROP TABLE a;\n")
	if got != "\nCREATE TABLE a (x INT);\n" {
		t.Fatalf("unexpected up section %q", got)
	}
	if plain := upSection("SELECT 1;"); plain != "SELECT 1;" {
		t.Fatalf("expected unmarked migration to pass through, got %q", plain)
	}
}
