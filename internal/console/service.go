// Package console authenticates event consoles. Staff sign in with the
// event's console credential and receive a session token bound to that event.
package console

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"checkpoint/internal/checkin/models"
	id "checkpoint/pkg/domain"
	dErrors "checkpoint/pkg/domain-errors"
	"checkpoint/pkg/platform/audit"
	"checkpoint/pkg/platform/sentinel"
	"checkpoint/pkg/requestcontext"
)

// EventLookup loads the event whose credential gates the console.
type EventLookup interface {
	FindEvent(ctx context.Context, eventID id.EventID) (*models.Event, error)
}

// LoginThrottle guards credential checks per event and client.
type LoginThrottle interface {
	Attempt(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Session is what a successful login hands to the console.
type Session struct {
	SessionID id.SessionID
	Token     string
	CSRFToken string
	ExpiresAt time.Time
}

type Service struct {
	events         EventLookup
	tokens         *TokenService
	throttle       LoginThrottle
	throttleKey    func(eventID id.EventID, clientIP string) string
	auditPublisher audit.Publisher
	logger         *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher audit.Publisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

// WithLoginThrottle enables the failed-login budget. key builds the throttle key.
func WithLoginThrottle(t LoginThrottle, key func(eventID id.EventID, clientIP string) string) Option {
	return func(s *Service) {
		s.throttle = t
		s.throttleKey = key
	}
}

func NewService(events EventLookup, tokens *TokenService, opts ...Option) (*Service, error) {
	if events == nil {
		return nil, errors.New("event lookup is required")
	}
	if tokens == nil {
		return nil, errors.New("token service is required")
	}
	svc := &Service{
		events: events,
		tokens: tokens,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Login verifies the console credential and opens a session.
// Wrong passwords count against the login throttle; a blocked client gets a
// too_many_requests error carrying the retry delay.
func (s *Service) Login(ctx context.Context, eventID id.EventID, password string) (*Session, error) {
	if password == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "password is required")
	}

	var session *Session
	check := func(ctx context.Context) error {
		var err error
		session, err = s.login(ctx, eventID, password)
		return err
	}

	var err error
	if s.throttle != nil {
		err = s.throttle.Attempt(ctx, s.throttleKey(eventID, requestcontext.ClientIP(ctx)), check)
	} else {
		err = check(ctx)
	}
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
				EventID: eventID,
				Action:  string(audit.EventConsoleLoginFail),
				Outcome: "denied",
			})
		}
		return nil, err
	}

	audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
		EventID:   eventID,
		Action:    string(audit.EventConsoleLogin),
		Outcome:   "granted",
		SessionID: session.SessionID.String(),
	})
	return session, nil
}

func (s *Service) login(ctx context.Context, eventID id.EventID, password string) (*Session, error) {
	event, err := s.events.FindEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "event not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load event")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(event.CredentialHash), []byte(password)); err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid console credential")
	}

	sessionID := id.NewSessionID()
	token, expiresAt, err := s.tokens.Issue(eventID, event.CredentialHash, sessionID, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue session")
	}
	return &Session{
		SessionID: sessionID,
		Token:     token,
		CSRFToken: s.tokens.CSRFToken(sessionID),
		ExpiresAt: expiresAt,
	}, nil
}

// HashCredential hashes a console credential for storage.
func HashCredential(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
