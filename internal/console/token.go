package console

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "checkpoint/pkg/domain"
	dErrors "checkpoint/pkg/domain-errors"
)

const consoleAudience = "checkpoint-console"

// Claims are the session token claims. The token is only valid for EventID
// and only while the event credential it was issued under is unchanged.
type Claims struct {
	EventID    string `json:"event_id"`
	SessionID  string `json:"session_id"`
	Credential string `json:"cred"`
	jwt.RegisteredClaims
}

// TokenService signs console session tokens and derives their CSRF tokens.
type TokenService struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
}

func NewTokenService(signingKey, issuer string, ttl time.Duration) *TokenService {
	return &TokenService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		ttl:        ttl,
	}
}

// Issue signs a session token bound to eventID and to the credential hash
// the staff member signed in with.
func (s *TokenService) Issue(eventID id.EventID, credentialHash string, sessionID id.SessionID, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		EventID:    eventID.String(),
		SessionID:  sessionID.String(),
		Credential: s.credentialFingerprint(credentialHash),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{consoleAudience},
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Validate parses and verifies a session token.
func (s *TokenService) Validate(tokenString string, now time.Time) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(consoleAudience),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "session has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid session token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid session token")
	}
	return claims, nil
}

func (s *TokenService) credentialFingerprint(credentialHash string) string {
	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write([]byte("credential:" + credentialHash))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// MatchesCredential reports whether claims were issued under credentialHash.
// A rotated credential invalidates every session issued before it.
func (s *TokenService) MatchesCredential(claims *Claims, credentialHash string) bool {
	return hmac.Equal([]byte(s.credentialFingerprint(credentialHash)), []byte(claims.Credential))
}

// CSRFToken derives the CSRF token for a session.
func (s *TokenService) CSRFToken(sessionID id.SessionID) string {
	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write([]byte("csrf:" + sessionID.String()))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyCSRF compares in constant time.
func (s *TokenService) VerifyCSRF(sessionID id.SessionID, token string) bool {
	return hmac.Equal([]byte(s.CSRFToken(sessionID)), []byte(token))
}
