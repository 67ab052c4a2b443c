package console

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "checkpoint/pkg/domain"
	dErrors "checkpoint/pkg/domain-errors"
)

var (
	tokens    = NewTokenService("test-signing-key-0123456789", "test-issuer", time.Hour)
	eventID   = id.EventID(uuid.New())
	sessionID = id.SessionID(uuid.New())
	issuedAt  = time.Date(2026, 8, 20, 6, 0, 0, 0, time.UTC)

	credentialHash = "$2a$10$old-credential-hash"
)

func Test_Issue(t *testing.T) {
	token, expiresAt, err := tokens.Issue(eventID, credentialHash, sessionID, issuedAt)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, issuedAt.Add(time.Hour), expiresAt)

	claims, err := tokens.Validate(token, issuedAt.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, eventID.String(), claims.EventID)
	assert.Equal(t, sessionID.String(), claims.SessionID)
	assert.Equal(t, "test-issuer", claims.Issuer)
}

func Test_Validate_InvalidToken(t *testing.T) {
	_, err := tokens.Validate("invalid-token-string", issuedAt)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_Validate_ExpiredToken(t *testing.T) {
	token, _, err := tokens.Issue(eventID, credentialHash, sessionID, issuedAt)
	require.NoError(t, err)

	_, err = tokens.Validate(token, issuedAt.Add(2*time.Hour))
	require.Error(t, err)
	assert.Equal(t, "session has expired", dErrors.MessageOf(err))
}

func Test_Validate_WrongKey(t *testing.T) {
	other := NewTokenService("another-signing-key-9876543210", "test-issuer", time.Hour)
	token, _, err := other.Issue(eventID, credentialHash, sessionID, issuedAt)
	require.NoError(t, err)

	_, err = tokens.Validate(token, issuedAt)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_MatchesCredential(t *testing.T) {
	token, _, err := tokens.Issue(eventID, credentialHash, sessionID, issuedAt)
	require.NoError(t, err)
	claims, err := tokens.Validate(token, issuedAt)
	require.NoError(t, err)

	assert.NotEqual(t, credentialHash, claims.Credential, "the hash itself is not exposed")
	assert.True(t, tokens.MatchesCredential(claims, credentialHash))
	assert.False(t, tokens.MatchesCredential(claims, "$2a$10$new-credential-hash"))

	other := NewTokenService("another-signing-key-9876543210", "test-issuer", time.Hour)
	assert.False(t, other.MatchesCredential(claims, credentialHash))
}

func Test_CSRF(t *testing.T) {
	csrf := tokens.CSRFToken(sessionID)
	assert.True(t, tokens.VerifyCSRF(sessionID, csrf))
	assert.False(t, tokens.VerifyCSRF(id.SessionID(uuid.New()), csrf))
	assert.False(t, tokens.VerifyCSRF(sessionID, ""))
}
