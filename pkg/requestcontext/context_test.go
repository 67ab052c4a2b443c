package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	id "checkpoint/pkg/domain"
)

func TestDefaults(t *testing.T) {
	ctx := context.Background()
	assert.True(t, EventID(ctx).IsNil())
	assert.True(t, SessionID(ctx).IsNil())
	assert.Empty(t, RequestID(ctx))
	assert.Empty(t, ClientIP(ctx))
	assert.WithinDuration(t, time.Now(), Now(ctx), time.Second)
}

func TestRoundTrip(t *testing.T) {
	eventID := id.EventID(uuid.New())
	sessionID := id.SessionID(uuid.New())
	fixed := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	ctx := WithEventID(context.Background(), eventID)
	ctx = WithSessionID(ctx, sessionID)
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithTime(ctx, fixed)
	ctx = WithClientMetadata(ctx, "10.0.0.7", "curl/8", "curl on Unknown")

	assert.Equal(t, eventID, EventID(ctx))
	assert.Equal(t, sessionID, SessionID(ctx))
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, fixed, Now(ctx))
	assert.Equal(t, "10.0.0.7", ClientIP(ctx))
	assert.Equal(t, "curl/8", UserAgent(ctx))
	assert.Equal(t, "curl on Unknown", Device(ctx))
}
