package util

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContextWithUser(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		user string
	}{
		{
			name: "valid user",
			user: "alice@example.com",
		},
		{
			name: "empty user",
			user: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			ctx = ContextWithUser(ctx, tt.user)

			result := UserFromContext(ctx)
			assert.Equal(t, tt.user, result)
		})
	}
}

func TestUserFromContext_NotSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert.Empty(t, UserFromContext(ctx))
}

func TestContextWithCorrelationID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		correlationID string
	}{
		{
			name:          "valid correlation ID",
			correlationID: "corr-123",
		},
		{
			name:          "UUID format",
			correlationID: "550e8400-e29b-41d4-a716-446655440000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			ctx = ContextWithCorrelationID(ctx, tt.correlationID)

			result := CorrelationIDFromContext(ctx)
			assert.Equal(t, tt.correlationID, result)
		})
	}
}

func TestCorrelationIDFromContext_NotSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert.Empty(t, CorrelationIDFromContext(ctx))
}

func TestContextWithStartTime(t *testing.T) {
	t.Parallel()

	start := time.Now().Add(-time.Second)
	ctx := ContextWithStartTime(context.Background(), start)

	assert.Equal(t, start, StartTimeFromContext(ctx))
	assert.GreaterOrEqual(t, ElapsedTime(ctx), time.Second)
}

func TestStartTimeFromContext_NotSet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assert.True(t, StartTimeFromContext(ctx).IsZero())
	assert.Equal(t, time.Duration(0), ElapsedTime(ctx))
}
