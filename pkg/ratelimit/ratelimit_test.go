package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket_Burst(t *testing.T) {
	tb := NewTokenBucket(1, 3)
	now := time.Unix(1_700_000_000, 0)
	tb.now = func() time.Time { return now }
	tb.lastRefill = now

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow(), "burst exhausted")

	now = now.Add(1500 * time.Millisecond)
	assert.True(t, tb.Allow(), "one token refilled after 1.5s")
	assert.False(t, tb.Allow())
	assert.Equal(t, 0, tb.Remaining())
}

func TestTokenBucket_WaitHonoursContext(t *testing.T) {
	tb := NewTokenBucket(0.001, 1)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tb.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewTokenBucket_Disabled(t *testing.T) {
	assert.Nil(t, NewTokenBucket(0, 10))
}
