package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterRetryableFailures(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	b := NewBreaker("bybit", BreakerConfig{FailureThreshold: 2, Timeout: time.Minute})
	b.now = func() time.Time { return now }

	var changes []BreakerState
	b.OnStateChange(func(_ string, _, to BreakerState) { changes = append(changes, to) })

	ctx := context.Background()
	fail := func(context.Context) error { return ErrConnectionFailed }
	ok := func(context.Context) error { return nil }

	assert.Error(t, b.Do(ctx, fail))
	assert.Equal(t, BreakerClosed, b.State())
	assert.Error(t, b.Do(ctx, fail))
	assert.Equal(t, BreakerOpen, b.State())

	calls := 0
	err := b.Do(ctx, func(context.Context) error { calls++; return nil })
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Equal(t, 0, calls)

	now = now.Add(2 * time.Minute)
	require.NoError(t, b.Do(ctx, ok))
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, []BreakerState{BreakerOpen, BreakerHalfOpen, BreakerClosed}, changes)
}

func TestBreakerIgnoresNonRetryableErrors(t *testing.T) {
	b := NewBreaker("binance", BreakerConfig{FailureThreshold: 1})
	for i := 0; i < 3; i++ {
		_ = b.Do(context.Background(), func(context.Context) error { return ErrInsufficientBalance })
	}
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	b := NewBreaker("bybit", BreakerConfig{FailureThreshold: 1, Timeout: time.Second})
	b.now = func() time.Time { return now }

	_ = b.Do(context.Background(), func(context.Context) error { return ErrRateLimitExceeded })
	require.Equal(t, BreakerOpen, b.State())

	now = now.Add(2 * time.Second)
	_ = b.Do(context.Background(), func(context.Context) error { return ErrRateLimitExceeded })
	assert.Equal(t, BreakerOpen, b.State())

	b.Reset()
	assert.Equal(t, BreakerClosed, b.State())
}
