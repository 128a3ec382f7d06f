package exchange

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}
}

func TestRetry(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		err       error
		wantCalls int
		wantErr   bool
	}{
		{"success first try", 0, nil, 1, false},
		{"recovers after retryable", 2, ErrConnectionFailed, 3, false},
		{"exhausts retries", 5, ErrRateLimitExceeded, 3, true},
		{"stops on non-retryable", 5, ErrInvalidSymbol, 1, true},
		{"plain timeout is retryable", 1, fmt.Errorf("read tcp: i/o timeout"), 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Retry(context.Background(), fastRetry(), "op", func(context.Context) error {
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Retry(ctx, fastRetry(), "op", func(context.Context) error { calls++; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		msg  string
		code string
	}{
		{"Too many visits!", "RATE_LIMIT_EXCEEDED"},
		{"ab not enough for new order: insufficient balance", "INSUFFICIENT_BALANCE"},
		{"invalid api key", "AUTHENTICATION_FAILED"},
		{"dial tcp: connection refused", "CONNECTION_FAILED"},
		{"params error: symbol invalid", "INVALID_SYMBOL"},
		{"something odd", "UNKNOWN_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			var exErr *ExchangeError
			require.True(t, errors.As(NormalizeError("bybit", errors.New(tt.msg)), &exErr))
			assert.Equal(t, tt.code, exErr.Code)
		})
	}
	assert.Nil(t, NormalizeError("bybit", nil))
}
