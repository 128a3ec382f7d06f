package exchange

import (
	"errors"
	"strings"

	apperrors "github.com/ducminhle1904/crypto-risk-core/internal/errors"
)

// ExchangeError is a venue error normalized across adapters
type ExchangeError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Details     string `json:"details,omitempty"`
	IsRetryable bool   `json:"is_retryable"`
}

func (e *ExchangeError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// Is matches on Code so wrapped copies of the common errors compare equal
func (e *ExchangeError) Is(target error) bool {
	var other *ExchangeError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// WithDetails returns a copy carrying details
func (e *ExchangeError) WithDetails(details string) *ExchangeError {
	cp := *e
	cp.Details = details
	return &cp
}

// Common error types
var (
	ErrInsufficientBalance = &ExchangeError{
		Code:        "INSUFFICIENT_BALANCE",
		Message:     "Insufficient balance for trade",
		IsRetryable: false,
	}

	ErrInvalidSymbol = &ExchangeError{
		Code:        "INVALID_SYMBOL",
		Message:     "Invalid trading symbol",
		IsRetryable: false,
	}

	ErrOrderSizeTooSmall = &ExchangeError{
		Code:        "ORDER_SIZE_TOO_SMALL",
		Message:     "Order size below minimum requirements",
		IsRetryable: false,
	}

	ErrRateLimitExceeded = &ExchangeError{
		Code:        "RATE_LIMIT_EXCEEDED",
		Message:     "API rate limit exceeded",
		IsRetryable: true,
	}

	ErrConnectionFailed = &ExchangeError{
		Code:        "CONNECTION_FAILED",
		Message:     "Failed to connect to exchange",
		IsRetryable: true,
	}

	ErrAuthenticationFailed = &ExchangeError{
		Code:        "AUTHENTICATION_FAILED",
		Message:     "API authentication failed",
		IsRetryable: false,
	}

	ErrNoPosition = &ExchangeError{
		Code:        "NO_POSITION",
		Message:     "No open position",
		IsRetryable: false,
	}

	ErrCircuitOpen = &ExchangeError{
		Code:        "CIRCUIT_OPEN",
		Message:     "Venue circuit breaker is open",
		IsRetryable: false,
	}

	ErrUnsupportedVenue = &ExchangeError{
		Code:        "UNSUPPORTED_EXCHANGE",
		Message:     "Exchange is not supported",
		IsRetryable: false,
	}
)

// IsRetryable reports whether a venue call may be attempted again
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return exErr.IsRetryable
	}
	var botErr *apperrors.BotError
	if errors.As(err, &botErr) {
		return botErr.IsRetryable()
	}
	return apperrors.CategorizeError(err, "exchange", "classify").IsRetryable()
}

// NormalizeError maps raw client errors onto the common error set
func NormalizeError(venue string, err error) error {
	if err == nil {
		return nil
	}
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "too many visits"):
		return ErrRateLimitExceeded.WithDetails(venue + ": " + err.Error())
	case strings.Contains(msg, "insufficient") || strings.Contains(msg, "margin is insufficient"):
		return ErrInsufficientBalance.WithDetails(venue + ": " + err.Error())
	case strings.Contains(msg, "api key") || strings.Contains(msg, "signature") || strings.Contains(msg, "api-key"):
		return ErrAuthenticationFailed.WithDetails(venue + ": " + err.Error())
	case strings.Contains(msg, "connection") || strings.Contains(msg, "timeout") || strings.Contains(msg, "eof"):
		return ErrConnectionFailed.WithDetails(venue + ": " + err.Error())
	case strings.Contains(msg, "symbol"):
		return ErrInvalidSymbol.WithDetails(venue + ": " + err.Error())
	}
	return &ExchangeError{
		Code:        "UNKNOWN_ERROR",
		Message:     "Unknown error from " + venue,
		Details:     err.Error(),
		IsRetryable: false,
	}
}
