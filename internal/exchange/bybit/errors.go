package bybit

import (
	"errors"
	"fmt"
)

// BybitError represents a Bybit API error with additional context
type BybitError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *BybitError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("Bybit API error %d: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("Bybit API error %d: %s", e.Code, e.Message)
}

// Common Bybit error codes
const (
	ErrCodeInvalidAPIKey          = 10003
	ErrCodeInvalidSignature       = 10004
	ErrCodeInvalidTimestamp       = 10005
	ErrCodeRateLimitExceeded      = 10006
	ErrCodeOrderNotFound          = 110001
	ErrCodeInsufficientBalance    = 110007
	ErrCodeSymbolNotFound         = 110009
	ErrCodeInvalidQuantity        = 110020
	ErrCodeLeverageNotModified    = 110043
	ErrCodeTradingStopNotModified = 34040
)

func asBybitError(err error) (*BybitError, bool) {
	var bybitErr *BybitError
	ok := errors.As(err, &bybitErr)
	return bybitErr, ok
}

// IsAuthenticationError checks if the error is related to authentication
func IsAuthenticationError(err error) bool {
	if bybitErr, ok := asBybitError(err); ok {
		switch bybitErr.Code {
		case ErrCodeInvalidAPIKey, ErrCodeInvalidSignature, ErrCodeInvalidTimestamp:
			return true
		}
	}
	return false
}

// IsInsufficientBalanceError checks if the error is due to insufficient balance
func IsInsufficientBalanceError(err error) bool {
	bybitErr, ok := asBybitError(err)
	return ok && bybitErr.Code == ErrCodeInsufficientBalance
}

// IsRateLimitError checks if the error is due to rate limiting
func IsRateLimitError(err error) bool {
	bybitErr, ok := asBybitError(err)
	return ok && bybitErr.Code == ErrCodeRateLimitExceeded
}

// IsNotModified reports the codes Bybit returns when a setting already has the requested value
func IsNotModified(err error) bool {
	bybitErr, ok := asBybitError(err)
	return ok && (bybitErr.Code == ErrCodeLeverageNotModified || bybitErr.Code == ErrCodeTradingStopNotModified)
}

// NewBybitError creates a new BybitError
func NewBybitError(code int, message string, details ...string) *BybitError {
	err := &BybitError{
		Code:    code,
		Message: message,
	}
	if len(details) > 0 {
		err.Details = details[0]
	}
	return err
}

// ParseAPIError extracts error information from the API response
func ParseAPIError(retCode int, retMsg string) error {
	if retCode == 0 {
		return nil
	}
	return NewBybitError(retCode, retMsg)
}
