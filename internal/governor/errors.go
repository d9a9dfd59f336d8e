// Package governor defines typed errors for governed upstream access.
package governor

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents a typed error code.
type ErrorCode string

const (
	CodeInvalidInput       ErrorCode = "INVALID_INPUT"
	CodeInsufficientBudget ErrorCode = "INSUFFICIENT_BUDGET"
	CodeRateLimitTimeout   ErrorCode = "RATE_LIMIT_TIMEOUT"
	CodeCircuitOpen        ErrorCode = "CIRCUIT_OPEN"
	CodeUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	CodeCacheCorrupt       ErrorCode = "CACHE_CORRUPT"
	CodeUnauthorized       ErrorCode = "UNAUTHORIZED"
)

// AppError is a typed application error.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error returns the error message.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Wrap creates a new AppError.
func Wrap(code ErrorCode, msg string, err error) error {
	return &AppError{Code: code, Message: msg, Err: err}
}

// ErrInvalidInput indicates validation failures.
var ErrInvalidInput = &AppError{Code: CodeInvalidInput, Message: "invalid input"}

// BudgetError reports a request rejected before spending because the
// tracked credit balance cannot cover the estimated cost.
type BudgetError struct {
	Current  int64
	Required int64
	Deficit  int64
}

// Error returns the error message.
func (e *BudgetError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("insufficient budget: have %d credits, need %d (deficit %d)", e.Current, e.Required, e.Deficit)
}

// RateLimitError reports a token acquisition that would exceed the
// configured maximum wait.
type RateLimitError struct {
	Cost    int64
	Wait    time.Duration
	MaxWait time.Duration
}

// Error returns the error message.
func (e *RateLimitError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("rate limit timeout: acquiring %d tokens needs %s, max wait is %s", e.Cost, e.Wait, e.MaxWait)
}

// CircuitError reports a request rejected by an open circuit breaker.
type CircuitError struct {
	RetryAfter time.Duration
}

// Error returns the error message.
func (e *CircuitError) Error() string {
	if e == nil {
		return ""
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("circuit open: retry after %s", e.RetryAfter)
	}
	return "circuit open: recovery probe in flight"
}

// UpstreamError reports a failed call to the metered upstream API.
type UpstreamError struct {
	Operation string
	Status    int
	Err       error
}

// Error returns the error message.
func (e *UpstreamError) Error() string {
	if e == nil {
		return ""
	}
	if e.Status != 0 {
		return fmt.Sprintf("upstream %s failed: status %d", e.Operation, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("upstream %s failed: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("upstream %s failed", e.Operation)
}

// Unwrap returns the underlying error.
func (e *UpstreamError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// CacheCorruptError reports an undecodable cache entry. The cache layer
// logs it, invalidates the entry, and treats the read as a miss; it is
// never returned to API callers.
type CacheCorruptError struct {
	Tier string
	Key  string
	Err  error
}

// Error returns the error message.
func (e *CacheCorruptError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("corrupt cache entry in %s tier for key %q: %v", e.Tier, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *CacheCorruptError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// CodeOf returns the ErrorCode for an error.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var budgetErr *BudgetError
	if errors.As(err, &budgetErr) {
		return CodeInsufficientBudget
	}
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return CodeRateLimitTimeout
	}
	var circuitErr *CircuitError
	if errors.As(err, &circuitErr) {
		return CodeCircuitOpen
	}
	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		return CodeUpstreamError
	}
	var corruptErr *CacheCorruptError
	if errors.As(err, &corruptErr) {
		return CodeCacheCorrupt
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
