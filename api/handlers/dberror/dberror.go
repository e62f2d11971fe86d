// Package dberror classifies storage errors so handlers can tell outages from bad requests.
package dberror

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorType classifies database errors for appropriate handling.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeConnectivity indicates the database is unreachable.
	ErrorTypeConnectivity
	ErrorTypeTimeout
	// ErrorTypeConflict indicates a serialization failure or deadlock; the transaction can be
	// retried as is.
	ErrorTypeConflict
	ErrorTypeAuth
)

// IsTransient returns true if the error is likely transient and worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch Classify(err) {
	case ErrorTypeConnectivity, ErrorTypeTimeout, ErrorTypeConflict:
		return true
	default:
		return false
	}
}

func classifyPgCode(code string) ErrorType {
	switch {
	case strings.HasPrefix(code, "08"), code == "57P01", code == "57P02", code == "57P03", code == "53300":
		return ErrorTypeConnectivity
	case code == "40001", code == "40P01":
		return ErrorTypeConflict
	case code == "57014":
		return ErrorTypeTimeout
	case strings.HasPrefix(code, "28"):
		return ErrorTypeAuth
	}
	return ErrorTypeUnknown
}

var connectivityPatterns = []string{
	"connection refused",
	"connection reset",
	"connection closed",
	"conn closed",
	"no such host",
	"dial tcp",
	"broken pipe",
	"network is unreachable",
	"no route to host",
	"closed pool",
	"unexpected eof",
}

var timeoutPatterns = []string{
	"i/o timeout",
	"timeout",
	"timed out",
}

// Classify determines the type of database error.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyPgCode(pgErr.Code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeConnectivity
	}
	if pgconn.Timeout(err) {
		return ErrorTypeTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, p := range connectivityPatterns {
		if strings.Contains(msg, p) {
			return ErrorTypeConnectivity
		}
	}
	for _, p := range timeoutPatterns {
		if strings.Contains(msg, p) {
			return ErrorTypeTimeout
		}
	}
	return ErrorTypeUnknown
}

// UserMessage returns a user-facing message for err.
func UserMessage(err error) string {
	switch Classify(err) {
	case ErrorTypeConnectivity:
		return "Storage temporarily unavailable. Please try again in a moment."
	case ErrorTypeTimeout:
		return "Request timed out. Please try again."
	case ErrorTypeConflict:
		return "The distribution was modified concurrently. Please retry."
	case ErrorTypeAuth:
		return "Storage authentication error. Please contact support."
	default:
		return "An unexpected error occurred. Please try again."
	}
}

// RetryConfig holds configuration for retry behavior.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  time.Second,
	}
}

// Retry executes fn again for transient errors. Only use it for reads; mutations that may
// have moved tokens must not be replayed.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := min(cfg.BaseBackoff*time.Duration(1<<uint(attempt-1)), cfg.MaxBackoff)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return zero, err
		}
	}
	return zero, lastErr
}
