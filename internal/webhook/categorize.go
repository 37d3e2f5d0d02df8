package webhook

import (
	"context"
	"errors"

	"github.com/kjstillabower/planthub-poller/internal/circuitbreaker"
)

// ErrorCategory is a stable label for error classification in metrics and logs.
type ErrorCategory string

const (
	ErrorCategoryTimeout     ErrorCategory = "timeout"
	ErrorCategoryNetwork     ErrorCategory = "network"
	ErrorCategoryCircuitOpen ErrorCategory = "circuit_open"
	ErrorCategoryAuth        ErrorCategory = "auth"
	ErrorCategoryNotFound    ErrorCategory = "not_found"
	ErrorCategoryRateLimited ErrorCategory = "rate_limited"
	ErrorCategoryUpstream5xx ErrorCategory = "upstream_5xx"
	ErrorCategoryMalformed   ErrorCategory = "malformed"
	ErrorCategoryUnexpected  ErrorCategory = "unexpected_status"
	ErrorCategoryUnknown     ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	var we *Error
	if !errors.As(err, &we) {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrorCategoryTimeout
		}
		return ErrorCategoryUnknown
	}

	switch we.Kind {
	case KindAuth:
		return ErrorCategoryAuth
	case KindNotFound:
		return ErrorCategoryNotFound
	case KindRateLimit:
		return ErrorCategoryRateLimited
	case KindConnection:
		switch {
		case we.StatusCode >= 500:
			return ErrorCategoryUpstream5xx
		case errors.Is(err, circuitbreaker.ErrOpen):
			return ErrorCategoryCircuitOpen
		case errors.Is(err, context.DeadlineExceeded):
			return ErrorCategoryTimeout
		default:
			return ErrorCategoryNetwork
		}
	default:
		if we.StatusCode != 0 {
			return ErrorCategoryUnexpected
		}
		return ErrorCategoryMalformed
	}
}
