package webhook

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kjstillabower/planthub-poller/internal/circuitbreaker"
)

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"auth", &Error{Kind: KindAuth, StatusCode: 401}, ErrorCategoryAuth},
		{"not found", &Error{Kind: KindNotFound, StatusCode: 404}, ErrorCategoryNotFound},
		{"rate limited", &Error{Kind: KindRateLimit, StatusCode: 429}, ErrorCategoryRateLimited},
		{"5xx", &Error{Kind: KindConnection, StatusCode: 503}, ErrorCategoryUpstream5xx},
		{"timeout", &Error{Kind: KindConnection, Err: context.DeadlineExceeded}, ErrorCategoryTimeout},
		{"circuit open", &Error{Kind: KindConnection, Err: circuitbreaker.ErrOpen}, ErrorCategoryCircuitOpen},
		{"network", &Error{Kind: KindConnection, Err: errors.New("dial tcp: connection refused")}, ErrorCategoryNetwork},
		{"unexpected status", &Error{Kind: KindWebhook, StatusCode: 418}, ErrorCategoryUnexpected},
		{"malformed", &Error{Kind: KindWebhook, Msg: "malformed response"}, ErrorCategoryMalformed},
		{"wrapped", fmt.Errorf("cycle: %w", &Error{Kind: KindAuth}), ErrorCategoryAuth},
		{"bare deadline", context.DeadlineExceeded, ErrorCategoryTimeout},
		{"foreign", errors.New("boom"), ErrorCategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategorizeError(tt.err); got != tt.want {
				t.Errorf("CategorizeError() = %q, want %q", got, tt.want)
			}
		})
	}
}
