package providers

import (
	"context"
	"errors"
	"fmt"
	"testing"

	openai "github.com/openai/openai-go"
)

func TestErrorReasonIsRetryable(t *testing.T) {
	tests := []struct {
		reason   ErrorReason
		expected bool
	}{
		{ReasonRateLimit, true},
		{ReasonTimeout, true},
		{ReasonServerError, true},
		{ReasonBilling, false},
		{ReasonAuth, false},
		{ReasonInvalidRequest, false},
		{ReasonModelUnavailable, false},
		{ReasonCanceled, false},
		{ReasonUnknown, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			if got := tt.reason.IsRetryable(); got != tt.expected {
				t.Errorf("ErrorReason(%q).IsRetryable() = %v, want %v", tt.reason, got, tt.expected)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorReason
	}{
		{"nil error", nil, ReasonUnknown},
		{"canceled", context.Canceled, ReasonCanceled},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ReasonTimeout},
		{"timeout text", errors.New("request timeout"), ReasonTimeout},
		{"rate limit", errors.New("rate limit exceeded"), ReasonRateLimit},
		{"429 status", errors.New("HTTP 429"), ReasonRateLimit},
		{"unauthorized", errors.New("unauthorized"), ReasonAuth},
		{"quota", errors.New("insufficient_quota"), ReasonBilling},
		{"previous response", errors.New("previous_response_not_found"), ReasonModelUnavailable},
		{"connection reset", errors.New("read: connection reset by peer"), ReasonServerError},
		{"500 status", errors.New("HTTP 500"), ReasonServerError},
		{"provider error", &ProviderError{Reason: ReasonAuth}, ReasonAuth},
		{"wrapped provider error", fmt.Errorf("x: %w", &ProviderError{Reason: ReasonRateLimit}), ReasonRateLimit},
		{"unknown", errors.New("something went wrong"), ReasonUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.expected {
				t.Errorf("ClassifyError(%v) = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}

func TestNewProviderErrorFromAPIError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   string
		want   ErrorReason
	}{
		{"rate limited", 429, "rate_limit_exceeded", ReasonRateLimit},
		{"quota reported as 429", 429, "insufficient_quota", ReasonBilling},
		{"bad key", 401, "invalid_api_key", ReasonAuth},
		{"bad request", 400, "", ReasonInvalidRequest},
		{"unknown previous response", 400, "previous_response_not_found", ReasonModelUnavailable},
		{"server", 503, "", ReasonServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := &openai.Error{StatusCode: tt.status, Code: tt.code, Message: "upstream says no"}
			err := NewProviderError("openai", "gpt-5", apiErr)
			if err.Reason != tt.want {
				t.Errorf("Reason = %q, want %q", err.Reason, tt.want)
			}
			if err.Status != tt.status {
				t.Errorf("Status = %d, want %d", err.Status, tt.status)
			}
			if !errors.Is(err, apiErr) {
				t.Error("ProviderError should unwrap to the API error")
			}
		})
	}
}

func TestProviderErrorMessage(t *testing.T) {
	err := &ProviderError{
		Reason:   ReasonRateLimit,
		Provider: "openai",
		Model:    "gpt-5",
		Status:   429,
		Code:     "rate_limit_exceeded",
		Message:  "slow down",
	}
	want := "[rate_limit] openai model=gpt-5 status=429 code=rate_limit_exceeded slow down"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
