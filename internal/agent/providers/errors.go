package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go"
)

// ErrorReason categorizes why a model request failed.
// It drives the retry decision of the adapters.
type ErrorReason string

const (
	// ReasonRateLimit indicates rate limiting (HTTP 429)
	ReasonRateLimit ErrorReason = "rate_limit"

	// ReasonAuth indicates authentication failure (HTTP 401, 403)
	ReasonAuth ErrorReason = "auth"

	// ReasonBilling indicates payment/quota issues (HTTP 402 or insufficient_quota)
	ReasonBilling ErrorReason = "billing"

	// ReasonTimeout indicates the request timed out
	ReasonTimeout ErrorReason = "timeout"

	// ReasonServerError indicates server-side issues (HTTP 5xx)
	ReasonServerError ErrorReason = "server_error"

	// ReasonInvalidRequest indicates client-side issues (HTTP 400, 422)
	ReasonInvalidRequest ErrorReason = "invalid_request"

	// ReasonModelUnavailable indicates the model or previous response does not exist
	ReasonModelUnavailable ErrorReason = "model_unavailable"

	// ReasonCanceled indicates the caller gave up
	ReasonCanceled ErrorReason = "canceled"

	// ReasonUnknown indicates an unclassified error
	ReasonUnknown ErrorReason = "unknown"
)

// IsRetryable returns true if retrying the same request may succeed.
func (r ErrorReason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError:
		return true
	default:
		return false
	}
}

// ProviderError represents a structured error from the model endpoint.
type ProviderError struct {
	// Reason categorizes the error for retry logic
	Reason ErrorReason

	// Provider is the name of the provider (e.g., "openai")
	Provider string

	// Model is the model that was requested
	Model string

	// Status is the HTTP status code, if applicable
	Status int

	// Code is the provider-specific error code
	Code string

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError wraps cause, classifying it from the OpenAI API error
// when there is one and from the error text otherwise.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   ReasonUnknown,
	}
	if cause == nil {
		return err
	}

	var apiErr *openai.Error
	if errors.As(cause, &apiErr) {
		err.Status = apiErr.StatusCode
		err.Code = apiErr.Code
		err.Message = apiErr.Message
		err.Reason = classifyStatusCode(apiErr.StatusCode)
		if reason := classifyErrorCode(apiErr.Code); reason != ReasonUnknown {
			err.Reason = reason
		}
		if err.Message == "" {
			err.Message = http.StatusText(apiErr.StatusCode)
		}
		return err
	}

	err.Message = cause.Error()
	err.Reason = ClassifyError(cause)
	return err
}

// ClassifyError inspects an error and returns the appropriate ErrorReason.
func ClassifyError(err error) ErrorReason {
	if err == nil {
		return ReasonUnknown
	}
	if errors.Is(err, context.Canceled) {
		return ReasonCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Reason
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case containsAny(errStr, "timeout", "deadline exceeded", "etimedout"):
		return ReasonTimeout
	case containsAny(errStr, "rate limit", "rate_limit", "too many requests", "429"):
		return ReasonRateLimit
	case containsAny(errStr, "unauthorized", "invalid api key", "invalid_api_key", "401", "403"):
		return ReasonAuth
	case containsAny(errStr, "insufficient_quota", "billing", "402"):
		return ReasonBilling
	case containsAny(errStr, "model_not_found", "model not found", "previous_response_not_found"):
		return ReasonModelUnavailable
	case containsAny(errStr, "connection reset", "connection refused", "eof", "internal server", "server error", "500", "502", "503", "504"):
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

// IsRetryable checks if an error should be retried.
func IsRetryable(err error) bool {
	return ClassifyError(err).IsRetryable()
}

func classifyStatusCode(status int) ErrorReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusRequestTimeout:
		return ReasonTimeout
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return ReasonInvalidRequest
	case status == http.StatusNotFound:
		return ReasonModelUnavailable
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

func classifyErrorCode(code string) ErrorReason {
	switch strings.ToLower(code) {
	case "rate_limit_exceeded":
		return ReasonRateLimit
	case "invalid_api_key":
		return ReasonAuth
	case "insufficient_quota":
		return ReasonBilling
	case "model_not_found", "previous_response_not_found":
		return ReasonModelUnavailable
	case "server_error":
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
