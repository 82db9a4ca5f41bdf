package providers

import (
	"context"

	"github.com/haasonsaas/notesagent/internal/backoff"
)

// BaseProvider holds shared retry configuration for model providers.
type BaseProvider struct {
	name       string
	maxRetries int
	policy     backoff.Policy
}

// NewBaseProvider creates a base provider with sane defaults.
// maxRetries counts attempts after the first one.
func NewBaseProvider(name string, maxRetries int, policy backoff.Policy) BaseProvider {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if policy.Initial <= 0 {
		policy = backoff.DefaultPolicy()
	}
	return BaseProvider{
		name:       name,
		maxRetries: maxRetries,
		policy:     policy,
	}
}

// Name returns the provider identifier used in errors and logs.
func (b *BaseProvider) Name() string {
	return b.name
}

// retry runs op with exponential backoff while it fails with a retryable
// error. After the last attempt the error is joined with
// backoff.ErrMaxAttemptsExhausted; errors.As still reaches the API error.
func retry[T any](ctx context.Context, b *BaseProvider, op func(context.Context) (T, error)) (T, error) {
	return backoff.Retry(ctx, b.policy, b.maxRetries+1, IsRetryable, func(ctx context.Context, _ int) (T, error) {
		return op(ctx)
	})
}
