package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/rickgao/realtime-client/internal/api"
)

// DefaultMaxRetries is the number of additional subscribe attempts after the first.
const DefaultMaxRetries = 2

// RetryPolicy bounds subscribe retries.
type RetryPolicy struct {
	MaxAttempts int           // total attempts including the first
	Delay       time.Duration // pause between attempts
}

// DefaultRetryPolicy allows the first attempt plus DefaultMaxRetries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxRetries + 1}
}

// Retryable reports whether a whole-request failure may be retried (any 5xx).
func (p RetryPolicy) Retryable(err error) bool {
	var apiErr *api.APIError
	return errors.As(err, &apiErr) && apiErr.IsRetryable()
}

// CanRetry reports whether another attempt is allowed after attempt (1-based).
func (p RetryPolicy) CanRetry(attempt int) bool {
	return attempt < p.MaxAttempts
}

// wait sleeps for Delay or until ctx is done.
func (p RetryPolicy) wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.Delay):
		return nil
	}
}
