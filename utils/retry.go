package utils

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
)

// RetryOnce runs fn and, if it fails with an error for which retryable
// returns true, runs it exactly one more time after wait. A nil retryable
// retries every error. A context cancelled during the wait ends the retry
// with the context error.
func RetryOnce(ctx context.Context, wait time.Duration, retryable func(error) bool, fn func(context.Context) error) error {
	if retryable == nil {
		retryable = func(error) bool { return true }
	}
	return retry.Do(
		func() error { return fn(ctx) },
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(wait),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(retryable),
		retry.LastErrorOnly(true),
	)
}
