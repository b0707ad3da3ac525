package operations

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
)

// RetryPolicy defines the arguments to control the retry behavior of a wrapped handler.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts uint
	// Delay is the fixed pause between attempts.
	Delay time.Duration
	// OnRetry is called before every new attempt. Optional.
	OnRetry func(attempt uint, err error)
}

// options returns the 'avast/retry' functional options for the retry policy.
func (p RetryPolicy) options(ctx context.Context) []retry.Option {
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(p.MaxAttempts),
		retry.Delay(p.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	}
	if p.OnRetry != nil {
		opts = append(opts, retry.OnRetry(p.OnRetry))
	}

	return opts
}

// Retry wraps a handler so that failed invocations are attempted again according to policy.
//
// The executor itself never retries. Callers opt in per operation when the handler is known
// to be safe to repeat, typically for network bound operations such as git_clone.
// A policy with fewer than two attempts returns h unchanged.
func Retry(h Handler, policy RetryPolicy) Handler {
	if policy.MaxAttempts < 2 {
		return h
	}

	return HandlerFunc(func(ctx context.Context, args Args) (Result, error) {
		var last Result
		res, err := retry.DoWithData(
			func() (Result, error) {
				r, err := h.Invoke(ctx, args)
				last = r

				return r, err
			},
			policy.options(ctx)...,
		)
		if err != nil {
			return last, err
		}

		return res, nil
	})
}

// Unrecoverable marks err so a Retry wrapped handler stops retrying immediately.
func Unrecoverable(err error) error {
	return retry.Unrecoverable(err)
}
