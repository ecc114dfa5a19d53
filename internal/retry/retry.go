// Package retry provides a bounded retry-with-backoff combinator for
// ledger calls. The caller supplies a classifier deciding which errors
// are worth another attempt; terminal errors surface immediately.
package retry

import (
	"context"
	"log/slog"
	"time"
)

// Policy bounds the retry loop.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
}

// DefaultPolicy matches the fetch path: three attempts with 1s then 2s
// between them.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Multiplier:   2,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}

	if p.Multiplier < 1 {
		p.Multiplier = 1
	}

	return p
}

// Classifier reports whether an error is transient and worth retrying.
type Classifier func(error) bool

// Do runs op under the policy, returning the first success or the last
// error once attempts are exhausted, the classifier rules the error
// terminal, or the context ends.
func Do[T any](
	ctx context.Context,
	policy Policy,
	retryable Classifier,
	op func(context.Context) (T, error),
) (T, error) {
	policy = policy.normalized()

	var (
		zero    T
		lastErr error
	)

	delay := policy.InitialDelay

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if retryable != nil && !retryable(err) {
			return zero, err
		}

		if attempt == policy.MaxAttempts {
			break
		}

		slog.Warn("retrying after error",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"delay", delay,
			"err", err,
		)

		err = sleep(ctx, delay)
		if err != nil {
			return zero, err
		}

		delay = time.Duration(float64(delay) * policy.Multiplier)
	}

	return zero, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
