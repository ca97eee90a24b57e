package util

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"marketpulse/internal/domain"
)

// RetryPolicy configures Retry. Delays double on every attempt; the base is
// RateLimitedDelay when the previous attempt failed with
// domain.ErrRateLimited and TransientDelay otherwise.
type RetryPolicy struct {
	MaxRetries       int
	TransientDelay   time.Duration
	RateLimitedDelay time.Duration
}

// DefaultRetryPolicy returns three retries with 2s transient and 61s
// rate-limit bases.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:       3,
		TransientDelay:   2 * time.Second,
		RateLimitedDelay: 61 * time.Second,
	}
}

// Retry calls fn until it succeeds, returns an error wrapping
// domain.ErrPermanent, the retry budget is exhausted, or ctx is done. notify,
// if non-nil, is called before each sleep. The last error is returned.
func Retry(ctx context.Context, p RetryPolicy, fn func() error, notify func(err error, wait time.Duration)) error {
	if p.MaxRetries <= 0 {
		return fn()
	}
	b := &classBackOff{policy: p}

	op := func() error {
		err := fn()
		b.last = err
		if err != nil && errors.Is(err, domain.ErrPermanent) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxRetries)), ctx)
	return backoff.RetryNotify(op, bo, notify)
}

// classBackOff picks the delay base from the class of the last error.
type classBackOff struct {
	policy  RetryPolicy
	attempt int
	last    error
}

func (b *classBackOff) NextBackOff() time.Duration {
	base := b.policy.TransientDelay
	if errors.Is(b.last, domain.ErrRateLimited) {
		base = b.policy.RateLimitedDelay
	}
	d := base << b.attempt
	b.attempt++
	return d
}

func (b *classBackOff) Reset() {
	b.attempt = 0
	b.last = nil
}
