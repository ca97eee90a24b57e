// Package fetch dispatches provider calls through per-provider-class
// limiters with classified retries.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"marketpulse/internal/domain"
	"marketpulse/internal/util"
)

// LaneConfig is the budget of one provider class.
type LaneConfig struct {
	MaxConcurrent  int
	MinTime        time.Duration
	RequestTimeout time.Duration
	Retry          util.RetryPolicy
}

type lane struct {
	limiter *util.Limiter
	cfg     LaneConfig
}

// Fetcher owns the process-wide limiter state for every provider class.
type Fetcher struct {
	lanes map[domain.ProviderClass]*lane
	log   *slog.Logger
}

// New creates a Fetcher with one lane per configured provider class.
func New(cfg map[domain.ProviderClass]LaneConfig, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	f := &Fetcher{
		lanes: make(map[domain.ProviderClass]*lane, len(cfg)),
		log:   log.With("component", "fetcher"),
	}
	for class, c := range cfg {
		f.lanes[class] = &lane{limiter: util.NewLimiter(c.MaxConcurrent, c.MinTime), cfg: c}
	}
	return f
}

// Do runs fn through the lane of class. Every attempt, successful or not,
// takes one limiter slot and gets its own request timeout. Failures are
// retried according to the lane's policy; the final error is returned.
func (f *Fetcher) Do(ctx context.Context, class domain.ProviderClass, op string, fn func(ctx context.Context) error) error {
	ln, ok := f.lanes[class]
	if !ok {
		return fmt.Errorf("fetch %s: no lane for provider class %q", op, class)
	}

	attempt := 0
	call := func() error {
		attempt++
		release, err := ln.limiter.Acquire(ctx)
		if err != nil {
			// Shutdown: give up without further retries.
			return fmt.Errorf("%w: %w", domain.ErrPermanent, err)
		}
		defer release()

		rctx := ctx
		if ln.cfg.RequestTimeout > 0 {
			var cancel context.CancelFunc
			rctx, cancel = context.WithTimeout(ctx, ln.cfg.RequestTimeout)
			defer cancel()
		}
		err = fn(rctx)
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			// The request timed out, not the caller.
			err = fmt.Errorf("%w: %w", domain.ErrTransient, err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		f.log.Warn("retrying provider call",
			"class", class,
			"op", op,
			"attempt", attempt,
			"wait", wait,
			"rate_limited", errors.Is(err, domain.ErrRateLimited),
			"error", err,
		)
	}

	return util.Retry(ctx, ln.cfg.Retry, call, notify)
}

// Fetch is Do for calls that produce a value.
func Fetch[T any](ctx context.Context, f *Fetcher, class domain.ProviderClass, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := f.Do(ctx, class, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
