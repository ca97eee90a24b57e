package util

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds calls to an upstream provider by two budgets: at most
// maxConcurrent calls in flight, and at least minTime between the starts of
// consecutive calls. A Limiter is safe for concurrent use and is meant to be
// shared by every caller of the same provider.
type Limiter struct {
	sem     *semaphore.Weighted
	minTime time.Duration

	mu   sync.Mutex
	next time.Time // earliest start of the next dispatch
}

// NewLimiter creates a Limiter. maxConcurrent below 1 is treated as 1.
func NewLimiter(maxConcurrent int, minTime time.Duration) *Limiter {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Limiter{
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		minTime: minTime,
	}
}

// Acquire blocks until both budgets admit one more call, or ctx is done.
// On success the caller must invoke release when the call has finished.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	now := time.Now()
	start := l.reserve(now)
	if wait := start.Sub(now); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			l.unreserve(start)
			l.sem.Release(1)
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() { once.Do(func() { l.sem.Release(1) }) }, nil
}

// reserve books the next dispatch slot and returns its start time.
func (l *Limiter) reserve(now time.Time) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := now
	if l.next.After(start) {
		start = l.next
	}
	l.next = start.Add(l.minTime)
	return start
}

// unreserve gives back a slot booked at start that was never used. Only the
// most recent booking can be returned; earlier ones are already spaced
// against later callers.
func (l *Limiter) unreserve(start time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.next.Equal(start.Add(l.minTime)) {
		l.next = start
	}
}

// Do runs fn under the limiter.
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	release, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}
