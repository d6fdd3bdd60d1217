// Package retry provides the bridge's backoff policies on top of
// github.com/cenkalti/backoff/v5.
//
// The exponential schedule comes from backoff.ExponentialBackOff with its
// own randomization disabled; FullJitter then draws each wait uniformly
// from [0, interval], which spreads reconnect storms better than the
// library's proportional jitter.
package retry

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// FullJitter is a backoff.BackOff producing exponentially growing,
// fully jittered intervals capped at a maximum.
type FullJitter struct {
	mu    sync.Mutex
	exp   *backoff.ExponentialBackOff
	int63 func(n int64) int64
}

// NewFullJitter returns a schedule starting at base and doubling up to max.
func NewFullJitter(base, max time.Duration) *FullJitter {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = base
	exp.MaxInterval = max
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.Reset()

	return &FullJitter{exp: exp, int63: rand.Int64N}
}

// NextBackOff returns the next wait: uniform in [0, min(max, base*2^n)].
func (f *FullJitter) NextBackOff() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()

	d := f.exp.NextBackOff()
	if d == backoff.Stop || d <= 0 {
		return d
	}
	return time.Duration(f.int63(int64(d) + 1))
}

// Reset restarts the schedule at base.
func (f *FullJitter) Reset() {
	f.mu.Lock()
	f.exp.Reset()
	f.mu.Unlock()
}

// Policy bounds a retried operation.
type Policy struct {
	Base time.Duration
	Max  time.Duration

	// MaxElapsed stops retrying once exceeded. Zero retries until ctx ends.
	MaxElapsed time.Duration
}

// Notify is called after each failed attempt with the error and the wait
// before the next attempt.
type Notify func(err error, wait time.Duration)

// Permanent marks err as not worth retrying; Do returns it unwrapped.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a Permanent error, ctx ends or the
// policy's MaxElapsed is exceeded.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error, notify Notify) error {
	opts := []backoff.RetryOption{
		backoff.WithBackOff(NewFullJitter(p.Base, p.Max)),
		backoff.WithMaxElapsedTime(p.MaxElapsed),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(backoff.Notify(notify)))
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
	return err
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
