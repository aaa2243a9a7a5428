// Package retry runs an operation again with exponential backoff and jitter.
// Batch units and store connections use it; domain decisions are never retried.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// MARKERS
// ══════════════════════════════════════════════════════════════════════════════

type marked struct {
	err   error
	again bool
}

func (m *marked) Error() string { return m.err.Error() }
func (m *marked) Unwrap() error { return m.err }

// Retryable marks err as worth another attempt under the default policy.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &marked{err: err, again: true}
}

// Permanent marks err so the loop stops at once, whatever the policy says.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &marked{err: err}
}

func marker(err error) (*marked, bool) {
	var m *marked
	ok := errors.As(err, &m)
	return m, ok
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	m, ok := marker(err)
	return ok && m.again
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	m, ok := marker(err)
	return ok && !m.again
}

func strip(err error) error {
	if m, ok := marker(err); ok {
		return m.err
	}
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// POLICY
// ══════════════════════════════════════════════════════════════════════════════

// Policy describes how often and how long to wait between attempts.
type Policy struct {
	Attempts int           // including the first call
	Base     time.Duration // wait before the second call
	Cap      time.Duration
	Factor   float64
	Jitter   float64 // fraction of the wait, in [0,1]

	// ShouldRetry overrides the marker check when set.
	ShouldRetry func(error) bool
	OnRetry     func(attempt int, err error, wait time.Duration)
}

// Option adjusts a Policy.
type Option func(*Policy)

func WithMaxAttempts(n int) Option {
	return func(p *Policy) {
		if n > 0 {
			p.Attempts = n
		}
	}
}

func WithInitialDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d >= 0 {
			p.Base = d
		}
	}
}

func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.Cap = d
		}
	}
}

// WithRetryIf replaces the marker check with fn.
func WithRetryIf(fn func(error) bool) Option {
	return func(p *Policy) { p.ShouldRetry = fn }
}

// WithOnRetry registers a hook called before each wait.
func WithOnRetry(fn func(attempt int, err error, wait time.Duration)) Option {
	return func(p *Policy) { p.OnRetry = fn }
}

// Retrier applies one Policy.
type Retrier struct {
	policy Policy
}

// New starts from 3 attempts, 100ms doubling up to 5s with 10% jitter.
func New(opts ...Option) *Retrier {
	return (&Retrier{policy: Policy{
		Attempts: 3,
		Base:     100 * time.Millisecond,
		Cap:      5 * time.Second,
		Factor:   2,
		Jitter:   0.1,
	}}).With(opts...)
}

// With returns a copy with opts applied on top.
func (r *Retrier) With(opts ...Option) *Retrier {
	p := r.policy
	for _, opt := range opts {
		opt(&p)
	}
	return &Retrier{policy: p}
}

// BatchUnitRetrier is tuned for one per-learner unit of a batch pass.
func BatchUnitRetrier(attempts int) *Retrier {
	return &Retrier{policy: Policy{
		Attempts: max(1, attempts),
		Base:     200 * time.Millisecond,
		Cap:      3 * time.Second,
		Factor:   2,
		Jitter:   0.2,
	}}
}

// ══════════════════════════════════════════════════════════════════════════════
// EXECUTION
// ══════════════════════════════════════════════════════════════════════════════

// Do calls op until it succeeds, the policy gives up or ctx ends. The
// returned error never carries a Retryable or Permanent marker.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	wait := r.policy.Base
	var last error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return strip(last)
			}
			return err
		}

		last = op(ctx)
		if last == nil {
			return nil
		}
		if attempt >= r.policy.Attempts || !r.again(last) {
			return strip(last)
		}

		d := r.jittered(wait)
		if r.policy.OnRetry != nil {
			r.policy.OnRetry(attempt, last, d)
		}

		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return strip(last)
		case <-t.C:
		}
		wait = min(time.Duration(float64(wait)*r.policy.Factor), r.policy.Cap)
	}
}

func (r *Retrier) again(err error) bool {
	if IsPermanent(err) {
		return false
	}
	if r.policy.ShouldRetry != nil {
		return r.policy.ShouldRetry(err)
	}
	return IsRetryable(err)
}

func (r *Retrier) jittered(d time.Duration) time.Duration {
	if r.policy.Jitter <= 0 {
		return d
	}
	spread := float64(d) * r.policy.Jitter
	return max(0, d+time.Duration(spread*(2*rand.Float64()-1)))
}

// Do runs op with a Retrier built from opts.
func Do(ctx context.Context, op func(ctx context.Context) error, opts ...Option) error {
	return New(opts...).Do(ctx, op)
}

// DoWithData is Do for operations that produce a value.
func DoWithData[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var out T
	err := New(opts...).Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}
