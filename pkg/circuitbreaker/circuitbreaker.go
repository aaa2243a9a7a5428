// Package circuitbreaker guards optional dependencies (the leaderboard cache)
// so that a failing dependency is skipped instead of slowing every call.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the position of a CircuitBreaker: closed lets calls through,
// open rejects them, half-open lets a single trial call through.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// ErrCircuitOpen is returned without calling fn while the breaker is open
// or while its single half-open trial call is in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type settings struct {
	threshold int
	cooldown  time.Duration
	onChange  func(name string, from, to State)
	now       func() time.Time
}

// Option configures New.
type Option func(*settings)

// WithFailureThreshold opens the breaker after n consecutive failures.
func WithFailureThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.threshold = n
		}
	}
}

// WithOpenTimeout is how long the breaker rejects calls before probing.
func WithOpenTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.cooldown = d
		}
	}
}

// WithOnStateChange registers fn to be called on every transition. It runs
// under the breaker's lock and must not call back into the breaker.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(s *settings) { s.onChange = fn }
}

// WithClock replaces time.Now, so tests can step over the open timeout.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// CircuitBreaker counts consecutive failures. Once open it lets exactly one
// trial call through after the cooldown; its outcome closes or reopens it.
type CircuitBreaker struct {
	name string
	set  settings

	mu       sync.Mutex
	state    State
	failures int
	until    time.Time
}

// New returns a closed breaker. Without options it opens after 5
// consecutive failures and stays open for 30s.
func New(name string, opts ...Option) *CircuitBreaker {
	s := settings{threshold: 5, cooldown: 30 * time.Second, now: time.Now}
	for _, opt := range opts {
		opt(&s)
	}
	return &CircuitBreaker{name: name, set: s}
}

// CacheBreaker opens after three failures and tries again after 15s; the
// store behind the cache stays the source of truth meanwhile.
func CacheBreaker(onChange func(name string, from, to State)) *CircuitBreaker {
	return New("leaderboard-cache",
		WithFailureThreshold(3),
		WithOpenTimeout(15*time.Second),
		WithOnStateChange(onChange),
	)
}

// Execute runs fn unless the circuit is open. A canceled context is the
// caller giving up and does not count against the dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.admit() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	cb.settle(err == nil || errors.Is(err, context.Canceled))
	return err
}

// State returns the current state without admitting a call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.set.now().Before(cb.until) {
			return false
		}
		cb.moveTo(StateHalfOpen)
		return true
	default:
		// trial call already in flight
		return false
	}
}

func (cb *CircuitBreaker) settle(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if ok {
		cb.failures = 0
		cb.moveTo(StateClosed)
		return
	}
	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.set.threshold {
		cb.failures = 0
		cb.until = cb.set.now().Add(cb.set.cooldown)
		cb.moveTo(StateOpen)
	}
}

func (cb *CircuitBreaker) moveTo(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.set.onChange != nil {
		cb.set.onChange(cb.name, from, to)
	}
}
