// Package resilience keeps the arena talking when a provider misbehaves.
//
// Every provider backend gets a [CircuitBreaker]: after repeated failures the
// backend is skipped for a while and then probed again. A [FallbackGroup]
// tries a primary backend and its configured fallbacks in order, skipping
// those whose breaker is open. [LLMFallback] and [TTSFallback] apply this to
// the language-model and speech gateways.
//
// A cancelled call is never counted as a failure and never fails over.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/prophet/pkg/apierr"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has passed since the last failure.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successful probes close the breaker; one failure opens it again.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker defaults, used for zero config values.
const (
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
	DefaultHalfOpenMax  = 3
)

// CircuitBreakerConfig tunes a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines and transition callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that open the breaker.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before probing.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probes let through, and the number of
	// successful probes needed to close again.
	HalfOpenMax int

	// OnStateChange, when set, is called after every transition. It runs
	// outside the breaker's lock.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker is a three-state breaker. It is safe for concurrent use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probes    int
	probeWins int
}

// NewCircuitBreaker returns a closed breaker. Zero config values take the
// package defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = DefaultHalfOpenMax
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute runs fn unless the breaker rejects the call with [ErrCircuitOpen].
// Errors classified by [apierr.IsCancellation] leave the breaker untouched.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.acquire()
	if err != nil {
		return err
	}
	err = fn()
	cb.release(probe, err)
	return err
}

// acquire admits a call. probe reports whether it counts against the
// half-open budget.
func (cb *CircuitBreaker) acquire() (probe bool, err error) {
	cb.mu.Lock()
	var notify func()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		cb.probes, cb.probeWins = 0, 0
		notify = cb.setLocked(StateHalfOpen)
	}
	switch cb.state {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMax {
			err = ErrCircuitOpen
		} else {
			cb.probes++
			probe = true
		}
	}
	cb.mu.Unlock()

	if notify != nil {
		notify()
	}
	return probe, err
}

// release records the outcome of an admitted call.
func (cb *CircuitBreaker) release(probe bool, err error) {
	cb.mu.Lock()
	var notify func()
	switch {
	case apierr.IsCancellation(err):
		if probe {
			cb.probes--
		}
	case err != nil:
		cb.openedAt = cb.now()
		cb.failures++
		// A stale probe may finish after the breaker already moved on.
		if (probe && cb.state == StateHalfOpen) || (cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures) {
			notify = cb.setLocked(StateOpen)
		}
	default:
		if cb.state == StateClosed {
			cb.failures = 0
		} else if probe && cb.state == StateHalfOpen {
			cb.probeWins++
			if cb.probeWins >= cb.cfg.HalfOpenMax {
				cb.failures = 0
				notify = cb.setLocked(StateClosed)
			}
		}
	}
	cb.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// setLocked switches to state and returns the notification to run once the
// lock is released. Must be called with cb.mu held.
func (cb *CircuitBreaker) setLocked(to State) func() {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to

	name, failures := cb.cfg.Name, cb.failures
	hook := cb.cfg.OnStateChange
	return func() {
		if to == StateOpen {
			slog.Warn("circuit breaker opened", "name", name, "from", from.String(), "consecutive_failures", failures)
		} else {
			slog.Info("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		}
		if hook != nil {
			hook(name, from, to)
		}
	}
}

// State returns the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.failures, cb.probes, cb.probeWins = 0, 0, 0
	notify := cb.setLocked(StateClosed)
	cb.mu.Unlock()

	if notify != nil {
		notify()
	}
}
