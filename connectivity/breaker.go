package connectivity

import (
	"context"
	"sync"
	"time"
)

// BreakerState is the circuit state for one service.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // calls pass through
	BreakerOpen                         // calls rejected without dialing
	BreakerHalfOpen                     // limited probes allowed
)

// CircuitBreaker fails fast when a collaborator endpoint stops
// answering. A dead highlight or picker consumer would otherwise stall
// every bridged call behind its dial timeout; once the breaker trips,
// callers get ErrCircuitOpen immediately until a probe succeeds.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	probeWins   int
	tripAfter   int           // consecutive failures that open the circuit
	cooldown    time.Duration // open duration before probing
	probeQuota  int           // probe successes needed to close again
	lastFailure time.Time
	now         func() time.Time
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithBreakerThreshold sets how many consecutive failures open the circuit.
func WithBreakerThreshold(n int) BreakerOption {
	return func(cb *CircuitBreaker) { cb.tripAfter = n }
}

// WithBreakerResetTimeout sets how long the circuit stays open before the
// first probe is allowed.
func WithBreakerResetTimeout(d time.Duration) BreakerOption {
	return func(cb *CircuitBreaker) { cb.cooldown = d }
}

// WithBreakerHalfOpenMax sets how many probe successes close the circuit.
func WithBreakerHalfOpenMax(n int) BreakerOption {
	return func(cb *CircuitBreaker) { cb.probeQuota = n }
}

// WithBreakerClock replaces the wall clock, letting tests drive the
// cooldown without sleeping.
func WithBreakerClock(fn func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = fn }
}

// NewCircuitBreaker returns a closed breaker. Defaults: 5 failures trip
// it, 30s cooldown, 2 probe successes close it.
func NewCircuitBreaker(opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		state:      BreakerClosed,
		tripAfter:  5,
		cooldown:   30 * time.Second,
		probeQuota: 2,
		now:        time.Now,
	}
	for _, o := range opts {
		o(cb)
	}
	return cb
}

// State reports the current circuit state, advancing open to half-open
// when the cooldown has elapsed.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh()
	return cb.state
}

// Allow reports whether the next call may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh()
	return cb.state != BreakerOpen
}

// RecordSuccess feeds a successful call into the state machine.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == BreakerHalfOpen {
		cb.probeWins++
		if cb.probeWins >= cb.probeQuota {
			cb.toClosed()
		}
		return
	}
	if cb.state == BreakerClosed {
		cb.failures = 0
	}
}

// RecordFailure feeds a failed call into the state machine.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.lastFailure = cb.now()
	switch cb.state {
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.tripAfter {
			cb.state = BreakerOpen
		}
	case BreakerHalfOpen:
		// A failed probe restarts the cooldown.
		cb.state = BreakerOpen
		cb.probeWins = 0
	}
}

// Reset forces the circuit closed, clearing all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.toClosed()
}

// refresh moves an open circuit to half-open once the cooldown has
// elapsed. Callers hold mu.
func (cb *CircuitBreaker) refresh() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.lastFailure) >= cb.cooldown {
		cb.state = BreakerHalfOpen
		cb.probeWins = 0
	}
}

func (cb *CircuitBreaker) toClosed() {
	cb.state = BreakerClosed
	cb.failures = 0
	cb.probeWins = 0
}

// WithCircuitBreaker wraps a service handler with cb. Rejected calls
// return ErrCircuitOpen carrying the service name.
func WithCircuitBreaker(cb *CircuitBreaker, service string) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			if !cb.Allow() {
				return nil, &ErrCircuitOpen{Service: service}
			}
			resp, err := next(ctx, payload)
			if err != nil {
				cb.RecordFailure()
			} else {
				cb.RecordSuccess()
			}
			return resp, err
		}
	}
}
