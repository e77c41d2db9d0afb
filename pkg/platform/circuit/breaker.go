// Package circuit provides a failure-tracking gate for degraded dependencies.
// Callers ask Allow before attempting the guarded capability and report the
// outcome exactly once via RecordSuccess or RecordFailure.
package circuit

import (
	"sync"
	"time"
)

// State is the breaker's position in its lifecycle.
type State string

const (
	// StateClosed: normal operation, failures are counted.
	StateClosed State = "CLOSED"
	// StateOpen: all calls short-circuit to fallback until the cooldown elapses.
	StateOpen State = "OPEN"
	// StateHalfOpen: cooldown elapsed, exactly one probe call is permitted.
	StateHalfOpen State = "HALF_OPEN"
)

// Status is a read-only snapshot of breaker state for health reporting.
type Status struct {
	Name                string        `json:"name"`
	State               State         `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	FailureThreshold    int           `json:"failure_threshold"`
	Cooldown            time.Duration `json:"cooldown"`
	OpenedAt            *time.Time    `json:"opened_at,omitempty"`
}

// Breaker guards one capability. Closed counts consecutive failures and opens
// at the threshold; open short-circuits until the cooldown elapses; half-open
// admits a single probe, serialized so concurrent callers during recovery are
// forced to the fallback rather than flooding the dependency.
type Breaker struct {
	mu sync.Mutex

	name             string
	failureThreshold int
	cooldown         time.Duration
	now              func() time.Time

	state         State
	failures      int
	openedAt      time.Time
	probeInFlight bool
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets how many consecutive failures open the circuit.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithCooldown sets how long the circuit stays open before probing.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a closed breaker for the named capability.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: 3,
		cooldown:         30 * time.Second,
		now:              time.Now,
		state:            StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether the caller may attempt the guarded capability.
// When the cooldown has elapsed the breaker moves to half-open and admits
// exactly one probe; every other caller gets false until that probe reports.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = StateHalfOpen
		b.probeInFlight = true
		return true
	case StateHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	}
	return false
}

// RecordSuccess reports a successful attempt, closing the circuit and
// resetting the failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.probeInFlight = false
	b.openedAt = time.Time{}
}

// RecordFailure reports a failed attempt. In half-open the circuit reopens
// and the cooldown timer restarts; in closed the circuit opens once the
// consecutive-failure threshold is reached. Returns true if the circuit is
// open after recording.
func (b *Breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.probeInFlight = false

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = b.now()
	case StateClosed:
		if b.failures >= b.failureThreshold {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	case StateOpen:
		// Already open; restart of the timer is intentional only for
		// half-open probes, not late failure reports.
	}
	return b.state == StateOpen
}

// Discard releases a claimed attempt without recording an outcome. For
// attempts abandoned by caller cancellation: the failure counter and state
// are untouched because an abandoned call says nothing about the guarded
// capability's health.
func (b *Breaker) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeInFlight = false
}

// Reset administratively closes the circuit.
func (b *Breaker) Reset() {
	b.RecordSuccess()
}

// Name returns the guarded capability's name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state, accounting for an elapsed cooldown.
func (b *Breaker) State() State {
	return b.Status().State
}

// IsOpen reports whether calls would currently short-circuit.
func (b *Breaker) IsOpen() bool {
	return b.Status().State == StateOpen
}

// Status returns a snapshot for health reporting. An open breaker whose
// cooldown has elapsed reports half-open, matching what the next Allow
// would do.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.state
	if state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		state = StateHalfOpen
	}

	s := Status{
		Name:                b.name,
		State:               state,
		ConsecutiveFailures: b.failures,
		FailureThreshold:    b.failureThreshold,
		Cooldown:            b.cooldown,
	}
	if !b.openedAt.IsZero() {
		openedAt := b.openedAt
		s.OpenedAt = &openedAt
	}
	return s
}
