// Package circuit provides a two-state circuit breaker for best-effort
// side channels.
package circuit

import "sync"

// State is the breaker position.
type State int

const (
	// StateClosed means the protected operation is healthy.
	StateClosed State = iota
	// StateOpen means the operation keeps failing and callers should
	// treat the channel as degraded.
	StateOpen
)

// StateChange reports a transition, so callers can log open and close
// events exactly once instead of on every attempt.
type StateChange struct {
	Opened bool
	Closed bool
}

// Breaker counts consecutive outcomes of an operation that keeps running
// either way: opening does not stop the operation, it tells the caller
// the channel is degraded, and the continued attempts feed recovery.
// Consecutive failures open it, consecutive successes close it again.
type Breaker struct {
	mu               sync.Mutex
	name             string
	state            State
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
}

type Option func(*Breaker)

// WithFailureThreshold sets how many consecutive failures open the
// breaker. Defaults to 5.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets how many consecutive successes close the
// breaker again. Defaults to 3.
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.successThreshold = n
		}
	}
}

func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		state:            StateClosed,
		failureThreshold: 5,
		successThreshold: 3,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name identifies the breaker in logs and metrics.
func (b *Breaker) Name() string {
	return b.name
}

// IsOpen reports whether the breaker is currently open.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateOpen
}

// RecordFailure counts one failed attempt. A success streak in progress
// is void from here on.
func (b *Breaker) RecordFailure() StateChange {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.successCount = 0

	if b.state == StateClosed && b.failureCount >= b.failureThreshold {
		b.state = StateOpen
		return StateChange{Opened: true}
	}
	return StateChange{}
}

// RecordSuccess counts one successful attempt. While open, enough of them
// in a row close the breaker; while closed, the failure streak resets.
func (b *Breaker) RecordSuccess() StateChange {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.state = StateClosed
			b.failureCount = 0
			b.successCount = 0
			return StateChange{Closed: true}
		}
		return StateChange{}
	}

	b.failureCount = 0
	return StateChange{}
}
