package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State of the breaker. Transitions:
// CLOSED -> OPEN when the lifetime failure ratio exceeds the threshold,
// OPEN -> HALF_OPEN once the reset timeout has elapsed,
// HALF_OPEN -> CLOSED on a successful trial, -> OPEN on a failed one.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

var (
	// ErrOpen is returned without invoking the call while the breaker
	// is rejecting traffic.
	ErrOpen = errors.New("circuit breaker open")
	// ErrTimeout is returned when a guarded call exceeds the breaker's
	// timeout; it counts as a failure.
	ErrTimeout = errors.New("call timed out")
)

// Settings configures one breaker guarding one named dependency.
type Settings struct {
	Name string
	// Timeout is the hard cap the breaker races each call against.
	// Callers should keep their own per-call timeouts shorter so this
	// race is never the first to fire.
	Timeout time.Duration
	// ErrorThresholdPct trips the breaker when
	// failures/(failures+successes)*100 exceeds it.
	ErrorThresholdPct float64
	// ResetTimeout is how long OPEN rejects before a single trial call
	// is allowed through.
	ResetTimeout time.Duration

	// OnStateChange, if set, is invoked (outside the lock) on every
	// transition. Used to keep metrics gauges current.
	OnStateChange func(name string, from, to State)
}

// Breaker guards calls to a single remote dependency. It never retries;
// retry policy belongs to the caller.
type Breaker struct {
	cfg Settings
	now func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	nextAttempt time.Time
}

func New(cfg Settings) *Breaker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.ErrorThresholdPct <= 0 {
		cfg.ErrorThresholdPct = 50
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counts returns lifetime success/failure counts (reset when the
// breaker closes again after a half-open trial).
func (b *Breaker) Counts() (successes, failures int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.successes, b.failures
}

// Do runs fn under the breaker. The context handed to fn is cancelled
// when the breaker's timeout elapses; a timed-out call is recorded as a
// failure and returns ErrTimeout. While OPEN, calls fail fast with
// ErrOpen; while HALF_OPEN, every call but the single trial does too.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(cctx) }()

	var err error
	select {
	case err = <-done:
	case <-cctx.Done():
		if ctx.Err() != nil {
			// Caller cancelled; record a failure like any other error.
			err = ctx.Err()
		} else {
			err = fmt.Errorf("%s: %w", b.cfg.Name, ErrTimeout)
		}
	}

	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// admit decides whether a call may proceed, moving OPEN to HALF_OPEN
// when the cooldown has elapsed.
func (b *Breaker) admit() error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if b.now().Before(b.nextAttempt) {
			b.mu.Unlock()
			return fmt.Errorf("%s: %w", b.cfg.Name, ErrOpen)
		}
		b.transition(HalfOpen)
	case HalfOpen:
		// One trial call is already in flight.
		b.mu.Unlock()
		return fmt.Errorf("%s: %w", b.cfg.Name, ErrOpen)
	}
	b.mu.Unlock()
	return nil
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	b.successes++
	if b.state == HalfOpen {
		b.failures = 0
		b.successes = 0
		b.transition(Closed)
	}
	b.mu.Unlock()
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	b.failures++
	if b.state == HalfOpen {
		b.trip()
		b.mu.Unlock()
		return
	}
	total := b.failures + b.successes
	if total > 0 && float64(b.failures)/float64(total)*100 > b.cfg.ErrorThresholdPct {
		b.trip()
	}
	b.mu.Unlock()
}

// trip must be called with the lock held.
func (b *Breaker) trip() {
	b.nextAttempt = b.now().Add(b.cfg.ResetTimeout)
	b.transition(Open)
}

// transition must be called with the lock held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.cfg.OnStateChange != nil {
		go b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}
