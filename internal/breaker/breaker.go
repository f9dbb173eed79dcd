// Package breaker provides a circuit breaker for calls to external
// dependencies. One Breaker is constructed per logical dependency at process
// start and shared by reference into every call site, so failure counts
// accumulate across calls and a trip is visible to all callers immediately.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/echoscribe/echoscribe/internal/faults"
	"github.com/echoscribe/echoscribe/internal/logger"
)

// ErrCircuitOpen is returned when the circuit is open and the wrapped
// operation is not invoked.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the state of the circuit breaker.
type State int

const (
	// StateClosed means calls flow through normally.
	StateClosed State = iota
	// StateOpen means calls fail fast until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen means a single probe call is in flight.
	StateHalfOpen
)

// String returns the string representation of the state.
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

// Config configures a circuit breaker.
type Config struct {
	// FailureThreshold is the number of consecutive trip-worthy failures
	// before the circuit opens.
	FailureThreshold int `yaml:"failure_threshold" env:"BREAKER_FAILURE_THRESHOLD"`
	// RecoveryTimeout is how long the circuit stays open before a single
	// probe call is allowed through.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" env:"BREAKER_RECOVERY_TIMEOUT"`
	// TripWorthy decides whether an error counts against the threshold.
	// Defaults to faults.IsTripWorthy: only transient faults indicate an
	// unhealthy dependency.
	TripWorthy func(error) bool `yaml:"-"`
	// OnStateChange is an optional callback invoked on every transition.
	OnStateChange func(name string, from, to State) `yaml:"-"`
}

// Breaker gates calls against a single external dependency.
type Breaker struct {
	name string
	cfg  Config
	log  logger.Logger

	mu            sync.Mutex
	state         State
	failureCount  int
	lastFailureAt time.Time
	probing       bool

	now func() time.Time
}

// New creates a circuit breaker for the named dependency.
func New(name string, cfg Config, log logger.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	if cfg.TripWorthy == nil {
		cfg.TripWorthy = faults.IsTripWorthy
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &Breaker{
		name:  name,
		cfg:   cfg,
		log:   log,
		state: StateClosed,
		now:   time.Now,
	}
}

// Execute runs fn under circuit breaker protection. When the circuit is open
// and the recovery timeout has not elapsed, fn is never invoked and
// ErrCircuitOpen is returned without latency cost.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	probe, err := b.beforeCall()
	if err != nil {
		return err
	}

	callErr := fn()
	b.afterCall(callErr, probe)
	return callErr
}

// beforeCall decides whether the call may proceed. The returned bool marks
// the call as the half-open probe.
func (b *Breaker) beforeCall() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		remaining := b.cfg.RecoveryTimeout - b.now().Sub(b.lastFailureAt)
		if remaining > 0 {
			return false, faults.Tag(
				fmt.Errorf("%w: %s retries in %v", ErrCircuitOpen, b.name, remaining),
				faults.Permanent,
			)
		}
		b.transitionTo(StateHalfOpen)
		b.probing = true
		return true, nil
	case StateHalfOpen:
		if b.probing {
			// One probe at a time; everyone else fails fast.
			return false, faults.Tag(
				fmt.Errorf("%w: %s probe in flight", ErrCircuitOpen, b.name),
				faults.Permanent,
			)
		}
		b.probing = true
		return true, nil
	default:
		return false, nil
	}
}

// afterCall records the outcome of the call.
func (b *Breaker) afterCall(err error, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
	}

	if err == nil {
		b.failureCount = 0
		if b.state != StateClosed {
			b.transitionTo(StateClosed)
		}
		return
	}

	// Errors that do not indicate an unhealthy dependency (validation
	// faults, quota rejections) propagate without touching the breaker.
	if !b.cfg.TripWorthy(err) {
		return
	}

	b.failureCount++
	b.lastFailureAt = b.now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.cfg.FailureThreshold {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		// A failed probe reopens the circuit immediately.
		b.transitionTo(StateOpen)
	case StateOpen:
	}
}

func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}

	oldState := b.state
	b.state = newState

	if newState == StateClosed {
		b.failureCount = 0
	}

	b.log.Info("circuit breaker state change",
		logger.String("dependency", b.name),
		logger.String("from", oldState.String()),
		logger.String("to", newState.String()),
	)

	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, oldState, newState)
	}
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state of the circuit breaker.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the current consecutive failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}
