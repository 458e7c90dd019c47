// Package circuitbreaker stops calling a strategy unit that keeps failing.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yield-vault/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed means calls go through
	StateClosed State = "closed"
	// StateOpen means calls are rejected without reaching the unit
	StateOpen State = "open"
	// StateHalfOpen means a limited number of trial calls are allowed
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrTooManyRequests is returned when the half-open trial budget is used up
var ErrTooManyRequests = errors.New("too many requests in half-open state")

// Config configures a circuit breaker
type Config struct {
	Name string
	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before probing
	ResetTimeout time.Duration
	// HalfOpenMaxCalls successful trials close the circuit again
	HalfOpenMaxCalls int
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		ResetTimeout:     time.Minute,
		HalfOpenMaxCalls: 1,
	}
}

// CircuitBreaker implements the circuit breaker pattern over consecutive failures
type CircuitBreaker struct {
	cfg Config
	now func() time.Time

	mu               sync.Mutex
	state            State
	consecutiveFails int
	trialsInFlight   int
	trialSuccesses   int
	openedAt         time.Time
}

// New creates a new circuit breaker
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.HalfOpenMaxCalls < 1 {
		cfg.HalfOpenMaxCalls = 1
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now, state: StateClosed}
}

// Execute runs fn unless the circuit is open
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.after(err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.trialsInFlight = 1
		return nil
	case StateHalfOpen:
		if cb.trialsInFlight+cb.trialSuccesses >= cb.cfg.HalfOpenMaxCalls {
			return ErrTooManyRequests
		}
		cb.trialsInFlight++
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.trialsInFlight > 0 {
		cb.trialsInFlight--
	}

	if err != nil {
		cb.consecutiveFails++
		switch cb.state {
		case StateHalfOpen:
			cb.transition(StateOpen)
		case StateClosed:
			if cb.consecutiveFails >= cb.cfg.FailureThreshold {
				cb.transition(StateOpen)
			}
		}
		return
	}

	cb.consecutiveFails = 0
	if cb.state == StateHalfOpen {
		cb.trialSuccesses++
		if cb.trialSuccesses >= cb.cfg.HalfOpenMaxCalls {
			cb.transition(StateClosed)
		}
	}
}

// transition must be called with mu held
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.trialsInFlight = 0
	cb.trialSuccesses = 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	if to == StateClosed {
		cb.consecutiveFails = 0
	}

	lg := logging.WithField("circuitBreaker", cb.cfg.Name).WithFields(map[string]interface{}{
		"from": from,
		"to":   to,
	})
	if to == StateOpen {
		lg.WithField("consecutiveFails", cb.consecutiveFails).Warn("Circuit breaker opened")
	} else {
		lg.Info("Circuit breaker state changed")
	}
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the circuit
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
}

// Registry hands out one breaker per name
type Registry struct {
	cfg      func(name string) Config
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates a registry building breakers from cfg
func NewRegistry(cfg func(name string) Config) *Registry {
	if cfg == nil {
		cfg = DefaultConfig
	}
	return &Registry{cfg: cfg, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker for name, creating it on first use
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb := New(r.cfg(name))
	r.breakers[name] = cb
	return cb
}

// States returns a snapshot of every breaker's state
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]State, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = cb.State()
	}
	return out
}
