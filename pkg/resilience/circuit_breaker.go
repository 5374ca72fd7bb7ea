package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/agentrelay/agentrelay/pkg/errors"
	"github.com/agentrelay/agentrelay/pkg/logging"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed CircuitState = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - circuit is half-open, a single probe is allowed
	StateHalfOpen
)

func (s CircuitState) String() string {
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

// Outcome classifies the result of a call advanced past Allow
type Outcome int

const (
	// OutcomeSuccess - the transport call succeeded
	OutcomeSuccess Outcome = iota
	// OutcomeFailure - the transport call failed with a counted service error
	OutcomeFailure
	// OutcomeIgnored - the call never reached the transport (for example a
	// rate limit timeout after the breaker gate); no state change, but a
	// half-open probe slot is released
	OutcomeIgnored
)

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// Name of the endpoint for logging/metrics
	Name string
	// Threshold is the number of consecutive counted failures that opens
	// the circuit
	Threshold int
	// OpenDuration is the cool-down before an open circuit probes again
	OpenDuration time.Duration
	// OnStateChange is called whenever the state of the circuit breaker changes
	OnStateChange func(name string, from CircuitState, to CircuitState)
}

// CircuitBreaker is a consecutive-failure state machine guarding one endpoint.
// Only failures explicitly recorded as OutcomeFailure count toward opening;
// short-circuited calls never touch the counters.
type CircuitBreaker struct {
	name          string
	threshold     int
	openDuration  time.Duration
	onStateChange func(name string, from CircuitState, to CircuitState)

	mutex               sync.Mutex
	state               CircuitState
	generation          uint64
	consecutiveFailures int
	lastFailureTime     time.Time
	openedUntil         time.Time
	probeInFlight       bool

	logger *logging.Logger
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.Threshold <= 0 {
		config.Threshold = 5
	}
	if config.OpenDuration <= 0 {
		config.OpenDuration = 30 * time.Second
	}

	return &CircuitBreaker{
		name:          config.Name,
		threshold:     config.Threshold,
		openDuration:  config.OpenDuration,
		onStateChange: config.OnStateChange,
		state:         StateClosed,
		logger:        logging.GetLogger(),
	}
}

// Allow reports whether a call may proceed. While open it fails fast with
// CIRCUIT_OPEN; in half-open exactly one probe passes and concurrent callers
// are rejected as if open. The returned generation must be handed back to
// Record for this call's outcome.
func (cb *CircuitBreaker) Allow() (uint64, error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	state := cb.currentStateLocked(time.Now())

	switch state {
	case StateOpen:
		return cb.generation, errors.NewCircuitOpenError(cb.name)
	case StateHalfOpen:
		if cb.probeInFlight {
			return cb.generation, errors.NewCircuitOpenError(cb.name)
		}
		cb.probeInFlight = true
	}

	return cb.generation, nil
}

// Record applies a call outcome. Outcomes from a previous generation are
// dropped so a stale call cannot double-count against a state that has
// already moved on.
func (cb *CircuitBreaker) Record(generation uint64, outcome Outcome) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()
	state := cb.currentStateLocked(now)
	if generation != cb.generation {
		return
	}

	if state == StateHalfOpen {
		cb.probeInFlight = false
	}

	switch outcome {
	case OutcomeSuccess:
		cb.consecutiveFailures = 0
		if state == StateHalfOpen {
			cb.setStateLocked(StateClosed, now)
		}
	case OutcomeFailure:
		cb.consecutiveFailures++
		cb.lastFailureTime = now
		if state == StateHalfOpen {
			cb.setStateLocked(StateOpen, now)
		} else if state == StateClosed && cb.consecutiveFailures >= cb.threshold {
			cb.setStateLocked(StateOpen, now)
		}
	case OutcomeIgnored:
		// No counter movement; the probe slot release above is enough.
	}
}

// Execute runs the given request under the breaker gate, counting failures
// per the error classification in pkg/errors.
func (cb *CircuitBreaker) Execute(ctx context.Context, req func(context.Context) (interface{}, error)) (interface{}, error) {
	generation, err := cb.Allow()
	if err != nil {
		return nil, err
	}

	result, err := req(ctx)
	switch {
	case err == nil:
		cb.Record(generation, OutcomeSuccess)
	case errors.CountsTowardBreaker(err):
		cb.Record(generation, OutcomeFailure)
	default:
		cb.Record(generation, OutcomeIgnored)
	}
	return result, err
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return cb.currentStateLocked(time.Now())
}

// ConsecutiveFailures returns the current counted failure streak
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return cb.consecutiveFailures
}

// Name returns the endpoint name of the breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// currentStateLocked advances open to half-open once the cool-down elapsed.
// Callers must hold the mutex.
func (cb *CircuitBreaker) currentStateLocked(now time.Time) CircuitState {
	if cb.state == StateOpen && !cb.openedUntil.After(now) {
		cb.setStateLocked(StateHalfOpen, now)
	}
	return cb.state
}

func (cb *CircuitBreaker) setStateLocked(state CircuitState, now time.Time) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state
	cb.generation++
	cb.probeInFlight = false

	if state == StateOpen {
		cb.openedUntil = now.Add(cb.openDuration)
	}

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}

	cb.logger.Info("Circuit breaker state changed",
		"name", cb.name,
		"from", prev.String(),
		"to", state.String(),
		"consecutive_failures", cb.consecutiveFailures,
	)
}

// IsCircuitOpenError checks if an error is a circuit breaker rejection
func IsCircuitOpenError(err error) bool {
	return errors.IsType(err, errors.ErrorTypeCircuitOpen)
}
