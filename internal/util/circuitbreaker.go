package util

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCircuitOpen is returned while the breaker refuses requests.
var ErrCircuitOpen = errors.New("circuit open: upstream is rate limiting, cooling down")

type CircuitState string

const (
	CircuitStateClosed   CircuitState = "CLOSED"
	CircuitStateOpen     CircuitState = "OPEN"
	CircuitStateHalfOpen CircuitState = "HALF_OPEN"
)

func (s CircuitState) String() string {
	return string(s)
}

// CircuitBreaker opens after threshold consecutive failures and refuses
// work until cooldown has passed. Half-open admits a single trial request whose
// outcome decides whether it closes again or reopens.
type CircuitBreaker struct {
	mu            sync.Mutex
	state         CircuitState
	failureCount  int
	threshold     int
	cooldown      time.Duration
	openedAt      time.Time
	trialInFlight bool
	now           func() time.Time
	logger        *zap.Logger
}

func NewCircuitBreaker(threshold int, cooldown time.Duration, logger *zap.Logger) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{
		state:     CircuitStateClosed,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		logger:    logger,
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh()
	return cb.state
}

// Allow reports whether a request may proceed. While half-open only the
// first caller is admitted; it must settle with RecordSuccess,
// RecordFailure or Release.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh()

	switch cb.state {
	case CircuitStateOpen:
		return false
	case CircuitStateHalfOpen:
		if cb.trialInFlight {
			return false
		}
		cb.trialInFlight = true
		return true
	default:
		return true
	}
}

// Release settles an admitted request whose outcome says nothing about
// the upstream limit. The state is unchanged and the next caller may try.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trialInFlight = false
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.trialInFlight = false

	if cb.state == CircuitStateHalfOpen {
		cb.logger.Info("Circuit breaker recovered")
		cb.transitionTo(CircuitStateClosed)
	}
	cb.failureCount = 0
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.trialInFlight = false
	cb.failureCount++
	cb.logger.Warn("Circuit breaker failure recorded",
		zap.Int("count", cb.failureCount),
		zap.Int("threshold", cb.threshold),
	)

	if cb.state == CircuitStateHalfOpen || cb.failureCount >= cb.threshold {
		cb.openedAt = cb.now()
		cb.transitionTo(CircuitStateOpen)
	}
}

// refresh moves an expired open breaker to half-open. Callers hold mu.
func (cb *CircuitBreaker) refresh() {
	if cb.state == CircuitStateOpen && !cb.now().Before(cb.openedAt.Add(cb.cooldown)) {
		cb.transitionTo(CircuitStateHalfOpen)
	}
}

func (cb *CircuitBreaker) transitionTo(next CircuitState) {
	prev := cb.state
	cb.state = next

	fields := []zap.Field{
		zap.String("from", prev.String()),
		zap.String("to", next.String()),
		zap.Int("failure_count", cb.failureCount),
	}
	if next == CircuitStateOpen {
		fields = append(fields, zap.Time("retry_after", cb.openedAt.Add(cb.cooldown)))
		cb.logger.Error("Circuit breaker opened", fields...)
		return
	}
	cb.logger.Info("Circuit breaker state transition", fields...)
}
