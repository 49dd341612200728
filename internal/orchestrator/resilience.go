package orchestrator

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/aristath/conductor/internal/task"
	"github.com/aristath/conductor/internal/workflow"
)

// RetryConfig configures exponential backoff retry behavior for task
// execution.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 100ms)
	MaxInterval         time.Duration // Maximum retry interval (default 10s)
	MaxElapsedTime      time.Duration // Maximum total retry time (default 2min)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// CircuitBreakerRegistry manages per-priority-class circuit breakers, so
// a flapping executor saturated with low-priority work cannot trip the
// breaker that critical tasks run through.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewCircuitBreakerRegistry creates a new circuit breaker registry.
func NewCircuitBreakerRegistry() *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the circuit breaker for the given name, creating it on
// first use.
func (r *CircuitBreakerRegistry) Get(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,                // Allow 3 test requests in half-open state
		Interval:    0,                // Don't clear counts automatically
		Timeout:     30 * time.Second, // Stay open for 30s before testing recovery
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// Don't count user cancellation as executor failure
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})

	r.breakers[name] = cb
	return cb
}

// ResilientExecutor wraps an executor with exponential backoff retry and
// circuit breaker protection. Failures marked critical are never
// retried: they must surface immediately so the workflow can preempt.
type ResilientExecutor struct {
	inner    workflow.Executor
	breakers *CircuitBreakerRegistry
	retryCfg RetryConfig
}

// NewResilientExecutor wraps inner with retry and breaker behavior.
func NewResilientExecutor(inner workflow.Executor, retryCfg RetryConfig) *ResilientExecutor {
	return &ResilientExecutor{
		inner:    inner,
		breakers: NewCircuitBreakerRegistry(),
		retryCfg: retryCfg,
	}
}

// Execute runs the task through the priority class's circuit breaker,
// retrying transient failures with exponential backoff.
func (e *ResilientExecutor) Execute(ctx context.Context, t *task.Task) (workflow.Result, error) {
	cb := e.breakers.Get(string(t.Priority))

	var result workflow.Result

	operation := func() error {
		// Check context first - fail fast if cancelled
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		_, err := cb.Execute(func() (interface{}, error) {
			res, execErr := e.inner.Execute(ctx, t)
			// Keep the result even on failure: the Critical flag on a
			// failed result drives preemption upstream.
			result = res
			if execErr != nil && res.Critical {
				// Critical failures propagate without retry.
				return nil, backoff.Permanent(execErr)
			}
			return nil, execErr
		})

		if err != nil {
			// Circuit is open - don't retry
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}

			// Context cancelled - stop retrying
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}

			return err
		}
		return nil
	}

	backoffPolicy := backoff.NewExponentialBackOff()
	backoffPolicy.InitialInterval = e.retryCfg.InitialInterval
	backoffPolicy.MaxInterval = e.retryCfg.MaxInterval
	backoffPolicy.MaxElapsedTime = e.retryCfg.MaxElapsedTime
	backoffPolicy.Multiplier = e.retryCfg.Multiplier
	backoffPolicy.RandomizationFactor = e.retryCfg.RandomizationFactor

	err := backoff.Retry(operation, backoff.WithContext(backoffPolicy, ctx))
	return result, err
}
