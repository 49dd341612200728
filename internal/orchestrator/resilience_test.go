package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/aristath/conductor/internal/task"
	"github.com/aristath/conductor/internal/workflow"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     time.Millisecond,
		MaxInterval:         5 * time.Millisecond,
		MaxElapsedTime:      100 * time.Millisecond,
		Multiplier:          1.5,
		RandomizationFactor: 0,
	}
}

func TestResilientExecutorRetriesTransientFailures(t *testing.T) {
	var calls int32
	inner := workflow.ExecutorFunc(func(ctx context.Context, tk *task.Task) (workflow.Result, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return workflow.Result{}, errors.New("transient")
		}
		return workflow.Result{Output: map[string]any{"ok": true}}, nil
	})

	exec := NewResilientExecutor(inner, fastRetryConfig())
	res, err := exec.Execute(context.Background(), task.New("flaky"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	if res.Output["ok"] != true {
		t.Errorf("result = %+v", res)
	}
}

func TestResilientExecutorDoesNotRetryCriticalFailures(t *testing.T) {
	var calls int32
	inner := workflow.ExecutorFunc(func(ctx context.Context, tk *task.Task) (workflow.Result, error) {
		atomic.AddInt32(&calls, 1)
		return workflow.Result{Critical: true}, errors.New("unrecoverable")
	})

	exec := NewResilientExecutor(inner, fastRetryConfig())
	res, err := exec.Execute(context.Background(), task.New("doomed"))
	if err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("attempts = %d, want exactly 1 for a critical failure", got)
	}
	if !res.Critical {
		t.Error("Critical flag lost through the resilience wrapper")
	}
}

func TestResilientExecutorRespectsCancellation(t *testing.T) {
	var calls int32
	inner := workflow.ExecutorFunc(func(ctx context.Context, tk *task.Task) (workflow.Result, error) {
		atomic.AddInt32(&calls, 1)
		return workflow.Result{}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := NewResilientExecutor(inner, fastRetryConfig())
	_, err := exec.Execute(ctx, task.New("cancelled"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Errorf("inner called %d times after cancellation", got)
	}
}

func TestCircuitBreakerOpensAndShortCircuits(t *testing.T) {
	var calls int32
	inner := workflow.ExecutorFunc(func(ctx context.Context, tk *task.Task) (workflow.Result, error) {
		atomic.AddInt32(&calls, 1)
		return workflow.Result{}, errors.New("backend down")
	})

	exec := NewResilientExecutor(inner, fastRetryConfig())
	tk := task.New("hammered")

	// Enough consecutive failures inside the retry loop to trip the breaker.
	_, err := exec.Execute(context.Background(), tk)
	if err == nil {
		t.Fatal("expected failure")
	}

	before := atomic.LoadInt32(&calls)
	if before < 5 {
		t.Fatalf("only %d attempts recorded, breaker cannot have tripped", before)
	}

	_, err = exec.Execute(context.Background(), tk)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("error = %v, want ErrOpenState", err)
	}
	if got := atomic.LoadInt32(&calls); got != before {
		t.Errorf("inner still invoked through an open breaker (%d -> %d)", before, got)
	}
}

func TestBreakersArePerPriorityClass(t *testing.T) {
	r := NewCircuitBreakerRegistry()
	low := r.Get(string(task.PriorityLow))
	crit := r.Get(string(task.PriorityCritical))
	if low == crit {
		t.Error("priority classes share a circuit breaker")
	}
	if again := r.Get(string(task.PriorityLow)); again != low {
		t.Error("registry did not reuse the existing breaker")
	}
}
