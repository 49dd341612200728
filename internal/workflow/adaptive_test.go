package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aristath/conductor/internal/preempt"
	"github.com/aristath/conductor/internal/snapshot"
	"github.com/aristath/conductor/internal/task"
	"github.com/aristath/conductor/internal/triage"
)

func newAdaptive(t *testing.T) (*Adaptive, *preempt.Manager) {
	t.Helper()
	engine, err := snapshot.NewEngine(t.TempDir())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	pre := preempt.NewManager(preempt.DefaultConfig(), engine)
	tri := triage.New(triage.Config{}, nil, nil, nil)
	return NewAdaptive(tri, pre, nil, nil), pre
}

func TestAdaptiveRunCompletesAll(t *testing.T) {
	w, _ := newAdaptive(t)

	tasks := []*task.Task{task.New("refactor parser"), task.New("add retries"), task.New("update docs")}
	tasks[1].SeverityHint = task.PriorityHigh

	var order []string
	exec := ExecutorFunc(func(ctx context.Context, tk *task.Task) (Result, error) {
		order = append(order, tk.Name)
		return Result{}, nil
	})

	if err := w.Run(context.Background(), exec, tasks); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, tk := range tasks {
		if tk.Status != task.StatusCompleted {
			t.Errorf("task %s status = %s", tk.Name, tk.Status)
		}
	}
	// The HIGH task is served before the LOW ones.
	if len(order) != 3 || order[0] != "add retries" {
		t.Errorf("execution order = %v", order)
	}

	snap := w.Metrics().Snapshot()
	if snap.Completed != 3 || snap.Failed != 0 {
		t.Errorf("metrics = %+v", snap)
	}
}

func TestAdaptiveNonCriticalFailureContinues(t *testing.T) {
	w, _ := newAdaptive(t)

	bad := task.New("flaky step")
	good := task.New("solid step")

	exec := ExecutorFunc(func(ctx context.Context, tk *task.Task) (Result, error) {
		if tk.ID == bad.ID {
			return Result{}, errors.New("timeout")
		}
		return Result{}, nil
	})

	if err := w.Run(context.Background(), exec, []*task.Task{bad, good}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if bad.Status != task.StatusFailed || !strings.Contains(bad.LastError, "timeout") {
		t.Errorf("bad task: status=%s err=%q", bad.Status, bad.LastError)
	}
	if good.Status != task.StatusCompleted {
		t.Errorf("good task status = %s", good.Status)
	}
}

func TestAdaptiveCriticalFailureHalts(t *testing.T) {
	w, _ := newAdaptive(t)

	doomed := task.New("payment gateway outage")
	bystander := task.New("routine chore")

	exec := ExecutorFunc(func(ctx context.Context, tk *task.Task) (Result, error) {
		if tk.ID == doomed.ID {
			return Result{Critical: true}, errors.New("rollback failed")
		}
		return Result{}, nil
	})

	err := w.Run(context.Background(), exec, []*task.Task{doomed, bystander})
	if err == nil {
		t.Fatal("Run returned nil after a critical failure")
	}
	if !strings.Contains(err.Error(), doomed.ID) {
		t.Errorf("error = %v, want it to name the failing task", err)
	}
	if doomed.Status != task.StatusFailed {
		t.Errorf("doomed status = %s", doomed.Status)
	}
	// The halt leaves the bystander queued, not failed.
	if bystander.Status == task.StatusFailed {
		t.Error("bystander marked failed by an unrelated critical failure")
	}
}

func TestAdaptiveInvalidTaskRejected(t *testing.T) {
	w, _ := newAdaptive(t)

	bad := task.New("self dependent")
	bad.DependsOn = []string{bad.ID}

	err := w.Run(context.Background(), okExecutor(), []*task.Task{bad})
	if err == nil {
		t.Fatal("Run accepted a task that depends on itself")
	}
}

func TestAdaptiveCriticalArrivalPreemptsActiveWork(t *testing.T) {
	w, pre := newAdaptive(t)

	// A long-running task already holds the executor when the critical
	// task arrives.
	background := task.New("nightly batch")
	pre.Begin(background)

	incident := task.New("production outage")

	var order []string
	exec := ExecutorFunc(func(ctx context.Context, tk *task.Task) (Result, error) {
		order = append(order, tk.Name)
		return Result{}, nil
	})

	if err := w.Run(context.Background(), exec, []*task.Task{incident}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The incident ran first; the preempted batch was resumed and
	// finished after the queues drained.
	if len(order) != 2 || order[0] != "production outage" || order[1] != "nightly batch" {
		t.Fatalf("execution order = %v", order)
	}
	if incident.Priority != task.PriorityCritical {
		t.Errorf("incident priority = %s, want CRITICAL from classification", incident.Priority)
	}
	if background.Status != task.StatusCompleted {
		t.Errorf("background status = %s, want resumed and completed", background.Status)
	}
	if background.PreemptionCount != 1 {
		t.Errorf("background preemption count = %d, want 1", background.PreemptionCount)
	}

	snap := w.Metrics().Snapshot()
	if snap.Preemptions != 1 {
		t.Errorf("preemptions = %d, want 1", snap.Preemptions)
	}
	if snap.ContextSwitches != 2 {
		t.Errorf("context switches = %d, want 2 (pause + resume)", snap.ContextSwitches)
	}
}

func TestAdaptiveExternalPauseMidFlight(t *testing.T) {
	w, pre := newAdaptive(t)

	target := task.New("long export")
	other := task.New("quick fix")

	exec := ExecutorFunc(func(ctx context.Context, tk *task.Task) (Result, error) {
		if tk.ID == target.ID {
			// A pause lands from another goroutine while the task runs.
			done := make(chan struct{})
			go func() {
				defer close(done)
				if ok, err := pre.Pause(tk, map[string]any{"cursor": "p7"}); err != nil || !ok {
					t.Errorf("Pause = (%v, %v), want (true, nil)", ok, err)
				}
			}()
			<-done
		}
		return Result{Output: map[string]any{"rows": float64(10)}}, nil
	})

	if err := w.Run(context.Background(), exec, []*task.Task{target, other}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The paused task keeps its checkpoint; the executor's late result is
	// discarded instead of finalizing it.
	if target.Status != task.StatusPaused {
		t.Fatalf("target status = %s, want PAUSED", target.Status)
	}
	if other.Status != task.StatusCompleted {
		t.Errorf("other status = %s", other.Status)
	}

	snap := w.Metrics().Snapshot()
	if snap.Completed != 1 || snap.Failed != 0 {
		t.Errorf("metrics = %+v, want only the unpaused task counted", snap)
	}

	payload, err := pre.Resume(target)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if payload["cursor"] != "p7" {
		t.Errorf("payload = %v, want the checkpointed context", payload)
	}
}

func TestAdaptiveResumeFailureCountsAsFailed(t *testing.T) {
	engine, err := snapshot.NewEngine(t.TempDir())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	pre := preempt.NewManager(preempt.DefaultConfig(), engine)
	tri := triage.New(triage.Config{}, nil, nil, nil)
	w := NewAdaptive(tri, pre, nil, nil)

	background := task.New("nightly batch")
	pre.Begin(background)

	incident := task.New("production outage")

	exec := ExecutorFunc(func(ctx context.Context, tk *task.Task) (Result, error) {
		if tk.ID == incident.ID {
			// The checkpoint disappears while the critical task runs.
			if _, err := engine.Delete(background.ID); err != nil {
				t.Errorf("Delete: %v", err)
			}
		}
		return Result{}, nil
	})

	if err := w.Run(context.Background(), exec, []*task.Task{incident}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if background.Status != task.StatusFailed {
		t.Errorf("background status = %s, want FAILED after a lost snapshot", background.Status)
	}
	snap := w.Metrics().Snapshot()
	if snap.Completed != 1 || snap.Failed != 1 {
		t.Errorf("metrics = %+v, want 1 completed / 1 failed", snap)
	}
}

func TestAdaptiveStopAtSafePoint(t *testing.T) {
	w, _ := newAdaptive(t)

	first := task.New("runs before stop")
	second := task.New("never dispatched")

	exec := ExecutorFunc(func(ctx context.Context, tk *task.Task) (Result, error) {
		w.Stop()
		return Result{}, nil
	})

	if err := w.Run(context.Background(), exec, []*task.Task{first, second}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if first.Status != task.StatusCompleted {
		t.Errorf("first status = %s", first.Status)
	}
	if second.Status != task.StatusNotStarted {
		t.Errorf("second status = %s, want untouched after stop", second.Status)
	}
}

func TestAdaptiveContextCancellation(t *testing.T) {
	w, _ := newAdaptive(t)

	ctx, cancel := context.WithCancel(context.Background())
	exec := ExecutorFunc(func(ctx context.Context, tk *task.Task) (Result, error) {
		cancel()
		return Result{}, nil
	})

	err := w.Run(ctx, exec, []*task.Task{task.New("a"), task.New("b")})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
}
