package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aristath/conductor/internal/task"
)

func okExecutor() Executor {
	return ExecutorFunc(func(ctx context.Context, t *task.Task) (Result, error) {
		return Result{Output: map[string]any{"done": true}}, nil
	})
}

func TestNewSequentialDistributesTasks(t *testing.T) {
	tasks := make([]*task.Task, 7)
	for i := range tasks {
		tasks[i] = task.New(fmt.Sprintf("task %d", i))
	}

	w := NewSequential(tasks, nil)
	phases := w.Phases()
	if len(phases) != len(PhaseNames) {
		t.Fatalf("phases = %d, want %d", len(phases), len(PhaseNames))
	}
	total := 0
	for i, p := range phases {
		if p.Name != PhaseNames[i] {
			t.Errorf("phase[%d] = %s, want %s", i, p.Name, PhaseNames[i])
		}
		total += len(p.Tasks)
	}
	if total != len(tasks) {
		t.Errorf("distributed %d tasks, want %d", total, len(tasks))
	}
}

func TestRunCompletesAllPhases(t *testing.T) {
	tasks := []*task.Task{task.New("gather requirements"), task.New("draft design"), task.New("implement")}
	w := NewSequential(tasks, nil)

	if err := w.Run(context.Background(), okExecutor()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !w.Completed() {
		t.Error("workflow not completed")
	}
	for _, p := range w.Phases() {
		if p.Status != PhaseCompleted || !p.GatePassed || p.Completion != 100 {
			t.Errorf("phase %s: status=%s gate=%v completion=%v", p.Name, p.Status, p.GatePassed, p.Completion)
		}
	}
	for _, tk := range tasks {
		if tk.Status != task.StatusCompleted {
			t.Errorf("task %s status = %s", tk.Name, tk.Status)
		}
		if tk.Context["done"] != true {
			t.Errorf("task %s missing merged executor output", tk.Name)
		}
	}

	snap := w.Metrics().Snapshot()
	if snap.Completed != len(tasks) {
		t.Errorf("metrics completed = %d, want %d", snap.Completed, len(tasks))
	}
}

func TestPhaseGateBlocksOnFailure(t *testing.T) {
	broken := task.New("fails its gate")
	phases := []*Phase{
		{Name: "Requirements", Status: PhaseNotStarted, Tasks: []*task.Task{broken}},
		{Name: "Design", Status: PhaseNotStarted},
	}
	w := NewSequentialPhases(phases, nil)

	failing := ExecutorFunc(func(ctx context.Context, t *task.Task) (Result, error) {
		return Result{}, errors.New("compile error")
	})

	err := w.Run(context.Background(), failing)
	var gerr *PhaseGateError
	if !errors.As(err, &gerr) {
		t.Fatalf("Run error = %v, want *PhaseGateError", err)
	}
	if gerr.Index != 0 || gerr.Phase != "Requirements" {
		t.Errorf("gate error = %+v", gerr)
	}
	if w.CurrentPhase() != 0 {
		t.Errorf("current phase advanced to %d past a failed gate", w.CurrentPhase())
	}
	got := w.Phases()
	if got[0].Status != PhaseBlocked {
		t.Errorf("phase status = %s, want BLOCKED", got[0].Status)
	}
	if got[1].Status != PhaseNotStarted {
		t.Errorf("next phase started despite blocked gate: %s", got[1].Status)
	}
}

func TestRetryUnblocksPhase(t *testing.T) {
	flaky := task.New("works second time")
	phases := []*Phase{
		{Name: "Requirements", Status: PhaseNotStarted, Tasks: []*task.Task{flaky}},
		{Name: "Design", Status: PhaseNotStarted},
	}
	w := NewSequentialPhases(phases, nil)

	attempts := 0
	exec := ExecutorFunc(func(ctx context.Context, t *task.Task) (Result, error) {
		attempts++
		if attempts == 1 {
			return Result{}, errors.New("transient")
		}
		return Result{}, nil
	})

	if err := w.Run(context.Background(), exec); err == nil {
		t.Fatal("first run should block on the gate")
	}
	if err := w.RetryPhase(0); err != nil {
		t.Fatalf("RetryPhase: %v", err)
	}
	if err := w.Run(context.Background(), exec); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !w.Completed() {
		t.Error("workflow not completed after retry")
	}
}

func TestRetryPhaseRequiresBlocked(t *testing.T) {
	w := NewSequential(nil, nil)
	if err := w.RetryPhase(0); err == nil {
		t.Error("RetryPhase allowed on a non-blocked phase")
	}
}

func TestStartPhaseOutOfOrder(t *testing.T) {
	w := NewSequential([]*task.Task{task.New("a")}, nil)

	if err := w.StartPhase(2); err == nil {
		t.Error("StartPhase(2) allowed while on phase 0")
	}
	if err := w.StartPhase(-1); err == nil {
		t.Error("StartPhase(-1) allowed")
	}
	if err := w.StartPhase(0); err != nil {
		t.Errorf("StartPhase(0): %v", err)
	}
}

func TestCompletePhaseWrongIndex(t *testing.T) {
	w := NewSequential(nil, nil)
	if err := w.CompletePhase(3); err == nil {
		t.Error("CompletePhase(3) allowed while on phase 0")
	}
}

func TestEmptyPhasesAutoComplete(t *testing.T) {
	w := NewSequential(nil, nil)
	if err := w.Run(context.Background(), okExecutor()); err != nil {
		t.Fatalf("Run with no tasks: %v", err)
	}
	if !w.Completed() {
		t.Error("placeholder phases blocked the sequence")
	}
}
