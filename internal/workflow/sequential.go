package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/conductor/internal/events"
	"github.com/aristath/conductor/internal/task"
)

// PhaseStatus represents the state of one sequential phase.
type PhaseStatus string

const (
	PhaseNotStarted PhaseStatus = "NOT_STARTED"
	PhaseInProgress PhaseStatus = "IN_PROGRESS"
	PhaseCompleted  PhaseStatus = "COMPLETED"
	PhaseBlocked    PhaseStatus = "BLOCKED"
)

// PhaseNames is the fixed phase sequence of the sequential workflow.
var PhaseNames = []string{"Requirements", "Design", "Implementation", "Testing", "Deployment"}

// Phase is one gate-controlled step of the sequential workflow.
type Phase struct {
	Name         string       `json:"name"`
	Status       PhaseStatus  `json:"status"`
	Tasks        []*task.Task `json:"tasks"`
	GateCriteria []string     `json:"gate_criteria,omitempty"`
	GatePassed   bool         `json:"gate_passed"`
	Completion   float64      `json:"completion"`
}

// PhaseGateError reports a failed phase gate. The phase is Blocked and
// the phase index has not advanced when it is returned.
type PhaseGateError struct {
	Phase  string
	Index  int
	Reason string
}

func (e *PhaseGateError) Error() string {
	return fmt.Sprintf("phase %q (index %d) failed its gate: %s", e.Phase, e.Index, e.Reason)
}

// Sequential is the strict phase-gate state machine: phases run in a
// fixed order, each must fully complete and pass its gate before the next
// may start, and a failed gate blocks the phase until it is retried.
type Sequential struct {
	mu        sync.Mutex
	phases    []*Phase
	current   int
	completed bool
	bus       *events.Bus
	metrics   *task.WorkflowMetrics
}

// NewSequential creates the workflow with the fixed phase sequence,
// distributing tasks round-robin when no per-phase assignment is given.
// bus may be nil to disable telemetry.
func NewSequential(tasks []*task.Task, bus *events.Bus) *Sequential {
	phases := make([]*Phase, len(PhaseNames))
	for i, name := range PhaseNames {
		phases[i] = &Phase{Name: name, Status: PhaseNotStarted}
	}
	for i, t := range tasks {
		p := phases[i%len(phases)]
		p.Tasks = append(p.Tasks, t)
	}
	return &Sequential{
		phases:  phases,
		bus:     bus,
		metrics: &task.WorkflowMetrics{},
	}
}

// NewSequentialPhases creates the workflow from explicit phases, e.g. when
// the caller has already assigned tasks and gate criteria.
func NewSequentialPhases(phases []*Phase, bus *events.Bus) *Sequential {
	return &Sequential{
		phases:  phases,
		bus:     bus,
		metrics: &task.WorkflowMetrics{},
	}
}

// Metrics returns the workflow's metrics accumulator.
func (w *Sequential) Metrics() *task.WorkflowMetrics { return w.metrics }

// CurrentPhase returns the index of the phase the workflow is on.
func (w *Sequential) CurrentPhase() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Completed reports whether every phase has passed its gate.
func (w *Sequential) Completed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.completed
}

// Phases returns a shallow view of the phases for status reporting.
func (w *Sequential) Phases() []Phase {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]Phase, len(w.phases))
	for i, p := range w.phases {
		out[i] = *p
	}
	return out
}

// StartPhase transitions phase i to InProgress. Phases cannot be started
// out of order or skipped: i must be the current phase, and the previous
// phase must have fully completed and passed its gate.
func (w *Sequential) StartPhase(i int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.startPhaseLocked(i)
}

func (w *Sequential) startPhaseLocked(i int) error {
	if i < 0 || i >= len(w.phases) {
		return fmt.Errorf("phase index %d out of range", i)
	}
	if i != w.current {
		return fmt.Errorf("cannot start phase %d: current phase is %d", i, w.current)
	}
	if i > 0 && !w.canProceedLocked(i-1) {
		return fmt.Errorf("cannot start phase %q: previous phase %q has not passed its gate",
			w.phases[i].Name, w.phases[i-1].Name)
	}

	w.phases[i].Status = PhaseInProgress
	w.publish(events.TopicPhase, events.PhaseStartedEvent{
		Phase: w.phases[i].Name, Index: i, Timestamp: time.Now().UTC(),
	})
	return nil
}

// canProceedLocked reports whether phase i is fully done: 100% task
// completion and a passed gate.
func (w *Sequential) canProceedLocked(i int) bool {
	p := w.phases[i]
	return p.Completion == 100 && p.GatePassed
}

// CompletePhase recomputes the phase's completion from its tasks and
// validates the gate: every contained task Completed and completion at
// 100%. On success the index advances and the next phase auto-starts (or
// the workflow completes after the final phase). On failure the phase
// transitions to Blocked, the index stays put, and a PhaseGateError is
// returned.
func (w *Sequential) CompletePhase(i int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if i < 0 || i >= len(w.phases) {
		return fmt.Errorf("phase index %d out of range", i)
	}
	if i != w.current {
		return fmt.Errorf("cannot complete phase %d: current phase is %d", i, w.current)
	}

	p := w.phases[i]
	p.Completion = phaseCompletion(p.Tasks)

	if reason := gateFailure(p); reason != "" {
		p.Status = PhaseBlocked
		p.GatePassed = false
		w.publish(events.TopicPhase, events.PhaseBlockedEvent{
			Phase: p.Name, Index: i, Reason: reason, Timestamp: time.Now().UTC(),
		})
		return &PhaseGateError{Phase: p.Name, Index: i, Reason: reason}
	}

	p.Status = PhaseCompleted
	p.GatePassed = true
	w.publish(events.TopicPhase, events.PhaseCompletedEvent{
		Phase: p.Name, Index: i, Timestamp: time.Now().UTC(),
	})

	if i == len(w.phases)-1 {
		w.completed = true
		return nil
	}

	w.current = i + 1
	return w.startPhaseLocked(w.current)
}

// RetryPhase clears a Blocked phase back to InProgress so its remaining
// tasks can run again. Blocked is terminal on failure but recoverable by
// retry.
func (w *Sequential) RetryPhase(i int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if i < 0 || i >= len(w.phases) {
		return fmt.Errorf("phase index %d out of range", i)
	}
	if w.phases[i].Status != PhaseBlocked {
		return fmt.Errorf("phase %q is not blocked", w.phases[i].Name)
	}
	w.phases[i].Status = PhaseInProgress
	return nil
}

// Run drives every phase in order through the executor: start the phase,
// execute its tasks, complete the phase. A gate failure stops the run
// with the phase blocked.
func (w *Sequential) Run(ctx context.Context, exec Executor) error {
	for {
		w.mu.Lock()
		if w.completed {
			w.mu.Unlock()
			return nil
		}
		i := w.current
		phase := w.phases[i]
		status := phase.Status
		tasks := append([]*task.Task(nil), phase.Tasks...)
		w.mu.Unlock()

		if status == PhaseNotStarted {
			if err := w.StartPhase(i); err != nil {
				return err
			}
		}

		for _, t := range tasks {
			if err := ctx.Err(); err != nil {
				return err
			}
			if t.Status == task.StatusCompleted {
				continue
			}
			w.executeTask(ctx, exec, t)
		}

		if err := w.CompletePhase(i); err != nil {
			return err
		}
	}
}

func (w *Sequential) executeTask(ctx context.Context, exec Executor, t *task.Task) {
	t.MarkStarted()
	w.publish(events.TopicTask, events.TaskStartedEvent{
		ID: t.ID, Name: t.Name, Priority: t.Priority, Timestamp: time.Now().UTC(),
	})

	start := time.Now()
	res, err := exec.Execute(ctx, t)
	elapsed := time.Since(start)

	if err != nil {
		t.MarkFailed(err)
		w.metrics.RecordFailed(elapsed)
		w.publish(events.TopicTask, events.TaskFailedEvent{
			ID: t.ID, Err: err, Critical: res.Critical, Timestamp: time.Now().UTC(),
		})
		return
	}

	mergeOutput(t, res.Output)
	t.MarkCompleted()
	w.metrics.RecordCompleted(elapsed)
	w.publish(events.TopicTask, events.TaskCompletedEvent{
		ID: t.ID, Duration: elapsed, Timestamp: time.Now().UTC(),
	})
}

func (w *Sequential) publish(topic string, e events.Event) {
	if w.bus != nil {
		w.bus.Publish(topic, e)
	}
}

// phaseCompletion computes the percentage of phase tasks that completed.
// An empty phase counts as fully complete so placeholder phases don't
// block the sequence.
func phaseCompletion(tasks []*task.Task) float64 {
	if len(tasks) == 0 {
		return 100
	}
	done := 0
	for _, t := range tasks {
		if t.Status == task.StatusCompleted {
			done++
		}
	}
	return float64(done) / float64(len(tasks)) * 100
}

// gateFailure returns a non-empty reason when the phase gate fails.
func gateFailure(p *Phase) string {
	if p.Completion != 100 {
		return fmt.Sprintf("completion at %.1f%%, need 100%%", p.Completion)
	}
	for _, t := range p.Tasks {
		if t.Status != task.StatusCompleted {
			return fmt.Sprintf("task %q is %s", t.ID, t.Status)
		}
	}
	return ""
}

// mergeOutput folds executor output into the task's context payload.
func mergeOutput(t *task.Task, output map[string]any) {
	if len(output) == 0 {
		return
	}
	if t.Context == nil {
		t.Context = make(map[string]any, len(output))
	}
	for k, v := range output {
		t.Context[k] = v
	}
}
