package workflow

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/aristath/conductor/internal/events"
	"github.com/aristath/conductor/internal/persistence"
	"github.com/aristath/conductor/internal/preempt"
	"github.com/aristath/conductor/internal/task"
	"github.com/aristath/conductor/internal/triage"
)

// Adaptive is the preemptive execution loop. It drains the triage queues
// in priority order, pauses all active work when a critical task arrives,
// and resumes paused tasks once the queues empty out.
//
// The loop is deliberately a single logical sequence, not a worker pool:
// at most one task is in flight at the orchestration level, which is what
// makes stop-the-world preemption tractable. Cancellation is cooperative:
// the stop flag is observed at iteration boundaries only, so in-flight
// execution finishes its current unit of work before the loop honors a
// stop request.
type Adaptive struct {
	triage  *triage.System
	preempt *preempt.Manager
	store   persistence.Store // Optional; nil disables archiving
	bus     *events.Bus
	metrics *task.WorkflowMetrics

	stopped atomic.Bool
}

// NewAdaptive wires the loop to its collaborators. store and bus may be
// nil.
func NewAdaptive(tri *triage.System, pre *preempt.Manager, store persistence.Store, bus *events.Bus) *Adaptive {
	return &Adaptive{
		triage:  tri,
		preempt: pre,
		store:   store,
		bus:     bus,
		metrics: &task.WorkflowMetrics{},
	}
}

// Metrics returns the workflow's metrics accumulator.
func (w *Adaptive) Metrics() *task.WorkflowMetrics { return w.metrics }

// Stop requests a cooperative halt. The current task finishes; the loop
// exits at the next iteration boundary.
func (w *Adaptive) Stop() { w.stopped.Store(true) }

// Run submits the tasks to triage and executes them to exhaustion.
// Per-task failures are converted to a Failed status and the loop
// continues; a failure the executor flags as critical halts the loop and
// surfaces the error.
func (w *Adaptive) Run(ctx context.Context, exec Executor, tasks []*task.Task) error {
	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			return err
		}
		if err := w.triage.Add(t); err != nil {
			return err
		}
	}

	// Tasks paused by preemption, waiting for the queues to drain.
	var paused []*task.Task

	for {
		// Safe point: stop flag and context are only observed here.
		if w.stopped.Load() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		w.triage.Sweep()

		next := w.triage.GetNext()
		if next == nil {
			if len(paused) == 0 {
				return nil
			}
			// Queues are empty: bring back preempted work, oldest first.
			next = paused[0]
			paused = paused[1:]
			if _, err := w.preempt.Resume(next); err != nil {
				next.MarkFailed(err)
				w.metrics.RecordFailed(0)
				w.archive(ctx, next)
				log.Printf("ERROR: could not resume task %q: %v", next.ID, err)
				continue
			}
			w.metrics.RecordContextSwitch()
			w.publish(events.TopicTask, events.TaskResumedEvent{ID: next.ID, Timestamp: time.Now().UTC()})
		}

		// A critical arrival preempts all active work before dispatch.
		if next.Priority == task.PriorityCritical && len(w.preempt.Active()) > 0 {
			justPaused, err := w.preempt.PauseAll(ctx)
			if err != nil {
				log.Printf("WARNING: partial stop-the-world pause: %v", err)
			}
			for _, p := range justPaused {
				w.metrics.RecordPreemption()
				w.publish(events.TopicTask, events.TaskPausedEvent{
					ID: p.ID, PreemptionCount: p.PreemptionCount, Timestamp: time.Now().UTC(),
				})
			}
			paused = append(paused, justPaused...)
		}

		critical, err := w.executeOne(ctx, exec, next)
		if critical {
			return fmt.Errorf("critical failure in task %q: %w", next.ID, err)
		}
	}
}

// executeOne runs a single task through the executor and records the
// outcome. Returns true when the failure was flagged critical.
func (w *Adaptive) executeOne(ctx context.Context, exec Executor, t *task.Task) (bool, error) {
	// Admission, the mid-flight pause check, and the terminal transition
	// all go through the preemption manager, whose lock is the one a
	// concurrent Pause takes to mutate the task.
	w.preempt.Begin(t)
	w.publish(events.TopicTask, events.TaskStartedEvent{
		ID: t.ID, Name: t.Name, Priority: t.Priority, Timestamp: time.Now().UTC(),
	})

	start := time.Now()
	res, err := exec.Execute(ctx, t)
	elapsed := time.Since(start)

	// A task paused mid-flight keeps its snapshot and is not finalized.
	if w.preempt.Finalize(t, res.Output, err) {
		return false, nil
	}

	if err != nil {
		w.metrics.RecordFailed(elapsed)
		w.archive(ctx, t)
		w.publish(events.TopicTask, events.TaskFailedEvent{
			ID: t.ID, Err: err, Critical: res.Critical, Timestamp: time.Now().UTC(),
		})
		if res.Critical {
			return true, err
		}
		return false, err
	}

	w.metrics.RecordCompleted(elapsed)
	w.archive(ctx, t)
	w.publish(events.TopicTask, events.TaskCompletedEvent{
		ID: t.ID, Duration: elapsed, Timestamp: time.Now().UTC(),
	})
	return false, nil
}

func (w *Adaptive) archive(ctx context.Context, t *task.Task) {
	if w.store == nil {
		return
	}
	if err := w.store.SaveTask(ctx, t); err != nil {
		log.Printf("WARNING: task %q not archived: %v", t.ID, err)
	}
}

func (w *Adaptive) publish(topic string, e events.Event) {
	if w.bus != nil {
		w.bus.Publish(topic, e)
	}
}
