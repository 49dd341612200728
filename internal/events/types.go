package events

import (
	"time"

	"github.com/aristath/conductor/internal/selector"
	"github.com/aristath/conductor/internal/task"
)

// Event is the base interface for all lifecycle events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask     = "task"
	TopicPhase    = "phase"
	TopicWorkflow = "workflow"
)

// Event type constants
const (
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskFailed    = "task.failed"
	EventTypeTaskPaused    = "task.paused"
	EventTypeTaskResumed   = "task.resumed"
	EventTypeTaskEscalated = "task.escalated"

	EventTypePhaseStarted   = "phase.started"
	EventTypePhaseCompleted = "phase.completed"
	EventTypePhaseBlocked   = "phase.blocked"

	EventTypeWorkflowSelected  = "workflow.selected"
	EventTypeWorkflowCompleted = "workflow.completed"
)

// TaskStartedEvent is published when a task begins execution.
type TaskStartedEvent struct {
	ID        string
	Name      string
	Priority  task.Priority
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task completes successfully.
type TaskCompletedEvent struct {
	ID        string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when a task fails.
type TaskFailedEvent struct {
	ID        string
	Err       error
	Critical  bool
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// TaskPausedEvent is published when a task is preempted and checkpointed.
type TaskPausedEvent struct {
	ID              string
	PreemptionCount int
	Timestamp       time.Time
}

func (e TaskPausedEvent) EventType() string { return EventTypeTaskPaused }
func (e TaskPausedEvent) TaskID() string    { return e.ID }

// TaskResumedEvent is published when a paused task is restored.
type TaskResumedEvent struct {
	ID        string
	Timestamp time.Time
}

func (e TaskResumedEvent) EventType() string { return EventTypeTaskResumed }
func (e TaskResumedEvent) TaskID() string    { return e.ID }

// TaskEscalatedEvent is published when triage raises a task's priority.
type TaskEscalatedEvent struct {
	ID        string
	From      task.Priority
	To        task.Priority
	Reason    string
	Timestamp time.Time
}

func (e TaskEscalatedEvent) EventType() string { return EventTypeTaskEscalated }
func (e TaskEscalatedEvent) TaskID() string    { return e.ID }

// PhaseStartedEvent is published when a sequential phase begins.
type PhaseStartedEvent struct {
	Phase     string
	Index     int
	Timestamp time.Time
}

func (e PhaseStartedEvent) EventType() string { return EventTypePhaseStarted }
func (e PhaseStartedEvent) TaskID() string    { return "" }

// PhaseCompletedEvent is published when a phase passes its gate.
type PhaseCompletedEvent struct {
	Phase     string
	Index     int
	Timestamp time.Time
}

func (e PhaseCompletedEvent) EventType() string { return EventTypePhaseCompleted }
func (e PhaseCompletedEvent) TaskID() string    { return "" }

// PhaseBlockedEvent is published when a phase fails its gate.
type PhaseBlockedEvent struct {
	Phase     string
	Index     int
	Reason    string
	Timestamp time.Time
}

func (e PhaseBlockedEvent) EventType() string { return EventTypePhaseBlocked }
func (e PhaseBlockedEvent) TaskID() string    { return "" }

// WorkflowSelectedEvent is published when the selector picks a mode.
type WorkflowSelectedEvent struct {
	Mode      selector.Mode
	Timestamp time.Time
}

func (e WorkflowSelectedEvent) EventType() string { return EventTypeWorkflowSelected }
func (e WorkflowSelectedEvent) TaskID() string    { return "" }

// WorkflowCompletedEvent is published when a workflow finishes.
type WorkflowCompletedEvent struct {
	Mode      selector.Mode
	Completed int
	Failed    int
	Timestamp time.Time
}

func (e WorkflowCompletedEvent) EventType() string { return EventTypeWorkflowCompleted }
func (e WorkflowCompletedEvent) TaskID() string    { return "" }
