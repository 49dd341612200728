// Package task defines the core data model shared by the scheduler,
// triage, and workflow packages: tasks, priorities, statuses, project
// specs, and workflow metrics.
package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Priority classifies how urgently a task must run.
// Priorities are totally ordered: Critical > High > Medium > Low.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// Priorities lists all priority classes from highest to lowest.
func Priorities() []Priority {
	return []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}
}

// Rank returns the numeric rank of a priority; higher means more urgent.
// Unknown priorities rank below Low.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Higher returns the next priority class up, or the same priority if
// already Critical.
func (p Priority) Higher() Priority {
	switch p {
	case PriorityLow:
		return PriorityMedium
	case PriorityMedium:
		return PriorityHigh
	case PriorityHigh:
		return PriorityCritical
	}
	return p
}

// IsValid reports whether p is one of the four priority classes.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusPaused     Status = "PAUSED"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// IsValid reports whether s is a known status value.
func (s Status) IsValid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusPaused,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether a task in this status will never run again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// RiskLevel grades the overall project risk for workflow selection.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// IsValid reports whether r is a known risk level.
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// Task represents a unit of work flowing through the orchestrator.
type Task struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Priority  Priority       `json:"priority"`
	Status    Status         `json:"status"`
	DependsOn []string       `json:"depends_on,omitempty"` // Task IDs this task depends on
	Context   map[string]any `json:"context,omitempty"`    // Opaque payload carried across pause/resume

	// Completion percentage in [0,100]. Use SetCompletion to keep it clamped.
	Completion float64 `json:"completion"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	PreemptionCount int        `json:"preemption_count"`
	LastPreemptedAt *time.Time `json:"last_preempted_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`

	// Structured classification inputs. Severity and business impact are
	// explicit fields rather than free-text signals so triage never has to
	// guess from the task name.
	SeverityHint   Priority   `json:"severity_hint,omitempty"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	BusinessImpact int        `json:"business_impact,omitempty"` // 0 (none) to 10 (company-critical)
	Tags           []string   `json:"tags,omitempty"`
}

// New creates a task with a generated ID, Low priority, and NotStarted status.
func New(name string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:        uuid.NewString(),
		Name:      name,
		Priority:  PriorityLow,
		Status:    StatusNotStarted,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SetCompletion sets the completion percentage, clamped to [0,100].
func (t *Task) SetCompletion(pct float64) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	t.Completion = pct
	t.UpdatedAt = time.Now().UTC()
}

// MarkStarted transitions the task to InProgress and stamps StartedAt
// on first start.
func (t *Task) MarkStarted() {
	now := time.Now().UTC()
	t.Status = StatusInProgress
	if t.StartedAt == nil {
		t.StartedAt = &now
	}
	t.UpdatedAt = now
}

// MarkCompleted transitions the task to Completed at 100% completion.
func (t *Task) MarkCompleted() {
	now := time.Now().UTC()
	t.Status = StatusCompleted
	t.Completion = 100
	t.CompletedAt = &now
	t.UpdatedAt = now
}

// MarkFailed transitions the task to Failed and records the error message.
func (t *Task) MarkFailed(err error) {
	now := time.Now().UTC()
	t.Status = StatusFailed
	if err != nil {
		t.LastError = err.Error()
	}
	t.UpdatedAt = now
}

// Validate checks structural invariants: a non-empty ID, a known priority
// and status, completion within range, and no self-dependency.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task has empty ID")
	}
	if !t.Priority.IsValid() {
		return fmt.Errorf("task %q has unknown priority %q", t.ID, t.Priority)
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("task %q has unknown status %q", t.ID, t.Status)
	}
	if t.Completion < 0 || t.Completion > 100 {
		return fmt.Errorf("task %q completion %.1f outside [0,100]", t.ID, t.Completion)
	}
	for _, dep := range t.DependsOn {
		if dep == t.ID {
			return fmt.Errorf("task %q depends on itself", t.ID)
		}
	}
	return nil
}

// Clone returns a deep copy so callers never share interior state.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.DependsOn != nil {
		cp.DependsOn = append([]string(nil), t.DependsOn...)
	}
	if t.Tags != nil {
		cp.Tags = append([]string(nil), t.Tags...)
	}
	if t.Context != nil {
		cp.Context = make(map[string]any, len(t.Context))
		for k, v := range t.Context {
			cp.Context[k] = v
		}
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		cp.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		cp.CompletedAt = &v
	}
	if t.LastPreemptedAt != nil {
		v := *t.LastPreemptedAt
		cp.LastPreemptedAt = &v
	}
	if t.Deadline != nil {
		v := *t.Deadline
		cp.Deadline = &v
	}
	return &cp
}
