// Package workflow contains the two execution state machines: the
// sequential phase-gate workflow and the adaptive preemptive loop, plus
// the contract for the external task executor they delegate to.
package workflow

import (
	"context"

	"github.com/aristath/conductor/internal/task"
)

// Result reports the outcome of executing one task.
type Result struct {
	// Output carries context updates produced by the execution; merged
	// into the task's context payload on success.
	Output map[string]any

	// Critical marks a failure as unrecoverable for the whole workflow.
	// A structured flag set by the executor, never inferred from task
	// names or error text. Meaningful only when Execute returns an error.
	Critical bool
}

// Executor performs the actual unit of work for a task. Implementations
// live outside the orchestration core; the workflows only consume this
// contract. Execute must honor ctx cancellation for long-running work.
type Executor interface {
	Execute(ctx context.Context, t *task.Task) (Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, t *task.Task) (Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, t *task.Task) (Result, error) {
	return f(ctx, t)
}
