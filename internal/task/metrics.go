package task

import (
	"sync"
	"time"
)

// WorkflowMetrics accumulates execution counters for the active workflow.
// Mutated only by the workflow that owns it; read by the controller for
// status reporting, so all access goes through the mutex.
type WorkflowMetrics struct {
	mu sync.Mutex

	completed       int
	failed          int
	preemptions     int
	contextSwitches int
	avgResponse     time.Duration
	samples         int
}

// RecordCompleted counts a successful task and folds its duration into the
// rolling average response time.
func (m *WorkflowMetrics) RecordCompleted(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed++
	m.recordSample(d)
}

// RecordFailed counts a failed task and folds its duration into the
// rolling average response time.
func (m *WorkflowMetrics) RecordFailed(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
	m.recordSample(d)
}

// RecordPreemption counts one preemption and one context switch.
func (m *WorkflowMetrics) RecordPreemption() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preemptions++
	m.contextSwitches++
}

// RecordContextSwitch counts a context switch without a preemption,
// e.g. a resume.
func (m *WorkflowMetrics) RecordContextSwitch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contextSwitches++
}

// recordSample updates the rolling average. Caller holds the mutex.
func (m *WorkflowMetrics) recordSample(d time.Duration) {
	m.samples++
	// Incremental mean avoids keeping every sample around.
	m.avgResponse += (d - m.avgResponse) / time.Duration(m.samples)
}

// MetricsSnapshot is a point-in-time copy of workflow metrics.
type MetricsSnapshot struct {
	Completed       int           `json:"completed"`
	Failed          int           `json:"failed"`
	Preemptions     int           `json:"preemptions"`
	ContextSwitches int           `json:"context_switches"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// Snapshot returns a copy of the current counters.
func (m *WorkflowMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		Completed:       m.completed,
		Failed:          m.failed,
		Preemptions:     m.preemptions,
		ContextSwitches: m.contextSwitches,
		AvgResponseTime: m.avgResponse,
	}
}
