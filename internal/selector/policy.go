package selector

import (
	"sync"

	"github.com/aristath/conductor/internal/task"
)

// Thresholds holds the tunable factor thresholds for workflow selection.
type Thresholds struct {
	TaskCountThreshold   int              `json:"task_count_threshold"`
	ClarityThreshold     float64          `json:"clarity_threshold"`
	ComplexityThreshold  int              `json:"complexity_threshold"`
	SequentialRiskLevels []task.RiskLevel `json:"sequential_risk_levels"`
}

// Policy is a lock-guarded, runtime-mutable container for selection
// thresholds. A single policy instance is shared by the selector and by
// whatever applies config updates (e.g. the config file watcher).
type Policy struct {
	mu sync.RWMutex
	th Thresholds
}

// DefaultPolicy returns the stock thresholds: projects below 50 tasks with
// clarity above 95%, complexity at most 5, and low risk run sequentially.
func DefaultPolicy() *Policy {
	return &Policy{th: Thresholds{
		TaskCountThreshold:   50,
		ClarityThreshold:     95,
		ComplexityThreshold:  5,
		SequentialRiskLevels: []task.RiskLevel{task.RiskLow},
	}}
}

// NewPolicy creates a policy from explicit thresholds.
func NewPolicy(th Thresholds) *Policy {
	p := &Policy{}
	p.Update(th)
	return p
}

// Snapshot returns a copy of the current thresholds.
func (p *Policy) Snapshot() Thresholds {
	p.mu.RLock()
	defer p.mu.RUnlock()
	th := p.th
	th.SequentialRiskLevels = append([]task.RiskLevel(nil), p.th.SequentialRiskLevels...)
	return th
}

// Update replaces the thresholds. Zero-valued fields keep their current
// values so partial updates from config merges are safe.
func (p *Policy) Update(th Thresholds) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if th.TaskCountThreshold > 0 {
		p.th.TaskCountThreshold = th.TaskCountThreshold
	}
	if th.ClarityThreshold > 0 {
		p.th.ClarityThreshold = th.ClarityThreshold
	}
	if th.ComplexityThreshold > 0 {
		p.th.ComplexityThreshold = th.ComplexityThreshold
	}
	if th.SequentialRiskLevels != nil {
		p.th.SequentialRiskLevels = append([]task.RiskLevel(nil), th.SequentialRiskLevels...)
	}
}
