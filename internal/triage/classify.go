package triage

import (
	"strings"
	"time"

	"github.com/aristath/conductor/internal/task"
)

// Rule is one link in the classification chain. It proposes a priority for
// a task; the chain keeps the highest proposal, so rules can only ever
// raise a task's priority, never lower it.
type Rule interface {
	Name() string
	Propose(t *task.Task) task.Priority
}

// DefaultRules returns the stock classification chain, evaluated in order:
// explicit severity hint, content keywords, deadline proximity, dependency
// fan-out, business impact.
func DefaultRules(dependents func(id string) int) []Rule {
	return []Rule{
		SeverityHintRule{},
		KeywordRule{Keywords: defaultKeywords()},
		DeadlineRule{},
		FanOutRule{Dependents: dependents},
		BusinessImpactRule{},
	}
}

// Classify runs the chain and returns the highest priority proposed,
// starting from the task's current priority.
func Classify(t *task.Task, rules []Rule) task.Priority {
	p := t.Priority
	if !p.IsValid() {
		p = task.PriorityLow
	}
	for _, r := range rules {
		if proposal := r.Propose(t); proposal.Rank() > p.Rank() {
			p = proposal
		}
	}
	return p
}

// SeverityHintRule honors an explicit severity set by the submitter.
// A structured field, not a guess from free text.
type SeverityHintRule struct{}

func (SeverityHintRule) Name() string { return "severity_hint" }

func (SeverityHintRule) Propose(t *task.Task) task.Priority {
	if t.SeverityHint.IsValid() {
		return t.SeverityHint
	}
	return task.PriorityLow
}

// KeywordRule raises priority when the task name or tags carry urgency
// markers.
type KeywordRule struct {
	Keywords map[string]task.Priority
}

func defaultKeywords() map[string]task.Priority {
	return map[string]task.Priority{
		"outage":     task.PriorityCritical,
		"security":   task.PriorityCritical,
		"data-loss":  task.PriorityCritical,
		"hotfix":     task.PriorityHigh,
		"urgent":     task.PriorityHigh,
		"regression": task.PriorityHigh,
		"bug":        task.PriorityMedium,
	}
}

func (KeywordRule) Name() string { return "keywords" }

func (r KeywordRule) Propose(t *task.Task) task.Priority {
	best := task.PriorityLow
	consider := func(s string) {
		s = strings.ToLower(s)
		for kw, p := range r.Keywords {
			if strings.Contains(s, kw) && p.Rank() > best.Rank() {
				best = p
			}
		}
	}
	consider(t.Name)
	for _, tag := range t.Tags {
		consider(tag)
	}
	return best
}

// DeadlineRule raises priority as a task's deadline approaches.
type DeadlineRule struct{}

func (DeadlineRule) Name() string { return "deadline" }

func (DeadlineRule) Propose(t *task.Task) task.Priority {
	if t.Deadline == nil {
		return task.PriorityLow
	}
	remaining := time.Until(*t.Deadline)
	switch {
	case remaining <= 15*time.Minute:
		return task.PriorityCritical
	case remaining <= 2*time.Hour:
		return task.PriorityHigh
	case remaining <= 24*time.Hour:
		return task.PriorityMedium
	}
	return task.PriorityLow
}

// FanOutRule raises priority for tasks that many other tasks depend on,
// since delaying them delays everything downstream.
type FanOutRule struct {
	Dependents func(id string) int // Number of tasks depending on the given ID
}

func (FanOutRule) Name() string { return "fan_out" }

func (r FanOutRule) Propose(t *task.Task) task.Priority {
	if r.Dependents == nil {
		return task.PriorityLow
	}
	switch n := r.Dependents(t.ID); {
	case n >= 5:
		return task.PriorityHigh
	case n >= 2:
		return task.PriorityMedium
	}
	return task.PriorityLow
}

// BusinessImpactRule raises priority from the structured impact score.
type BusinessImpactRule struct{}

func (BusinessImpactRule) Name() string { return "business_impact" }

func (BusinessImpactRule) Propose(t *task.Task) task.Priority {
	switch {
	case t.BusinessImpact >= 9:
		return task.PriorityCritical
	case t.BusinessImpact >= 7:
		return task.PriorityHigh
	case t.BusinessImpact >= 4:
		return task.PriorityMedium
	}
	return task.PriorityLow
}
