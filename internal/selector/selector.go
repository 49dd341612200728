// Package selector implements the workflow selection decision engine.
// It evaluates project specs against configurable thresholds and picks
// between the sequential and adaptive execution modes.
package selector

import (
	"fmt"

	"github.com/aristath/conductor/internal/task"
)

// Mode identifies an execution strategy.
type Mode string

const (
	ModeSequential Mode = "SEQUENTIAL"
	ModeAdaptive   Mode = "ADAPTIVE"
)

// ValidationError reports project specs that failed validation.
// Nothing is mutated when it is returned.
type ValidationError struct {
	Reason error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workflow selection rejected: %v", e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Reason }

// Factor names one of the four independent selection factors.
type Factor string

const (
	FactorTaskCount  Factor = "task_count"
	FactorClarity    Factor = "requirements_clarity"
	FactorComplexity Factor = "architectural_complexity"
	FactorRisk       Factor = "risk_level"
)

// Vote records how one factor voted and why.
type Vote struct {
	Factor Factor `json:"factor"`
	Mode   Mode   `json:"mode"`
	Detail string `json:"detail"`
}

// Decision is the outcome of a selection, including the per-factor votes
// for status reporting and audit.
type Decision struct {
	Mode            Mode   `json:"mode"`
	SequentialVotes int    `json:"sequential_votes"`
	AdaptiveVotes   int    `json:"adaptive_votes"`
	Votes           []Vote `json:"votes"`
}

// Selector picks a workflow mode from project specs. Thresholds live in a
// Policy that can be swapped at runtime without restarting.
type Selector struct {
	policy *Policy
}

// New creates a selector with the given policy; nil uses DefaultPolicy.
func New(policy *Policy) *Selector {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Selector{policy: policy}
}

// Policy returns the selector's live policy for runtime updates.
func (s *Selector) Policy() *Policy { return s.policy }

// Select validates the specs and evaluates the four factors. Each factor
// casts one vote; the majority wins and an exact tie goes to the adaptive
// mode, which handles ambiguity better than a fixed phase sequence.
func (s *Selector) Select(specs task.ProjectSpecs) (Decision, error) {
	if err := specs.Validate(); err != nil {
		return Decision{}, &ValidationError{Reason: err}
	}

	th := s.policy.Snapshot()

	votes := []Vote{
		voteFor(FactorTaskCount,
			specs.TaskCount < th.TaskCountThreshold,
			fmt.Sprintf("task_count %d vs threshold %d", specs.TaskCount, th.TaskCountThreshold)),
		voteFor(FactorClarity,
			specs.RequirementsClarity > th.ClarityThreshold,
			fmt.Sprintf("clarity %.1f vs threshold %.1f", specs.RequirementsClarity, th.ClarityThreshold)),
		voteFor(FactorComplexity,
			specs.ArchitecturalComplexity <= th.ComplexityThreshold,
			fmt.Sprintf("complexity %d vs threshold %d", specs.ArchitecturalComplexity, th.ComplexityThreshold)),
		voteFor(FactorRisk,
			riskAllowed(specs.RiskLevel, th.SequentialRiskLevels),
			fmt.Sprintf("risk %s vs allowed %v", specs.RiskLevel, th.SequentialRiskLevels)),
	}

	d := Decision{Votes: votes}
	for _, v := range votes {
		if v.Mode == ModeSequential {
			d.SequentialVotes++
		} else {
			d.AdaptiveVotes++
		}
	}

	if d.SequentialVotes > d.AdaptiveVotes {
		d.Mode = ModeSequential
	} else {
		// Majority adaptive, or a tie.
		d.Mode = ModeAdaptive
	}
	return d, nil
}

func voteFor(f Factor, sequential bool, detail string) Vote {
	mode := ModeAdaptive
	if sequential {
		mode = ModeSequential
	}
	return Vote{Factor: f, Mode: mode, Detail: detail}
}

func riskAllowed(r task.RiskLevel, allowed []task.RiskLevel) bool {
	for _, a := range allowed {
		if r == a {
			return true
		}
	}
	return false
}
