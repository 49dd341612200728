package task

import (
	"fmt"
	"strings"
)

// ProjectSpecs describes the project characteristics the workflow selector
// evaluates. Specs are created once per orchestration request and treated
// as immutable after selection.
type ProjectSpecs struct {
	TaskCount               int       `json:"task_count"`               // >= 1
	RequirementsClarity     float64   `json:"requirements_clarity"`     // [0,100]
	ArchitecturalComplexity int       `json:"architectural_complexity"` // [1,10]
	RiskLevel               RiskLevel `json:"risk_level"`
	TeamSize                int       `json:"team_size"` // >= 1
}

// Validate checks every field against its allowed range. All violations
// are reported in a single error so callers see the full picture at once.
func (s ProjectSpecs) Validate() error {
	var bad []string
	if s.TaskCount < 1 {
		bad = append(bad, fmt.Sprintf("task_count must be >= 1, got %d", s.TaskCount))
	}
	if s.RequirementsClarity < 0 || s.RequirementsClarity > 100 {
		bad = append(bad, fmt.Sprintf("requirements_clarity must be in [0,100], got %.1f", s.RequirementsClarity))
	}
	if s.ArchitecturalComplexity < 1 || s.ArchitecturalComplexity > 10 {
		bad = append(bad, fmt.Sprintf("architectural_complexity must be in [1,10], got %d", s.ArchitecturalComplexity))
	}
	if !s.RiskLevel.IsValid() {
		bad = append(bad, fmt.Sprintf("risk_level must be one of LOW/MEDIUM/HIGH, got %q", s.RiskLevel))
	}
	if s.TeamSize < 1 {
		bad = append(bad, fmt.Sprintf("team_size must be >= 1, got %d", s.TeamSize))
	}
	if len(bad) > 0 {
		return fmt.Errorf("invalid project specs: %s", strings.Join(bad, "; "))
	}
	return nil
}
