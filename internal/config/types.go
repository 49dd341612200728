package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/conductor/internal/task"
)

// Duration wraps time.Duration so JSON configs can use strings like "5m".
type Duration time.Duration

// UnmarshalJSON accepts either a duration string ("30s", "5m") or a
// number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
		return nil
	}
	return fmt.Errorf("invalid duration value %v", v)
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// SelectorConfig holds the workflow-selection thresholds.
type SelectorConfig struct {
	TaskCountThreshold   int              `json:"task_count_threshold"`
	ClarityThreshold     float64          `json:"clarity_threshold"`
	ComplexityThreshold  int              `json:"complexity_threshold"`
	SequentialRiskLevels []task.RiskLevel `json:"sequential_risk_levels"`
}

// TriageConfig holds queue capacities and SLA targets.
type TriageConfig struct {
	MaxQueueSize  int                 `json:"max_queue_size"`
	SLATargets    map[string]Duration `json:"sla_targets"` // Keyed by priority class name
	SweepInterval Duration            `json:"sweep_interval"`
}

// PreemptionConfig holds the pause/resume tunables.
type PreemptionConfig struct {
	MaxPreemptionDepth int      `json:"max_preemption_depth"`
	CooldownDuration   Duration `json:"cooldown_duration"`
}

// ContextEngineConfig holds snapshot storage settings. LockTimeout is
// recognized for networked blob-store backends; the filesystem backend
// does not use it.
type ContextEngineConfig struct {
	StoragePath   string   `json:"storage_path"`
	LockTimeout   Duration `json:"lock_timeout"`
	RetentionDays int      `json:"retention_days"`
}

// Config is the top-level configuration.
type Config struct {
	Selector      SelectorConfig      `json:"selector"`
	Triage        TriageConfig        `json:"triage"`
	Preemption    PreemptionConfig    `json:"preemption"`
	ContextEngine ContextEngineConfig `json:"context_engine"`
	ArchivePath   string              `json:"archive_path"` // SQLite task archive; empty disables
}
