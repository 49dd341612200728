package config

import (
	"time"

	"github.com/aristath/conductor/internal/task"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Selector: SelectorConfig{
			TaskCountThreshold:   50,
			ClarityThreshold:     95,
			ComplexityThreshold:  5,
			SequentialRiskLevels: []task.RiskLevel{task.RiskLow},
		},
		Triage: TriageConfig{
			MaxQueueSize: 1000,
			SLATargets: map[string]Duration{
				string(task.PriorityCritical): Duration(5 * time.Minute),
				string(task.PriorityHigh):     Duration(time.Hour),
				string(task.PriorityMedium):   Duration(24 * time.Hour),
				string(task.PriorityLow):      Duration(7 * 24 * time.Hour),
			},
			SweepInterval: Duration(30 * time.Second),
		},
		Preemption: PreemptionConfig{
			MaxPreemptionDepth: 3,
			CooldownDuration:   Duration(5 * time.Minute),
		},
		ContextEngine: ContextEngineConfig{
			StoragePath:   ".conductor/snapshots",
			LockTimeout:   Duration(5 * time.Second),
			RetentionDays: 7,
		},
		ArchivePath: ".conductor/archive.db",
	}
}
