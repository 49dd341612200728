package task

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestPriorityRank(t *testing.T) {
	order := []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}
	for i := 0; i < len(order)-1; i++ {
		if order[i].Rank() <= order[i+1].Rank() {
			t.Errorf("%s should rank above %s", order[i], order[i+1])
		}
		if order[i+1].Higher() != order[i] {
			t.Errorf("%s.Higher() = %s, want %s", order[i+1], order[i+1].Higher(), order[i])
		}
	}
	if Priority("BOGUS").IsValid() {
		t.Error("IsValid(BOGUS) = true, want false")
	}
}

func TestStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusNotStarted, false},
		{StatusInProgress, false},
		{StatusPaused, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("IsTerminal(%s) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestTaskLifecycle(t *testing.T) {
	tk := New("deploy service")
	if tk.ID == "" {
		t.Fatal("New did not assign an ID")
	}
	if tk.Status != StatusNotStarted {
		t.Fatalf("new task status = %s, want %s", tk.Status, StatusNotStarted)
	}

	tk.MarkStarted()
	if tk.Status != StatusInProgress || tk.StartedAt == nil {
		t.Errorf("MarkStarted: status=%s startedAt=%v", tk.Status, tk.StartedAt)
	}

	tk.SetCompletion(150)
	if tk.Completion != 100 {
		t.Errorf("SetCompletion(150) = %v, want clamped to 100", tk.Completion)
	}
	tk.SetCompletion(-5)
	if tk.Completion != 0 {
		t.Errorf("SetCompletion(-5) = %v, want clamped to 0", tk.Completion)
	}

	tk.MarkCompleted()
	if tk.Status != StatusCompleted || tk.CompletedAt == nil || tk.Completion != 100 {
		t.Errorf("MarkCompleted: status=%s completion=%v", tk.Status, tk.Completion)
	}
}

func TestTaskMarkFailed(t *testing.T) {
	tk := New("flaky thing")
	tk.MarkStarted()
	tk.MarkFailed(errors.New("disk full"))
	if tk.Status != StatusFailed {
		t.Errorf("status = %s, want %s", tk.Status, StatusFailed)
	}
	if !strings.Contains(tk.LastError, "disk full") {
		t.Errorf("LastError = %q, want it to mention the cause", tk.LastError)
	}
}

func TestTaskValidate(t *testing.T) {
	tk := New("self loop")
	tk.DependsOn = []string{tk.ID}
	if err := tk.Validate(); err == nil {
		t.Error("Validate allowed a self-dependency")
	}

	tk2 := New("fine")
	if err := tk2.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestTaskClone(t *testing.T) {
	tk := New("original")
	tk.Context = map[string]any{"step": 3}
	tk.DependsOn = []string{"a", "b"}
	tk.Tags = []string{"infra"}

	cp := tk.Clone()
	cp.Context["step"] = 99
	cp.DependsOn[0] = "z"
	cp.Tags[0] = "changed"

	if tk.Context["step"] != 3 {
		t.Error("Clone shares the Context map")
	}
	if tk.DependsOn[0] != "a" {
		t.Error("Clone shares the DependsOn slice")
	}
	if tk.Tags[0] != "infra" {
		t.Error("Clone shares the Tags slice")
	}
}

func TestProjectSpecsValidate(t *testing.T) {
	tests := []struct {
		name        string
		specs       ProjectSpecs
		wantErr     bool
		errContains string
	}{
		{
			name: "valid",
			specs: ProjectSpecs{
				TaskCount:               10,
				RequirementsClarity:     90,
				ArchitecturalComplexity: 4,
				RiskLevel:               RiskLow,
				TeamSize:                3,
			},
		},
		{
			name: "negative task count",
			specs: ProjectSpecs{
				TaskCount:               -1,
				RequirementsClarity:     90,
				ArchitecturalComplexity: 4,
				RiskLevel:               RiskLow,
				TeamSize:                3,
			},
			wantErr:     true,
			errContains: "task_count",
		},
		{
			name: "clarity out of range",
			specs: ProjectSpecs{
				TaskCount:               10,
				RequirementsClarity:     101,
				ArchitecturalComplexity: 4,
				RiskLevel:               RiskLow,
				TeamSize:                3,
			},
			wantErr:     true,
			errContains: "clarity",
		},
		{
			name: "complexity out of range",
			specs: ProjectSpecs{
				TaskCount:               10,
				RequirementsClarity:     90,
				ArchitecturalComplexity: 11,
				RiskLevel:               RiskLow,
				TeamSize:                3,
			},
			wantErr:     true,
			errContains: "complexity",
		},
		{
			name: "unknown risk level",
			specs: ProjectSpecs{
				TaskCount:               10,
				RequirementsClarity:     90,
				ArchitecturalComplexity: 4,
				RiskLevel:               RiskLevel("EXTREME"),
				TeamSize:                3,
			},
			wantErr:     true,
			errContains: "risk",
		},
		{
			name: "multiple violations reported together",
			specs: ProjectSpecs{
				TaskCount:               -1,
				RequirementsClarity:     -1,
				ArchitecturalComplexity: 99,
				RiskLevel:               RiskLow,
				TeamSize:                1,
			},
			wantErr:     true,
			errContains: "task_count",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.specs.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error = %q, want it to contain %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestWorkflowMetrics(t *testing.T) {
	var m WorkflowMetrics
	m.RecordCompleted(100 * time.Millisecond)
	m.RecordCompleted(300 * time.Millisecond)
	m.RecordFailed(200 * time.Millisecond)
	m.RecordPreemption()
	m.RecordContextSwitch()

	snap := m.Snapshot()
	if snap.Completed != 2 || snap.Failed != 1 {
		t.Errorf("completed=%d failed=%d, want 2/1", snap.Completed, snap.Failed)
	}
	// A preemption implies a context switch, so the explicit switch makes two.
	if snap.Preemptions != 1 || snap.ContextSwitches != 2 {
		t.Errorf("preemptions=%d switches=%d, want 1/2", snap.Preemptions, snap.ContextSwitches)
	}
	if snap.AvgResponseTime != 200*time.Millisecond {
		t.Errorf("avg response = %v, want 200ms", snap.AvgResponseTime)
	}
}
