package preempt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/conductor/internal/snapshot"
	"github.com/aristath/conductor/internal/task"
)

// PreemptionError reports a failed pause. The task's status and active-set
// membership are unchanged when it is returned: a task is never left
// half-paused.
type PreemptionError struct {
	TaskID string
	Reason error
}

func (e *PreemptionError) Error() string {
	return fmt.Sprintf("pause of task %q aborted: %v", e.TaskID, e.Reason)
}

func (e *PreemptionError) Unwrap() error { return e.Reason }

// ResumeError reports a failed resume: no snapshot exists, or the snapshot
// failed checksum validation.
type ResumeError struct {
	TaskID string
	Reason error
}

func (e *ResumeError) Error() string {
	return fmt.Sprintf("resume of task %q failed: %v", e.TaskID, e.Reason)
}

func (e *ResumeError) Unwrap() error { return e.Reason }

// Config holds the preemption tunables.
type Config struct {
	MaxDepth int           // Maximum times a single task may be preempted
	Cooldown time.Duration // Minimum gap between preemptions of the same task
	PauseFan int           // Concurrent snapshot writes during a stop-the-world pause
}

// DefaultConfig returns the stock preemption settings.
func DefaultConfig() Config {
	return Config{
		MaxDepth: 3,
		Cooldown: 5 * time.Minute,
		PauseFan: 4,
	}
}

// Manager owns the dependency graph and the active-task set, and drives
// pause/resume through the snapshot engine.
type Manager struct {
	mu     sync.Mutex
	cfg    Config
	graph  *Graph
	engine *snapshot.Engine
	active map[string]*task.Task
}

// NewManager creates a preemption manager backed by the given snapshot
// engine.
func NewManager(cfg Config, engine *snapshot.Engine) *Manager {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultConfig().MaxDepth
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	if cfg.PauseFan <= 0 {
		cfg.PauseFan = DefaultConfig().PauseFan
	}
	return &Manager{
		cfg:    cfg,
		graph:  NewGraph(),
		engine: engine,
		active: make(map[string]*task.Task),
	}
}

// Graph returns the dependency graph the manager owns.
func (m *Manager) Graph() *Graph { return m.graph }

// AddDependency records that task u depends on task v, rejecting any edge
// that would break acyclicity.
func (m *Manager) AddDependency(u, v string) error {
	return m.graph.AddDependency(u, v)
}

// Admit adds a task to the active set before execution starts.
func (m *Manager) Admit(t *task.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[t.ID] = t
}

// Begin admits the task and marks it started in one step. The status
// transition happens under the manager's lock so it cannot interleave
// with a concurrent Pause of the same task.
func (m *Manager) Begin(t *task.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[t.ID] = t
	t.MarkStarted()
}

// Finalize records the outcome of an executed task. The status check and
// transition happen under the manager's lock: a task paused mid-flight by
// a concurrent Pause keeps its snapshot and is left untouched, reported
// via paused. Otherwise the task is marked Completed (with output merged
// into its context) or Failed, and it leaves the active set.
func (m *Manager) Finalize(t *task.Task, output map[string]any, execErr error) (paused bool) {
	m.mu.Lock()
	if t.Status == task.StatusPaused {
		m.mu.Unlock()
		return true
	}
	if execErr != nil {
		t.MarkFailed(execErr)
	} else {
		if len(output) > 0 {
			if t.Context == nil {
				t.Context = make(map[string]any, len(output))
			}
			for k, v := range output {
				t.Context[k] = v
			}
		}
		t.MarkCompleted()
	}
	delete(m.active, t.ID)
	m.mu.Unlock()
	m.graph.RemoveTask(t.ID)
	return false
}

// Release removes a task from the active set (completed, failed, or
// cancelled) and drops its graph edges.
func (m *Manager) Release(id string) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
	m.graph.RemoveTask(id)
}

// Active returns clones of the tasks currently in the active set.
func (m *Manager) Active() []*task.Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*task.Task, 0, len(m.active))
	for _, t := range m.active {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CanPause reports whether the task is currently pausable: not critical,
// below the preemption depth limit, past the cooldown since its last
// preemption, and actively running.
func (m *Manager) CanPause(t *task.Task) bool {
	if t.Priority == task.PriorityCritical {
		return false
	}
	if t.PreemptionCount >= m.cfg.MaxDepth {
		return false
	}
	if t.LastPreemptedAt != nil && time.Since(*t.LastPreemptedAt) < m.cfg.Cooldown {
		return false
	}
	return t.Status == task.StatusInProgress
}

// Pause checkpoints a running task so higher-priority work can run.
// The snapshot is persisted first; only after persistence succeeds does
// the task transition to Paused and leave the active set. If persistence
// fails the pause is aborted and the task is untouched, preserving the
// invariant that a Paused task always has a durable, checksummed snapshot.
//
// Returns false with a nil error when the task is simply not pausable.
func (m *Manager) Pause(t *task.Task, contextBlob map[string]any) (bool, error) {
	m.mu.Lock()
	if !m.CanPause(t) {
		m.mu.Unlock()
		return false, nil
	}
	payload := contextBlob
	if payload == nil {
		payload = t.Context
	}
	originalStatus := t.Status
	m.mu.Unlock()

	// Persist first, outside the manager lock so snapshot I/O for distinct
	// tasks can proceed concurrently during a stop-the-world pause.
	now := time.Now().UTC()
	rec := snapshot.Record{
		TaskID:   t.ID,
		Name:     t.Name,
		Status:   originalStatus,
		Payload:  payload,
		PausedAt: now,
	}
	if err := m.engine.Save(rec); err != nil {
		return false, &PreemptionError{TaskID: t.ID, Reason: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if t.Status != originalStatus {
		// The task changed state while the snapshot was being written;
		// the pause no longer applies. Drop the orphan snapshot.
		if _, err := m.engine.Delete(t.ID); err != nil {
			log.Printf("WARNING: could not remove stale snapshot for task %q: %v", t.ID, err)
		}
		return false, nil
	}

	t.Status = task.StatusPaused
	t.Context = payload
	t.PreemptionCount++
	t.LastPreemptedAt = &now
	t.UpdatedAt = now
	delete(m.active, t.ID)
	return true, nil
}

// Resume restores a paused task from its snapshot: the pre-pause status
// comes back, the saved context payload is returned, and the task rejoins
// the active set.
func (m *Manager) Resume(t *task.Task) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.engine.Load(t.ID)
	if err != nil {
		return nil, &ResumeError{TaskID: t.ID, Reason: err}
	}

	t.Status = rec.Status
	t.Context = rec.Payload
	t.UpdatedAt = time.Now().UTC()
	m.active[t.ID] = t
	return rec.Payload, nil
}

// PauseAll pauses every active non-critical task before a critical task is
// dispatched: total, stop-the-world preemption. Snapshot writes fan out
// concurrently; a task whose snapshot fails to persist is left running and
// reported in the returned error, never left half-paused.
func (m *Manager) PauseAll(ctx context.Context) ([]*task.Task, error) {
	m.mu.Lock()
	candidates := make([]*task.Task, 0, len(m.active))
	for _, t := range m.active {
		if t.Priority != task.PriorityCritical {
			candidates = append(candidates, t)
		}
	}
	m.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	var pausedMu sync.Mutex
	var paused []*task.Task
	var failures []error

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.PauseFan)

	for _, t := range candidates {
		g.Go(func() error {
			ok, err := m.Pause(t, nil)

			pausedMu.Lock()
			defer pausedMu.Unlock()
			if err != nil {
				failures = append(failures, err)
				log.Printf("WARNING: stop-the-world pause left task %q running: %v", t.ID, err)
				return nil // Keep pausing the rest
			}
			if ok {
				paused = append(paused, t)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(paused, func(i, j int) bool { return paused[i].ID < paused[j].ID })
	return paused, errors.Join(failures...)
}
