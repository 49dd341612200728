// Package orchestrator wires the workflow selector, triage system,
// preemption manager, and context engine behind a single controller and
// adds execution resilience (retry, circuit breaking) around task
// executors.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/aristath/conductor/internal/config"
	"github.com/aristath/conductor/internal/events"
	"github.com/aristath/conductor/internal/persistence"
	"github.com/aristath/conductor/internal/preempt"
	"github.com/aristath/conductor/internal/selector"
	"github.com/aristath/conductor/internal/snapshot"
	"github.com/aristath/conductor/internal/task"
	"github.com/aristath/conductor/internal/triage"
	"github.com/aristath/conductor/internal/workflow"
)

// StateError reports an operation attempted in a workflow state that does
// not allow it, such as executing before a mode has been selected.
type StateError struct {
	Op     string
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// Options configures a Controller. Config is required; the rest are
// optional and default to in-process no-ops.
type Options struct {
	Config   *config.Config
	Store    persistence.Store // Task archive and escalation audit; nil disables
	Bus      *events.Bus       // Lifecycle event bus; nil disables
	RetryCfg *RetryConfig      // Executor retry policy; nil uses defaults
}

// Controller is the façade over the orchestration core. One controller
// manages one workflow at a time.
type Controller struct {
	mu  sync.Mutex
	cfg *config.Config

	sel    *selector.Selector
	tri    *triage.System
	pre    *preempt.Manager
	engine *snapshot.Engine
	store  persistence.Store
	bus    *events.Bus

	retryCfg RetryConfig

	decision *selector.Decision
	running  bool
	seq      *workflow.Sequential
	adp      *workflow.Adaptive
	tasks    map[string]*task.Task

	maintCancel context.CancelFunc
	maintDone   chan struct{}
}

// New builds a controller from configuration. The snapshot directory is
// created if missing.
func New(opts Options) (*Controller, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	engine, err := snapshot.NewEngine(cfg.ContextEngine.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("context engine: %w", err)
	}

	pre := preempt.NewManager(preempt.Config{
		MaxDepth: cfg.Preemption.MaxPreemptionDepth,
		Cooldown: cfg.Preemption.CooldownDuration.Std(),
	}, engine)

	triCfg := triage.DefaultConfig()
	if cfg.Triage.MaxQueueSize > 0 {
		triCfg.MaxQueueSize = cfg.Triage.MaxQueueSize
	}
	if cfg.Triage.SweepInterval > 0 {
		triCfg.SweepInterval = cfg.Triage.SweepInterval.Std()
	}
	for name, d := range cfg.Triage.SLATargets {
		p := task.Priority(name)
		if p.IsValid() && d > 0 {
			triCfg.SLATargets[p] = d.Std()
		}
	}

	var recorder triage.EscalationRecorder
	if opts.Store != nil {
		recorder = opts.Store
	}
	rules := triage.DefaultRules(func(id string) int {
		return len(pre.Graph().Dependents(id))
	})
	tri := triage.New(triCfg, rules, recorder, opts.Bus)

	policy := selector.NewPolicy(selector.Thresholds{
		TaskCountThreshold:   cfg.Selector.TaskCountThreshold,
		ClarityThreshold:     cfg.Selector.ClarityThreshold,
		ComplexityThreshold:  cfg.Selector.ComplexityThreshold,
		SequentialRiskLevels: cfg.Selector.SequentialRiskLevels,
	})

	retryCfg := DefaultRetryConfig()
	if opts.RetryCfg != nil {
		retryCfg = *opts.RetryCfg
	}

	return &Controller{
		cfg:      cfg,
		sel:      selector.New(policy),
		tri:      tri,
		pre:      pre,
		engine:   engine,
		store:    opts.Store,
		bus:      opts.Bus,
		retryCfg: retryCfg,
		tasks:    make(map[string]*task.Task),
	}, nil
}

var (
	defaultOnce sync.Once
	defaultCtl  *Controller
	defaultErr  error
)

// Default returns a process-wide controller built from the conventional
// config paths. Prefer New for anything beyond one-off tooling.
func Default() (*Controller, error) {
	defaultOnce.Do(func() {
		cfg, err := config.LoadDefault()
		if err != nil {
			defaultErr = err
			return
		}
		defaultCtl, defaultErr = New(Options{Config: cfg})
	})
	return defaultCtl, defaultErr
}

// Selector exposes the live selector, mainly so callers can feed its
// policy to a config watcher.
func (c *Controller) Selector() *selector.Selector { return c.sel }

// Engine exposes the context engine for snapshot inspection and cleanup.
func (c *Controller) Engine() *snapshot.Engine { return c.engine }

// AddDependency registers that task u depends on task v. Edges that
// would create a cycle are rejected and the graph is left unchanged.
func (c *Controller) AddDependency(u, v string) error {
	return c.pre.AddDependency(u, v)
}

// SelectWorkflow evaluates the project specs and fixes the workflow mode
// for the next ExecuteWorkflow call.
func (c *Controller) SelectWorkflow(specs task.ProjectSpecs) (selector.Decision, error) {
	dec, err := c.sel.Select(specs)
	if err != nil {
		return selector.Decision{}, err
	}

	c.mu.Lock()
	c.decision = &dec
	c.mu.Unlock()

	log.Printf("workflow selected: %s (%d sequential / %d adaptive)",
		dec.Mode, dec.SequentialVotes, dec.AdaptiveVotes)
	if c.bus != nil {
		c.bus.Publish(events.TopicWorkflow, events.WorkflowSelectedEvent{
			Mode: dec.Mode, Timestamp: time.Now().UTC(),
		})
	}
	return dec, nil
}

// ExecuteWorkflow runs the tasks under the previously selected mode,
// wrapping the executor with retry and circuit breaking. Only one
// workflow may run at a time.
func (c *Controller) ExecuteWorkflow(ctx context.Context, exec workflow.Executor, tasks []*task.Task) error {
	c.mu.Lock()
	if c.decision == nil {
		c.mu.Unlock()
		return &StateError{Op: "execute workflow", Reason: "no workflow mode selected"}
	}
	if c.running {
		c.mu.Unlock()
		return &StateError{Op: "execute workflow", Reason: "a workflow is already running"}
	}
	mode := c.decision.Mode
	c.running = true
	for _, t := range tasks {
		c.tasks[t.ID] = t
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	resilient := NewResilientExecutor(exec, c.retryCfg)

	var err error
	var metrics *task.WorkflowMetrics
	switch mode {
	case selector.ModeSequential:
		seq := workflow.NewSequential(tasks, c.bus)
		c.mu.Lock()
		c.seq = seq
		c.mu.Unlock()
		err = seq.Run(ctx, resilient)
		metrics = seq.Metrics()
	case selector.ModeAdaptive:
		adp := workflow.NewAdaptive(c.tri, c.pre, c.store, c.bus)
		c.mu.Lock()
		c.adp = adp
		c.mu.Unlock()
		err = adp.Run(ctx, resilient, tasks)
		metrics = adp.Metrics()
	default:
		return &StateError{Op: "execute workflow", Reason: fmt.Sprintf("unknown mode %q", mode)}
	}

	if c.bus != nil {
		snap := metrics.Snapshot()
		c.bus.Publish(events.TopicWorkflow, events.WorkflowCompletedEvent{
			Mode:      mode,
			Completed: snap.Completed,
			Failed:    snap.Failed,
			Timestamp: time.Now().UTC(),
		})
	}
	return err
}

// StopWorkflow asks a running adaptive workflow to stop at its next safe
// point. Sequential workflows run to the end of the current phase.
func (c *Controller) StopWorkflow() {
	c.mu.Lock()
	adp := c.adp
	c.mu.Unlock()
	if adp != nil {
		adp.Stop()
	}
}

// PauseTask checkpoints a known task by ID. Returns false with a nil
// error when the task exists but is not currently pausable.
func (c *Controller) PauseTask(id string, contextBlob map[string]any) (bool, error) {
	t, err := c.lookup(id)
	if err != nil {
		return false, err
	}
	return c.pre.Pause(t, contextBlob)
}

// ResumeTask restores a paused task from its snapshot and returns the
// saved context payload.
func (c *Controller) ResumeTask(id string) (map[string]any, error) {
	t, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	return c.pre.Resume(t)
}

func (c *Controller) lookup(id string) (*task.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	if !ok {
		return nil, &StateError{Op: "lookup task", Reason: fmt.Sprintf("unknown task %q", id)}
	}
	return t, nil
}

// StatusSnapshot is a point-in-time view of the controller for status
// reporting.
type StatusSnapshot struct {
	Mode        selector.Mode         `json:"mode"`
	Running     bool                  `json:"running"`
	QueueDepths map[task.Priority]int `json:"queue_depths"`
	ActiveTasks []*task.Task          `json:"active_tasks"`
	Phases      []workflow.Phase      `json:"phases,omitempty"`
	Metrics     *task.MetricsSnapshot `json:"metrics,omitempty"`
	Votes       []selector.Vote       `json:"votes,omitempty"`
}

// GetStatus reports the selected mode, queue depths, active tasks, phase
// progress (sequential), and workflow metrics.
func (c *Controller) GetStatus() StatusSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := StatusSnapshot{
		Running:     c.running,
		QueueDepths: c.tri.QueueDepths(),
		ActiveTasks: c.pre.Active(),
	}
	if c.decision != nil {
		st.Mode = c.decision.Mode
		st.Votes = c.decision.Votes
	}
	if c.seq != nil {
		st.Phases = c.seq.Phases()
		snap := c.seq.Metrics().Snapshot()
		st.Metrics = &snap
	}
	if c.adp != nil {
		snap := c.adp.Metrics().Snapshot()
		st.Metrics = &snap
	}
	return st
}

// StartMaintenance launches the SLA sweep loop and periodic snapshot
// retention cleanup. Idempotent; Close stops both.
func (c *Controller) StartMaintenance(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maintCancel != nil {
		return
	}

	mctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.maintCancel = cancel
	c.maintDone = done

	c.tri.Start(mctx)

	// The goroutine works on locals only: Close nils the struct fields
	// under the mutex, possibly before this goroutine is scheduled.
	retention := time.Duration(c.cfg.ContextEngine.RetentionDays) * 24 * time.Hour
	go func() {
		defer close(done)
		if retention <= 0 {
			<-mctx.Done()
			return
		}
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-mctx.Done():
				return
			case <-ticker.C:
				n, err := c.engine.Cleanup(retention)
				if err != nil {
					log.Printf("WARNING: snapshot cleanup: %v", err)
				} else if n > 0 {
					log.Printf("snapshot cleanup removed %d stale snapshots", n)
				}
			}
		}
	}()
}

// Close stops maintenance loops and releases the event bus and archive
// store. The controller is not usable afterwards.
func (c *Controller) Close() error {
	c.mu.Lock()
	cancel := c.maintCancel
	done := c.maintDone
	c.maintCancel = nil
	c.maintDone = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	c.tri.Stop()

	if c.bus != nil {
		c.bus.Close()
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			return fmt.Errorf("closing archive store: %w", err)
		}
	}
	return nil
}
