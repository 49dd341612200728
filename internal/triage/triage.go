// Package triage maintains the four priority class queues with SLA
// enforcement: tasks are classified on entry, drained in strict priority
// order, and escalated one class up when they overstay their SLA target.
package triage

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/aristath/conductor/internal/events"
	"github.com/aristath/conductor/internal/task"
)

// QueueOverflowError reports a rejected enqueue. The caller must back off
// or raise the task's priority out of band; nothing was enqueued.
type QueueOverflowError struct {
	Priority task.Priority
	Capacity int
}

func (e *QueueOverflowError) Error() string {
	return fmt.Sprintf("%s queue at capacity (%d), task rejected", e.Priority, e.Capacity)
}

// EscalationRecorder receives escalation audit records. Optional; nil
// disables auditing.
type EscalationRecorder interface {
	RecordEscalation(ctx context.Context, taskID string, from, to task.Priority, reason string) error
}

// Config holds the triage tunables.
type Config struct {
	MaxQueueSize  int                             // Per-class capacity
	SLATargets    map[task.Priority]time.Duration // Maximum wait before escalation
	SweepInterval time.Duration                   // Background breach-scan period
}

// DefaultConfig returns the stock triage settings: 1000 tasks per class,
// SLA targets of 5m/1h/24h/7d, and a 30-second background sweep.
func DefaultConfig() Config {
	return Config{
		MaxQueueSize: 1000,
		SLATargets: map[task.Priority]time.Duration{
			task.PriorityCritical: 5 * time.Minute,
			task.PriorityHigh:     time.Hour,
			task.PriorityMedium:   24 * time.Hour,
			task.PriorityLow:      7 * 24 * time.Hour,
		},
		SweepInterval: 30 * time.Second,
	}
}

// entry tracks a queued task and when it entered its current class, which
// is what SLA breach detection measures against.
type entry struct {
	t          *task.Task
	enqueuedAt time.Time
}

// System is the priority triage queue set.
type System struct {
	mu       sync.Mutex
	cfg      Config
	queues   map[task.Priority][]entry
	rules    []Rule
	recorder EscalationRecorder
	bus      *events.Bus

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New creates a triage system. rules may be nil for the default chain
// without a dependency fan-out source; recorder and bus may be nil.
func New(cfg Config, rules []Rule, recorder EscalationRecorder, bus *events.Bus) *System {
	def := DefaultConfig()
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = def.MaxQueueSize
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.SLATargets == nil {
		cfg.SLATargets = def.SLATargets
	} else {
		for p, d := range def.SLATargets {
			if cfg.SLATargets[p] <= 0 {
				cfg.SLATargets[p] = d
			}
		}
	}
	if rules == nil {
		rules = DefaultRules(nil)
	}

	queues := make(map[task.Priority][]entry, 4)
	for _, p := range task.Priorities() {
		queues[p] = nil
	}
	return &System{
		cfg:      cfg,
		queues:   queues,
		rules:    rules,
		recorder: recorder,
		bus:      bus,
	}
}

// Add classifies the task and enqueues it into its class queue.
// Classification only ever raises priority. A full class queue rejects
// the task with QueueOverflowError and nothing is enqueued.
func (s *System) Add(t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := Classify(t, s.rules)
	if len(s.queues[p]) >= s.cfg.MaxQueueSize {
		return &QueueOverflowError{Priority: p, Capacity: s.cfg.MaxQueueSize}
	}

	t.Priority = p
	s.queues[p] = append(s.queues[p], entry{t: t, enqueuedAt: time.Now().UTC()})
	return nil
}

// GetNext scans all queued tasks for SLA breaches (escalating breachers
// one class up), then drains the queues in strict priority order: a class
// is fully exhausted before the next-lower class is consulted. Returns
// nil when every queue is empty.
func (s *System) GetNext() *task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(time.Now().UTC())

	for _, p := range task.Priorities() {
		if q := s.queues[p]; len(q) > 0 {
			head := q[0]
			s.queues[p] = q[1:]
			return head.t
		}
	}
	return nil
}

// Escalate raises a task one priority class. Returns false and changes
// nothing when the task is already Critical. If the task is currently
// queued it moves to the head of the destination queue.
func (s *System) Escalate(t *task.Task, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.escalateLocked(t, reason, time.Now().UTC())
}

func (s *System) escalateLocked(t *task.Task, reason string, now time.Time) bool {
	if t.Priority == task.PriorityCritical {
		return false
	}

	from := t.Priority
	to := from.Higher()

	// Pull the task out of its current queue if it is waiting there.
	queued := false
	for i, e := range s.queues[from] {
		if e.t.ID == t.ID {
			s.queues[from] = append(s.queues[from][:i], s.queues[from][i+1:]...)
			queued = true
			break
		}
	}

	t.Priority = to
	t.UpdatedAt = now
	if queued {
		// Head insertion: the breaching task jumps ahead of the tasks
		// already waiting at the destination priority.
		s.queues[to] = append([]entry{{t: t, enqueuedAt: now}}, s.queues[to]...)
	}

	if s.recorder != nil {
		if err := s.recorder.RecordEscalation(context.Background(), t.ID, from, to, reason); err != nil {
			log.Printf("WARNING: escalation audit for task %q not recorded: %v", t.ID, err)
		}
	}
	if s.bus != nil {
		s.bus.Publish(events.TopicTask, events.TaskEscalatedEvent{
			ID: t.ID, From: from, To: to, Reason: reason, Timestamp: now,
		})
	}
	return true
}

// sweepLocked escalates every queued task that has overstayed its class
// SLA target. Caller holds the mutex.
func (s *System) sweepLocked(now time.Time) {
	// Scan below-critical classes; critical tasks have nowhere to go.
	for _, p := range []task.Priority{task.PriorityHigh, task.PriorityMedium, task.PriorityLow} {
		target := s.cfg.SLATargets[p]
		// Collect first: escalation mutates the queues being scanned.
		var breachers []*task.Task
		for _, e := range s.queues[p] {
			if now.Sub(e.enqueuedAt) > target {
				breachers = append(breachers, e.t)
			}
		}
		for _, t := range breachers {
			s.escalateLocked(t, fmt.Sprintf("SLA target %s exceeded at %s priority", target, p), now)
		}
	}
}

// Sweep runs a single SLA breach scan, independent of dequeue activity.
func (s *System) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(time.Now().UTC())
}

// Start launches the periodic background sweep. Stop with Stop.
func (s *System) Start(ctx context.Context) {
	s.mu.Lock()
	if s.sweepStop != nil {
		s.mu.Unlock()
		return // Already running
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.sweepStop = stop
	s.sweepDone = done
	interval := s.cfg.SweepInterval
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the background sweep and waits for it to exit. Idempotent.
func (s *System) Stop() {
	s.mu.Lock()
	stop := s.sweepStop
	done := s.sweepDone
	s.sweepStop = nil
	s.sweepDone = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// QueueDepths reports the number of tasks waiting per priority class.
func (s *System) QueueDepths() map[task.Priority]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	depths := make(map[task.Priority]int, 4)
	for _, p := range task.Priorities() {
		depths[p] = len(s.queues[p])
	}
	return depths
}

// Pending reports the total number of queued tasks.
func (s *System) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, q := range s.queues {
		n += len(q)
	}
	return n
}
