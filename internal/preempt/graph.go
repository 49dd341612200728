// Package preempt implements the preemption manager: the task dependency
// graph, pause/resume with durable checkpoints, and stop-the-world
// preemption when critical work arrives.
package preempt

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gammazero/toposort"
)

// DependencyCycleError reports a rejected graph mutation. The edge set is
// unchanged when it is returned.
type DependencyCycleError struct {
	From   string
	To     string
	Reason string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("dependency %s -> %s rejected: %s", e.From, e.To, e.Reason)
}

// Graph is the task dependency DAG. An edge u -> v means u depends on v.
// Every mutation is validated so the graph remains acyclic at all times.
type Graph struct {
	mu    sync.RWMutex
	edges map[string]map[string]bool // u -> set of v (u depends on v)
}

// NewGraph creates an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{edges: make(map[string]map[string]bool)}
}

// AddDependency records that u depends on v. A self-edge or a direct
// reverse of an existing edge is rejected outright; any other edge is
// added tentatively, validated by topological sort, and rolled back if
// the graph would stop being acyclic.
func (g *Graph) AddDependency(u, v string) error {
	if u == "" || v == "" {
		return &DependencyCycleError{From: u, To: v, Reason: "empty task ID"}
	}
	if u == v {
		return &DependencyCycleError{From: u, To: v, Reason: "task cannot depend on itself"}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.edges[v][u] {
		return &DependencyCycleError{From: u, To: v, Reason: fmt.Sprintf("reverse edge %s -> %s already exists", v, u)}
	}
	if g.edges[u][v] {
		return nil // Already recorded
	}

	// Tentative add, then validate.
	if g.edges[u] == nil {
		g.edges[u] = make(map[string]bool)
	}
	g.edges[u][v] = true

	if err := g.validateLocked(); err != nil {
		delete(g.edges[u], v)
		if len(g.edges[u]) == 0 {
			delete(g.edges, u)
		}
		return &DependencyCycleError{From: u, To: v, Reason: err.Error()}
	}
	return nil
}

// validateLocked runs a topological sort over the current edge set.
// Caller holds the lock.
func (g *Graph) validateLocked() error {
	var edges []toposort.Edge
	for u, deps := range g.edges {
		for v := range deps {
			// v must come before u.
			edges = append(edges, toposort.Edge{v, u})
		}
	}
	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("graph contains cycle: %w", err)
	}
	return nil
}

// Dependencies returns the task IDs that u depends on, sorted.
func (g *Graph) Dependencies(u string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	deps := make([]string, 0, len(g.edges[u]))
	for v := range g.edges[u] {
		deps = append(deps, v)
	}
	sort.Strings(deps)
	return deps
}

// Dependents returns the task IDs that depend on v, sorted. A task's
// fan-out is a triage signal: the more work blocked behind it, the
// higher it should be classified.
func (g *Graph) Dependents(v string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []string
	for u, deps := range g.edges {
		if deps[v] {
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out
}

// RemoveTask drops a task and every edge touching it, e.g. after the
// task reaches a terminal status.
func (g *Graph) RemoveTask(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.edges, id)
	for u, deps := range g.edges {
		delete(deps, id)
		if len(deps) == 0 {
			delete(g.edges, u)
		}
	}
}

// EdgeCount returns the number of edges currently in the graph.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := 0
	for _, deps := range g.edges {
		n += len(deps)
	}
	return n
}

// DetectDeadlocks computes strongly-connected components of size > 1.
// AddDependency's validation means these should never exist; a non-empty
// result signals state corruption, so this runs as a periodic health
// assertion rather than a scheduling primitive.
func (g *Graph) DetectDeadlocks() [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	t := &tarjan{
		graph: g.edges,
		index: make(map[string]int),
		low:   make(map[string]int),
		on:    make(map[string]bool),
	}

	nodes := make(map[string]bool)
	for u, deps := range g.edges {
		nodes[u] = true
		for v := range deps {
			nodes[v] = true
		}
	}
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if _, seen := t.index[id]; !seen {
			t.strongconnect(id)
		}
	}

	var cycles [][]string
	for _, comp := range t.components {
		if len(comp) > 1 {
			sort.Strings(comp)
			cycles = append(cycles, comp)
		}
	}
	return cycles
}

// tarjan holds the state of Tarjan's strongly-connected-components
// algorithm over the edge map.
type tarjan struct {
	graph      map[string]map[string]bool
	counter    int
	index      map[string]int
	low        map[string]int
	stack      []string
	on         map[string]bool
	components [][]string
}

func (t *tarjan) strongconnect(v string) {
	t.index[v] = t.counter
	t.low[v] = t.counter
	t.counter++
	t.stack = append(t.stack, v)
	t.on[v] = true

	for w := range t.graph[v] {
		if _, seen := t.index[w]; !seen {
			t.strongconnect(w)
			if t.low[w] < t.low[v] {
				t.low[v] = t.low[w]
			}
		} else if t.on[w] && t.index[w] < t.low[v] {
			t.low[v] = t.index[w]
		}
	}

	if t.low[v] == t.index[v] {
		var comp []string
		for {
			w := t.stack[len(t.stack)-1]
			t.stack = t.stack[:len(t.stack)-1]
			t.on[w] = false
			comp = append(comp, w)
			if w == v {
				break
			}
		}
		t.components = append(t.components, comp)
	}
}
