package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/aristath/conductor/internal/config"
	"github.com/aristath/conductor/internal/events"
	"github.com/aristath/conductor/internal/orchestrator"
	"github.com/aristath/conductor/internal/persistence"
	"github.com/aristath/conductor/internal/task"
	"github.com/aristath/conductor/internal/workflow"
)

// taskSpec is the on-disk shape of one task in the -tasks file.
type taskSpec struct {
	Name           string         `json:"name"`
	Priority       string         `json:"priority"`
	Command        string         `json:"command"`
	DependsOn      []string       `json:"depends_on"`
	Context        map[string]any `json:"context"`
	SeverityHint   string         `json:"severity_hint"`
	BusinessImpact int            `json:"business_impact"`
	Tags           []string       `json:"tags"`
}

type inputFile struct {
	Specs task.ProjectSpecs `json:"specs"`
	Tasks []taskSpec        `json:"tasks"`
}

func main() {
	// Signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inputPath := flag.String("input", "", "Path to a JSON file with project specs and tasks")
	statusOnly := flag.Bool("status", false, "Print queue depths and active tasks, then exit")
	flag.Parse()

	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	var store persistence.Store
	if cfg.ArchivePath != "" {
		s, err := persistence.NewSQLiteStore(ctx, cfg.ArchivePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening archive store: %v\n", err)
			os.Exit(1)
		}
		store = s
	}

	bus := events.NewBus()

	ctl, err := orchestrator.New(orchestrator.Options{
		Config: cfg,
		Store:  store,
		Bus:    bus,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building controller: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := ctl.Close(); err != nil {
			log.Printf("WARNING: shutdown: %v", err)
		}
	}()

	// Mirror lifecycle events to the log.
	go logEvents(bus.SubscribeAll(64))

	// Live selector threshold updates from the project config file.
	projectPath := filepath.Join(".conductor", "config.json")
	if watcher, err := config.WatchThresholds(projectPath, ctl.Selector().Policy()); err != nil {
		log.Printf("WARNING: config watcher disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	ctl.StartMaintenance(ctx)

	if *statusOnly {
		printStatus(ctl)
		return
	}
	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: conductor -input tasks.json [-status]")
		os.Exit(2)
	}

	input, tasks, err := loadInput(*inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", *inputPath, err)
		os.Exit(1)
	}

	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if err := ctl.AddDependency(t.ID, dep); err != nil {
				fmt.Fprintf(os.Stderr, "Error in task dependencies: %v\n", err)
				os.Exit(1)
			}
		}
	}

	dec, err := ctl.SelectWorkflow(input.Specs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error selecting workflow: %v\n", err)
		os.Exit(1)
	}
	log.Printf("running %d tasks in %s mode", len(tasks), dec.Mode)

	err = ctl.ExecuteWorkflow(ctx, workflow.ExecutorFunc(runCommand), tasks)

	printStatus(ctl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Workflow error: %v\n", err)
		os.Exit(1)
	}
	log.Println("Workflow complete")
}

// loadInput parses the input file and builds tasks, resolving declared
// dependencies from task names to IDs.
func loadInput(path string) (*inputFile, []*task.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var input inputFile
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	byName := make(map[string]string, len(input.Tasks))
	tasks := make([]*task.Task, 0, len(input.Tasks))
	for _, ts := range input.Tasks {
		t := task.New(ts.Name)
		if p := task.Priority(ts.Priority); p.IsValid() {
			t.Priority = p
		}
		if ts.Context != nil {
			t.Context = ts.Context
		}
		if ts.Command != "" {
			if t.Context == nil {
				t.Context = make(map[string]any)
			}
			t.Context["command"] = ts.Command
		}
		t.SeverityHint = task.Priority(ts.SeverityHint)
		t.BusinessImpact = ts.BusinessImpact
		t.Tags = ts.Tags
		byName[ts.Name] = t.ID
		tasks = append(tasks, t)
	}

	// Second pass: dependency names become task IDs.
	for i, ts := range input.Tasks {
		for _, depName := range ts.DependsOn {
			depID, ok := byName[depName]
			if !ok {
				return nil, nil, fmt.Errorf("task %q depends on unknown task %q", ts.Name, depName)
			}
			tasks[i].DependsOn = append(tasks[i].DependsOn, depID)
		}
		if err := tasks[i].Validate(); err != nil {
			return nil, nil, err
		}
	}
	return &input, tasks, nil
}

// runCommand executes the task's shell command, if any. Tasks without a
// command complete immediately, which keeps dry runs cheap.
func runCommand(ctx context.Context, t *task.Task) (workflow.Result, error) {
	cmdStr, _ := t.Context["command"].(string)
	if cmdStr == "" {
		return workflow.Result{}, nil
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", cmdStr)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return workflow.Result{Critical: t.Priority == task.PriorityCritical},
			fmt.Errorf("command failed: %w", err)
	}
	return workflow.Result{Output: map[string]any{"exit_code": 0}}, nil
}

func logEvents(ch <-chan events.Event) {
	for e := range ch {
		if id := e.TaskID(); id != "" {
			log.Printf("event %s task=%s", e.EventType(), id)
		} else {
			log.Printf("event %s", e.EventType())
		}
	}
}

func printStatus(ctl *orchestrator.Controller) {
	st := ctl.GetStatus()
	out, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		log.Printf("WARNING: status: %v", err)
		return
	}
	fmt.Println(string(out))
}
