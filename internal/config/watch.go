package config

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/aristath/conductor/internal/selector"
)

// Watcher applies selector-threshold changes from a config file at
// runtime, so tuning the decision engine never requires a restart.
type Watcher struct {
	fsw  *fsnotify.Watcher
	done chan struct{}
}

// WatchThresholds watches the config file at path and pushes its selector
// thresholds into the policy whenever the file changes. The parent
// directory is watched rather than the file itself, because editors and
// atomic saves replace the file and would silently detach a file watch.
func WatchThresholds(path string, policy *selector.Policy) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch config directory %s: %w", dir, err)
	}

	w := &Watcher{fsw: fsw, done: make(chan struct{})}
	target := filepath.Clean(path)

	go func() {
		defer close(w.done)
		for {
			select {
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				applyThresholds(target, policy)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				log.Printf("WARNING: config watcher: %v", err)
			}
		}
	}()
	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}

func applyThresholds(path string, policy *selector.Policy) {
	cfg, err := Load("", path)
	if err != nil {
		log.Printf("WARNING: config reload skipped: %v", err)
		return
	}
	policy.Update(selector.Thresholds{
		TaskCountThreshold:   cfg.Selector.TaskCountThreshold,
		ClarityThreshold:     cfg.Selector.ClarityThreshold,
		ComplexityThreshold:  cfg.Selector.ComplexityThreshold,
		SequentialRiskLevels: cfg.Selector.SequentialRiskLevels,
	})
	log.Printf("selector thresholds reloaded from %s", path)
}
