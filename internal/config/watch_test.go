package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/conductor/internal/selector"
)

func TestWatchThresholdsAppliesUpdates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"selector": {"task_count_threshold": 50}}`), 0644); err != nil {
		t.Fatal(err)
	}

	policy := selector.DefaultPolicy()
	w, err := WatchThresholds(path, policy)
	if err != nil {
		t.Fatalf("WatchThresholds: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte(`{"selector": {"task_count_threshold": 120}}`), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if policy.Snapshot().TaskCountThreshold == 120 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("threshold update never applied")
}

func TestWatchThresholdsIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{}`), 0644); err != nil {
		t.Fatal(err)
	}

	policy := selector.DefaultPolicy()
	w, err := WatchThresholds(path, policy)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	other := filepath.Join(dir, "unrelated.json")
	if err := os.WriteFile(other, []byte(`{"selector": {"task_count_threshold": 999}}`), 0644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := policy.Snapshot().TaskCountThreshold; got == 999 {
		t.Error("watcher applied thresholds from an unrelated file")
	}
}
