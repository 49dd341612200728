package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aristath/conductor/internal/task"
)

// indexFile is the metadata index filename inside the storage directory.
const indexFile = "index.json"

// IndexEntry is the lightweight per-task metadata kept in the index, so
// callers can list snapshots without loading full payloads.
type IndexEntry struct {
	Name      string      `json:"name"`
	Status    task.Status `json:"status"`
	UpdatedAt string      `json:"updated_at"` // UTC, RFC 3339
}

// Index is the persisted metadata index. It is a derivable cache over the
// snapshot files, not an independent source of truth: RebuildIndex
// regenerates it from disk after a crash.
type Index struct {
	CreatedAt string                `json:"created_at"`
	Version   int                   `json:"version"`
	Tasks     map[string]IndexEntry `json:"tasks"`
}

// List returns the metadata index entries, rebuilding the index from the
// snapshot files if the index file is missing.
func (e *Engine) List() (Index, error) {
	data, err := os.ReadFile(filepath.Join(e.dir, indexFile))
	if os.IsNotExist(err) {
		return e.RebuildIndex()
	}
	if err != nil {
		return Index{}, fmt.Errorf("read snapshot index: %w", err)
	}

	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		// A torn or stale index is recoverable: derive it again.
		return e.RebuildIndex()
	}
	if idx.Tasks == nil {
		idx.Tasks = map[string]IndexEntry{}
	}
	return idx, nil
}

// RebuildIndex derives the index from the snapshot files on disk and
// persists it with the same atomic-write discipline as snapshots.
func (e *Engine) RebuildIndex() (Index, error) {
	e.indexMu.Lock()
	defer e.indexMu.Unlock()

	idx, err := e.deriveIndex()
	if err != nil {
		return Index{}, err
	}
	if err := e.persistIndex(idx); err != nil {
		return Index{}, err
	}
	return idx, nil
}

// writeIndex re-derives and persists the index. Called after every save
// and delete so the index tracks the snapshot files closely; a crash
// between a snapshot write and the index write costs nothing, because the
// next List or RebuildIndex regenerates the index from the files.
func (e *Engine) writeIndex() error {
	e.indexMu.Lock()
	defer e.indexMu.Unlock()

	idx, err := e.deriveIndex()
	if err != nil {
		return err
	}
	return e.persistIndex(idx)
}

func (e *Engine) deriveIndex() (Index, error) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return Index{}, fmt.Errorf("scan snapshot directory: %w", err)
	}

	idx := Index{
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Version:   envelopeVersion,
		Tasks:     map[string]IndexEntry{},
	}

	// Stable iteration keeps index diffs readable.
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		taskID, ok := snapshotTaskID(name)
		if !ok {
			continue
		}
		data, err := os.ReadFile(e.path(taskID))
		if err != nil {
			continue // Deleted between scan and read
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue // Corrupt snapshots stay out of the index but on disk
		}
		var rec Record
		if err := json.Unmarshal(env.Payload, &rec); err != nil {
			continue
		}
		idx.Tasks[taskID] = IndexEntry{
			Name:      rec.Name,
			Status:    rec.Status,
			UpdatedAt: env.SavedAt,
		}
	}
	return idx, nil
}

func (e *Engine) persistIndex(idx Index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot index: %w", err)
	}
	if err := atomicWrite(filepath.Join(e.dir, indexFile), data); err != nil {
		return fmt.Errorf("persist snapshot index: %w", err)
	}
	return nil
}
