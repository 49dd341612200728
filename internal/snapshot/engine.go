// Package snapshot implements the durable context checkpoint store. Each
// paused task gets one checksummed snapshot file, written atomically, plus
// a lightweight metadata index over all snapshots.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aristath/conductor/internal/task"
)

// envelopeVersion is the current on-disk snapshot format version.
const envelopeVersion = 1

// CorruptionError reports a snapshot whose checksum does not match its
// payload, or whose envelope is missing required fields. The file is left
// untouched for inspection; the engine never repairs silently.
type CorruptionError struct {
	TaskID string
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("snapshot for task %q is corrupt: %s", e.TaskID, e.Reason)
}

// Record is the durable state of a paused task: the opaque context payload
// plus enough metadata to restore the task on resume.
type Record struct {
	TaskID   string         `json:"task_id"`
	Name     string         `json:"name"`
	Status   task.Status    `json:"status"` // Pre-pause status, restored on resume
	Payload  map[string]any `json:"payload,omitempty"`
	PausedAt time.Time      `json:"paused_at"`
}

// envelope is the on-disk wrapper: the payload bytes are checksummed
// exactly as stored, so any byte flip is caught on load.
type envelope struct {
	Version  int             `json:"version"`
	SavedAt  string          `json:"saved_at"` // UTC, RFC 3339
	Checksum string          `json:"checksum"` // sha256 hex of Payload bytes
	Payload  json.RawMessage `json:"payload"`
}

// Engine is the filesystem-backed snapshot store.
type Engine struct {
	dir     string
	locks   stripedLocks
	indexMu sync.Mutex
}

// NewEngine creates the storage directory if needed and returns an engine
// rooted there.
func NewEngine(dir string) (*Engine, error) {
	if dir == "" {
		return nil, fmt.Errorf("snapshot storage path required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &Engine{dir: dir}, nil
}

// Dir returns the storage directory.
func (e *Engine) Dir() string { return e.dir }

func (e *Engine) path(taskID string) string {
	return filepath.Join(e.dir, taskID+".json")
}

// Save serializes the record, checksums it, and writes it atomically.
// One snapshot per task ID; a second save overwrites the first.
func (e *Engine) Save(rec Record) error {
	if rec.TaskID == "" {
		return fmt.Errorf("snapshot record has empty task ID")
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal snapshot payload: %w", err)
	}

	sum := sha256.Sum256(payload)
	env := envelope{
		Version:  envelopeVersion,
		SavedAt:  time.Now().UTC().Format(time.RFC3339Nano),
		Checksum: hex.EncodeToString(sum[:]),
		Payload:  payload,
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal snapshot envelope: %w", err)
	}

	e.locks.Lock(rec.TaskID)
	err = atomicWrite(e.path(rec.TaskID), data)
	e.locks.Unlock(rec.TaskID)
	if err != nil {
		return fmt.Errorf("persist snapshot for task %q: %w", rec.TaskID, err)
	}

	return e.writeIndex()
}

// Load reads and verifies the snapshot for a task. A checksum mismatch or
// a malformed envelope yields a CorruptionError; a missing snapshot yields
// os.ErrNotExist (wrapped).
func (e *Engine) Load(taskID string) (Record, error) {
	e.locks.Lock(taskID)
	defer e.locks.Unlock(taskID)
	return e.loadLocked(taskID)
}

func (e *Engine) loadLocked(taskID string) (Record, error) {
	data, err := os.ReadFile(e.path(taskID))
	if err != nil {
		return Record{}, fmt.Errorf("read snapshot for task %q: %w", taskID, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Record{}, &CorruptionError{TaskID: taskID, Reason: fmt.Sprintf("unparseable envelope: %v", err)}
	}

	if env.Version <= 0 {
		return Record{}, &CorruptionError{TaskID: taskID, Reason: "missing format version"}
	}
	if env.Checksum == "" {
		return Record{}, &CorruptionError{TaskID: taskID, Reason: "missing checksum"}
	}
	if len(env.Payload) == 0 {
		return Record{}, &CorruptionError{TaskID: taskID, Reason: "missing payload"}
	}
	if _, err := time.Parse(time.RFC3339Nano, env.SavedAt); err != nil {
		return Record{}, &CorruptionError{TaskID: taskID, Reason: fmt.Sprintf("invalid saved_at %q", env.SavedAt)}
	}

	sum := sha256.Sum256(env.Payload)
	if hex.EncodeToString(sum[:]) != env.Checksum {
		return Record{}, &CorruptionError{TaskID: taskID, Reason: "checksum mismatch"}
	}

	var rec Record
	if err := json.Unmarshal(env.Payload, &rec); err != nil {
		return Record{}, &CorruptionError{TaskID: taskID, Reason: fmt.Sprintf("unparseable payload: %v", err)}
	}
	return rec, nil
}

// Delete removes a task's snapshot. Idempotent: returns false without
// error if the snapshot does not exist.
func (e *Engine) Delete(taskID string) (bool, error) {
	e.locks.Lock(taskID)
	err := os.Remove(e.path(taskID))
	e.locks.Unlock(taskID)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete snapshot for task %q: %w", taskID, err)
	}
	if err := e.writeIndex(); err != nil {
		return true, err
	}
	return true, nil
}

// Cleanup deletes snapshots whose saved_at is older than maxAge and
// returns how many were removed.
func (e *Engine) Cleanup(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return 0, fmt.Errorf("scan snapshot directory: %w", err)
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		taskID, ok := snapshotTaskID(entry.Name())
		if !ok {
			continue
		}

		e.locks.Lock(taskID)
		savedAt, err := e.savedAtLocked(taskID)
		if err == nil && savedAt.Before(cutoff) {
			if os.Remove(e.path(taskID)) == nil {
				removed++
			}
		}
		e.locks.Unlock(taskID)
	}

	if removed > 0 {
		if err := e.writeIndex(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// savedAtLocked reads only the envelope timestamp. Caller holds the key lock.
func (e *Engine) savedAtLocked(taskID string) (time.Time, error) {
	data, err := os.ReadFile(e.path(taskID))
	if err != nil {
		return time.Time{}, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, env.SavedAt)
}

// snapshotTaskID maps a directory entry back to a task ID, skipping the
// index file and temp files.
func snapshotTaskID(name string) (string, bool) {
	if name == indexFile || strings.HasPrefix(name, ".") {
		return "", false
	}
	id, found := strings.CutSuffix(name, ".json")
	if !found || id == "" {
		return "", false
	}
	return id, true
}
