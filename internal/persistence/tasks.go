package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/conductor/internal/task"
)

// SaveTask saves or updates a task record. Uses ON CONFLICT to make saves
// idempotent.
func (s *SQLiteStore) SaveTask(ctx context.Context, t *task.Task) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	contextJSON := ""
	if t.Context != nil {
		data, err := json.Marshal(t.Context)
		if err != nil {
			return fmt.Errorf("failed to marshal task context: %w", err)
		}
		contextJSON = string(data)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, name, priority, status, depends_on, context_json,
			completion, preemption_count, last_error, severity_hint, deadline,
			business_impact, tags, created_at, updated_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			priority = excluded.priority,
			status = excluded.status,
			depends_on = excluded.depends_on,
			context_json = excluded.context_json,
			completion = excluded.completion,
			preemption_count = excluded.preemption_count,
			last_error = excluded.last_error,
			severity_hint = excluded.severity_hint,
			deadline = excluded.deadline,
			business_impact = excluded.business_impact,
			tags = excluded.tags,
			updated_at = excluded.updated_at,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`, t.ID, t.Name, string(t.Priority), string(t.Status),
		strings.Join(t.DependsOn, ","), contextJSON,
		t.Completion, t.PreemptionCount, t.LastError, string(t.SeverityHint),
		nullableTime(t.Deadline), t.BusinessImpact, strings.Join(t.Tags, ","),
		t.CreatedAt, t.UpdatedAt, nullableTime(t.StartedAt), nullableTime(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetTask retrieves a task record by ID.
func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, priority, status, depends_on, context_json,
			completion, preemption_count, last_error, severity_hint, deadline,
			business_impact, tags, created_at, updated_at, started_at, completed_at
		FROM tasks
		WHERE id = ?
	`, taskID)

	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	return t, nil
}

// UpdateTaskStatus updates the status, completion, and error of a task.
func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, taskID string, status task.Status, completion float64, lastError string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, completion = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`, string(status), completion, lastError, time.Now().UTC(), taskID)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task not found: %s", taskID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListTasks returns all task records ordered by creation time.
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, priority, status, depends_on, context_json,
			completion, preemption_count, last_error, severity_hint, deadline,
			business_impact, tags, created_at, updated_at, started_at, completed_at
		FROM tasks
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// RecordEscalation appends one row to the escalation audit trail.
func (s *SQLiteStore) RecordEscalation(ctx context.Context, taskID string, from, to task.Priority, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escalations (task_id, from_priority, to_priority, reason)
		VALUES (?, ?, ?, ?)
	`, taskID, string(from), string(to), reason)
	if err != nil {
		return fmt.Errorf("failed to record escalation: %w", err)
	}
	return nil
}

// EscalationHistory returns the escalation audit rows for a task, oldest
// first.
func (s *SQLiteStore) EscalationHistory(ctx context.Context, taskID string) ([]EscalationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, from_priority, to_priority, reason, timestamp
		FROM escalations
		WHERE task_id = ?
		ORDER BY id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query escalations: %w", err)
	}
	defer rows.Close()

	var history []EscalationRecord
	for rows.Next() {
		var rec EscalationRecord
		var from, to string
		if err := rows.Scan(&rec.TaskID, &from, &to, &rec.Reason, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan escalation: %w", err)
		}
		rec.From = task.Priority(from)
		rec.To = task.Priority(to)
		history = append(history, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating escalations: %w", err)
	}
	return history, nil
}

// scanner matches *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*task.Task, error) {
	t := &task.Task{}
	var priority, status, severityHint string
	var dependsOn, contextJSON, lastError, tags sql.NullString
	var deadline, startedAt, completedAt sql.NullTime

	err := row.Scan(&t.ID, &t.Name, &priority, &status, &dependsOn, &contextJSON,
		&t.Completion, &t.PreemptionCount, &lastError, &severityHint, &deadline,
		&t.BusinessImpact, &tags, &t.CreatedAt, &t.UpdatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	t.Priority = task.Priority(priority)
	t.Status = task.Status(status)
	t.SeverityHint = task.Priority(severityHint)
	t.LastError = lastError.String
	if dependsOn.String != "" {
		t.DependsOn = strings.Split(dependsOn.String, ",")
	}
	if tags.String != "" {
		t.Tags = strings.Split(tags.String, ",")
	}
	if contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &t.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task context: %w", err)
		}
	}
	if deadline.Valid {
		v := deadline.Time
		t.Deadline = &v
	}
	if startedAt.Valid {
		v := startedAt.Time
		t.StartedAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		t.CompletedAt = &v
	}
	return t, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
