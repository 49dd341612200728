package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		priority TEXT NOT NULL,
		status TEXT NOT NULL,
		depends_on TEXT,
		context_json TEXT,
		completion REAL NOT NULL DEFAULT 0,
		preemption_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		severity_hint TEXT,
		deadline DATETIME,
		business_impact INTEGER NOT NULL DEFAULT 0,
		tags TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		started_at DATETIME,
		completed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_priority ON tasks(priority);

	CREATE TABLE IF NOT EXISTS escalations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		from_priority TEXT NOT NULL,
		to_priority TEXT NOT NULL,
		reason TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_escalations_task_timestamp
		ON escalations(task_id, timestamp);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
