package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/templeops/temple-tasks/internal/model"
)

// AuditArchive defines the durable mirror of the task audit trail.
// The table is append-only: entries are inserted once and never updated.
type AuditArchive interface {
	// Append stores one audit entry for a task
	Append(ctx context.Context, taskID string, entry *model.AuditEntry) error

	// ListByTask retrieves all archived entries for a task, oldest first
	ListByTask(ctx context.Context, taskID string) ([]model.AuditEntry, error)

	// Count returns the total number of archived entries
	Count(ctx context.Context) (int, error)

	// DeleteBefore removes archived entries older than the specified time.
	// Retention is an archival concern; in-memory trails are untouched.
	DeleteBefore(ctx context.Context, before time.Time) error
}

// SQLiteAuditArchive implements AuditArchive using SQLite
type SQLiteAuditArchive struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteAuditArchive opens (or creates) the archive database
func NewSQLiteAuditArchive(logger *zap.Logger, dbPath string) (*SQLiteAuditArchive, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	archive := &SQLiteAuditArchive{
		logger: logger,
		db:     db,
	}

	if err := archive.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return archive, nil
}

// initialize creates the necessary tables if they don't exist
func (a *SQLiteAuditArchive) initialize() error {
	_, err := a.db.Exec(`
		CREATE TABLE IF NOT EXISTS task_audit (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			action TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			actor_name TEXT,
			actor_role TEXT NOT NULL,
			previous_value TEXT,
			new_value TEXT,
			detail TEXT,
			recorded_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_task_audit_task_id ON task_audit(task_id);
		CREATE INDEX IF NOT EXISTS idx_task_audit_action ON task_audit(action);
		CREATE INDEX IF NOT EXISTS idx_task_audit_recorded_at ON task_audit(recorded_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Append implements AuditArchive.Append
func (a *SQLiteAuditArchive) Append(ctx context.Context, taskID string, entry *model.AuditEntry) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO task_audit (
			id, task_id, action, actor_id, actor_name, actor_role,
			previous_value, new_value, detail, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		taskID,
		string(entry.Action),
		entry.ActorID,
		sql.NullString{String: entry.ActorName, Valid: entry.ActorName != ""},
		entry.ActorRole,
		sql.NullString{String: entry.PreviousValue, Valid: entry.PreviousValue != ""},
		sql.NullString{String: entry.NewValue, Valid: entry.NewValue != ""},
		sql.NullString{String: entry.Detail, Valid: entry.Detail != ""},
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to archive audit entry: %w", err)
	}
	return nil
}

// ListByTask implements AuditArchive.ListByTask
func (a *SQLiteAuditArchive) ListByTask(ctx context.Context, taskID string) ([]model.AuditEntry, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, action, actor_id, actor_name, actor_role,
		       previous_value, new_value, detail, recorded_at
		FROM task_audit
		WHERE task_id = ?
		ORDER BY recorded_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var entry model.AuditEntry
		var action string
		var actorName, previous, next, detail sql.NullString

		err := rows.Scan(
			&entry.ID,
			&action,
			&entry.ActorID,
			&actorName,
			&entry.ActorRole,
			&previous,
			&next,
			&detail,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		entry.Action = model.AuditAction(action)
		if actorName.Valid {
			entry.ActorName = actorName.String
		}
		if previous.Valid {
			entry.PreviousValue = previous.String
		}
		if next.Valid {
			entry.NewValue = next.String
		}
		if detail.Valid {
			entry.Detail = detail.String
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return entries, nil
}

// Count implements AuditArchive.Count
func (a *SQLiteAuditArchive) Count(ctx context.Context) (int, error) {
	var count int
	err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM task_audit").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return count, nil
}

// DeleteBefore implements AuditArchive.DeleteBefore
func (a *SQLiteAuditArchive) DeleteBefore(ctx context.Context, before time.Time) error {
	result, err := a.db.ExecContext(ctx, "DELETE FROM task_audit WHERE recorded_at < ?", before)
	if err != nil {
		return fmt.Errorf("failed to delete audit entries: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	a.logger.Info("Deleted archived audit entries",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return nil
}

// Close closes the database connection
func (a *SQLiteAuditArchive) Close() error {
	return a.db.Close()
}
