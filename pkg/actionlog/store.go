// Package actionlog implements the append-only action/undo log, grounded
// on novaadapt_shared/undo_queue.py. The only mutator after Append is
// MarkUndone, matching the original's record/mark_undone/recent surface.
package actionlog

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/novaadapt/novaadapt-core/pkg/dbfile"
	"github.com/novaadapt/novaadapt-core/pkg/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store persists action-log entries in one SQLite file.
type Store struct {
	db *dbfile.Store
}

// Open opens (creating and migrating if needed) the action log at path.
func Open(path string) (*Store, error) {
	db, err := dbfile.Open(dbfile.Config{Path: path, BusyTimeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(migrationsFS, "actionlog"); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Append inserts a new entry and returns its id. It satisfies the
// agent.ActionLog interface.
func (s *Store) Append(ctx context.Context, planID string, action models.Action, status models.ExecutionStatus, output string) (int64, error) {
	payload, err := json.Marshal(action)
	if err != nil {
		return 0, fmt.Errorf("actionlog: encode action: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var id int64
	err = dbfile.WithRetry(ctx, 3, 20*time.Millisecond, func() error {
		res, execErr := s.db.DB.ExecContext(ctx, `INSERT INTO action_log
			(plan_id, action_json, status, output, created_at, undone)
			VALUES (?, ?, ?, ?, ?, 0)`, nullable(planID), string(payload), string(status), nullable(output), now)
		if execErr != nil {
			return execErr
		}
		id, execErr = res.LastInsertId()
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("actionlog: append: %w", err)
	}
	return id, nil
}

// MarkUndone sets the undone flag and records the undo result for id. It
// is the only mutator after Append, preserving the log's append-only
// character.
func (s *Store) MarkUndone(ctx context.Context, id int64, undoResult string) error {
	return dbfile.WithRetry(ctx, 3, 20*time.Millisecond, func() error {
		_, err := s.db.DB.ExecContext(ctx, `UPDATE action_log SET undone = 1, undo_result = ? WHERE id = ?`, nullable(undoResult), id)
		return err
	})
}

// Recent returns the most recent entries, optionally scoped to one plan,
// newest first.
func (s *Store) Recent(ctx context.Context, planID string, limit int) ([]models.ActionLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, plan_id, action_json, status, output, created_at, undone, undo_result
		FROM action_log WHERE (? = '' OR plan_id = ?) ORDER BY id DESC LIMIT ?`

	var entries []models.ActionLogEntry
	err := dbfile.WithRetry(ctx, 3, 20*time.Millisecond, func() error {
		entries = nil
		rows, qErr := s.db.DB.QueryContext(ctx, query, planID, planID, limit)
		if qErr != nil {
			return qErr
		}
		defer rows.Close()
		for rows.Next() {
			e, scanErr := scanEntry(rows)
			if scanErr != nil {
				return scanErr
			}
			entries = append(entries, *e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("actionlog: recent: %w", err)
	}
	return entries, nil
}

// Get fetches one entry by id, or nil if absent.
func (s *Store) Get(ctx context.Context, id int64) (*models.ActionLogEntry, error) {
	var entry *models.ActionLogEntry
	err := dbfile.WithRetry(ctx, 3, 20*time.Millisecond, func() error {
		row := s.db.DB.QueryRowContext(ctx, `SELECT id, plan_id, action_json, status, output, created_at, undone, undo_result
			FROM action_log WHERE id = ?`, id)
		e, scanErr := scanEntry(row)
		if scanErr == sql.ErrNoRows {
			entry = nil
			return nil
		}
		if scanErr != nil {
			return scanErr
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("actionlog: get: %w", err)
	}
	return entry, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*models.ActionLogEntry, error) {
	var e models.ActionLogEntry
	var planID, output, undoResult *string
	var actionJSON, createdAt string
	var undone int
	if err := row.Scan(&e.ID, &planID, &actionJSON, &e.Status, &output, &createdAt, &undone, &undoResult); err != nil {
		return nil, err
	}
	if planID != nil {
		e.PlanID = *planID
	}
	if output != nil {
		e.Output = *output
	}
	if undoResult != nil {
		e.UndoResult = *undoResult
	}
	e.Undone = undone != 0
	if err := json.Unmarshal([]byte(actionJSON), &e.Action); err != nil {
		return nil, err
	}
	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	if err == nil {
		e.CreatedAt = parsed
	}
	return &e, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
