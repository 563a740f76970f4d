// Package jobmanager runs async objective/plan work on a bounded worker
// pool with cooperative cancellation, persisting job records so status
// survives a process restart, grounded on novaadapt_core/job_store.py's
// upsert-keyed-on-id schema and novaadapt_core/jobs.py's submit/run
// lifecycle, combined with pkg/queue/pool.go and pkg/queue/worker.go's
// cancel-registry and poll-loop idioms.
package jobmanager

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

// Store persists job records in one SQLite file.
type Store struct {
	db *dbfile.Store
}

// Open opens (creating and migrating if needed) the job store at path.
func Open(path string) (*Store, error) {
	db, err := dbfile.Open(dbfile.Config{Path: path, BusyTimeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(migrationsFS, "jobmanager"); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Upsert inserts or updates one job record keyed on id, mirroring
// job_store.py's INSERT ... ON CONFLICT(id) DO UPDATE pattern.
func (s *Store) Upsert(ctx context.Context, job *models.Job) error {
	inputJSON, err := encodeNullable(job.Input)
	if err != nil {
		return fmt.Errorf("jobmanager: encode input: %w", err)
	}
	resultJSON, err := encodeNullable(job.Result)
	if err != nil {
		return fmt.Errorf("jobmanager: encode result: %w", err)
	}

	return dbfile.WithRetry(ctx, 3, 20*time.Millisecond, func() error {
		_, execErr := s.db.DB.ExecContext(ctx, `INSERT INTO async_jobs
			(id, kind, status, input_json, result_json, error, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				result_json = excluded.result_json,
				error = excluded.error,
				updated_at = excluded.updated_at`,
			job.ID, job.Kind, string(job.Status), inputJSON, resultJSON, nullableStr(job.Error),
			job.CreatedAt.Format(time.RFC3339Nano), job.UpdatedAt.Format(time.RFC3339Nano))
		return execErr
	})
}

// Get fetches one job by id.
func (s *Store) Get(ctx context.Context, id string) (*models.Job, error) {
	var job *models.Job
	err := dbfile.WithRetry(ctx, 3, 20*time.Millisecond, func() error {
		row := s.db.DB.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
		j, scanErr := scanJob(row)
		if scanErr == sql.ErrNoRows {
			job = nil
			return nil
		}
		if scanErr != nil {
			return scanErr
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("jobmanager: get: %w", err)
	}
	return job, nil
}

// List returns the most recently created jobs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var jobs []models.Job
	err := dbfile.WithRetry(ctx, 3, 20*time.Millisecond, func() error {
		jobs = nil
		rows, qErr := s.db.DB.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC LIMIT ?`, limit)
		if qErr != nil {
			return qErr
		}
		defer rows.Close()
		for rows.Next() {
			j, scanErr := scanJob(rows)
			if scanErr != nil {
				return scanErr
			}
			jobs = append(jobs, *j)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("jobmanager: list: %w", err)
	}
	return jobs, nil
}

// ListByStatuses returns all jobs whose status is in the given set,
// used at startup to find jobs stranded by a process restart.
func (s *Store) ListByStatuses(ctx context.Context, statuses ...models.JobStatus) ([]models.Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := ""
	args := make([]interface{}, 0, len(statuses))
	for i, st := range statuses {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, string(st))
	}

	var jobs []models.Job
	err := dbfile.WithRetry(ctx, 3, 20*time.Millisecond, func() error {
		jobs = nil
		rows, qErr := s.db.DB.QueryContext(ctx, selectColumns+` WHERE status IN (`+placeholders+`)`, args...)
		if qErr != nil {
			return qErr
		}
		defer rows.Close()
		for rows.Next() {
			j, scanErr := scanJob(rows)
			if scanErr != nil {
				return scanErr
			}
			jobs = append(jobs, *j)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("jobmanager: list by status: %w", err)
	}
	return jobs, nil
}

const selectColumns = `SELECT id, kind, status, input_json, result_json, error, created_at, updated_at FROM async_jobs`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*models.Job, error) {
	var j models.Job
	var inputJSON, resultJSON, errMsg *string
	var createdAt, updatedAt string
	if err := row.Scan(&j.ID, &j.Kind, &j.Status, &inputJSON, &resultJSON, &errMsg, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if inputJSON != nil && *inputJSON != "" {
		var v interface{}
		if err := json.Unmarshal([]byte(*inputJSON), &v); err != nil {
			return nil, err
		}
		j.Input = v
	}
	if resultJSON != nil && *resultJSON != "" {
		var v interface{}
		if err := json.Unmarshal([]byte(*resultJSON), &v); err != nil {
			return nil, err
		}
		j.Result = v
	}
	if errMsg != nil {
		j.Error = *errMsg
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		j.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		j.UpdatedAt = t
	}
	return &j, nil
}

func encodeNullable(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullableStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
