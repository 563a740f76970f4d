// Package planstore persists generated action plans and enforces the
// pending/approved/executing/executed/failed/rejected state machine,
// grounded on novaadapt_core/plan_store.py and generalized from
// pkg/services/session_service.go's transactional-update idiom (the
// original is a single create/approve/reject surface; this adds the
// executing/progress bookkeeping the spec's richer state machine needs).
package planstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/novaadapt/novaadapt-core/pkg/dbfile"
	"github.com/novaadapt/novaadapt-core/pkg/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Sentinel errors surfaced to callers (mapped to HTTP status codes by
// pkg/api's error mapper).
var (
	ErrNotFound          = errors.New("planstore: plan not found")
	ErrAlreadyExecuting  = errors.New("planstore: plan is already executing")
	ErrAlreadyTerminal   = errors.New("planstore: plan is already in a terminal state")
	ErrNotApprovable     = errors.New("planstore: plan is not in a state that can be approved")
)

// Store persists plans in one SQLite file.
type Store struct {
	db *dbfile.Store
}

// Open opens (creating and migrating if needed) the plan store at path.
func Open(path string) (*Store, error) {
	db, err := dbfile.Open(dbfile.Config{Path: path, BusyTimeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(migrationsFS, "planstore"); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Create inserts a new plan in "pending" status and returns it.
func (s *Store) Create(ctx context.Context, objective, strategy, endpoint string, actions []models.Action) (*models.Plan, error) {
	now := time.Now().UTC()
	plan := &models.Plan{
		ID:        uuid.NewString(),
		Objective: objective,
		Strategy:  strategy,
		Endpoint:  endpoint,
		Actions:   actions,
		Status:    models.PlanPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	actionsJSON, err := json.Marshal(plan.Actions)
	if err != nil {
		return nil, fmt.Errorf("planstore: encode actions: %w", err)
	}
	err = dbfile.WithRetry(ctx, 3, 20*time.Millisecond, func() error {
		_, execErr := s.db.DB.ExecContext(ctx, `INSERT INTO plans
			(id, objective, strategy, endpoint, actions_json, status, progress, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			plan.ID, plan.Objective, plan.Strategy, nullable(plan.Endpoint), string(actionsJSON),
			string(plan.Status), plan.CreatedAt.Format(time.RFC3339Nano), plan.UpdatedAt.Format(time.RFC3339Nano))
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("planstore: create: %w", err)
	}
	return plan, nil
}

// Get fetches one plan by id.
func (s *Store) Get(ctx context.Context, id string) (*models.Plan, error) {
	var plan *models.Plan
	err := dbfile.WithRetry(ctx, 3, 20*time.Millisecond, func() error {
		row := s.db.DB.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
		p, scanErr := scanPlan(row)
		if scanErr == sql.ErrNoRows {
			plan = nil
			return nil
		}
		if scanErr != nil {
			return scanErr
		}
		plan = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("planstore: get: %w", err)
	}
	if plan == nil {
		return nil, ErrNotFound
	}
	return plan, nil
}

// List returns the most recently created plans, optionally filtered by
// status, newest first.
func (s *Store) List(ctx context.Context, status models.PlanStatus, limit int) ([]models.Plan, error) {
	if limit <= 0 {
		limit = 50
	}
	query := selectColumns + ` WHERE (? = '' OR status = ?) ORDER BY created_at DESC LIMIT ?`

	var plans []models.Plan
	err := dbfile.WithRetry(ctx, 3, 20*time.Millisecond, func() error {
		plans = nil
		rows, qErr := s.db.DB.QueryContext(ctx, query, string(status), string(status), limit)
		if qErr != nil {
			return qErr
		}
		defer rows.Close()
		for rows.Next() {
			p, scanErr := scanPlan(rows)
			if scanErr != nil {
				return scanErr
			}
			plans = append(plans, *p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("planstore: list: %w", err)
	}
	return plans, nil
}

// Approve transitions a pending plan to approved (or, if execute is
// requested immediately, to executing). It refuses to act on a plan that
// is already in a terminal or executing state.
func (s *Store) Approve(ctx context.Context, id string, startExecuting bool) (*models.Plan, error) {
	return s.transition(ctx, id, func(p *models.Plan) error {
		if p.Status != models.PlanPending {
			return ErrNotApprovable
		}
		now := time.Now().UTC()
		p.ApprovedAt = &now
		if startExecuting {
			p.Status = models.PlanExecuting
		} else {
			p.Status = models.PlanApproved
		}
		return nil
	})
}

// BeginExecuting moves an approved, pending or failed plan into executing, guarding against
// double-dispatch when two callers approve/retry concurrently.
func (s *Store) BeginExecuting(ctx context.Context, id string) (*models.Plan, error) {
	return s.transition(ctx, id, func(p *models.Plan) error {
		switch p.Status {
		case models.PlanExecuting:
			return ErrAlreadyExecuting
		case models.PlanExecuted, models.PlanRejected:
			return ErrAlreadyTerminal
		case models.PlanApproved, models.PlanFailed, models.PlanPending:
			p.Status = models.PlanExecuting
			return nil
		default:
			return ErrNotApprovable
		}
	})
}

// UpdateProgress records incremental execution state (called after each
// action during a live run so SSE readers observe live progress) without
// changing status.
func (s *Store) UpdateProgress(ctx context.Context, id string, progress int, results []models.ExecutionResult, actionLogIDs []int64) error {
	_, err := s.transition(ctx, id, func(p *models.Plan) error {
		p.Progress = progress
		p.ExecutionResults = results
		p.ActionLogIDs = actionLogIDs
		return nil
	})
	return err
}

// Finish marks a plan executed or failed with its final results.
func (s *Store) Finish(ctx context.Context, id string, status models.PlanStatus, errMsg string, results []models.ExecutionResult, actionLogIDs []int64) (*models.Plan, error) {
	return s.transition(ctx, id, func(p *models.Plan) error {
		p.Status = status
		p.Error = errMsg
		p.ExecutionResults = results
		p.ActionLogIDs = actionLogIDs
		p.Progress = len(results)
		if status == models.PlanExecuted {
			now := time.Now().UTC()
			p.ExecutedAt = &now
		}
		return nil
	})
}

// Reject transitions a pending or approved plan to rejected. Allowed from
// any non-terminal state except executing, matching service.py's
// reject_plan (which only blocks an already-executed plan).
func (s *Store) Reject(ctx context.Context, id, reason string) (*models.Plan, error) {
	return s.transition(ctx, id, func(p *models.Plan) error {
		switch p.Status {
		case models.PlanPending, models.PlanApproved:
			now := time.Now().UTC()
			p.Status = models.PlanRejected
			p.Error = reason
			p.RejectedAt = &now
			return nil
		default:
			return ErrNotApprovable
		}
	})
}

func (s *Store) transition(ctx context.Context, id string, mutate func(*models.Plan) error) (*models.Plan, error) {
	plan, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(plan); err != nil {
		return nil, err
	}
	plan.UpdatedAt = time.Now().UTC()

	actionsJSON, err := json.Marshal(plan.Actions)
	if err != nil {
		return nil, fmt.Errorf("planstore: encode actions: %w", err)
	}
	resultsJSON, err := json.Marshal(plan.ExecutionResults)
	if err != nil {
		return nil, fmt.Errorf("planstore: encode results: %w", err)
	}
	logIDsJSON, err := json.Marshal(plan.ActionLogIDs)
	if err != nil {
		return nil, fmt.Errorf("planstore: encode log ids: %w", err)
	}
	var approvedAt, rejectedAt, executedAt interface{}
	if plan.ApprovedAt != nil {
		approvedAt = plan.ApprovedAt.Format(time.RFC3339Nano)
	}
	if plan.RejectedAt != nil {
		rejectedAt = plan.RejectedAt.Format(time.RFC3339Nano)
	}
	if plan.ExecutedAt != nil {
		executedAt = plan.ExecutedAt.Format(time.RFC3339Nano)
	}

	err = dbfile.WithRetry(ctx, 3, 20*time.Millisecond, func() error {
		_, execErr := s.db.DB.ExecContext(ctx, `UPDATE plans SET
			actions_json = ?, status = ?, progress = ?, error = ?, updated_at = ?,
			approved_at = ?, rejected_at = ?, executed_at = ?,
			execution_results_json = ?, action_log_ids_json = ?
			WHERE id = ?`,
			string(actionsJSON), string(plan.Status), plan.Progress, nullable(plan.Error),
			plan.UpdatedAt.Format(time.RFC3339Nano), approvedAt, rejectedAt, executedAt,
			string(resultsJSON), string(logIDsJSON), id)
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("planstore: update: %w", err)
	}
	return plan, nil
}

const selectColumns = `SELECT id, objective, strategy, endpoint, actions_json, status, progress, error,
	created_at, updated_at, approved_at, rejected_at, executed_at, execution_results_json, action_log_ids_json FROM plans`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPlan(row scanner) (*models.Plan, error) {
	var p models.Plan
	var endpoint, errMsg, approvedAt, rejectedAt, executedAt, resultsJSON, logIDsJSON *string
	var actionsJSON, createdAt, updatedAt string
	if err := row.Scan(&p.ID, &p.Objective, &p.Strategy, &endpoint, &actionsJSON, &p.Status, &p.Progress,
		&errMsg, &createdAt, &updatedAt, &approvedAt, &rejectedAt, &executedAt, &resultsJSON, &logIDsJSON); err != nil {
		return nil, err
	}
	if endpoint != nil {
		p.Endpoint = *endpoint
	}
	if errMsg != nil {
		p.Error = *errMsg
	}
	if err := json.Unmarshal([]byte(actionsJSON), &p.Actions); err != nil {
		return nil, err
	}
	if resultsJSON != nil && *resultsJSON != "null" && *resultsJSON != "" {
		if err := json.Unmarshal([]byte(*resultsJSON), &p.ExecutionResults); err != nil {
			return nil, err
		}
	}
	if logIDsJSON != nil && *logIDsJSON != "null" && *logIDsJSON != "" {
		if err := json.Unmarshal([]byte(*logIDsJSON), &p.ActionLogIDs); err != nil {
			return nil, err
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		p.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		p.UpdatedAt = t
	}
	if approvedAt != nil {
		if t, err := time.Parse(time.RFC3339Nano, *approvedAt); err == nil {
			p.ApprovedAt = &t
		}
	}
	if rejectedAt != nil {
		if t, err := time.Parse(time.RFC3339Nano, *rejectedAt); err == nil {
			p.RejectedAt = &t
		}
	}
	if executedAt != nil {
		if t, err := time.Parse(time.RFC3339Nano, *executedAt); err == nil {
			p.ExecutedAt = &t
		}
	}
	return &p, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
