// Package audit implements the append-only audit event store, grounded on
// novaadapt_core/audit_store.py.
package audit

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/novaadapt/novaadapt-core/pkg/dbfile"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Event is one audit record, as returned by Append/Get/List.
type Event struct {
	ID         int64       `json:"id"`
	CreatedAt  string      `json:"created_at"`
	Category   string      `json:"category"`
	Action     string      `json:"action"`
	Status     string      `json:"status"`
	RequestID  string      `json:"request_id,omitempty"`
	EntityType string      `json:"entity_type,omitempty"`
	EntityID   string      `json:"entity_id,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
}

// Store persists audit events in one SQLite file.
type Store struct {
	db             *dbfile.Store
	retention      time.Duration
	retentionGate  *dbfile.RetentionGate
	retryAttempts  int
	retryBaseDelay time.Duration
}

// Options configures retention and retry behaviour.
type Options struct {
	RetentionSeconds       int
	CleanupIntervalSeconds float64
	RetryAttempts          int
	RetryBackoffSeconds    float64
}

// DefaultOptions mirrors AuditStore's constructor defaults (30 days
// retention, 60s cleanup gate, 3 retry attempts, 20ms base backoff).
func DefaultOptions() Options {
	return Options{
		RetentionSeconds:       30 * 24 * 60 * 60,
		CleanupIntervalSeconds: 60,
		RetryAttempts:          3,
		RetryBackoffSeconds:    0.02,
	}
}

// Open opens (creating and migrating if needed) the audit store at path.
func Open(path string, opts Options) (*Store, error) {
	db, err := dbfile.Open(dbfile.Config{Path: path, BusyTimeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(migrationsFS, "audit"); err != nil {
		db.Close()
		return nil, err
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	return &Store{
		db:             db,
		retention:      time.Duration(opts.RetentionSeconds) * time.Second,
		retentionGate:  dbfile.NewRetentionGate(time.Duration(opts.CleanupIntervalSeconds * float64(time.Second))),
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: time.Duration(opts.RetryBackoffSeconds * float64(time.Second)),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Append inserts a new audit event, pruning expired rows first if the
// retention gate allows it this call, and returns the stored record.
func (s *Store) Append(ctx context.Context, category, action, status string, requestID, entityType, entityID string, payload interface{}) (*Event, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	var payloadJSON *string
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("audit: encode payload: %w", err)
		}
		s := string(b)
		payloadJSON = &s
	}

	var id int64
	err := s.withRetry(ctx, func() error {
		s.cleanupExpired(ctx, false)
		res, execErr := s.db.DB.ExecContext(ctx, `INSERT INTO audit_events
			(created_at, category, action, status, request_id, entity_type, entity_id, payload_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			now, category, action, status, nullable(requestID), nullable(entityType), nullable(entityID), payloadJSON)
		if execErr != nil {
			return execErr
		}
		id, execErr = res.LastInsertId()
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("audit: append: %w", err)
	}
	return s.Get(ctx, id)
}

// Get fetches one event by id, or nil if absent.
func (s *Store) Get(ctx context.Context, id int64) (*Event, error) {
	var evt *Event
	err := s.withRetry(ctx, func() error {
		row := s.db.DB.QueryRowContext(ctx, `SELECT id, created_at, category, action, status, request_id, entity_type, entity_id, payload_json
			FROM audit_events WHERE id = ?`, id)
		e, scanErr := scanEvent(row)
		if scanErr == sql.ErrNoRows {
			evt = nil
			return nil
		}
		if scanErr != nil {
			return scanErr
		}
		evt = e
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit: get: %w", err)
	}
	return evt, nil
}

// ListFilter narrows List's result set.
type ListFilter struct {
	Limit      int
	Category   string
	EntityType string
	EntityID   string
	SinceID    int64
}

// List returns events matching filter, newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]Event, error) {
	clauses := []string{}
	params := []interface{}{}
	if filter.Category != "" {
		clauses = append(clauses, "category = ?")
		params = append(params, filter.Category)
	}
	if filter.EntityType != "" {
		clauses = append(clauses, "entity_type = ?")
		params = append(params, filter.EntityType)
	}
	if filter.EntityID != "" {
		clauses = append(clauses, "entity_id = ?")
		params = append(params, filter.EntityID)
	}
	if filter.SinceID > 0 {
		clauses = append(clauses, "id > ?")
		params = append(params, filter.SinceID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	params = append(params, limit)

	var events []Event
	err := s.withRetry(ctx, func() error {
		events = nil
		query := fmt.Sprintf(`SELECT id, created_at, category, action, status, request_id, entity_type, entity_id, payload_json
			FROM audit_events %s ORDER BY id DESC LIMIT ?`, where)
		rows, qErr := s.db.DB.QueryContext(ctx, query, params...)
		if qErr != nil {
			return qErr
		}
		defer rows.Close()
		for rows.Next() {
			e, scanErr := scanEvent(rows)
			if scanErr != nil {
				return scanErr
			}
			events = append(events, *e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	return events, nil
}

// PruneExpired forces a retention sweep regardless of the cleanup gate,
// returning the number of rows removed.
func (s *Store) PruneExpired(ctx context.Context) (int64, error) {
	var removed int64
	err := s.withRetry(ctx, func() error {
		removed = s.cleanupExpired(ctx, true)
		return nil
	})
	return removed, err
}

func (s *Store) cleanupExpired(ctx context.Context, force bool) int64 {
	if s.retention <= 0 {
		return 0
	}
	if !force && !s.retentionGate.Allow(time.Now()) {
		return 0
	}
	cutoff := time.Now().Add(-s.retention).UTC().Format(time.RFC3339Nano)
	res, err := s.db.DB.ExecContext(ctx, `DELETE FROM audit_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0
	}
	n, _ := res.RowsAffected()
	return n
}

func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	base := s.retryBaseDelay
	if base <= 0 {
		base = 20 * time.Millisecond
	}
	return dbfile.WithRetry(ctx, s.retryAttempts, base, fn)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row scanner) (*Event, error) {
	var e Event
	var requestID, entityType, entityID, payloadJSON *string
	if err := row.Scan(&e.ID, &e.CreatedAt, &e.Category, &e.Action, &e.Status, &requestID, &entityType, &entityID, &payloadJSON); err != nil {
		return nil, err
	}
	if requestID != nil {
		e.RequestID = *requestID
	}
	if entityType != nil {
		e.EntityType = *entityType
	}
	if entityID != nil {
		e.EntityID = *entityID
	}
	if payloadJSON != nil {
		var payload interface{}
		if err := json.Unmarshal([]byte(*payloadJSON), &payload); err != nil {
			return nil, err
		}
		e.Payload = payload
	}
	return &e, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
