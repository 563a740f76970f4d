// Package idempotency implements the idempotency-key store gating
// mutating HTTP routes, grounded on novaadapt_core/idempotency_store.py.
package idempotency

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/novaadapt/novaadapt-core/pkg/dbfile"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Outcome bundles a lookup status with the payload needed to respond.
type Outcome struct {
	Status     string
	StatusCode int
	Payload    interface{}
	Error      string
}

// Store persists idempotency-key records in one SQLite file.
type Store struct {
	db *dbfile.Store
}

// Open opens (creating and migrating if needed) the idempotency store at
// path.
func Open(path string) (*Store, error) {
	db, err := dbfile.Open(dbfile.Config{Path: path, BusyTimeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(migrationsFS, "idempotency"); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Begin looks up (key, method, path). If absent, it inserts an
// in_progress row and returns "new". If present with a matching payload
// hash and status "completed", it returns "replay" with the stored
// response. A payload-hash mismatch returns "conflict"; a present,
// not-yet-completed row returns "in_progress".
func (s *Store) Begin(ctx context.Context, key, method, path string, payload interface{}) (status string, outcome *Outcome, err error) {
	hash, err := hashPayload(payload)
	if err != nil {
		return "", nil, fmt.Errorf("idempotency: hash payload: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	err = dbfile.WithRetry(ctx, 5, 20*time.Millisecond, func() error {
		tx, txErr := s.db.DB.BeginTx(ctx, nil)
		if txErr != nil {
			return txErr
		}
		defer tx.Rollback()

		var existingHash, existingStatus, responseJSON string
		var statusCode *int
		row := tx.QueryRowContext(ctx, `SELECT payload_hash, status, status_code, response_json
			FROM idempotency_entries WHERE key = ? AND method = ? AND path = ?`, key, method, path)
		scanErr := row.Scan(&existingHash, &existingStatus, &statusCode, &responseJSON)
		switch scanErr {
		case nil:
			if existingHash != hash {
				status = "conflict"
				outcome = &Outcome{Status: "conflict", Error: "idempotency key reused with different payload"}
				return tx.Commit()
			}
			if existingStatus == "completed" {
				var payloadOut interface{}
				if responseJSON != "" {
					if jerr := json.Unmarshal([]byte(responseJSON), &payloadOut); jerr != nil {
						return jerr
					}
				}
				code := 200
				if statusCode != nil {
					code = *statusCode
				}
				status = "replay"
				outcome = &Outcome{Status: "replay", StatusCode: code, Payload: payloadOut}
				return tx.Commit()
			}
			status = "in_progress"
			outcome = &Outcome{Status: "in_progress", Error: "request with this idempotency key is already in progress"}
			return tx.Commit()
		default:
			if !isNoRows(scanErr) {
				return scanErr
			}
			_, execErr := tx.ExecContext(ctx, `INSERT INTO idempotency_entries
				(key, method, path, payload_hash, status, status_code, response_json, created_at, updated_at)
				VALUES (?, ?, ?, ?, 'in_progress', NULL, NULL, ?, ?)`, key, method, path, hash, now, now)
			if execErr != nil {
				return execErr
			}
			status = "new"
			outcome = nil
			return tx.Commit()
		}
	})
	if err != nil {
		return "", nil, fmt.Errorf("idempotency: begin: %w", err)
	}
	return status, outcome, nil
}

// Complete marks (key, method, path) completed with the given response,
// so future replays return it verbatim.
func (s *Store) Complete(ctx context.Context, key, method, path string, statusCode int, payload interface{}) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("idempotency: encode response: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return dbfile.WithRetry(ctx, 5, 20*time.Millisecond, func() error {
		_, err := s.db.DB.ExecContext(ctx, `UPDATE idempotency_entries
			SET status = 'completed', status_code = ?, response_json = ?, updated_at = ?
			WHERE key = ? AND method = ? AND path = ?`, statusCode, string(encoded), now, key, method, path)
		return err
	})
}

// Clear deletes the (key, method, path) record, used to unwind a request
// that never reached completion (the handler returned an error).
func (s *Store) Clear(ctx context.Context, key, method, path string) error {
	return dbfile.WithRetry(ctx, 5, 20*time.Millisecond, func() error {
		_, err := s.db.DB.ExecContext(ctx, `DELETE FROM idempotency_entries WHERE key = ? AND method = ? AND path = ?`, key, method, path)
		return err
	})
}

func hashPayload(payload interface{}) (string, error) {
	canon, err := canonicalJSON(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canon))
	return hex.EncodeToString(sum[:]), nil
}

// canonicalJSON marshals payload with sorted object keys and compact
// separators, matching json.dumps(..., sort_keys=True, separators=(",", ":")).
func canonicalJSON(v interface{}) (string, error) {
	normalized, err := normalizeForCanon(v)
	if err != nil {
		return "", err
	}
	return renderCanon(normalized), nil
}

func normalizeForCanon(v interface{}) (interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func renderCanon(v interface{}) string {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "{"
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			kb, _ := json.Marshal(k)
			out += string(kb) + ":" + renderCanon(val[k])
		}
		return out + "}"
	case []interface{}:
		out := "["
		for i, item := range val {
			if i > 0 {
				out += ","
			}
			out += renderCanon(item)
		}
		return out + "]"
	default:
		b, _ := json.Marshal(val)
		return string(b)
	}
}

func isNoRows(err error) bool {
	return err != nil && err.Error() == "sql: no rows in result set"
}
