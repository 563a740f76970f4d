// Package dbfile provides the shared embedded-SQLite store primitive used
// by every independent store (plans, jobs, idempotency, audit, action log).
// Each store owns one file, its own migrations, and its own connection
// pool, mirroring the way the teacher's pkg/database client wires a single
// connection pool per logical database but swapping the backing engine
// from Postgres/ent to an embedded single-file driver.
package dbfile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlite3m "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

// Config controls how a Store opens and maintains its backing file.
type Config struct {
	// Path is the SQLite file path. The parent directory is created if
	// missing.
	Path string
	// BusyTimeout bounds how long a writer waits on SQLITE_BUSY before
	// surfacing an error, matching the original store's connect-time
	// pragma.
	BusyTimeout time.Duration
	// MaxOpenConns defaults to 1 for the write connection discipline the
	// original single-writer SQLite stores rely on; readers still share
	// the same pool since WAL allows concurrent readers.
	MaxOpenConns int
}

// Store wraps a *sql.DB opened against one embedded SQLite file, with WAL
// journaling and a busy-timeout pragma applied at open time.
type Store struct {
	DB   *sql.DB
	path string
}

// Open opens (creating if absent) the SQLite file at cfg.Path, applies the
// WAL/busy-timeout pragmas, and returns a ready Store. It does not run
// migrations; call Migrate separately with the store's embedded FS.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("dbfile: empty path")
	}
	if cfg.Path != ":memory:" {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("dbfile: create dir %s: %w", dir, err)
			}
		}
	}
	busyMs := int(cfg.BusyTimeout / time.Millisecond)
	if busyMs <= 0 {
		busyMs = 5000
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d&_foreign_keys=on", cfg.Path, busyMs)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("dbfile: open %s: %w", cfg.Path, err)
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbfile: ping %s: %w", cfg.Path, err)
	}
	return &Store{DB: db, path: cfg.Path}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Path returns the file path the store was opened against.
func (s *Store) Path() string {
	return s.path
}

// Migrate runs all up migrations found under migrationsFS against the
// store, using golang-migrate's sqlite3 driver. migrationsFS is typically
// a //go:embed of a per-package "migrations" directory, matching the
// teacher's embedded-migrations convention.
func (s *Store) Migrate(migrationsFS fs.FS, name string) error {
	src, err := iofs.New(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("dbfile: migration source for %s: %w", name, err)
	}
	driver, err := sqlite3m.WithInstance(s.DB, &sqlite3m.Config{})
	if err != nil {
		return fmt.Errorf("dbfile: migration driver for %s: %w", name, err)
	}
	m, err := migrate.NewWithInstance("iofs", src, name, driver)
	if err != nil {
		return fmt.Errorf("dbfile: migrate instance for %s: %w", name, err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("dbfile: migrate up %s: %w", name, err)
	}
	return nil
}

// retryableFragments lists the lowercased substrings of SQLite errors that
// indicate a transient lock contention condition worth retrying, matching
// the original stores' _is_retryable_sqlite_error fragment list.
var retryableFragments = []string{
	"database is locked",
	"database is busy",
	"disk i/o error",
	"database schema is locked",
	"unable to open database file",
}

// IsRetryable reports whether err looks like a transient SQLite lock
// contention error worth a bounded retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range retryableFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// WithRetry invokes fn, retrying up to attempts times with exponential
// backoff (base, base*2, base*4, ...) when fn fails with a retryable
// SQLite error, the same backoff discipline the original audit/idempotency
// stores apply around transient busy/locked errors.
func WithRetry(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if i == attempts-1 {
			break
		}
		delay := base * time.Duration(1<<uint(i))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// Backup produces a point-in-time snapshot of the store at destDir using
// SQLite's VACUUM INTO, safe to run against a live writer. The returned
// path is destDir/<name>-<timestamp>.db.
func Backup(ctx context.Context, s *Store, destDir, name string, now time.Time) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("dbfile: create backup dir: %w", err)
	}
	stamp := now.UTC().Format("20060102T150405Z")
	dest := filepath.Join(destDir, fmt.Sprintf("%s-%s.db", name, stamp))
	if _, err := s.DB.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return "", fmt.Errorf("dbfile: backup %s: %w", name, err)
	}
	return dest, nil
}

// Restore replaces the store's file with srcPath's contents. It archives
// the current file under destDir/pre-restore/<timestamp>/<name>.db first,
// so a bad restore can itself be undone. The caller must close and reopen
// the Store after Restore returns, since the underlying file is replaced.
func Restore(ctx context.Context, s *Store, srcPath, archiveDir, name string, now time.Time) error {
	stamp := now.UTC().Format("20060102T150405Z")
	preRestoreDir := filepath.Join(archiveDir, "pre-restore", stamp)
	if err := os.MkdirAll(preRestoreDir, 0o755); err != nil {
		return fmt.Errorf("dbfile: create archive dir: %w", err)
	}
	if err := s.Close(); err != nil {
		return fmt.Errorf("dbfile: close before restore: %w", err)
	}
	current := s.path
	if _, err := os.Stat(current); err == nil {
		if err := copyFile(current, filepath.Join(preRestoreDir, name+".db")); err != nil {
			return fmt.Errorf("dbfile: archive current file: %w", err)
		}
	}
	if err := copyFile(srcPath, current); err != nil {
		return fmt.Errorf("dbfile: copy restore source: %w", err)
	}
	slog.Info("restored store from backup", "name", name, "source", srcPath, "archived_to", preRestoreDir)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := out.ReadFrom(in); err != nil {
		return err
	}
	return out.Sync()
}

// RetentionGate throttles a periodic cleanup sweep so it runs at most once
// per interval, matching the original stores' "only prune when the
// cleanup interval has elapsed" behaviour.
type RetentionGate struct {
	interval time.Duration
	last     time.Time
}

// NewRetentionGate builds a gate that allows one Allow() per interval.
func NewRetentionGate(interval time.Duration) *RetentionGate {
	return &RetentionGate{interval: interval}
}

// Allow reports whether enough time has elapsed since the last allowed
// call, and if so records now as the new baseline.
func (g *RetentionGate) Allow(now time.Time) bool {
	if g.interval <= 0 {
		return true
	}
	if now.Sub(g.last) < g.interval {
		return false
	}
	g.last = now
	return true
}
