package dbfile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOpenCreatesFileAndPragmas(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "store.db")

	s, err := Open(Config{Path: path, BusyTimeout: 2 * time.Second})
	require.NoError(t, err)
	defer s.Close()

	var mode string
	require.NoError(t, s.DB.QueryRow("PRAGMA journal_mode").Scan(&mode))
	require.Equal(t, "wal", mode)
}

func TestWithRetrySucceedsAfterTransientErrors(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), 5, time.Millisecond, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestWithRetryStopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), 5, time.Millisecond, func() error {
		attempts++
		return errors.New("boom")
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestRetentionGate(t *testing.T) {
	g := NewRetentionGate(time.Minute)
	now := time.Now()
	require.True(t, g.Allow(now))
	require.False(t, g.Allow(now.Add(10*time.Second)))
	require.True(t, g.Allow(now.Add(2*time.Minute)))
}

func TestBackupAndRestore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.db")
	s, err := Open(Config{Path: path})
	require.NoError(t, err)
	_, err = s.DB.Exec("CREATE TABLE t(id INTEGER)")
	require.NoError(t, err)
	_, err = s.DB.Exec("INSERT INTO t(id) VALUES (1)")
	require.NoError(t, err)

	backupDir := filepath.Join(dir, "backups")
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	backupPath, err := Backup(context.Background(), s, backupDir, "mystore", now)
	require.NoError(t, err)
	require.FileExists(t, backupPath)

	_, err = s.DB.Exec("INSERT INTO t(id) VALUES (2)")
	require.NoError(t, err)

	err = Restore(context.Background(), s, backupPath, dir, "mystore", now.Add(time.Hour))
	require.NoError(t, err)

	s2, err := Open(Config{Path: path})
	require.NoError(t, err)
	defer s2.Close()
	var count int
	require.NoError(t, s2.DB.QueryRow("SELECT COUNT(*) FROM t").Scan(&count))
	require.Equal(t, 1, count)
}
