package idempotency

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "idempotency.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBeginNewKeyInsertsInProgress(t *testing.T) {
	s := openTestStore(t)
	status, outcome, err := s.Begin(context.Background(), "k1", "POST", "/plans", map[string]string{"a": "1"})
	require.NoError(t, err)
	require.Equal(t, "new", status)
	require.Nil(t, outcome)
}

func TestBeginInProgressReturnsInProgress(t *testing.T) {
	s := openTestStore(t)
	_, _, err := s.Begin(context.Background(), "k1", "POST", "/plans", map[string]string{"a": "1"})
	require.NoError(t, err)

	status, outcome, err := s.Begin(context.Background(), "k1", "POST", "/plans", map[string]string{"a": "1"})
	require.NoError(t, err)
	require.Equal(t, "in_progress", status)
	require.NotNil(t, outcome)
}

func TestCompleteThenReplay(t *testing.T) {
	s := openTestStore(t)
	_, _, err := s.Begin(context.Background(), "k1", "POST", "/plans", map[string]string{"a": "1"})
	require.NoError(t, err)

	require.NoError(t, s.Complete(context.Background(), "k1", "POST", "/plans", 201, map[string]string{"id": "plan-1"}))

	status, outcome, err := s.Begin(context.Background(), "k1", "POST", "/plans", map[string]string{"a": "1"})
	require.NoError(t, err)
	require.Equal(t, "replay", status)
	require.Equal(t, 201, outcome.StatusCode)
}

func TestBeginConflictOnDifferentPayload(t *testing.T) {
	s := openTestStore(t)
	_, _, err := s.Begin(context.Background(), "k1", "POST", "/plans", map[string]string{"a": "1"})
	require.NoError(t, err)

	status, outcome, err := s.Begin(context.Background(), "k1", "POST", "/plans", map[string]string{"a": "2"})
	require.NoError(t, err)
	require.Equal(t, "conflict", status)
	require.NotNil(t, outcome)
}

func TestClearRemovesEntry(t *testing.T) {
	s := openTestStore(t)
	_, _, err := s.Begin(context.Background(), "k1", "POST", "/plans", map[string]string{"a": "1"})
	require.NoError(t, err)
	require.NoError(t, s.Clear(context.Background(), "k1", "POST", "/plans"))

	status, _, err := s.Begin(context.Background(), "k1", "POST", "/plans", map[string]string{"a": "1"})
	require.NoError(t, err)
	require.Equal(t, "new", status)
}

func TestCanonicalJSONIsKeyOrderIndependent(t *testing.T) {
	h1, err := hashPayload(map[string]interface{}{"b": 1, "a": 2})
	require.NoError(t, err)
	h2, err := hashPayload(map[string]interface{}{"a": 2, "b": 1})
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}
