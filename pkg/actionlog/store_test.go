package actionlog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/novaadapt/novaadapt-core/pkg/models"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "actions.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndGet(t *testing.T) {
	s := openTestStore(t)
	id, err := s.Append(context.Background(), "plan-1", models.Action{Type: "click", Target: "OK"}, models.StatusOK, "clicked")
	require.NoError(t, err)
	require.NotZero(t, id)

	entry, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "plan-1", entry.PlanID)
	require.Equal(t, models.StatusOK, entry.Status)
	require.False(t, entry.Undone)
}

func TestMarkUndone(t *testing.T) {
	s := openTestStore(t)
	id, err := s.Append(context.Background(), "plan-1", models.Action{Type: "click"}, models.StatusOK, "")
	require.NoError(t, err)

	require.NoError(t, s.MarkUndone(context.Background(), id, "reverted"))

	entry, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	require.True(t, entry.Undone)
	require.Equal(t, "reverted", entry.UndoResult)
}

func TestRecentScopedToPlan(t *testing.T) {
	s := openTestStore(t)
	_, _ = s.Append(context.Background(), "plan-1", models.Action{Type: "a"}, models.StatusOK, "")
	_, _ = s.Append(context.Background(), "plan-2", models.Action{Type: "b"}, models.StatusOK, "")

	entries, err := s.Recent(context.Background(), "plan-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "plan-1", entries[0].PlanID)
}

func TestRecentAllPlans(t *testing.T) {
	s := openTestStore(t)
	_, _ = s.Append(context.Background(), "plan-1", models.Action{Type: "a"}, models.StatusOK, "")
	_, _ = s.Append(context.Background(), "plan-2", models.Action{Type: "b"}, models.StatusOK, "")

	entries, err := s.Recent(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}
