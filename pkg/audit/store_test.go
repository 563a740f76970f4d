package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	s, err := Open(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndGet(t *testing.T) {
	s := openTestStore(t, DefaultOptions())
	evt, err := s.Append(context.Background(), "plan", "create", "ok", "req-1", "plan", "p1", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.NotZero(t, evt.ID)

	fetched, err := s.Get(context.Background(), evt.ID)
	require.NoError(t, err)
	require.Equal(t, "plan", fetched.Category)
	require.Equal(t, "v", fetched.Payload.(map[string]interface{})["k"])
}

func TestGetMissingReturnsNil(t *testing.T) {
	s := openTestStore(t, DefaultOptions())
	evt, err := s.Get(context.Background(), 999)
	require.NoError(t, err)
	require.Nil(t, evt)
}

func TestListFiltersByCategoryAndSinceID(t *testing.T) {
	s := openTestStore(t, DefaultOptions())
	e1, _ := s.Append(context.Background(), "plan", "create", "ok", "", "", "", nil)
	_, _ = s.Append(context.Background(), "job", "create", "ok", "", "", "", nil)
	e3, _ := s.Append(context.Background(), "plan", "approve", "ok", "", "", "", nil)

	events, err := s.List(context.Background(), ListFilter{Category: "plan"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, e3.ID, events[0].ID)

	events, err = s.List(context.Background(), ListFilter{SinceID: e1.ID})
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestListOrdersNewestFirst(t *testing.T) {
	s := openTestStore(t, DefaultOptions())
	_, _ = s.Append(context.Background(), "plan", "create", "ok", "", "", "", nil)
	e2, _ := s.Append(context.Background(), "plan", "approve", "ok", "", "", "", nil)

	events, err := s.List(context.Background(), ListFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, e2.ID, events[0].ID)
}

func TestPruneExpiredIsNoOpWhenRetentionDisabled(t *testing.T) {
	opts := DefaultOptions()
	opts.RetentionSeconds = 0
	s := openTestStore(t, opts)
	// retention disabled (<=0) means prune is a no-op per the original
	// semantics; verify it does not error and reports zero removed.
	_, err := s.Append(context.Background(), "plan", "create", "ok", "", "", "", nil)
	require.NoError(t, err)
	removed, err := s.PruneExpired(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), removed)
}
