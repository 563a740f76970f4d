package jobmanager

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/novaadapt/novaadapt-core/pkg/models"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func waitForStatus(t *testing.T, m *Manager, id string, want models.JobStatus) *models.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := m.Get(context.Background(), id)
		require.NoError(t, err)
		if job != nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach status %s", id, want)
	return nil
}

func TestSubmitRunsTaskToSuccess(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	m, err := NewManager(ctx, store, 2, 16)
	require.NoError(t, err)
	m.Start(ctx)
	defer m.Stop()

	id, err := m.Submit(ctx, "run_objective", map[string]any{"objective": "clean desktop"}, func(ctx context.Context) (interface{}, error) {
		return map[string]any{"ok": true}, nil
	})
	require.NoError(t, err)

	job := waitForStatus(t, m, id, models.JobSucceeded)
	require.Equal(t, "run_objective", job.Kind)
}

func TestSubmitRunsTaskToFailure(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	m, err := NewManager(ctx, store, 2, 16)
	require.NoError(t, err)
	m.Start(ctx)
	defer m.Stop()

	id, err := m.Submit(ctx, "run_objective", nil, func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("boom")
	})
	require.NoError(t, err)

	job := waitForStatus(t, m, id, models.JobFailed)
	require.Equal(t, "boom", job.Error)
}

func TestCancelStopsRunningJob(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	m, err := NewManager(ctx, store, 2, 16)
	require.NoError(t, err)
	m.Start(ctx)
	defer m.Stop()

	started := make(chan struct{})
	id, err := m.Submit(ctx, "run_objective", nil, func(ctx context.Context) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)

	<-started
	require.NoError(t, m.Cancel(id))

	waitForStatus(t, m, id, models.JobCanceled)
}

func TestCancelQueuedJobNeverRuns(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	m, err := NewManager(ctx, store, 1, 16)
	require.NoError(t, err)
	m.Start(ctx)
	defer m.Stop()

	// Occupy the single worker so the next submission stays queued.
	firstStarted := make(chan struct{})
	block := make(chan struct{})
	_, err = m.Submit(ctx, "run_objective", nil, func(ctx context.Context) (interface{}, error) {
		close(firstStarted)
		<-block
		return nil, nil
	})
	require.NoError(t, err)
	<-firstStarted

	var ran atomic.Bool
	id, err := m.Submit(ctx, "run_objective", nil, func(ctx context.Context) (interface{}, error) {
		ran.Store(true)
		return nil, nil
	})
	require.NoError(t, err)

	require.NoError(t, m.Cancel(id))
	job := waitForStatus(t, m, id, models.JobCanceled)
	require.True(t, job.CancelRequested)

	close(block)
	time.Sleep(50 * time.Millisecond)
	require.False(t, ran.Load(), "canceled queued job must never run its task")
}

func TestCancelUnknownJobReturnsNotFound(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	m, err := NewManager(ctx, store, 1, 16)
	require.NoError(t, err)
	m.Start(ctx)
	defer m.Stop()

	require.ErrorIs(t, m.Cancel("missing"), ErrNotFound)
}

func TestNewManagerMarksStrandedJobsFailed(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, store.Upsert(ctx, &models.Job{
		ID: "stranded-1", Kind: "run_objective", Status: models.JobRunning,
		CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, store.Upsert(ctx, &models.Job{
		ID: "stranded-2", Kind: "run_objective", Status: models.JobQueued,
		CreatedAt: now, UpdatedAt: now,
	}))

	_, err := NewManager(ctx, store, 1, 16)
	require.NoError(t, err)

	job1, err := store.Get(ctx, "stranded-1")
	require.NoError(t, err)
	require.Equal(t, models.JobFailed, job1.Status)
	require.Equal(t, restartError, job1.Error)

	job2, err := store.Get(ctx, "stranded-2")
	require.NoError(t, err)
	require.Equal(t, models.JobFailed, job2.Status)
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	m, err := NewManager(ctx, store, 0, 1)
	require.NoError(t, err)
	// Intentionally do not Start workers so the single queue slot stays full.

	block := make(chan struct{})
	defer close(block)

	_, err = m.Submit(ctx, "run_objective", nil, func(ctx context.Context) (interface{}, error) {
		<-block
		return nil, nil
	})
	require.NoError(t, err)

	_, err = m.Submit(ctx, "run_objective", nil, func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	require.ErrorIs(t, err, ErrQueueFull)
}
