package planstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/novaadapt/novaadapt-core/pkg/models"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plans.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := openTestStore(t)
	plan, err := s.Create(context.Background(), "clean desktop", "single", "primary", []models.Action{{Type: "click", Target: "OK"}})
	require.NoError(t, err)
	require.Equal(t, models.PlanPending, plan.Status)

	fetched, err := s.Get(context.Background(), plan.ID)
	require.NoError(t, err)
	require.Equal(t, plan.Objective, fetched.Objective)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApproveTransitionsToApproved(t *testing.T) {
	s := openTestStore(t)
	plan, _ := s.Create(context.Background(), "obj", "single", "primary", nil)

	approved, err := s.Approve(context.Background(), plan.ID, false)
	require.NoError(t, err)
	require.Equal(t, models.PlanApproved, approved.Status)
	require.NotNil(t, approved.ApprovedAt)
}

func TestApproveRejectsNonPending(t *testing.T) {
	s := openTestStore(t)
	plan, _ := s.Create(context.Background(), "obj", "single", "primary", nil)
	_, err := s.Approve(context.Background(), plan.ID, false)
	require.NoError(t, err)

	_, err = s.Approve(context.Background(), plan.ID, false)
	require.ErrorIs(t, err, ErrNotApprovable)
}

func TestBeginExecutingGuardsDoubleDispatch(t *testing.T) {
	s := openTestStore(t)
	plan, _ := s.Create(context.Background(), "obj", "single", "primary", nil)
	_, err := s.Approve(context.Background(), plan.ID, false)
	require.NoError(t, err)

	_, err = s.BeginExecuting(context.Background(), plan.ID)
	require.NoError(t, err)

	_, err = s.BeginExecuting(context.Background(), plan.ID)
	require.ErrorIs(t, err, ErrAlreadyExecuting)
}

func TestFinishRecordsResultsAndStatus(t *testing.T) {
	s := openTestStore(t)
	plan, _ := s.Create(context.Background(), "obj", "single", "primary", []models.Action{{Type: "click"}})
	_, err := s.Approve(context.Background(), plan.ID, true)
	require.NoError(t, err)

	results := []models.ExecutionResult{{Action: models.Action{Type: "click"}, Status: models.StatusOK}}
	finished, err := s.Finish(context.Background(), plan.ID, models.PlanExecuted, "", results, []int64{1})
	require.NoError(t, err)
	require.Equal(t, models.PlanExecuted, finished.Status)
	require.Len(t, finished.ExecutionResults, 1)
	require.Equal(t, []int64{1}, finished.ActionLogIDs)
}

func TestRejectPending(t *testing.T) {
	s := openTestStore(t)
	plan, _ := s.Create(context.Background(), "obj", "single", "primary", nil)

	rejected, err := s.Reject(context.Background(), plan.ID, "not needed")
	require.NoError(t, err)
	require.Equal(t, models.PlanRejected, rejected.Status)
	require.Equal(t, "not needed", rejected.Error)
}

func TestRejectApproved(t *testing.T) {
	s := openTestStore(t)
	plan, _ := s.Create(context.Background(), "obj", "single", "primary", nil)
	_, err := s.Approve(context.Background(), plan.ID, false)
	require.NoError(t, err)

	rejected, err := s.Reject(context.Background(), plan.ID, "changed my mind")
	require.NoError(t, err)
	require.Equal(t, models.PlanRejected, rejected.Status)
	require.Equal(t, "changed my mind", rejected.Error)
	require.NotNil(t, rejected.RejectedAt)
}

func TestRejectExecutingFails(t *testing.T) {
	s := openTestStore(t)
	plan, _ := s.Create(context.Background(), "obj", "single", "primary", nil)
	_, err := s.Approve(context.Background(), plan.ID, true)
	require.NoError(t, err)

	_, err = s.Reject(context.Background(), plan.ID, "too late")
	require.ErrorIs(t, err, ErrNotApprovable)
}

func TestListFiltersByStatus(t *testing.T) {
	s := openTestStore(t)
	p1, _ := s.Create(context.Background(), "a", "single", "primary", nil)
	_, _ = s.Create(context.Background(), "b", "single", "primary", nil)
	_, err := s.Approve(context.Background(), p1.ID, false)
	require.NoError(t, err)

	approved, err := s.List(context.Background(), models.PlanApproved, 10)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	require.Equal(t, p1.ID, approved[0].ID)
}
