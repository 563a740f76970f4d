package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/novaadapt/novaadapt-core/pkg/agent"
	"github.com/novaadapt/novaadapt-core/pkg/models"
	"github.com/novaadapt/novaadapt-core/pkg/orchestrator"
)

func (req approveRequest) toApprovalOptions() orchestrator.ApprovalOptions {
	return orchestrator.ApprovalOptions{
		Execute:             req.Execute,
		AllowDangerous:      req.AllowDangerous,
		MaxActions:          req.MaxActions,
		ActionRetryAttempts: req.ActionRetryAttempts,
		ActionRetryBackoffS: req.ActionRetryBackoffSeconds,
	}
}

// createPlanHandler handles POST /plans.
func (s *Server) createPlanHandler(c *echo.Context) (int, interface{}, error) {
	var req createPlanRequest
	if err := bindJSON(c, &req); err != nil {
		return 0, nil, err
	}
	if req.Objective == "" {
		return 0, nil, echo.NewHTTPError(http.StatusBadRequest, "objective is required")
	}
	plan, err := s.orch.CreatePlan(c.Request().Context(), agent.ObjectiveRequest{
		Objective:  req.Objective,
		Strategy:   req.Strategy,
		Endpoints:  req.Endpoints,
		MaxActions: req.MaxActions,
	})
	if err != nil {
		return 0, nil, mapServiceError(err)
	}
	return http.StatusCreated, plan, nil
}

// listPlansHandler handles GET /plans.
func (s *Server) listPlansHandler(c *echo.Context) (int, interface{}, error) {
	status := models.PlanStatus(c.QueryParam("status"))
	limit := intQueryParam(c, "limit", 0)
	plans, err := s.orch.ListPlans(c.Request().Context(), status, limit)
	if err != nil {
		return 0, nil, mapServiceError(err)
	}
	return http.StatusOK, listResponse{Count: len(plans), Items: plans}, nil
}

// getPlanHandler handles GET /plans/:id.
func (s *Server) getPlanHandler(c *echo.Context) (int, interface{}, error) {
	plan, err := s.orch.GetPlan(c.Request().Context(), c.Param("id"))
	if err != nil {
		return 0, nil, mapServiceError(err)
	}
	return http.StatusOK, plan, nil
}

// approvePlanHandler handles POST /plans/:id/approve.
func (s *Server) approvePlanHandler(c *echo.Context) (int, interface{}, error) {
	var req approveRequest
	if err := bindJSON(c, &req); err != nil {
		return 0, nil, err
	}
	plan, err := s.orch.ApprovePlan(c.Request().Context(), c.Param("id"), req.toApprovalOptions())
	if err != nil {
		return 0, nil, mapServiceError(err)
	}
	return http.StatusOK, plan, nil
}

// approvePlanAsyncHandler handles POST /plans/:id/approve_async.
func (s *Server) approvePlanAsyncHandler(c *echo.Context) (int, interface{}, error) {
	var req approveRequest
	if err := bindJSON(c, &req); err != nil {
		return 0, nil, err
	}
	jobID, err := s.orch.ApprovePlanAsync(c.Request().Context(), c.Param("id"), req.toApprovalOptions())
	if err != nil {
		return 0, nil, mapServiceError(err)
	}
	return http.StatusAccepted, queuedResponse{JobID: jobID, Status: "queued"}, nil
}

// retryFailedHandler handles POST /plans/:id/retry_failed.
func (s *Server) retryFailedHandler(c *echo.Context) (int, interface{}, error) {
	var req approveRequest
	if err := bindJSON(c, &req); err != nil {
		return 0, nil, err
	}
	plan, err := s.orch.RetryFailed(c.Request().Context(), c.Param("id"), req.toApprovalOptions())
	if err != nil {
		return 0, nil, mapServiceError(err)
	}
	return http.StatusOK, plan, nil
}

// retryFailedAsyncHandler handles POST /plans/:id/retry_failed_async.
func (s *Server) retryFailedAsyncHandler(c *echo.Context) (int, interface{}, error) {
	var req approveRequest
	if err := bindJSON(c, &req); err != nil {
		return 0, nil, err
	}
	jobID, err := s.orch.RetryFailedAsync(c.Request().Context(), c.Param("id"), req.toApprovalOptions())
	if err != nil {
		return 0, nil, mapServiceError(err)
	}
	return http.StatusAccepted, queuedResponse{JobID: jobID, Status: "queued"}, nil
}

// rejectPlanHandler handles POST /plans/:id/reject.
func (s *Server) rejectPlanHandler(c *echo.Context) (int, interface{}, error) {
	var req rejectRequest
	if err := bindJSON(c, &req); err != nil {
		return 0, nil, err
	}
	plan, err := s.orch.RejectPlan(c.Request().Context(), c.Param("id"), req.Reason)
	if err != nil {
		return 0, nil, mapServiceError(err)
	}
	return http.StatusOK, plan, nil
}

// undoPlanHandler handles POST /plans/:id/undo.
func (s *Server) undoPlanHandler(c *echo.Context) (int, interface{}, error) {
	var req planUndoRequest
	if err := bindJSON(c, &req); err != nil {
		return 0, nil, err
	}
	results, err := s.orch.UndoPlan(c.Request().Context(), c.Param("id"), req.Execute, req.MarkOnly)
	if err != nil {
		return 0, nil, mapServiceError(err)
	}
	return http.StatusOK, listResponse{Count: len(results), Items: results}, nil
}

// planStream builds the SSE poll for GET /plans/:id/stream, terminal
// once the plan reaches a decided or finished state per spec.md §4.9.
func (s *Server) planStream(c *echo.Context) ssePoll {
	id := c.Param("id")
	ctx := c.Request().Context()
	return func() (string, interface{}, bool, error) {
		plan, err := s.orch.GetPlan(ctx, id)
		if err != nil {
			return "", nil, false, err
		}
		terminal := plan.Status == models.PlanApproved || plan.Status == models.PlanRejected ||
			plan.Status == models.PlanExecuted || plan.Status == models.PlanFailed
		return "plan", plan, terminal, nil
	}
}

func intQueryParam(c *echo.Context, name string, fallback int) int {
	v := c.QueryParam(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
