package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/novaadapt/novaadapt-core/pkg/agent"
)

func (req runRequest) toObjectiveRequest() agent.ObjectiveRequest {
	return agent.ObjectiveRequest{
		Objective:      req.Objective,
		Strategy:       req.Strategy,
		Endpoints:      req.Endpoints,
		DryRun:         req.DryRun,
		AllowDangerous: req.AllowDangerous,
		MaxActions:     req.MaxActions,
	}
}

// runHandler handles POST /run.
func (s *Server) runHandler(c *echo.Context) (int, interface{}, error) {
	var req runRequest
	if err := bindJSON(c, &req); err != nil {
		return 0, nil, err
	}
	if req.Objective == "" {
		return 0, nil, echo.NewHTTPError(http.StatusBadRequest, "objective is required")
	}
	result, err := s.orch.RunObjective(c.Request().Context(), req.toObjectiveRequest())
	if err != nil {
		return 0, nil, mapServiceError(err)
	}
	return http.StatusOK, result, nil
}

// runAsyncHandler handles POST /run_async.
func (s *Server) runAsyncHandler(c *echo.Context) (int, interface{}, error) {
	var req runRequest
	if err := bindJSON(c, &req); err != nil {
		return 0, nil, err
	}
	if req.Objective == "" {
		return 0, nil, echo.NewHTTPError(http.StatusBadRequest, "objective is required")
	}
	jobID, err := s.orch.RunAsync(c.Request().Context(), req.toObjectiveRequest())
	if err != nil {
		return 0, nil, mapServiceError(err)
	}
	return http.StatusAccepted, queuedResponse{JobID: jobID, Status: "queued"}, nil
}

// swarmRunHandler handles POST /swarm/run.
func (s *Server) swarmRunHandler(c *echo.Context) (int, interface{}, error) {
	var req swarmRunRequest
	if err := bindJSON(c, &req); err != nil {
		return 0, nil, err
	}
	if len(req.Objectives) == 0 {
		return 0, nil, echo.NewHTTPError(http.StatusBadRequest, "objectives must not be empty")
	}
	base := agent.ObjectiveRequest{
		Strategy:       req.Strategy,
		Endpoints:      req.Endpoints,
		DryRun:         req.DryRun,
		AllowDangerous: req.AllowDangerous,
		MaxActions:     req.MaxActions,
	}
	result, err := s.orch.RunSwarm(c.Request().Context(), req.Objectives, req.MaxAgents, base)
	if err != nil {
		return 0, nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return http.StatusAccepted, result, nil
}

// undoHandler handles POST /undo.
func (s *Server) undoHandler(c *echo.Context) (int, interface{}, error) {
	var req undoRequest
	if err := bindJSON(c, &req); err != nil {
		return 0, nil, err
	}
	if req.ActionLogID == 0 {
		return 0, nil, echo.NewHTTPError(http.StatusBadRequest, "action_log_id is required")
	}
	result, err := s.orch.Undo(c.Request().Context(), req.ActionLogID, req.Execute, req.MarkOnly)
	if err != nil {
		return 0, nil, mapServiceError(err)
	}
	return http.StatusOK, result, nil
}
