package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/novaadapt/novaadapt-core/pkg/jobmanager"
	"github.com/novaadapt/novaadapt-core/pkg/orchestrator"
	"github.com/novaadapt/novaadapt-core/pkg/planstore"
)

// mapServiceError maps a service-layer error to an HTTP error response,
// the way tarsy's pkg/api/errors.go maps services.ErrNotFound/
// ErrNotCancellable/ErrAlreadyExists, generalized onto this module's
// planstore/jobmanager/orchestrator sentinels.
func mapServiceError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, planstore.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "plan not found")
	case errors.Is(err, planstore.ErrAlreadyExecuting):
		return echo.NewHTTPError(http.StatusConflict, "plan is already executing")
	case errors.Is(err, planstore.ErrAlreadyTerminal):
		return echo.NewHTTPError(http.StatusConflict, "plan is already in a terminal state")
	case errors.Is(err, planstore.ErrNotApprovable):
		return echo.NewHTTPError(http.StatusConflict, "plan is not in a state that can be approved")
	case errors.Is(err, orchestrator.ErrPlanNotFailed):
		return echo.NewHTTPError(http.StatusConflict, "plan is not in a failed state")
	case errors.Is(err, orchestrator.ErrActionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "action log entry not found")
	case errors.Is(err, orchestrator.ErrAlreadyUndone):
		return echo.NewHTTPError(http.StatusConflict, "action already undone")
	case errors.Is(err, orchestrator.ErrNoUndoAction):
		return echo.NewHTTPError(http.StatusBadRequest, "no undo action recorded for this entry")
	case errors.Is(err, jobmanager.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	case errors.Is(err, jobmanager.ErrQueueFull):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "job queue is full")
	}

	slog.Error("unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
