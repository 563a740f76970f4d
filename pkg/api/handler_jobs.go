package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/novaadapt/novaadapt-core/pkg/models"
)

// listJobsHandler handles GET /jobs.
func (s *Server) listJobsHandler(c *echo.Context) (int, interface{}, error) {
	limit := intQueryParam(c, "limit", 0)
	jobs, err := s.jobs.List(c.Request().Context(), limit)
	if err != nil {
		return 0, nil, mapServiceError(err)
	}
	return http.StatusOK, listResponse{Count: len(jobs), Items: jobs}, nil
}

// getJobHandler handles GET /jobs/:id.
func (s *Server) getJobHandler(c *echo.Context) (int, interface{}, error) {
	job, err := s.jobs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return 0, nil, mapServiceError(err)
	}
	return http.StatusOK, job, nil
}

// cancelJobHandler handles POST /jobs/:id/cancel, requesting cooperative
// cancellation of a queued or running job per spec.md §5.
func (s *Server) cancelJobHandler(c *echo.Context) (int, interface{}, error) {
	id := c.Param("id")
	if err := s.jobs.Cancel(id); err != nil {
		return 0, nil, mapServiceError(err)
	}
	job, err := s.jobs.Get(c.Request().Context(), id)
	if err != nil {
		return 0, nil, mapServiceError(err)
	}
	return http.StatusOK, job, nil
}

// jobStream builds the SSE poll for GET /jobs/:id/stream, terminal once
// the job reaches a finished status.
func (s *Server) jobStream(c *echo.Context) ssePoll {
	id := c.Param("id")
	ctx := c.Request().Context()
	return func() (string, interface{}, bool, error) {
		job, err := s.jobs.Get(ctx, id)
		if err != nil {
			return "", nil, false, err
		}
		terminal := job.Status == models.JobSucceeded || job.Status == models.JobFailed || job.Status == models.JobCanceled
		return "job", job, terminal, nil
	}
}
