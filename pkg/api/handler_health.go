package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
)

// healthHandler handles GET /health and GET /health?deep=1[&execution=1],
// per spec.md §6. Shallow health never touches a collaborator; deep
// health runs the optional companion probe and, with execution=1, a
// router health check across all configured endpoints.
func (s *Server) healthHandler(c *echo.Context) error {
	if c.QueryParam("deep") != "1" {
		return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{
		"jobs":        "ok",
		"idempotency": "ok",
	}
	status := "ok"

	if s.jobs == nil {
		checks["jobs"] = "not_configured"
	}
	if s.idem == nil {
		checks["idempotency"] = "not_configured"
	}

	if s.orch.CompanionProbe != nil {
		ready, err := s.orch.CompanionProbe(ctx)
		switch {
		case err != nil:
			checks["companion"] = "error: " + err.Error()
			status = "degraded"
		case !ready:
			checks["companion"] = "not_ready"
			status = "degraded"
		default:
			checks["companion"] = "ok"
		}
	}

	if c.QueryParam("execution") == "1" {
		results := s.orch.CheckModels(ctx, nil)
		healthy := 0
		for _, r := range results {
			if r.Healthy {
				healthy++
			}
		}
		if healthy == 0 && len(results) > 0 {
			checks["router"] = "unhealthy"
			status = "degraded"
		} else {
			checks["router"] = "ok"
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, healthResponse{Status: status, Checks: checks})
}

// metricsHandler handles GET /metrics, delegating to the Prometheus text
// exposition handler of the private registry.
func (s *Server) metricsHandler(c *echo.Context) error {
	s.metrics.Handler().ServeHTTP(c.Response(), c.Request())
	return nil
}

// openapiHandler handles GET /openapi.json with a minimal document
// describing the route surface this build exposes.
func (s *Server) openapiHandler(c *echo.Context) error {
	doc := map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   "novaadaptd",
			"version": "1",
		},
		"paths": openapiPaths,
	}
	return c.JSON(http.StatusOK, doc)
}

var openapiPaths = map[string]interface{}{
	"/health":                  map[string]string{"get": "shallow or deep health"},
	"/models":                 map[string]string{"get": "list configured model endpoints"},
	"/check":                  map[string]string{"post": "probe model endpoint health"},
	"/run":                    map[string]string{"post": "run an objective synchronously"},
	"/run_async":              map[string]string{"post": "queue an objective run"},
	"/swarm/run":              map[string]string{"post": "fan objectives out across the job manager"},
	"/undo":                   map[string]string{"post": "undo one action log entry"},
	"/plans":                  map[string]string{"get": "list plans", "post": "create a plan"},
	"/plans/{id}":             map[string]string{"get": "fetch one plan"},
	"/plans/{id}/approve":     map[string]string{"post": "approve (and optionally execute) a plan"},
	"/plans/{id}/reject":      map[string]string{"post": "reject a plan"},
	"/plans/{id}/undo":        map[string]string{"post": "undo a plan's executed actions"},
	"/plans/{id}/stream":      map[string]string{"get": "SSE plan progress stream"},
	"/jobs":                   map[string]string{"get": "list jobs"},
	"/jobs/{id}":              map[string]string{"get": "fetch one job"},
	"/jobs/{id}/cancel":       map[string]string{"post": "cancel a running job"},
	"/jobs/{id}/stream":       map[string]string{"get": "SSE job status stream"},
	"/history":                map[string]string{"get": "recent action log entries"},
	"/events":                 map[string]string{"get": "recent audit events"},
	"/events/stream":          map[string]string{"get": "SSE global audit stream"},
}
