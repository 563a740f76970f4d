package api

import "github.com/novaadapt/novaadapt-core/pkg/models"

// healthResponse is returned by GET /health.
type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// queuedResponse is returned by every endpoint that submits work to the
// job manager and returns immediately (run_async, approve_async,
// retry_failed_async).
type queuedResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// modelsResponse is returned by GET /models.
type modelsResponse struct {
	Endpoints []models.Endpoint `json:"endpoints"`
}

// checkResponse is returned by POST /check.
type checkResponse struct {
	Results []models.EndpointHealth `json:"results"`
}

// listResponse wraps any slice payload with its count, the convention
// every list endpoint (plans/jobs/history/events) follows.
type listResponse struct {
	Count int         `json:"count"`
	Items interface{} `json:"items"`
}
