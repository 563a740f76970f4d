// Package api terminates the HTTP wire protocol: routing, bearer auth,
// rate limiting, idempotency dispatch, SSE streaming, and audit/metrics
// emission, generalized from tarsy's pkg/api/server.go onto novaadaptd's
// run/plan/job/history/event surface.
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"github.com/novaadapt/novaadapt-core/pkg/config"
	"github.com/novaadapt/novaadapt-core/pkg/idempotency"
	"github.com/novaadapt/novaadapt-core/pkg/jobmanager"
	"github.com/novaadapt/novaadapt-core/pkg/metrics"
	"github.com/novaadapt/novaadapt-core/pkg/orchestrator"
)

// Server is the HTTP API front end wired over an Orchestrator.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	cfg     *config.Config
	orch    *orchestrator.Orchestrator
	jobs    *jobmanager.Manager
	idem    *idempotency.Store
	metrics *metrics.Metrics
	tracer  trace.Tracer

	authToken      string
	limiter        *clientLimiter
	trustedProxies []*net.IPNet
}

// NewServer wires an echo.Echo over orch/jobs/idem/metrics and registers
// every route in §6. tracer may be nil, in which case request spans are
// skipped.
func NewServer(cfg *config.Config, orch *orchestrator.Orchestrator, jobs *jobmanager.Manager, idem *idempotency.Store, m *metrics.Metrics, tracer trace.Tracer) *Server {
	e := echo.New()
	e.HideBanner = true

	s := &Server{
		echo:      e,
		cfg:       cfg,
		orch:      orch,
		jobs:      jobs,
		idem:      idem,
		metrics:   m,
		tracer:    tracer,
		authToken: cfg.Auth.Token,
		limiter:   newClientLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
	}
	s.trustedProxies = parseCIDRs(cfg.Server.TrustedProxyCIDRs)

	maxBody := cfg.Server.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1024 * 1024
	}
	e.Use(middleware.BodyLimit(maxBody))
	e.Use(securityHeaders())
	e.Use(s.requestIDMiddleware())
	e.Use(s.tracingMiddleware())
	e.Use(s.accountingMiddleware())
	e.Use(s.requestLoggingMiddleware())

	e.HTTPErrorHandler = s.errorHandler
	s.setupRoutes()
	return s
}

// errorResponse is the body of every non-2xx response, per spec.md §7.
type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id"`
}

// errorHandler renders errors as {error, request_id} instead of echo's
// default {message}, matching spec.md §7's user-visible error contract.
func (s *Server) errorHandler(err error, c *echo.Context) {
	code := http.StatusInternalServerError
	message := "internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if msg, ok := he.Message.(string); ok {
			message = msg
		}
	}
	if c.Response().Committed {
		return
	}
	_ = c.JSON(code, errorResponse{Error: message, RequestID: requestIDFrom(c)})
}

// setupRoutes registers every route named in spec.md §6. Public (no
// auth) GET routes are health, metrics, openapi.json, and the global
// audit SSE stream; everything else requires a bearer token.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/metrics", s.metricsHandler)
	s.echo.GET("/openapi.json", s.openapiHandler)
	s.echo.GET("/events/stream", s.streamHandlerPublic(s.eventsStream))

	auth := s.echo.Group("")
	auth.Use(s.authMiddleware())
	auth.Use(s.rateLimitMiddleware())

	auth.GET("/models", s.wrapGet(s.listModelsHandler))
	auth.POST("/check", s.wrapGet(s.checkModelsHandler))

	auth.POST("/run", s.dispatchMutating(http.MethodPost, "/run", s.runHandler))
	auth.POST("/run_async", s.dispatchMutating(http.MethodPost, "/run_async", s.runAsyncHandler))
	auth.POST("/swarm/run", s.dispatchMutating(http.MethodPost, "/swarm/run", s.swarmRunHandler))
	auth.POST("/undo", s.dispatchMutating(http.MethodPost, "/undo", s.undoHandler))

	auth.POST("/plans", s.dispatchMutating(http.MethodPost, "/plans", s.createPlanHandler))
	auth.GET("/plans", s.wrapGet(s.listPlansHandler))
	auth.GET("/plans/:id", s.wrapGet(s.getPlanHandler))
	auth.POST("/plans/:id/approve", s.dispatchMutatingParam(http.MethodPost, "/plans/:id/approve", s.approvePlanHandler))
	auth.POST("/plans/:id/approve_async", s.dispatchMutatingParam(http.MethodPost, "/plans/:id/approve_async", s.approvePlanAsyncHandler))
	auth.POST("/plans/:id/retry_failed", s.dispatchMutatingParam(http.MethodPost, "/plans/:id/retry_failed", s.retryFailedHandler))
	auth.POST("/plans/:id/retry_failed_async", s.dispatchMutatingParam(http.MethodPost, "/plans/:id/retry_failed_async", s.retryFailedAsyncHandler))
	auth.POST("/plans/:id/reject", s.dispatchMutatingParam(http.MethodPost, "/plans/:id/reject", s.rejectPlanHandler))
	auth.POST("/plans/:id/undo", s.dispatchMutatingParam(http.MethodPost, "/plans/:id/undo", s.undoPlanHandler))
	auth.GET("/plans/:id/stream", s.streamHandler(s.planStream))

	auth.GET("/jobs", s.wrapGet(s.listJobsHandler))
	auth.GET("/jobs/:id", s.wrapGet(s.getJobHandler))
	auth.POST("/jobs/:id/cancel", s.dispatchMutatingParam(http.MethodPost, "/jobs/:id/cancel", s.cancelJobHandler))
	auth.GET("/jobs/:id/stream", s.streamHandler(s.jobStream))

	auth.GET("/history", s.wrapGet(s.historyHandler))
	auth.GET("/events", s.wrapGet(s.listEventsHandler))
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener,
// used by tests to bind a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Echo exposes the underlying echo.Echo, for tests that want to issue
// requests directly against the handler chain without binding a socket.
func (s *Server) Echo() *echo.Echo { return s.echo }

func parseCIDRs(raw []string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(raw))
	for _, c := range raw {
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			continue
		}
		out = append(out, ipnet)
	}
	return out
}

func requestIDHeaderOrNew(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return newRequestID()
}

// newRequestID returns a fresh 24-hex-character request id, per
// spec.md §4.9's "new 24-hex" fallback when no X-Request-ID is supplied.
func newRequestID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "000000000000000000000000"
	}
	return hex.EncodeToString(buf)
}
