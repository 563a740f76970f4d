package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"
	"go.opentelemetry.io/otel/attribute"
)

const requestIDContextKey = "novaadapt_request_id"

// securityHeaders sets standard security response headers, matching
// tarsy's pkg/api/middleware.go securityHeaders().
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

// requestIDMiddleware assigns a request id from the X-Request-ID header
// or mints a new 24-hex one, per spec.md §4.9, and always echoes it back.
func (s *Server) requestIDMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			id := requestIDHeaderOrNew(c.Request())
			c.Set(requestIDContextKey, id)
			c.Response().Header().Set("X-Request-ID", id)
			return next(c)
		}
	}
}

func requestIDFrom(c *echo.Context) string {
	if v, ok := c.Get(requestIDContextKey).(string); ok {
		return v
	}
	return ""
}

// tracingMiddleware starts one span per request, matching tarsy's
// "Start a tracing span" pipeline step, when a tracer is configured.
func (s *Server) tracingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if s.tracer == nil {
				return next(c)
			}
			ctx, span := s.tracer.Start(c.Request().Context(), c.Request().Method+" "+c.Path())
			defer span.End()
			span.SetAttributes(attribute.String("http.target", c.Request().URL.Path))
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// accountingMiddleware records every request's final status through
// metrics.RecordOutcome: requests_total always, plus one outcome counter
// for an error status.
func (s *Server) accountingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			err := next(c)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			if s.metrics != nil {
				s.metrics.RecordOutcome(status)
			}
			return err
		}
	}
}

var sensitiveQueryParams = map[string]struct{}{
	"token": {}, "access_token": {}, "api_token": {}, "api_key": {},
	"apikey": {}, "authorization": {}, "auth": {}, "session_token": {},
}

// redactQuery replaces sensitive query parameter values with "redacted"
// before a URL is logged, per spec.md §4.9.
func redactQuery(raw *url.URL) string {
	q := raw.Query()
	changed := false
	for key := range q {
		if _, sensitive := sensitiveQueryParams[strings.ToLower(key)]; sensitive {
			q.Set(key, "redacted")
			changed = true
		}
	}
	if !changed {
		return raw.String()
	}
	clone := *raw
	clone.RawQuery = q.Encode()
	return clone.String()
}

// requestLoggingMiddleware logs one line per request with the redacted
// URL, status, latency, and request id.
func (s *Server) requestLoggingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			start := time.Now()
			err := next(c)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			slog.Info("http request",
				"method", c.Request().Method,
				"path", redactQuery(c.Request().URL),
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", requestIDFrom(c),
				"author", extractAuthor(c),
			)
			return err
		}
	}
}

// authMiddleware enforces "Authorization: Bearer <token>" on every
// route it guards. A request is rejected when no token is configured at
// all, since an empty configured token would otherwise accept any
// request.
func (s *Server) authMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if s.authToken == "" || bearerToken(c) != s.authToken {
				c.Response().Header().Set("WWW-Authenticate", "Bearer")
				return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid bearer token")
			}
			return next(c)
		}
	}
}

// rateLimitMiddleware enforces the sliding-window-equivalent token
// bucket per client key, per spec.md §4.9. health/metrics bypass this
// middleware entirely by not being registered under the guarded group.
func (s *Server) rateLimitMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			key := s.clientKey(c.Request())
			if !s.limiter.Allow(key) {
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
