package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// apiHandler is a business-logic handler that reports its own response
// status and payload, so the idempotency dispatcher can record exactly
// what was returned without echo having already written to the wire.
type apiHandler func(c *echo.Context) (status int, payload interface{}, err error)

// wrapGet adapts an apiHandler to echo.HandlerFunc for routes that never
// participate in idempotency (GETs and the read-only /check probe).
func (s *Server) wrapGet(h apiHandler) echo.HandlerFunc {
	return func(c *echo.Context) error {
		status, payload, err := h(c)
		if err != nil {
			return err
		}
		return c.JSON(status, payload)
	}
}

// dispatchMutating wraps a mutating handler with idempotency-key
// deduplication per spec.md §4.7: absent a key, the handler just runs;
// otherwise Begin/Complete/Clear bracket it so replays and conflicts are
// resolved before the handler body executes a second time.
func (s *Server) dispatchMutating(method, path string, h apiHandler) echo.HandlerFunc {
	return func(c *echo.Context) error {
		return s.runIdempotent(c, method, path, h)
	}
}

// dispatchMutatingParam is dispatchMutating for routes whose path
// contains an :id segment; the idempotency record keys on the literal
// request path (including the resolved id), matching "method and path"
// in spec.md §4.7.
func (s *Server) dispatchMutatingParam(method, routeTemplate string, h apiHandler) echo.HandlerFunc {
	return func(c *echo.Context) error {
		return s.runIdempotent(c, method, c.Request().URL.Path, h)
	}
}

// bindJSON decodes the request body into dst, treating an empty body as
// a zero-valued dst (several routes, e.g. approve, accept no body).
func bindJSON(c *echo.Context, dst interface{}) error {
	if c.Request().ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(c.Request().Body).Decode(dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body: "+err.Error())
	}
	return nil
}

func (s *Server) runIdempotent(c *echo.Context, method, path string, h apiHandler) error {
	key := c.Request().Header.Get("Idempotency-Key")
	if key == "" || s.idem == nil {
		status, payload, err := h(c)
		if err != nil {
			return err
		}
		return c.JSON(status, payload)
	}

	ctx := c.Request().Context()
	body, readErr := io.ReadAll(c.Request().Body)
	if readErr != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	c.Request().Body = io.NopCloser(bytes.NewReader(body))

	var payloadForHash interface{}
	if len(body) > 0 {
		_ = json.Unmarshal(body, &payloadForHash)
	}

	lookupStatus, outcome, err := s.idem.Begin(ctx, key, method, path, payloadForHash)
	if err != nil {
		slog.Error("idempotency begin failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	switch lookupStatus {
	case "replay":
		c.Response().Header().Set("X-Idempotency-Replayed", "true")
		c.Response().Header().Set("Idempotency-Key", key)
		return c.JSON(outcome.StatusCode, outcome.Payload)
	case "conflict", "in_progress":
		return echo.NewHTTPError(http.StatusConflict, outcome.Error)
	}

	status, respPayload, hErr := h(c)
	if hErr != nil {
		if clearErr := s.idem.Clear(ctx, key, method, path); clearErr != nil {
			slog.Error("idempotency clear failed", "error", clearErr)
		}
		return hErr
	}
	if completeErr := s.idem.Complete(ctx, key, method, path, status, respPayload); completeErr != nil {
		slog.Error("idempotency complete failed", "error", completeErr)
	}
	c.Response().Header().Set("Idempotency-Key", key)
	return c.JSON(status, respPayload)
}
