package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"
)

// writeSSE writes one "event: <kind>\ndata: <compact JSON>\n\n" frame,
// the wire shape spec.md §4.9 requires, grounded on the gomind SSE
// transport's sendEvent.
func writeSSE(w *echo.Response, event string, data interface{}) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, encoded)
	return err
}

const (
	minSSEInterval = 50 * time.Millisecond
	maxSSEInterval = 5 * time.Second
	minSSETimeout  = 1 * time.Second
	maxSSETimeout  = 300 * time.Second
)

// ssePoll is invoked on every tick of a stream; it returns the event
// name/data to emit (event == "" skips emission this tick) and whether
// the stream has reached a terminal condition.
type ssePoll func() (event string, data interface{}, terminal bool, err error)

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

func durationFromSecondsParam(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs <= 0 {
		return fallback
	}
	return time.Duration(secs * float64(time.Second))
}

// streamHandler adapts a per-request ssePoll factory to an authenticated
// echo.HandlerFunc, to be registered inside the auth-guarded route group.
func (s *Server) streamHandler(build func(c *echo.Context) ssePoll) echo.HandlerFunc {
	return func(c *echo.Context) error {
		return s.runSSE(c, build(c))
	}
}

// streamHandlerPublic is streamHandler for the one stream spec.md §4.9
// exposes without auth (the global audit stream).
func (s *Server) streamHandlerPublic(build func(c *echo.Context) ssePoll) echo.HandlerFunc {
	return func(c *echo.Context) error {
		return s.runSSE(c, build(c))
	}
}

func (s *Server) runSSE(c *echo.Context, poll ssePoll) error {
	interval := clampDuration(durationFromSecondsParam(c.QueryParam("interval"), time.Second), minSSEInterval, maxSSEInterval)
	timeout := clampDuration(durationFromSecondsParam(c.QueryParam("timeout"), 60*time.Second), minSSETimeout, maxSSETimeout)

	w := c.Response()
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	emit := func(event string, data interface{}) bool {
		return writeSSEFrame(w, event, data) == nil
	}

	if event, data, terminal, err := poll(); err == nil {
		if event != "" && !emit(event, data) {
			return nil
		}
		if terminal {
			emit("end", map[string]string{"reason": "terminal"})
			return nil
		}
	}

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			emit("timeout", map[string]string{"reason": "timeout"})
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(remaining):
			emit("timeout", map[string]string{"reason": "timeout"})
			return nil
		case <-ticker.C:
			event, data, terminal, err := poll()
			if err != nil {
				if !emit("error", map[string]string{"error": err.Error()}) {
					return nil
				}
				continue
			}
			if event != "" && !emit(event, data) {
				return nil
			}
			if terminal {
				emit("end", map[string]string{"reason": "terminal"})
				return nil
			}
		}
	}
}

func writeSSEFrame(w *echo.Response, event string, data interface{}) error {
	if err := writeSSE(w, event, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}
