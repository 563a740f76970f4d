package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/novaadapt/novaadapt-core/pkg/audit"
)

func eventListFilter(c *echo.Context) audit.ListFilter {
	return audit.ListFilter{
		Limit:      intQueryParam(c, "limit", 50),
		Category:   c.QueryParam("category"),
		EntityType: c.QueryParam("entity_type"),
		EntityID:   c.QueryParam("entity_id"),
		SinceID:    int64(intQueryParam(c, "since_id", 0)),
	}
}

// listEventsHandler handles GET /events.
func (s *Server) listEventsHandler(c *echo.Context) (int, interface{}, error) {
	events, err := s.orch.Events(c.Request().Context(), eventListFilter(c))
	if err != nil {
		return 0, nil, mapServiceError(err)
	}
	return http.StatusOK, listResponse{Count: len(events), Items: events}, nil
}

// eventsStream builds the SSE poll for GET /events/stream, the one
// public stream per spec.md §4.9. It is never terminal on its own;
// each tick advances past the highest event ID already emitted so a
// long-lived connection only ever sees new events.
func (s *Server) eventsStream(c *echo.Context) ssePoll {
	ctx := c.Request().Context()
	filter := eventListFilter(c)
	return func() (string, interface{}, bool, error) {
		events, err := s.orch.Events(ctx, filter)
		if err != nil {
			return "", nil, false, err
		}
		if len(events) == 0 {
			return "", nil, false, nil
		}
		for _, e := range events {
			if e.ID > filter.SinceID {
				filter.SinceID = e.ID
			}
		}
		return "events", events, false, nil
	}
}
