package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// historyHandler handles GET /history, returning recent action log
// entries across every plan, newest first.
func (s *Server) historyHandler(c *echo.Context) (int, interface{}, error) {
	limit := intQueryParam(c, "limit", 50)
	entries, err := s.orch.History(c.Request().Context(), limit)
	if err != nil {
		return 0, nil, mapServiceError(err)
	}
	return http.StatusOK, listResponse{Count: len(entries), Items: entries}, nil
}
