package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// listModelsHandler handles GET /models.
func (s *Server) listModelsHandler(c *echo.Context) (int, interface{}, error) {
	return http.StatusOK, modelsResponse{Endpoints: s.orch.ListModels()}, nil
}

// checkModelsHandler handles POST /check.
func (s *Server) checkModelsHandler(c *echo.Context) (int, interface{}, error) {
	var req checkRequest
	if err := bindJSON(c, &req); err != nil {
		return 0, nil, err
	}
	results := s.orch.CheckModels(c.Request().Context(), req.Endpoints)
	return http.StatusOK, checkResponse{Results: results}, nil
}
