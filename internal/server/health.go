package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	dapr "github.com/kfir-abbou/Dapr"
	"github.com/kfir-abbou/Dapr/pkg/api"
	"github.com/kfir-abbou/Dapr/pkg/log"
)

const (
	healthHealthy   = "Healthy"
	healthUnhealthy = "Unhealthy"
)

func (s *Server) handleHealth(c *gin.Context) {
	status, code := healthHealthy, http.StatusOK
	if err := s.store.Ping(c.Request.Context()); err != nil {
		slog.Warn("State store unreachable",
			log.Error(err))
		status, code = healthUnhealthy, http.StatusServiceUnavailable
	}

	c.JSON(code, api.HealthResponse{
		Service: dapr.Name,
		Version: dapr.Version,
		Status:  status,
	})
}
