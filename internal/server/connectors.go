package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	connectordomain "github.com/smallbiznis/fiscalsync/internal/connector/domain"
)

// ConnectorHealth reports 503 when any enabled connector is down.
func (s *Server) ConnectorHealth(c *gin.Context) {
	health := s.connectors.HealthAll(c.Request.Context())

	status := http.StatusOK
	overall := connectordomain.HealthUp
	for _, h := range health {
		switch h.Status {
		case connectordomain.HealthDown:
			status = http.StatusServiceUnavailable
			overall = connectordomain.HealthDown
		case connectordomain.HealthDegraded:
			if overall == connectordomain.HealthUp {
				overall = connectordomain.HealthDegraded
			}
		}
	}

	c.JSON(status, gin.H{"status": overall, "data": health})
}
