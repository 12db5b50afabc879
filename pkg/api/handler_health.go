package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health reports liveness, live session count, and store connectivity
// when a pinger is configured.
func (s *Server) Health(c *gin.Context) {
	body := gin.H{
		"status":        "ok",
		"live_sessions": s.registry.Count(),
	}
	if s.pinger != nil {
		if err := s.pinger.Ping(c.Request.Context()); err != nil {
			body["status"] = "degraded"
			body["store"] = "unreachable"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["store"] = "ok"
	}
	c.JSON(http.StatusOK, body)
}
