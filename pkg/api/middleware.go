package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/parleyhq/parley/pkg/models"
)

const (
	sessionHeader = "X-Session-ID"

	ctxSessionID = "session_id"
	ctxUserID    = "user_id"
)

// requestLogger logs one line per request with latency and status.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("Request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"session_id", c.GetString(ctxSessionID),
		)
	}
}

// authMiddleware resolves the caller identity and session id. A missing
// Authorization header is anonymous; a present but invalid one is rejected.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ctxSessionID, c.GetHeader(sessionHeader))

		header := c.GetHeader("Authorization")
		if header == "" {
			if token := c.Query("token"); token != "" {
				header = token
			}
		}
		userID, err := s.verifier.VerifyHeader(header)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Set(ctxUserID, userID)
		c.Next()
	}
}

// sessionID returns the request's session id, or a validation error when
// the header is missing.
func sessionID(c *gin.Context) (string, error) {
	id := c.GetString(ctxSessionID)
	if id == "" {
		return "", models.NewValidationError(sessionHeader, "header is required")
	}
	return id, nil
}
