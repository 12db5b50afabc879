package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parleyhq/parley/pkg/auth"
	"github.com/parleyhq/parley/pkg/llm"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/ratelimit"
	"github.com/parleyhq/parley/pkg/session"
	"github.com/parleyhq/parley/pkg/store"
)

// errorBody is the uniform error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps domain errors to the uniform envelope and HTTP status.
func writeError(c *gin.Context, err error) {
	status, code := classifyError(err)
	if status == http.StatusInternalServerError && code == "internal-error" {
		slog.Error("Unexpected handler error", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, errorBody{Error: errorDetail{Code: code, Message: err.Error()}})
}

func classifyError(err error) (int, string) {
	var validErr *models.ValidationError
	switch {
	case errors.As(err, &validErr):
		return http.StatusBadRequest, "validation-error"
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, "session-not-found"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not-found"
	case errors.Is(err, session.ErrSessionStateInvalid):
		return http.StatusConflict, "session-state-invalid"
	case errors.Is(err, session.ErrSessionTimeout):
		return http.StatusGone, "session-timeout"
	case errors.Is(err, ratelimit.ErrCapacityExhausted):
		return http.StatusTooManyRequests, "capacity-exhausted"
	case errors.Is(err, llm.ErrAgentUnavailable):
		return http.StatusBadGateway, "agent-unavailable"
	case errors.Is(err, session.ErrPersistenceDegraded):
		return http.StatusInternalServerError, "persistence-degraded"
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	default:
		return http.StatusInternalServerError, "internal-error"
	}
}
