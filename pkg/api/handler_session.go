package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/session"
)

// CreateSession allocates a new interview session from the posted config.
func (s *Server) CreateSession(c *gin.Context) {
	var req models.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, models.NewValidationError("body", "must be a valid JSON session config"))
		return
	}

	id, err := s.registry.Create(c.Request.Context(), req.SessionConfig, c.GetString(ctxUserID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.CreateSessionResponse{SessionID: id})
}

// StartInterview produces the opening interviewer turn.
func (s *Server) StartInterview(c *gin.Context) {
	h, err := s.acquireSession(c)
	if err != nil {
		writeError(c, err)
		return
	}
	defer h.Release()

	turn, err := h.Start(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.TurnResponse{SessionID: h.ID(), Turn: turn})
}

// SendMessage processes one user answer and returns the next interviewer
// turn.
func (s *Server) SendMessage(c *gin.Context) {
	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, models.NewValidationError("message", "must be a JSON object with a message field"))
		return
	}

	h, err := s.acquireSession(c)
	if err != nil {
		writeError(c, err)
		return
	}
	defer h.Release()

	res, err := h.SendUserMessage(c.Request.Context(), req.Message)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.TurnResponse{SessionID: h.ID(), Turn: res.Turn})
}

// EndInterview completes the session and returns interim results.
func (s *Server) EndInterview(c *gin.Context) {
	h, err := s.acquireSession(c)
	if err != nil {
		writeError(c, err)
		return
	}
	defer h.Release()

	res, err := h.End()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.EndInterviewResponse{
		SessionID: h.ID(),
		Status:    res.Status,
		Feedback:  res.Feedback,
		Stats:     res.Stats,
	})
}

// ResetInterview clears the conversation back to the configured state.
func (s *Server) ResetInterview(c *gin.Context) {
	h, err := s.acquireSession(c)
	if err != nil {
		writeError(c, err)
		return
	}
	defer h.Release()

	if err := h.Reset(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": h.ID(), "status": "reset"})
}

// PingSession extends the idle budget.
func (s *Server) PingSession(c *gin.Context) {
	h, err := s.acquireSession(c)
	if err != nil {
		writeError(c, err)
		return
	}
	defer h.Release()

	remaining, err := h.Ping()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.PingResponse{SessionID: h.ID(), ExpiryMinutes: remaining.Minutes()})
}

// CleanupSession flushes and evicts the session, marking it abandoned if
// still active. Idempotent; used on client unload.
func (s *Server) CleanupSession(c *gin.Context) {
	id, err := sessionID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.registry.Cleanup(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "status": "cleaned"})
}

// GetHistory returns a consistent snapshot of the conversation.
func (s *Server) GetHistory(c *gin.Context) {
	h, err := s.acquireSession(c)
	if err != nil {
		writeError(c, err)
		return
	}
	defer h.Release()
	c.JSON(http.StatusOK, models.HistoryResponse{SessionID: h.ID(), History: h.History()})
}

// GetStats returns the session counters.
func (s *Server) GetStats(c *gin.Context) {
	h, err := s.acquireSession(c)
	if err != nil {
		writeError(c, err)
		return
	}
	defer h.Release()
	c.JSON(http.StatusOK, models.StatsResponse{SessionID: h.ID(), Stats: h.Stats()})
}

// GetPerTurnFeedback returns coach feedback collected so far.
func (s *Server) GetPerTurnFeedback(c *gin.Context) {
	h, err := s.acquireSession(c)
	if err != nil {
		writeError(c, err)
		return
	}
	defer h.Release()
	c.JSON(http.StatusOK, models.FeedbackResponse{SessionID: h.ID(), Feedback: h.Feedback()})
}

// GetFinalSummaryStatus reports the terminal summary with a poll backoff
// hint derived from the client's attempt counter.
func (s *Server) GetFinalSummaryStatus(c *gin.Context) {
	h, err := s.acquireSession(c)
	if err != nil {
		writeError(c, err)
		return
	}
	record := h.SummaryStatus()
	h.Release()

	resp := models.SummaryStatusResponse{
		SessionID: record.SessionID,
		Status:    record.Status,
		Summary:   record.Summary,
		Error:     record.ErrorMessage,
	}
	if record.Status == models.SummaryGenerating || record.Status == models.SummaryNotStarted {
		resp.PollAfterSeconds = pollBackoff(c.Query("attempt"))
	}
	c.JSON(http.StatusOK, resp)
}

// GetTimeRemaining reports idle-expiry progress and the warning flag.
func (s *Server) GetTimeRemaining(c *gin.Context) {
	h, err := s.acquireSession(c)
	if err != nil {
		writeError(c, err)
		return
	}
	defer h.Release()

	remaining, warning, active := h.TimeRemaining()
	c.JSON(http.StatusOK, models.TimeRemainingResponse{
		SessionID:        h.ID(),
		RemainingSeconds: remaining.Seconds(),
		Warning:          warning,
		Active:           active,
	})
}

// UploadResume extracts text from an uploaded resume file.
func (s *Server) UploadResume(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		writeError(c, models.NewValidationError("file", "multipart file field is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		writeError(c, err)
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		writeError(c, models.NewValidationError("file", "exceeds the upload size limit"))
		return
	}

	text, err := s.resumes.Extract(data, header.Header.Get("Content-Type"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.UploadResumeResponse{Filename: header.Filename, ExtractedText: text})
}

// acquireSession resolves the request's session with its lock held.
func (s *Server) acquireSession(c *gin.Context) (*session.Handle, error) {
	id, err := sessionID(c)
	if err != nil {
		return nil, err
	}
	return s.registry.Acquire(c.Request.Context(), id)
}

// pollBackoff maps a poll attempt counter to the next wait hint in
// seconds: 1, 2, 4, 8, then capped at 10.
func pollBackoff(attempt string) int {
	n := 0
	for _, r := range attempt {
		if r < '0' || r > '9' {
			n = 0
			break
		}
		n = n*10 + int(r-'0')
		if n > 8 {
			n = 8
			break
		}
	}
	hint := 1 << n
	if hint > 10 {
		hint = 10
	}
	return hint
}
