package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/parleyhq/parley/pkg/models"
)

// batchTimeout bounds the background transcription job, covering upload,
// provider processing, and polling.
const batchTimeout = 10 * time.Minute

type synthesizeRequest struct {
	Text    string  `json:"text"`
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed"`
}

// SubmitBatchTranscription accepts an audio file, creates a speech task,
// and transcribes in the background. Clients poll the status endpoint.
func (s *Server) SubmitBatchTranscription(c *gin.Context) {
	file, _, err := c.Request.FormFile("audio")
	if err != nil {
		writeError(c, models.NewValidationError("audio", "multipart audio field is required"))
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		writeError(c, err)
		return
	}
	if len(audio) == 0 {
		writeError(c, models.NewValidationError("audio", "uploaded audio is empty"))
		return
	}
	if int64(len(audio)) > s.cfg.MaxUploadBytes {
		writeError(c, models.NewValidationError("audio", "exceeds the upload size limit"))
		return
	}

	task, err := s.tasks.Create(c.Request.Context(), c.GetString(ctxSessionID), models.TaskBatchTranscription)
	if err != nil {
		writeError(c, err)
		return
	}

	language := c.Query("language")
	go s.runBatchTranscription(task.ID, audio, language)

	c.JSON(http.StatusAccepted, models.SpeechTaskCreatedResponse{
		TaskID:  task.ID,
		Status:  string(models.TaskProcessing),
		Message: "transcription started",
	})
}

func (s *Server) runBatchTranscription(taskID string, audio []byte, language string) {
	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	outcome, err := s.transcriber.Transcribe(ctx, audio, language)
	if err != nil {
		s.logger.Error("Batch transcription failed", "task_id", taskID, "error", err)
		if ferr := s.tasks.Fail(ctx, taskID, err.Error()); ferr != nil {
			s.logger.Error("Failed to mark transcription task failed", "task_id", taskID, "error", ferr)
		}
		return
	}
	result := models.TranscriptionResult{
		Text:       outcome.Text,
		Confidence: outcome.Confidence,
		Language:   outcome.Language,
		Duration:   outcome.Duration,
	}
	if err := s.tasks.Complete(ctx, taskID, result); err != nil {
		s.logger.Error("Failed to record transcription result", "task_id", taskID, "error", err)
	}
}

// GetTranscriptionStatus returns the task record, including the result
// blob once completed.
func (s *Server) GetTranscriptionStatus(c *gin.Context) {
	id := c.Param("task_id")
	task, err := s.tasks.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// SynthesizeText converts text to speech and returns the audio inline.
func (s *Server) SynthesizeText(c *gin.Context) {
	var req synthesizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, models.NewValidationError("body", "must be a JSON object with a text field"))
		return
	}
	if req.Text == "" {
		writeError(c, models.NewValidationError("text", "is required"))
		return
	}

	audio, contentType, err := s.synthesizer.Synthesize(c.Request.Context(), req.Text, req.VoiceID, req.Speed)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, contentType, audio)
}

// UsageStats reports live provider slot usage.
func (s *Server) UsageStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": s.fabric.UsageStats()})
}
