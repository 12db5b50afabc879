package models

// CreateSessionRequest contains fields for creating a new interview session.
// Unset optional fields fall back to DefaultSessionConfig values.
type CreateSessionRequest struct {
	SessionConfig
}

// CreateSessionResponse returns the allocated session id.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

// SendMessageRequest carries one user answer.
type SendMessageRequest struct {
	Message string `json:"message"`
}

// TurnResponse wraps a committed assistant turn.
type TurnResponse struct {
	SessionID string `json:"session_id"`
	Turn      Turn   `json:"turn"`
}

// EndInterviewResponse returns interim results at completion time. Feedback
// may still be incomplete if grading is in flight; clients poll
// per-turn-feedback for stragglers.
type EndInterviewResponse struct {
	SessionID string          `json:"session_id"`
	Status    SessionStatus   `json:"status"`
	Closing   *Turn           `json:"closing,omitempty"`
	Feedback  []FeedbackEntry `json:"per_turn_feedback"`
	Stats     SessionStats    `json:"stats"`
}

// HistoryResponse is a consistent snapshot of the conversation.
type HistoryResponse struct {
	SessionID string `json:"session_id"`
	History   []Turn `json:"history"`
}

// FeedbackResponse is a consistent snapshot of the per-turn feedback log.
type FeedbackResponse struct {
	SessionID string          `json:"session_id"`
	Feedback  []FeedbackEntry `json:"per_turn_feedback"`
}

// StatsResponse is a consistent snapshot of session counters.
type StatsResponse struct {
	SessionID string       `json:"session_id"`
	Stats     SessionStats `json:"stats"`
}

// SummaryStatusResponse reports final-summary progress. PollAfterSeconds is
// a backoff hint for the next status poll.
type SummaryStatusResponse struct {
	SessionID        string        `json:"session_id"`
	Status           SummaryStatus `json:"status"`
	Summary          *FinalSummary `json:"summary,omitempty"`
	Error            string        `json:"error,omitempty"`
	PollAfterSeconds int           `json:"poll_after_seconds,omitempty"`
}

// TimeRemainingResponse reports idle-expiry progress for a session.
type TimeRemainingResponse struct {
	SessionID        string  `json:"session_id"`
	RemainingSeconds float64 `json:"remaining_seconds"`
	Warning          bool    `json:"warning"`
	Active           bool    `json:"active"`
}

// PingResponse returns the new expiry after an activity extension.
type PingResponse struct {
	SessionID     string  `json:"session_id"`
	ExpiryMinutes float64 `json:"new_expiry_minutes"`
}

// UploadResumeResponse returns extracted resume text.
type UploadResumeResponse struct {
	Filename      string `json:"filename"`
	ExtractedText string `json:"extracted_text"`
}

// SpeechTaskCreatedResponse acknowledges an accepted background speech task.
type SpeechTaskCreatedResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
