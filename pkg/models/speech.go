package models

import (
	"encoding/json"
	"time"
)

// SpeechTaskType distinguishes the speech pipelines.
type SpeechTaskType string

const (
	TaskBatchTranscription     SpeechTaskType = "batch_transcription"
	TaskStreamingTranscription SpeechTaskType = "streaming_transcription"
	TaskSynthesis              SpeechTaskType = "synthesis"
)

// SpeechTaskStatus is the task lifecycle state.
type SpeechTaskStatus string

const (
	TaskProcessing SpeechTaskStatus = "processing"
	TaskCompleted  SpeechTaskStatus = "completed"
	TaskError      SpeechTaskStatus = "error"
)

// SpeechTask tracks one batch transcription, streaming session, or
// synthesis job. SessionID is empty for anonymous tasks.
type SpeechTask struct {
	ID           string           `json:"task_id"`
	SessionID    string           `json:"session_id,omitempty"`
	Type         SpeechTaskType   `json:"task_type"`
	Status       SpeechTaskStatus `json:"status"`
	Progress     json.RawMessage  `json:"progress,omitempty"`
	Result       json.RawMessage  `json:"result,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// TranscriptionResult is the result blob of a completed batch transcription.
type TranscriptionResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language,omitempty"`
	Duration   float64 `json:"duration,omitempty"`
}
