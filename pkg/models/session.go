// Package models contains request/response models and business domain types.
package models

import (
	"time"
)

// SessionStatus represents the lifecycle state of an interview session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusAbandoned SessionStatus = "abandoned"
)

// InterviewStyle controls the interviewer persona.
type InterviewStyle string

const (
	StyleFormal     InterviewStyle = "formal"
	StyleCasual     InterviewStyle = "casual"
	StyleAggressive InterviewStyle = "aggressive"
	StyleTechnical  InterviewStyle = "technical"
)

// Difficulty controls question depth and follow-up pressure.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// SessionConfig is the configuration a session is created with. It is
// immutable after the interview starts; reset retains it.
type SessionConfig struct {
	JobRole             string         `json:"job_role"`
	JobDescription      string         `json:"job_description,omitempty"`
	ResumeContent       string         `json:"resume_content,omitempty"`
	Style               InterviewStyle `json:"style"`
	Difficulty          Difficulty     `json:"difficulty"`
	CompanyName         string         `json:"company_name,omitempty"`
	DurationMinutes     int            `json:"interview_duration_minutes"`
	UseTimeBased        bool           `json:"use_time_based_interview"`
	TargetQuestionCount int            `json:"target_question_count"`
}

// DefaultSessionConfig returns the built-in session defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		JobRole:             "General Role",
		Style:               StyleFormal,
		Difficulty:          DifficultyMedium,
		DurationMinutes:     10,
		UseTimeBased:        true,
		TargetQuestionCount: 15,
	}
}

// ApplyDefaults fills zero-valued optional fields with the built-in defaults.
func (c *SessionConfig) ApplyDefaults() {
	d := DefaultSessionConfig()
	if c.Style == "" {
		c.Style = d.Style
	}
	if c.Difficulty == "" {
		c.Difficulty = d.Difficulty
	}
	if c.DurationMinutes == 0 {
		c.DurationMinutes = d.DurationMinutes
	}
	if c.TargetQuestionCount == 0 {
		c.TargetQuestionCount = d.TargetQuestionCount
	}
}

// Validate checks field-level constraints.
func (c *SessionConfig) Validate() error {
	if c.JobRole == "" {
		return NewValidationError("job_role", "is required")
	}
	switch c.Style {
	case StyleFormal, StyleCasual, StyleAggressive, StyleTechnical:
	default:
		return NewValidationError("style", "must be one of formal, casual, aggressive, technical")
	}
	switch c.Difficulty {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
	default:
		return NewValidationError("difficulty", "must be one of easy, medium, hard")
	}
	if c.DurationMinutes < 5 || c.DurationMinutes > 30 {
		return NewValidationError("interview_duration_minutes", "must be between 5 and 30")
	}
	if !c.UseTimeBased && c.TargetQuestionCount < 1 {
		return NewValidationError("target_question_count", "must be positive for question-count interviews")
	}
	return nil
}

// Duration returns the configured interview length.
func (c *SessionConfig) Duration() time.Duration {
	return time.Duration(c.DurationMinutes) * time.Minute
}

// Session is the persisted configuration+status record.
type Session struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id,omitempty"` // empty for anonymous sessions
	Status    SessionStatus `json:"status"`
	Config    SessionConfig `json:"config"`
	Stats     SessionStats  `json:"stats"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
