package models

import (
	"encoding/json"
	"time"
)

// TurnRole identifies the speaker of a conversation turn.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
	RoleSystem    TurnRole = "system"
)

// AgentTag identifies which agent produced an assistant turn.
type AgentTag string

const (
	AgentInterviewer AgentTag = "interviewer"
	AgentCoach       AgentTag = "coach"
)

// ResponseType is the discriminator for assistant turn content. Readers
// branch on it rather than inspecting the payload.
type ResponseType string

const (
	ResponseIntroduction     ResponseType = "introduction"
	ResponseQuestion         ResponseType = "question"
	ResponseFollowUp         ResponseType = "follow_up"
	ResponseClosing          ResponseType = "closing"
	ResponseCoachingFeedback ResponseType = "coaching_feedback"
)

// Turn is a single entry in a session's conversation history.
// Assistant turns carry either plain Content (interviewer) or a Structured
// payload (coach feedback objects); ResponseType tells readers which.
type Turn struct {
	Role         TurnRole        `json:"role"`
	Agent        AgentTag        `json:"agent,omitempty"`
	Content      string          `json:"content"`
	Structured   json.RawMessage `json:"structured,omitempty"`
	ResponseType ResponseType    `json:"response_type,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// FeedbackEntry is the coach's asynchronous evaluation of one user turn.
// TurnIndex is the history index of the user turn it grades. Err is set
// when grading failed terminally; exactly one of Feedback/Err is non-empty.
type FeedbackEntry struct {
	TurnIndex int    `json:"turn_index"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Feedback  string `json:"feedback,omitempty"`
	Err       string `json:"error,omitempty"`
}

// Conversation is the persisted history+feedback record of a session.
type Conversation struct {
	SessionID string          `json:"session_id"`
	History   []Turn          `json:"history"`
	Feedback  []FeedbackEntry `json:"feedback"`
}
