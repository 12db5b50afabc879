package models

import "time"

// SessionStats accumulates per-session counters. Mutated only under the
// session mutex.
type SessionStats struct {
	QuestionsAsked     int           `json:"questions_asked"`
	AnswersGiven       int           `json:"answers_given"`
	TotalAnswerLatency time.Duration `json:"total_answer_latency_ns"`
	LLMCalls           int           `json:"llm_calls"`
	SearchCalls        int           `json:"search_calls"`
	StartedAt          time.Time     `json:"started_at"`
	LastActivity       time.Time     `json:"last_activity"`
}
