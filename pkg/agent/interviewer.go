package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/parleyhq/parley/pkg/llm"
	"github.com/parleyhq/parley/pkg/models"
)

// Action is the interviewer's decision after reading a user answer.
type Action string

const (
	ActionFollowUp    Action = "ask_follow_up"
	ActionNewQuestion Action = "ask_new_question"
	ActionEnd         Action = "end_interview"
)

// Decision is one interviewer move: what to do and what to say.
type Decision struct {
	Action       Action
	Text         string
	ResponseType models.ResponseType
}

// Interviewer produces assistant turns for one session. Not safe for
// concurrent use; the orchestrator serializes calls.
type Interviewer struct {
	llm llm.Client
	cfg models.SessionConfig
}

// NewInterviewer constructs a per-session interviewer.
func NewInterviewer(client llm.Client, cfg models.SessionConfig) *Interviewer {
	return &Interviewer{llm: client, cfg: cfg}
}

// Introduction produces the opening assistant turn.
func (iv *Interviewer) Introduction(ctx context.Context) (string, error) {
	text, err := iv.llm.Generate(ctx, llm.Request{
		SystemPrompt: introductionPrompt(iv.cfg),
		Messages:     []llm.Message{{Role: "user", Content: "Begin the interview."}},
	})
	if err != nil {
		return "", fmt.Errorf("interviewer introduction: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Closing produces the terminal assistant turn.
func (iv *Interviewer) Closing(ctx context.Context) (string, error) {
	text, err := iv.llm.Generate(ctx, llm.Request{
		SystemPrompt: closingPrompt(iv.cfg),
		Messages:     []llm.Message{{Role: "user", Content: "End the interview."}},
	})
	if err != nil {
		return "", fmt.Errorf("interviewer closing: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// NextTurn reads the conversation so far plus interview progress (0..1) and
// decides the next move.
func (iv *Interviewer) NextTurn(ctx context.Context, history []models.Turn, progress float64) (Decision, error) {
	phase := PhaseFor(progress)

	messages := historyToMessages(history)
	raw, err := iv.llm.Generate(ctx, llm.Request{
		SystemPrompt: interviewerSystemPrompt(iv.cfg, phase),
		Messages:     messages,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("interviewer turn: %w", err)
	}

	d := parseDecision(raw)

	// The model may try to end early; only honor that in the closing phase.
	if d.Action == ActionEnd && phase != PhaseClosing {
		d.Action = ActionNewQuestion
		d.ResponseType = models.ResponseQuestion
	}
	return d, nil
}

// historyToMessages converts interviewer-visible turns to chat messages.
// Coach turns are internal and never shown to the interviewer model.
func historyToMessages(history []models.Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(history))
	for _, t := range history {
		if t.Agent == models.AgentCoach {
			continue
		}
		role := "user"
		if t.Role == models.RoleAssistant {
			role = "assistant"
		} else if t.Role == models.RoleSystem {
			role = "system"
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Content})
	}
	return msgs
}

// parseDecision extracts the action plan from model output. Output that is
// not valid JSON is treated as a plain new question so a sloppy model reply
// never fails the turn.
func parseDecision(raw string) Decision {
	var plan struct {
		Action   string `json:"action"`
		Response string `json:"response"`
	}

	cleaned := stripFences(raw)
	if start := strings.Index(cleaned, "{"); start >= 0 {
		if end := strings.LastIndex(cleaned, "}"); end > start {
			_ = json.Unmarshal([]byte(cleaned[start:end+1]), &plan)
		}
	}

	if plan.Response == "" {
		return Decision{
			Action:       ActionNewQuestion,
			Text:         strings.TrimSpace(raw),
			ResponseType: models.ResponseQuestion,
		}
	}

	d := Decision{Text: strings.TrimSpace(plan.Response)}
	switch Action(plan.Action) {
	case ActionFollowUp:
		d.Action = ActionFollowUp
		d.ResponseType = models.ResponseFollowUp
	case ActionEnd:
		d.Action = ActionEnd
		d.ResponseType = models.ResponseClosing
	default:
		d.Action = ActionNewQuestion
		d.ResponseType = models.ResponseQuestion
	}
	return d
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
