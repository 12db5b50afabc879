package agent

import (
	"fmt"
	"strings"

	"github.com/parleyhq/parley/pkg/models"
)

func styleGuidance(style models.InterviewStyle) string {
	switch style {
	case models.StyleCasual:
		return "Keep a friendly, conversational tone. Use plain language and put the candidate at ease."
	case models.StyleAggressive:
		return "Be direct and challenging. Interrupt vague answers, demand specifics, and keep the pressure high."
	case models.StyleTechnical:
		return "Focus on technical depth. Ask about design decisions, trade-offs, and implementation details."
	default:
		return "Maintain a professional, structured tone as in a formal corporate interview."
	}
}

func difficultyGuidance(d models.Difficulty) string {
	switch d {
	case models.DifficultyEasy:
		return "Ask entry-level questions and accept high-level answers."
	case models.DifficultyHard:
		return "Ask demanding questions with layered follow-ups; expect precise, expert-level answers."
	default:
		return "Ask mid-level questions appropriate for a few years of experience."
	}
}

func interviewerSystemPrompt(cfg models.SessionConfig, phase Phase) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an interviewer conducting a %s mock interview for the role of %s.\n", cfg.Style, cfg.JobRole)
	if cfg.CompanyName != "" {
		fmt.Fprintf(&b, "The interview is for a position at %s.\n", cfg.CompanyName)
	}
	if cfg.JobDescription != "" {
		fmt.Fprintf(&b, "Job description:\n%s\n", cfg.JobDescription)
	}
	if cfg.ResumeContent != "" {
		fmt.Fprintf(&b, "Candidate resume:\n%s\n", cfg.ResumeContent)
	}
	b.WriteString(styleGuidance(cfg.Style))
	b.WriteString("\n")
	b.WriteString(difficultyGuidance(cfg.Difficulty))
	b.WriteString("\n")
	b.WriteString(phase.guidance())
	b.WriteString(`

After reading the candidate's latest answer, decide your next move and reply
with a single JSON object, no surrounding prose:
{"action": "ask_follow_up" | "ask_new_question" | "end_interview", "response": "<what you say to the candidate>"}
Use ask_follow_up when the answer deserves probing, ask_new_question to move
on, and end_interview only when the interview should conclude now.`)
	return b.String()
}

func introductionPrompt(cfg models.SessionConfig) string {
	company := ""
	if cfg.CompanyName != "" {
		company = fmt.Sprintf(" at %s", cfg.CompanyName)
	}
	return fmt.Sprintf(`You are opening a %s mock interview for a %s position%s.
%s
Greet the candidate, briefly introduce the interview format, and ask your
first question about their background. Reply with the spoken text only.`,
		cfg.Style, cfg.JobRole, company, styleGuidance(cfg.Style))
}

func closingPrompt(cfg models.SessionConfig) string {
	return fmt.Sprintf(`The %s mock interview for the %s role is ending.
Thank the candidate, tell them the interview is complete and that their
feedback report is being prepared. Reply with the spoken text only.`,
		cfg.Style, cfg.JobRole)
}

func evaluationPrompt(cfg models.SessionConfig, question, answer string) string {
	return fmt.Sprintf(`You are an interview coach reviewing one exchange from a mock interview
for the role of %s (difficulty: %s).

Question: %s

Candidate answer: %s

Give concise, actionable feedback on this answer in 2-4 sentences: what was
strong, what was missing, and how to improve it. Address the candidate
directly. Reply with the feedback text only.`,
		cfg.JobRole, cfg.Difficulty, question, answer)
}

func summaryPrompt(cfg models.SessionConfig, transcript string) string {
	return fmt.Sprintf(`You are an interview coach writing the final report for a completed mock
interview for the role of %s.

Transcript:
%s

Reply with a single JSON object, no surrounding prose, with exactly these keys:
{
  "patterns_tendencies": "<observed answer patterns and tendencies>",
  "strengths": ["<strength>", ...],
  "weaknesses": ["<weakness>", ...],
  "improvement_focus_areas": ["<prioritized area>", ...],
  "resource_search_topics": ["<short searchable skill topic>", ...]
}
Keep resource_search_topics to at most 3 concrete, searchable skills.`,
		cfg.JobRole, transcript)
}
