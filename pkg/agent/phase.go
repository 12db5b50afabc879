// Package agent implements the Interviewer and Coach agents on top of the
// llm and search capabilities. Agents are constructed per session and never
// shared across tenants.
package agent

// Phase segments a time-based interview by elapsed fraction of the
// configured duration.
type Phase string

const (
	PhaseOpening     Phase = "opening"     // first 20%: rapport and background
	PhaseExploration Phase = "exploration" // 20-60%: broad skill coverage
	PhaseDeepening   Phase = "deepening"   // 60-80%: depth and follow-up pressure
	PhaseClosing     Phase = "closing"     // final 20%: wrap-up questions
)

// PhaseFor maps interview progress (0..1) to a phase.
func PhaseFor(progress float64) Phase {
	switch {
	case progress < 0.2:
		return PhaseOpening
	case progress < 0.6:
		return PhaseExploration
	case progress < 0.8:
		return PhaseDeepening
	default:
		return PhaseClosing
	}
}

// guidance returns phase-specific prompt guidance.
func (p Phase) guidance() string {
	switch p {
	case PhaseOpening:
		return "You are early in the interview. Build rapport, ask about background and motivation, keep questions broad."
	case PhaseExploration:
		return "You are in the core of the interview. Cover the main skills for the role; one topic per question."
	case PhaseDeepening:
		return "Time is over half spent. Probe depth: follow up on weak or vague answers and press for specifics."
	default:
		return "The interview is almost over. Ask a final wrap-up question or close if everything important is covered."
	}
}
