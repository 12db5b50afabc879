package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/parleyhq/parley/pkg/agent"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/store"
)

// State is the orchestrator-level lifecycle state. Configured and Running
// both persist as StatusActive; the split matters only in memory.
type State string

const (
	StateConfigured State = "configured"
	StateRunning    State = "running"
	StateCompleted  State = "completed"
	StateAbandoned  State = "abandoned"
)

// GradingRequest identifies one committed Q/A pair for the coach pipeline.
type GradingRequest struct {
	SessionID string
	TurnIndex int
	Question  string
	Answer    string
}

// TurnResult is the outcome of one committed interview turn.
type TurnResult struct {
	Turn    models.Turn
	Grading GradingRequest

	// Completed is set when the turn was the interview's closing turn.
	Completed bool

	// StartSummary is set when this transition won the summary-in-flight
	// flag and the caller must launch the terminal summarizer.
	StartSummary bool
}

// EndResult is the interim result returned by End. Feedback may still be
// incomplete if grading is in flight.
type EndResult struct {
	Status   models.SessionStatus
	Feedback []models.FeedbackEntry
	Stats    models.SessionStats
}

// Orchestrator is the per-session state machine. All methods MUST be called
// with mu held (the registry hands out handles with the lock taken). The LLM
// call inside Start and SendUserMessage temporarily releases mu; the
// turnInFlight flag keeps the transition single-writer across that window.
type Orchestrator struct {
	mu sync.Mutex

	id     string
	userID string
	cfg    models.SessionConfig

	interviewer *agent.Interviewer
	now         func() time.Time

	state     State
	history   []models.Turn
	feedback  []models.FeedbackEntry
	stats     models.SessionStats
	summary   models.SummaryRecord
	createdAt time.Time
	updatedAt time.Time

	turnInFlight    bool
	summaryInFlight bool
}

func newOrchestrator(id, userID string, cfg models.SessionConfig, iv *agent.Interviewer, now func() time.Time) *Orchestrator {
	t := now()
	return &Orchestrator{
		id:          id,
		userID:      userID,
		cfg:         cfg,
		interviewer: iv,
		now:         now,
		state:       StateConfigured,
		summary:     models.SummaryRecord{SessionID: id, Status: models.SummaryNotStarted},
		createdAt:   t,
		updatedAt:   t,
	}
}

// hydrateOrchestrator rebuilds an orchestrator from persisted records.
// conv and sum may be nil when the session never progressed that far.
func hydrateOrchestrator(sess *models.Session, conv *models.Conversation, sum *models.SummaryRecord, iv *agent.Interviewer, now func() time.Time) *Orchestrator {
	o := &Orchestrator{
		id:          sess.ID,
		userID:      sess.UserID,
		cfg:         sess.Config,
		interviewer: iv,
		now:         now,
		stats:       sess.Stats,
		summary:     models.SummaryRecord{SessionID: sess.ID, Status: models.SummaryNotStarted},
		createdAt:   sess.CreatedAt,
		updatedAt:   sess.UpdatedAt,
	}
	if conv != nil {
		o.history = conv.History
		o.feedback = conv.Feedback
	}
	if sum != nil {
		o.summary = *sum
	}

	switch sess.Status {
	case models.StatusCompleted:
		o.state = StateCompleted
	case models.StatusAbandoned:
		o.state = StateAbandoned
	default:
		if len(o.history) > 0 {
			o.state = StateRunning
		} else {
			o.state = StateConfigured
		}
	}
	// A summary that was generating when the process died never finished;
	// End may relaunch it.
	if o.summary.Status == models.SummaryGenerating {
		o.summary.Status = models.SummaryNotStarted
	}
	return o
}

func (o *Orchestrator) ID() string                   { return o.id }
func (o *Orchestrator) UserID() string               { return o.userID }
func (o *Orchestrator) Config() models.SessionConfig { return o.cfg }
func (o *Orchestrator) State() State                 { return o.state }

// Start produces the opening interviewer turn and transitions to Running.
func (o *Orchestrator) Start(ctx context.Context) (models.Turn, error) {
	if err := o.checkWritable(); err != nil {
		return models.Turn{}, err
	}
	if o.state != StateConfigured {
		return models.Turn{}, fmt.Errorf("%w: interview already started", ErrSessionStateInvalid)
	}

	o.turnInFlight = true
	o.mu.Unlock()
	text, err := o.interviewer.Introduction(ctx)
	o.mu.Lock()
	o.turnInFlight = false

	if err != nil {
		return models.Turn{}, err
	}

	now := o.now()
	turn := models.Turn{
		Role:         models.RoleAssistant,
		Agent:        models.AgentInterviewer,
		Content:      text,
		ResponseType: models.ResponseIntroduction,
		CreatedAt:    now,
	}
	o.history = append(o.history, turn)
	o.state = StateRunning
	o.stats.StartedAt = now
	o.stats.LastActivity = now
	o.stats.QuestionsAsked = 1 // the introduction carries the first question
	o.stats.LLMCalls++
	o.updatedAt = now
	return turn, nil
}

// SendUserMessage appends the user turn, produces the interviewer's reply,
// and commits both as one observable step. On failure the provisional user
// turn is rolled back and history is unchanged.
func (o *Orchestrator) SendUserMessage(ctx context.Context, text string) (TurnResult, error) {
	if err := o.checkWritable(); err != nil {
		return TurnResult{}, err
	}
	switch o.state {
	case StateConfigured:
		return TurnResult{}, fmt.Errorf("%w: interview not started", ErrSessionStateInvalid)
	case StateCompleted:
		return TurnResult{}, fmt.Errorf("%w: interview already ended", ErrSessionStateInvalid)
	}
	if strings.TrimSpace(text) == "" {
		return TurnResult{}, models.NewValidationError("message", "is required")
	}

	now := o.now()
	question, askedAt := o.lastInterviewerTurn()

	o.history = append(o.history, models.Turn{
		Role:      models.RoleUser,
		Content:   text,
		CreatedAt: now,
	})
	userIndex := len(o.history) - 1
	o.stats.AnswersGiven++
	o.stats.LastActivity = now

	snapshot := copyTurns(o.history)
	progress := o.progress(now)
	o.turnInFlight = true

	o.mu.Unlock()
	var d agent.Decision
	var genErr error
	if progress >= 1 {
		var closing string
		closing, genErr = o.interviewer.Closing(ctx)
		d = agent.Decision{Action: agent.ActionEnd, Text: closing, ResponseType: models.ResponseClosing}
	} else {
		d, genErr = o.interviewer.NextTurn(ctx, snapshot, progress)
	}
	o.mu.Lock()
	o.turnInFlight = false

	if genErr != nil {
		// Roll back the provisional user turn. turnInFlight kept it the
		// last history entry; background merges only touch the feedback log.
		o.history = o.history[:userIndex]
		o.stats.AnswersGiven--
		return TurnResult{}, genErr
	}

	o.stats.LLMCalls++
	if !askedAt.IsZero() {
		o.stats.TotalAnswerLatency += now.Sub(askedAt)
	}

	assistant := models.Turn{
		Role:         models.RoleAssistant,
		Agent:        models.AgentInterviewer,
		Content:      d.Text,
		ResponseType: d.ResponseType,
		CreatedAt:    o.now(),
	}
	o.history = append(o.history, assistant)
	o.updatedAt = o.now()

	res := TurnResult{
		Turn: assistant,
		Grading: GradingRequest{
			SessionID: o.id,
			TurnIndex: userIndex,
			Question:  question,
			Answer:    text,
		},
	}
	if d.Action == agent.ActionEnd {
		o.state = StateCompleted
		res.Completed = true
		res.StartSummary = o.beginSummary()
	} else {
		o.stats.QuestionsAsked++
	}
	return res, nil
}

// End transitions Running → Completed and returns the interim results.
// Repeated calls are idempotent: a completed session returns the current
// results without relaunching the summarizer.
func (o *Orchestrator) End() (EndResult, bool, error) {
	if o.turnInFlight {
		return EndResult{}, false, fmt.Errorf("%w: another message is being processed", ErrSessionStateInvalid)
	}
	switch o.state {
	case StateConfigured:
		return EndResult{}, false, fmt.Errorf("%w: interview not started", ErrSessionStateInvalid)
	case StateAbandoned:
		return EndResult{}, false, ErrSessionTimeout
	}

	startSummary := false
	if o.state == StateRunning {
		o.state = StateCompleted
		o.updatedAt = o.now()
		startSummary = o.beginSummary()
	} else if o.summary.Status == models.SummaryNotStarted {
		// Summary never launched (e.g. lost in a restart); End may retry it.
		startSummary = o.beginSummary()
	}

	return EndResult{
		Status:   models.StatusCompleted,
		Feedback: copyFeedback(o.feedback),
		Stats:    o.stats,
	}, startSummary, nil
}

// beginSummary claims the summary-in-flight flag. At most one caller wins
// per completed session.
func (o *Orchestrator) beginSummary() bool {
	if o.summaryInFlight || o.summary.Status == models.SummaryCompleted || o.summary.Status == models.SummaryError {
		return false
	}
	o.summaryInFlight = true
	o.summary = models.SummaryRecord{SessionID: o.id, Status: models.SummaryGenerating}
	return true
}

// Reset clears history, feedback, stats, and summary while retaining the
// immutable config and session id. Valid in any state, except while a send
// holds the turn in flight: the send's rollback indexes into the history it
// appended to, so clearing it out from under the call is rejected.
func (o *Orchestrator) Reset() error {
	if o.turnInFlight {
		return fmt.Errorf("%w: another message is being processed", ErrSessionStateInvalid)
	}
	o.history = nil
	o.feedback = nil
	o.stats = models.SessionStats{}
	o.summary = models.SummaryRecord{SessionID: o.id, Status: models.SummaryNotStarted}
	o.summaryInFlight = false
	o.state = StateConfigured
	o.updatedAt = o.now()
	return nil
}

// MarkAbandoned transitions any non-terminal state to Abandoned. Reports
// whether the state changed.
func (o *Orchestrator) MarkAbandoned() bool {
	if o.state == StateCompleted || o.state == StateAbandoned {
		return false
	}
	o.state = StateAbandoned
	o.updatedAt = o.now()
	return true
}

// MergeFeedback installs a coach result at its turn index, keeping the log
// in index order. Re-merging the same index replaces the entry. An index
// that does not reference a user turn is an invariant violation.
func (o *Orchestrator) MergeFeedback(e models.FeedbackEntry) error {
	if e.TurnIndex < 0 || e.TurnIndex >= len(o.history) || o.history[e.TurnIndex].Role != models.RoleUser {
		return fmt.Errorf("feedback merge: index %d does not reference a user turn", e.TurnIndex)
	}
	pos := len(o.feedback)
	for i, existing := range o.feedback {
		if existing.TurnIndex == e.TurnIndex {
			o.feedback[i] = e
			return nil
		}
		if existing.TurnIndex > e.TurnIndex {
			pos = i
			break
		}
	}
	o.feedback = append(o.feedback, models.FeedbackEntry{})
	copy(o.feedback[pos+1:], o.feedback[pos:])
	o.feedback[pos] = e
	return nil
}

// SummaryInputs snapshots the conversation for the terminal summarizer.
func (o *Orchestrator) SummaryInputs() ([]models.Turn, []models.FeedbackEntry) {
	return copyTurns(o.history), copyFeedback(o.feedback)
}

// InstallSummary commits a completed summary. A reset that raced the
// summarizer cleared summaryInFlight; the stale result is discarded.
func (o *Orchestrator) InstallSummary(s *models.FinalSummary) {
	if !o.summaryInFlight {
		return
	}
	o.summaryInFlight = false
	o.summary = models.SummaryRecord{SessionID: o.id, Status: models.SummaryCompleted, Summary: s}
	o.updatedAt = o.now()
}

// FailSummary records a terminal summary failure.
func (o *Orchestrator) FailSummary(msg string) {
	if !o.summaryInFlight {
		return
	}
	o.summaryInFlight = false
	o.summary = models.SummaryRecord{SessionID: o.id, Status: models.SummaryError, ErrorMessage: msg}
	o.updatedAt = o.now()
}

// TouchActivity advances the stats last-activity timestamp.
func (o *Orchestrator) TouchActivity(now time.Time) {
	if now.After(o.stats.LastActivity) {
		o.stats.LastActivity = now
	}
}

func (o *Orchestrator) History() []models.Turn           { return copyTurns(o.history) }
func (o *Orchestrator) Feedback() []models.FeedbackEntry { return copyFeedback(o.feedback) }
func (o *Orchestrator) Stats() models.SessionStats       { return o.stats }

func (o *Orchestrator) SummaryStatus() models.SummaryRecord { return o.summary }

// Snapshot builds the full persistence view of the session. Slices are
// copied so the async flusher never races live mutation.
func (o *Orchestrator) Snapshot() *store.Snapshot {
	return &store.Snapshot{
		Session: &models.Session{
			ID:        o.id,
			UserID:    o.userID,
			Status:    o.persistedStatus(),
			Config:    o.cfg,
			Stats:     o.stats,
			CreatedAt: o.createdAt,
			UpdatedAt: o.updatedAt,
		},
		Conversation: &models.Conversation{
			SessionID: o.id,
			History:   copyTurns(o.history),
			Feedback:  copyFeedback(o.feedback),
		},
		Summary: o.copySummary(),
	}
}

func (o *Orchestrator) persistedStatus() models.SessionStatus {
	switch o.state {
	case StateCompleted:
		return models.StatusCompleted
	case StateAbandoned:
		return models.StatusAbandoned
	default:
		return models.StatusActive
	}
}

func (o *Orchestrator) copySummary() *models.SummaryRecord {
	s := o.summary
	if s.Summary != nil {
		cp := *s.Summary
		s.Summary = &cp
	}
	return &s
}

// checkWritable rejects writes on abandoned sessions and overlapping turn
// transitions.
func (o *Orchestrator) checkWritable() error {
	if o.state == StateAbandoned {
		return ErrSessionTimeout
	}
	if o.turnInFlight {
		return fmt.Errorf("%w: another message is being processed", ErrSessionStateInvalid)
	}
	return nil
}

// progress reports interview completion as a 0..1 fraction: elapsed time
// over configured duration in time-based mode, questions asked over the
// target count otherwise.
func (o *Orchestrator) progress(now time.Time) float64 {
	if o.cfg.UseTimeBased {
		if o.stats.StartedAt.IsZero() {
			return 0
		}
		return float64(now.Sub(o.stats.StartedAt)) / float64(o.cfg.Duration())
	}
	if o.cfg.TargetQuestionCount <= 0 {
		return 0
	}
	return float64(o.stats.QuestionsAsked) / float64(o.cfg.TargetQuestionCount)
}

// lastInterviewerTurn returns the content and timestamp of the most recent
// interviewer turn, the question the next user message answers.
func (o *Orchestrator) lastInterviewerTurn() (string, time.Time) {
	for i := len(o.history) - 1; i >= 0; i-- {
		t := o.history[i]
		if t.Role == models.RoleAssistant && t.Agent == models.AgentInterviewer {
			return t.Content, t.CreatedAt
		}
	}
	return "", time.Time{}
}

func copyTurns(in []models.Turn) []models.Turn {
	if in == nil {
		return nil
	}
	out := make([]models.Turn, len(in))
	copy(out, in)
	return out
}

func copyFeedback(in []models.FeedbackEntry) []models.FeedbackEntry {
	if in == nil {
		return nil
	}
	out := make([]models.FeedbackEntry, len(in))
	copy(out, in)
	return out
}
