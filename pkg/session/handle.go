package session

import (
	"context"
	"time"

	"github.com/parleyhq/parley/pkg/models"
)

// Handle is a locked view of one live session. Obtained from
// Registry.Acquire with the session mutex held; callers must Release it.
// Mutating methods schedule an async snapshot flush on success.
type Handle struct {
	r        *Registry
	e        *sessionEntry
	released bool
}

// Release unlocks the session. Idempotent.
func (h *Handle) Release() {
	if h.released {
		return
	}
	h.released = true
	h.e.orc.mu.Unlock()
}

func (h *Handle) ID() string                   { return h.e.orc.ID() }
func (h *Handle) State() State                 { return h.e.orc.State() }
func (h *Handle) Config() models.SessionConfig { return h.e.orc.Config() }

// Start produces the opening turn and begins the interview.
func (h *Handle) Start(ctx context.Context) (models.Turn, error) {
	turn, err := h.e.orc.Start(ctx)
	if err != nil {
		return models.Turn{}, err
	}
	h.touch()
	h.flushLater()
	return turn, nil
}

// SendUserMessage processes one user answer: commits the user+assistant turn
// pair, enqueues coach grading, and launches the terminal summarizer when
// the interview just ended.
func (h *Handle) SendUserMessage(ctx context.Context, text string) (TurnResult, error) {
	start := time.Now()
	res, err := h.e.orc.SendUserMessage(ctx, text)
	if err != nil {
		return TurnResult{}, err
	}
	h.r.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())

	h.touch()
	h.flushLater()
	h.r.pipeline.EnqueueGrading(h.e.coach, res.Grading)
	if res.StartSummary {
		h.r.pipeline.StartSummary(h.e.coach, h.ID())
	}
	return res, nil
}

// End completes the interview and returns interim results. Idempotent.
func (h *Handle) End() (EndResult, error) {
	res, startSummary, err := h.e.orc.End()
	if err != nil {
		return EndResult{}, err
	}
	h.flushLater()
	if startSummary {
		h.r.pipeline.StartSummary(h.e.coach, h.ID())
	}
	return res, nil
}

// Reset clears the conversation back to the configured state. It fails while
// a send is still producing the interviewer's reply.
func (h *Handle) Reset() error {
	if err := h.e.orc.Reset(); err != nil {
		return err
	}
	h.touch()
	h.flushLater()
	return nil
}

// Ping extends the idle budget and returns the remaining time. On a
// completed session it is a no-op reporting the effective remaining time;
// on an abandoned session it returns ErrSessionTimeout.
func (h *Handle) Ping() (time.Duration, error) {
	now := h.r.now()
	switch h.e.orc.State() {
	case StateAbandoned:
		return 0, ErrSessionTimeout
	case StateCompleted:
		remaining, _, ok := h.r.clock.Remaining(h.ID(), now)
		if !ok || remaining < 0 {
			remaining = 0
		}
		return remaining, nil
	}

	h.r.clock.Track(h.ID(), now)
	h.e.orc.TouchActivity(now)
	h.flushLater()
	remaining, _, _ := h.r.clock.Remaining(h.ID(), now)
	return remaining, nil
}

// TimeRemaining reports idle-expiry progress without extending it.
func (h *Handle) TimeRemaining() (remaining time.Duration, warning bool, active bool) {
	if h.e.orc.State() == StateAbandoned || h.e.orc.State() == StateCompleted {
		return 0, false, false
	}
	remaining, warning, ok := h.r.clock.Remaining(h.ID(), h.r.now())
	if !ok {
		return 0, false, false
	}
	return remaining, warning, true
}

func (h *Handle) History() []models.Turn           { return h.e.orc.History() }
func (h *Handle) Feedback() []models.FeedbackEntry { return h.e.orc.Feedback() }
func (h *Handle) Stats() models.SessionStats       { return h.e.orc.Stats() }

func (h *Handle) SummaryStatus() models.SummaryRecord { return h.e.orc.SummaryStatus() }

// MergeFeedback installs a coach grading result. Used by the pipeline; the
// merge counts as user-initiated activity.
func (h *Handle) MergeFeedback(e models.FeedbackEntry) error {
	if err := h.e.orc.MergeFeedback(e); err != nil {
		return err
	}
	h.touch()
	h.flushLater()
	return nil
}

// SummaryInputs snapshots the conversation for the summarizer.
func (h *Handle) SummaryInputs() ([]models.Turn, []models.FeedbackEntry) {
	return h.e.orc.SummaryInputs()
}

// InstallSummary commits the completed final summary.
func (h *Handle) InstallSummary(s *models.FinalSummary) {
	h.e.orc.InstallSummary(s)
	h.flushLater()
}

// FailSummary records a terminal summary failure.
func (h *Handle) FailSummary(msg string) {
	h.e.orc.FailSummary(msg)
	h.flushLater()
}

func (h *Handle) touch() {
	now := h.r.now()
	h.r.clock.Touch(h.ID(), now)
	h.e.orc.TouchActivity(now)
}

// flushLater snapshots under the held lock and hands the write to the
// coalescing flusher.
func (h *Handle) flushLater() {
	h.r.scheduleFlush(h.e, h.e.orc.Snapshot())
}
