package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/parleyhq/parley/pkg/agent"
	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/observe"
)

// Pipeline runs the background coach work: per-turn grading and the
// terminal summarizer. Grading tasks for one session execute in turn-index
// order on a per-session serial queue; results may still land out of order
// relative to other work, so merges always target an explicit index.
type Pipeline struct {
	registry *Registry
	cfg      config.SessionConfig
	metrics  *observe.Metrics
	logger   *slog.Logger

	mu     sync.Mutex
	queues map[string]*taskQueue

	wg sync.WaitGroup
}

type taskQueue struct {
	tasks   []func()
	running bool
}

// NewPipeline creates the coach pipeline. Call registry.AttachPipeline with
// the result before serving traffic.
func NewPipeline(registry *Registry, cfg config.SessionConfig, metrics *observe.Metrics) *Pipeline {
	return &Pipeline{
		registry: registry,
		cfg:      cfg,
		metrics:  metrics,
		logger:   slog.Default().With("component", "coach_pipeline"),
		queues:   make(map[string]*taskQueue),
	}
}

// Wait blocks until all in-flight background work has drained. Used during
// shutdown so final flushes see complete feedback.
func (p *Pipeline) Wait() { p.wg.Wait() }

// EnqueueGrading schedules grading of one committed Q/A pair.
func (p *Pipeline) EnqueueGrading(coach *agent.Coach, req GradingRequest) {
	p.enqueue(req.SessionID, func() { p.grade(coach, req) })
}

// enqueue appends a task to the session's serial queue, starting a drain
// goroutine if none is running.
func (p *Pipeline) enqueue(sessionID string, task func()) {
	p.wg.Add(1)
	p.mu.Lock()
	q, ok := p.queues[sessionID]
	if !ok {
		q = &taskQueue{}
		p.queues[sessionID] = q
	}
	q.tasks = append(q.tasks, task)
	if q.running {
		p.mu.Unlock()
		return
	}
	q.running = true
	p.mu.Unlock()

	go p.drain(sessionID, q)
}

func (p *Pipeline) drain(sessionID string, q *taskQueue) {
	for {
		p.mu.Lock()
		if len(q.tasks) == 0 {
			q.running = false
			delete(p.queues, sessionID)
			p.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		p.mu.Unlock()

		task()
		p.wg.Done()
	}
}

// grade evaluates one answer within the grading budget and merges the
// result. Terminal failure records an error-marker entry at the turn index
// so the feedback log stays in index order.
func (p *Pipeline) grade(coach *agent.Coach, req GradingRequest) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.GradingBudget)
	defer cancel()

	feedback, err := p.gradeWithRetries(ctx, coach, req)

	entry := models.FeedbackEntry{
		TurnIndex: req.TurnIndex,
		Question:  req.Question,
		Answer:    req.Answer,
	}
	if err != nil {
		p.logger.Warn("Grading failed terminally",
			"session_id", req.SessionID, "turn_index", req.TurnIndex, "error", err)
		entry.Err = fmt.Sprintf("feedback generation failed: %v", err)
	} else {
		entry.Feedback = feedback
	}

	p.merge(req.SessionID, func(h *Handle) error { return h.MergeFeedback(entry) })
	p.metrics.GradingDuration.Record(context.Background(), time.Since(start).Seconds())
}

func (p *Pipeline) gradeWithRetries(ctx context.Context, coach *agent.Coach, req GradingRequest) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 0

	var feedback string
	var err error
	for attempt := 0; attempt < p.cfg.GradingRetries; attempt++ {
		feedback, err = coach.EvaluateAnswer(ctx, req.Question, req.Answer)
		if err == nil {
			return feedback, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		select {
		case <-time.After(bo.NextBackOff()):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", err
}

// StartSummary launches the terminal summarizer. The caller has already won
// the summary-in-flight flag under the session mutex, so at most one run
// exists per completed session.
func (p *Pipeline) StartSummary(coach *agent.Coach, sessionID string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.summarize(coach, sessionID)
	}()
}

func (p *Pipeline) summarize(coach *agent.Coach, sessionID string) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.FinalSummaryBudget)
	defer cancel()

	h, err := p.registry.Acquire(ctx, sessionID)
	if err != nil {
		p.logger.Error("Summary could not load session", "session_id", sessionID, "error", err)
		return
	}
	turns, feedback := h.SummaryInputs()
	h.Release()

	summary, err := coach.SummarizeSession(ctx, turns, feedback)
	if err == nil {
		coach.RecommendResources(ctx, summary)
	}

	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("final summary timed out after %s", p.cfg.FinalSummaryBudget)
	}

	p.merge(sessionID, func(h *Handle) error {
		if err != nil {
			h.FailSummary(err.Error())
		} else {
			h.InstallSummary(summary)
		}
		return nil
	})
	p.metrics.SummaryDuration.Record(context.Background(), time.Since(start).Seconds())

	if err != nil {
		p.logger.Error("Final summary failed", "session_id", sessionID, "error", err)
	} else {
		p.logger.Info("Final summary completed", "session_id", sessionID,
			"resources", len(summary.RecommendedResources))
	}
}

// merge applies a mutation through the registry so evicted sessions
// re-hydrate before the write lands.
func (p *Pipeline) merge(sessionID string, fn func(h *Handle) error) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	h, err := p.registry.Acquire(ctx, sessionID)
	if err != nil {
		p.logger.Warn("Merge skipped, session unavailable", "session_id", sessionID, "error", err)
		return
	}
	defer h.Release()

	if err := fn(h); err != nil {
		p.logger.Error("Merge rejected", "session_id", sessionID, "error", err)
	}
}
