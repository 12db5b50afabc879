package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/activity"
	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/llm"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/observe"
	"github.com/parleyhq/parley/pkg/search"
	"github.com/parleyhq/parley/pkg/store"
)

// scriptedLLM answers interviewer and coach prompts with canned output and
// lets tests inject failures or block calls.
type scriptedLLM struct {
	mu        sync.Mutex
	fail      error // fails every call
	failCoach error // fails only per-answer evaluation calls
	block     chan struct{}
}

func (s *scriptedLLM) Generate(ctx context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	fail := s.fail
	failCoach := s.failCoach
	block := s.block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if fail != nil {
		return "", fail
	}

	switch {
	case strings.Contains(req.SystemPrompt, "interview coach reviewing"):
		if failCoach != nil {
			return "", failCoach
		}
		return "Good answer, add concrete examples.", nil
	case strings.Contains(req.SystemPrompt, "You are opening"):
		return "Welcome. Tell me about your background.", nil
	case strings.Contains(req.SystemPrompt, "final report"):
		return `{"patterns_tendencies": "concise answers",
			"strengths": ["communication"], "weaknesses": ["depth"],
			"improvement_focus_areas": ["system design"],
			"resource_search_topics": ["system design"]}`, nil
	case strings.Contains(req.SystemPrompt, "is ending"):
		return "Thanks for your time; your report is on the way.", nil
	default:
		return `{"action": "ask_new_question", "response": "What is your proudest project?"}`, nil
	}
}

func (s *scriptedLLM) set(mutate func(*scriptedLLM)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mutate(s)
}

type fixture struct {
	registry *Registry
	pipeline *Pipeline
	store    *store.Memory
	clock    *activity.Clock
	llm      *scriptedLLM
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithConfig(t, config.DefaultSessionConfig())
}

func newFixtureWithConfig(t *testing.T, cfg config.SessionConfig) *fixture {
	t.Helper()
	mem := store.NewMemory()
	clock := activity.New(15*time.Minute, 2*time.Minute)
	scripted := &scriptedLLM{}
	searcher := search.Func(func(ctx context.Context, query string, limit int) ([]search.Result, error) {
		return []search.Result{
			{Title: "System design primer", URL: "https://github.com/x/primer", Snippet: "learn system design"},
		}, nil
	})

	registry := NewRegistry(mem, clock, observe.DefaultMetrics(), scripted, searcher)
	pipeline := NewPipeline(registry, cfg, observe.DefaultMetrics())
	registry.AttachPipeline(pipeline)
	return &fixture{registry: registry, pipeline: pipeline, store: mem, clock: clock, llm: scripted}
}

func (f *fixture) createSession(t *testing.T) string {
	t.Helper()
	id, err := f.registry.Create(context.Background(), models.SessionConfig{JobRole: "Software Engineer"}, "")
	require.NoError(t, err)
	return id
}

func (f *fixture) acquire(t *testing.T, id string) *Handle {
	t.Helper()
	h, err := f.registry.Acquire(context.Background(), id)
	require.NoError(t, err)
	return h
}

func TestHappyPathTimeBased(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)

	h := f.acquire(t, id)
	intro, err := h.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RoleAssistant, intro.Role)
	assert.Equal(t, models.AgentInterviewer, intro.Agent)
	assert.Equal(t, models.ResponseIntroduction, intro.ResponseType)
	h.Release()

	h = f.acquire(t, id)
	res, err := h.SendUserMessage(context.Background(), "I have five years of backend experience.")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAssistant, res.Turn.Role)
	assert.False(t, res.Completed)
	history := h.History()
	h.Release()
	require.Len(t, history, 3)
	assert.Equal(t, models.RoleUser, history[1].Role)

	f.pipeline.Wait()

	h = f.acquire(t, id)
	feedback := h.Feedback()
	h.Release()
	require.Len(t, feedback, 1)
	assert.Equal(t, 1, feedback[0].TurnIndex)
	assert.Equal(t, intro.Content, feedback[0].Question)
	assert.Equal(t, "I have five years of backend experience.", feedback[0].Answer)
	assert.NotEmpty(t, feedback[0].Feedback)
	assert.Empty(t, feedback[0].Err)

	h = f.acquire(t, id)
	end, err := h.End()
	h.Release()
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, end.Status)

	f.pipeline.Wait()

	h = f.acquire(t, id)
	summary := h.SummaryStatus()
	h.Release()
	require.Equal(t, models.SummaryCompleted, summary.Status)
	require.NotNil(t, summary.Summary)
	assert.NotEmpty(t, summary.Summary.RecommendedResources)
}

func TestStateMachineEnforcement(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)

	h := f.acquire(t, id)
	// Sending before start is rejected.
	_, err := h.SendUserMessage(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrSessionStateInvalid)

	_, err = h.Start(context.Background())
	require.NoError(t, err)
	first, err := h.End()
	require.NoError(t, err)

	// Sending after end is rejected.
	_, err = h.SendUserMessage(context.Background(), "one more thing")
	assert.ErrorIs(t, err, ErrSessionStateInvalid)

	// Repeated end is idempotent and does not relaunch the summary.
	second, err := h.End()
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Feedback, second.Feedback)
	h.Release()

	f.pipeline.Wait()

	h = f.acquire(t, id)
	status := h.SummaryStatus().Status
	h.Release()
	assert.Equal(t, models.SummaryCompleted, status)
}

func TestSendMessageRollbackOnLLMFailure(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)

	h := f.acquire(t, id)
	_, err := h.Start(context.Background())
	require.NoError(t, err)
	h.Release()

	f.llm.set(func(s *scriptedLLM) { s.fail = llm.ErrAgentUnavailable })

	h = f.acquire(t, id)
	_, err = h.SendUserMessage(context.Background(), "my answer")
	assert.ErrorIs(t, err, llm.ErrAgentUnavailable)
	history := h.History()
	stats := h.Stats()
	h.Release()

	// History is unchanged: the provisional user turn was rolled back.
	assert.Len(t, history, 1)
	assert.Equal(t, 0, stats.AnswersGiven)

	// The session remains usable once the provider recovers.
	f.llm.set(func(s *scriptedLLM) { s.fail = nil })

	h = f.acquire(t, id)
	_, err = h.SendUserMessage(context.Background(), "my answer")
	require.NoError(t, err)
	assert.Len(t, h.History(), 3)
	h.Release()
	f.pipeline.Wait()
}

func TestConcurrentSendsOneWins(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)

	h := f.acquire(t, id)
	_, err := h.Start(context.Background())
	require.NoError(t, err)
	h.Release()

	block := make(chan struct{})
	f.llm.set(func(s *scriptedLLM) { s.block = block })

	var successes, invalids atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := f.registry.Acquire(context.Background(), id)
			if err != nil {
				return
			}
			defer h.Release()
			_, err = h.SendUserMessage(context.Background(), "concurrent answer")
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrSessionStateInvalid):
				invalids.Add(1)
			}
		}()
	}

	// Let both goroutines reach the send; the first holds the turn-in-flight
	// flag while blocked in the LLM call, the second must observe it.
	time.Sleep(100 * time.Millisecond)
	f.llm.set(func(s *scriptedLLM) { s.block = nil })
	close(block)
	wg.Wait()
	f.pipeline.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(1), invalids.Load())

	h = f.acquire(t, id)
	history := h.History()
	h.Release()
	assert.Len(t, history, 3) // intro + exactly one committed pair
}

func TestResetAndEndRejectedWhileTurnInFlight(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)

	h := f.acquire(t, id)
	_, err := h.Start(context.Background())
	require.NoError(t, err)
	h.Release()

	// The blocked call also fails once released, so the rollback path runs
	// against whatever history it finds when it wakes up.
	block := make(chan struct{})
	f.llm.set(func(s *scriptedLLM) {
		s.block = block
		s.fail = llm.ErrAgentUnavailable
	})

	done := make(chan error, 1)
	go func() {
		h, err := f.registry.Acquire(context.Background(), id)
		if err != nil {
			done <- err
			return
		}
		defer h.Release()
		_, err = h.SendUserMessage(context.Background(), "blocked answer")
		done <- err
	}()

	// The send releases the session lock while parked in the LLM call, so a
	// second acquire gets in and must see the turn in flight.
	time.Sleep(100 * time.Millisecond)

	h = f.acquire(t, id)
	assert.ErrorIs(t, h.Reset(), ErrSessionStateInvalid)
	_, err = h.End()
	assert.ErrorIs(t, err, ErrSessionStateInvalid)
	h.Release()

	f.llm.set(func(s *scriptedLLM) { s.block = nil; s.fail = nil })
	close(block)
	assert.ErrorIs(t, <-done, llm.ErrAgentUnavailable)

	// The rollback found the history it appended to and the session is intact.
	h = f.acquire(t, id)
	history := h.History()
	stats := h.Stats()
	state := h.State()
	h.Release()
	assert.Len(t, history, 1)
	assert.Equal(t, 0, stats.AnswersGiven)
	assert.Equal(t, StateRunning, state)
	f.pipeline.Wait()
}

func TestFeedbackOrderingInvariant(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)

	h := f.acquire(t, id)
	_, err := h.Start(context.Background())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = h.SendUserMessage(context.Background(), fmt.Sprintf("answer %d", i))
		require.NoError(t, err)
	}
	h.Release()

	// Drain the graders first so their merges cannot race the manual ones.
	f.pipeline.Wait()
	h = f.acquire(t, id)

	// Merge out of order; the log must come back in index order.
	userIndexes := []int{5, 1, 3}
	for _, idx := range userIndexes {
		require.NoError(t, h.MergeFeedback(models.FeedbackEntry{
			TurnIndex: idx, Question: "q", Answer: "a", Feedback: "fine",
		}))
	}
	feedback := h.Feedback()
	require.Len(t, feedback, 3)
	assert.Equal(t, []int{1, 3, 5}, []int{feedback[0].TurnIndex, feedback[1].TurnIndex, feedback[2].TurnIndex})

	// Re-merging an index replaces rather than duplicates.
	require.NoError(t, h.MergeFeedback(models.FeedbackEntry{
		TurnIndex: 3, Question: "q", Answer: "a", Feedback: "revised",
	}))
	feedback = h.Feedback()
	require.Len(t, feedback, 3)
	assert.Equal(t, "revised", feedback[1].Feedback)

	// An index that is not a user turn is rejected loudly.
	assert.Error(t, h.MergeFeedback(models.FeedbackEntry{TurnIndex: 0, Feedback: "bad"}))
	assert.Error(t, h.MergeFeedback(models.FeedbackEntry{TurnIndex: 99, Feedback: "bad"}))
	h.Release()
}

func TestGradingFailureRecordsErrorMarker(t *testing.T) {
	cfg := config.DefaultSessionConfig()
	cfg.GradingRetries = 1
	f := newFixtureWithConfig(t, cfg)

	// Only the coach's evaluation call fails; the interviewer commits its
	// turn, so grading fails terminally and leaves an error marker.
	f.llm.set(func(s *scriptedLLM) { s.failCoach = llm.ErrAgentUnavailable })

	id := f.createSession(t)
	h := f.acquire(t, id)
	_, err := h.Start(context.Background())
	require.NoError(t, err)
	_, err = h.SendUserMessage(context.Background(), "my answer")
	require.NoError(t, err)
	h.Release()
	f.pipeline.Wait()

	h = f.acquire(t, id)
	feedback := h.Feedback()
	h.Release()
	require.Len(t, feedback, 1)
	assert.Equal(t, 1, feedback[0].TurnIndex)
	assert.Empty(t, feedback[0].Feedback)
	assert.Contains(t, feedback[0].Err, "feedback generation failed")
}

func TestHydrationAfterRelease(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)

	h := f.acquire(t, id)
	_, err := h.Start(context.Background())
	require.NoError(t, err)
	_, err = h.SendUserMessage(context.Background(), "answer")
	require.NoError(t, err)
	h.Release()
	f.pipeline.Wait()

	require.NoError(t, f.registry.Release(context.Background(), id))
	assert.Equal(t, 0, f.registry.Count())

	h = f.acquire(t, id)
	history := h.History()
	state := h.State()
	h.Release()
	assert.Len(t, history, 3)
	assert.Equal(t, StateRunning, state)
	assert.Equal(t, 1, f.registry.Count())
}

func TestConcurrentAcquireHydratesOnce(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)
	require.NoError(t, f.registry.Release(context.Background(), id))

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := f.registry.Acquire(context.Background(), id)
			if err == nil {
				h.Release()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, f.registry.Count())
}

func TestAcquireUnknownSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Acquire(context.Background(), "no-such-session")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCleanupMarksAbandonedAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)

	h := f.acquire(t, id)
	_, err := h.Start(context.Background())
	require.NoError(t, err)
	h.Release()

	require.NoError(t, f.registry.Cleanup(context.Background(), id))
	require.NoError(t, f.registry.Cleanup(context.Background(), id))

	sess, err := f.store.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAbandoned, sess.Status)

	// Further sends on the abandoned session time out.
	h = f.acquire(t, id)
	_, err = h.SendUserMessage(context.Background(), "anyone there?")
	h.Release()
	assert.ErrorIs(t, err, ErrSessionTimeout)

	// Ping on the abandoned session times out as well.
	h = f.acquire(t, id)
	_, err = h.Ping()
	h.Release()
	assert.ErrorIs(t, err, ErrSessionTimeout)
}

func TestCleanupUnknownSessionSucceeds(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.registry.Cleanup(context.Background(), "gone"))
}

func TestResetThenStartMatchesFreshSession(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)

	h := f.acquire(t, id)
	_, err := h.Start(context.Background())
	require.NoError(t, err)
	_, err = h.SendUserMessage(context.Background(), "answer")
	require.NoError(t, err)
	h.Release()
	f.pipeline.Wait()

	h = f.acquire(t, id)
	require.NoError(t, h.Reset())
	assert.Empty(t, h.History())
	assert.Empty(t, h.Feedback())
	stats := h.Stats()
	assert.Zero(t, stats.QuestionsAsked)
	assert.Zero(t, stats.AnswersGiven)
	assert.Zero(t, stats.LLMCalls)
	assert.Zero(t, stats.TotalAnswerLatency)
	assert.True(t, stats.StartedAt.IsZero())
	// Reset counts as session activity, so LastActivity is refreshed, not cleared.
	assert.False(t, stats.LastActivity.IsZero())
	assert.Equal(t, StateConfigured, h.State())
	assert.Equal(t, models.SummaryNotStarted, h.SummaryStatus().Status)

	turn, err := h.Start(context.Background())
	require.NoError(t, err)
	h.Release()
	assert.Equal(t, models.RoleAssistant, turn.Role)
	assert.Equal(t, models.AgentInterviewer, turn.Agent)
	assert.Equal(t, models.ResponseIntroduction, turn.ResponseType)
}

func TestPingExtendsIdleBudget(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)

	h := f.acquire(t, id)
	remaining, err := h.Ping()
	h.Release()
	require.NoError(t, err)
	assert.InDelta(t, (15 * time.Minute).Seconds(), remaining.Seconds(), 1)
}

func TestQuestionCountTermination(t *testing.T) {
	f := newFixture(t)
	id, err := f.registry.Create(context.Background(), models.SessionConfig{
		JobRole:             "Software Engineer",
		UseTimeBased:        false,
		TargetQuestionCount: 2,
	}, "")
	require.NoError(t, err)

	h := f.acquire(t, id)
	_, err = h.Start(context.Background())
	require.NoError(t, err)

	res, err := h.SendUserMessage(context.Background(), "first answer")
	require.NoError(t, err)
	assert.False(t, res.Completed)

	res, err = h.SendUserMessage(context.Background(), "second answer")
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, models.ResponseClosing, res.Turn.ResponseType)
	assert.Equal(t, StateCompleted, h.State())
	h.Release()
	f.pipeline.Wait()
}

func TestSnapshotPersistedAfterTransition(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)

	h := f.acquire(t, id)
	_, err := h.Start(context.Background())
	require.NoError(t, err)
	h.Release()
	f.pipeline.Wait()

	// The async flusher coalesces; wait for the write to land.
	require.Eventually(t, func() bool {
		conv, err := f.store.GetConversation(context.Background(), id)
		return err == nil && len(conv.History) == 1
	}, 2*time.Second, 10*time.Millisecond)

	sess, err := f.store.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, sess.Status)
	assert.Equal(t, 1, sess.Stats.QuestionsAsked)
}
