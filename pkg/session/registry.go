package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/activity"
	"github.com/parleyhq/parley/pkg/agent"
	"github.com/parleyhq/parley/pkg/llm"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/observe"
	"github.com/parleyhq/parley/pkg/search"
	"github.com/parleyhq/parley/pkg/store"
)

const flushTimeout = 10 * time.Second

type sessionEntry struct {
	orc   *Orchestrator
	coach *agent.Coach

	// flushMu guards the async-flush state below, never the session state.
	flushMu  sync.Mutex
	pending  *store.Snapshot
	flushing bool
	dirty    bool
}

// Registry maps session ids to live orchestrators, mediating all access.
// The registry mutex guards only the map; session work runs under each
// session's own mutex via handles.
type Registry struct {
	store   store.Store
	clock   *activity.Clock
	metrics *observe.Metrics
	logger  *slog.Logger

	llmClient    llm.Client
	searchClient search.Client
	pipeline     *Pipeline
	now          func() time.Time

	mu      sync.Mutex
	entries map[string]*sessionEntry
}

// NewRegistry creates an empty registry. AttachPipeline must be called
// before any interview turn is processed.
func NewRegistry(st store.Store, clock *activity.Clock, metrics *observe.Metrics, llmClient llm.Client, searchClient search.Client) *Registry {
	return &Registry{
		store:        st,
		clock:        clock,
		metrics:      metrics,
		logger:       slog.Default().With("component", "session_registry"),
		llmClient:    llmClient,
		searchClient: searchClient,
		now:          time.Now,
		entries:      make(map[string]*sessionEntry),
	}
}

// AttachPipeline wires the coach pipeline. The pipeline needs the registry
// for merges, so it is attached after construction.
func (r *Registry) AttachPipeline(p *Pipeline) { r.pipeline = p }

// Create allocates a session, publishes it, and writes the initial
// snapshot. On a store failure no session id is leaked.
func (r *Registry) Create(ctx context.Context, cfg models.SessionConfig, userID string) (string, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	e := r.newEntry(id, userID, cfg)

	if err := r.store.PutSnapshot(ctx, e.orc.Snapshot()); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistenceDegraded, err)
	}

	r.mu.Lock()
	r.entries[id] = e
	r.mu.Unlock()

	r.clock.Track(id, r.now())
	r.metrics.ActiveSessions.Add(ctx, 1)
	r.logger.Info("Session created", "session_id", id, "job_role", cfg.JobRole, "time_based", cfg.UseTimeBased)
	return id, nil
}

// Acquire resolves a live orchestrator, hydrating from the store if needed,
// and returns a handle with the session lock held. Hydration is idempotent
// under concurrent acquires: the loser adopts the winner's entry.
func (r *Registry) Acquire(ctx context.Context, id string) (*Handle, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()

	if !ok {
		hydrated, err := r.hydrate(ctx, id)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if winner, exists := r.entries[id]; exists {
			e = winner
		} else {
			r.entries[id] = hydrated
			e = hydrated
		}
		r.mu.Unlock()

		if e == hydrated {
			r.metrics.ActiveSessions.Add(ctx, 1)
		}
	}

	e.orc.mu.Lock()
	return &Handle{r: r, e: e}, nil
}

// hydrate loads a session's records and rebuilds its orchestrator. Runs
// without any registry lock held.
func (r *Registry) hydrate(ctx context.Context, id string) (*sessionEntry, error) {
	sess, err := r.store.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceDegraded, err)
	}

	conv, err := r.store.GetConversation(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceDegraded, err)
	}
	sum, err := r.store.GetSummary(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceDegraded, err)
	}

	iv := agent.NewInterviewer(r.llmClient, sess.Config)
	e := &sessionEntry{
		orc:   hydrateOrchestrator(sess, conv, sum, iv, r.now),
		coach: agent.NewCoach(r.llmClient, r.searchClient, sess.Config),
	}

	// The idle clock resumes from the persisted last activity so hydration
	// by a read never grants a fresh idle budget.
	if sess.Status == models.StatusActive {
		last := sess.Stats.LastActivity
		if last.IsZero() {
			last = sess.UpdatedAt
		}
		r.clock.Track(id, last)
	}
	r.logger.Info("Session hydrated", "session_id", id, "status", sess.Status)
	return e, nil
}

func (r *Registry) newEntry(id, userID string, cfg models.SessionConfig) *sessionEntry {
	return &sessionEntry{
		orc:   newOrchestrator(id, userID, cfg, agent.NewInterviewer(r.llmClient, cfg), r.now),
		coach: agent.NewCoach(r.llmClient, r.searchClient, cfg),
	}
}

// Release flushes current state and evicts the session from memory.
// Subsequent acquires re-hydrate. A failed flush keeps the entry, marked
// dirty for retry.
func (r *Registry) Release(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	e.orc.mu.Lock()
	snap := e.orc.Snapshot()
	e.orc.mu.Unlock()

	if err := r.store.PutSnapshot(ctx, snap); err != nil {
		e.flushMu.Lock()
		e.dirty = true
		e.flushMu.Unlock()
		r.logger.Error("Flush on release failed, session retained dirty", "session_id", id, "error", err)
		return fmt.Errorf("%w: %v", ErrPersistenceDegraded, err)
	}

	r.evict(ctx, id, e)
	return nil
}

// Cleanup releases a session, first marking it abandoned if still active.
// Idempotent: cleaning up an unknown or already-terminal session succeeds.
func (r *Registry) Cleanup(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()

	if !ok {
		var err error
		e, err = r.hydrate(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			r.clock.Forget(id)
			return nil
		}
		if err != nil {
			return err
		}
		// Not published: a terminal record needs no further writes.
		e.orc.mu.Lock()
		changed := e.orc.MarkAbandoned()
		snap := e.orc.Snapshot()
		e.orc.mu.Unlock()
		r.clock.Forget(id)
		if !changed {
			return nil
		}
		if err := r.store.PutSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("%w: %v", ErrPersistenceDegraded, err)
		}
		r.logger.Info("Session abandoned", "session_id", id)
		return nil
	}

	e.orc.mu.Lock()
	changed := e.orc.MarkAbandoned()
	snap := e.orc.Snapshot()
	e.orc.mu.Unlock()

	if changed {
		r.logger.Info("Session abandoned", "session_id", id)
	}
	if err := r.store.PutSnapshot(ctx, snap); err != nil {
		e.flushMu.Lock()
		e.dirty = true
		e.flushMu.Unlock()
		return fmt.Errorf("%w: %v", ErrPersistenceDegraded, err)
	}
	r.evict(ctx, id, e)
	return nil
}

func (r *Registry) evict(ctx context.Context, id string, e *sessionEntry) {
	r.mu.Lock()
	if r.entries[id] == e {
		delete(r.entries, id)
		r.metrics.ActiveSessions.Add(ctx, -1)
	}
	r.mu.Unlock()
	r.clock.Forget(id)
}

// Count reports the number of live sessions, for health reporting.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// LiveIDs lists live session ids; the sweeper cross-checks its clock
// snapshot against this.
func (r *Registry) LiveIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// FlushAll synchronously persists every live session. Used during shutdown.
func (r *Registry) FlushAll(ctx context.Context) {
	r.mu.Lock()
	entries := make(map[string]*sessionEntry, len(r.entries))
	for id, e := range r.entries {
		entries[id] = e
	}
	r.mu.Unlock()

	for id, e := range entries {
		e.orc.mu.Lock()
		snap := e.orc.Snapshot()
		e.orc.mu.Unlock()
		if err := r.store.PutSnapshot(ctx, snap); err != nil {
			r.logger.Error("Flush failed during shutdown", "session_id", id, "error", err)
		}
	}
}

// scheduleFlush records the latest snapshot and ensures a single flusher
// goroutine is draining it. Rapid transitions coalesce: only the newest
// snapshot is written.
func (r *Registry) scheduleFlush(e *sessionEntry, snap *store.Snapshot) {
	e.flushMu.Lock()
	e.pending = snap
	if e.flushing {
		e.flushMu.Unlock()
		return
	}
	e.flushing = true
	e.flushMu.Unlock()

	go r.flushLoop(e)
}

func (r *Registry) flushLoop(e *sessionEntry) {
	for {
		e.flushMu.Lock()
		snap := e.pending
		e.pending = nil
		if snap == nil {
			e.flushing = false
			e.flushMu.Unlock()
			return
		}
		e.flushMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		err := r.store.PutSnapshot(ctx, snap)
		cancel()

		if err != nil {
			r.logger.Error("Snapshot flush failed, session marked dirty",
				"session_id", snap.Session.ID, "error", err)
			e.flushMu.Lock()
			e.dirty = true
			if e.pending == nil {
				e.pending = snap // retried at the next flush opportunity
			}
			e.flushing = false
			e.flushMu.Unlock()
			return
		}

		e.flushMu.Lock()
		e.dirty = false
		e.flushMu.Unlock()
	}
}
