// Package activity tracks per-session last-activity timestamps and answers
// idle-expiry queries for the sweeper and the time-remaining endpoint.
package activity

import (
	"sync"
	"time"
)

type entry struct {
	last    time.Time
	warning bool
}

// Clock stores last-activity per session. Safe for concurrent use.
type Clock struct {
	idleBudget       time.Duration
	warningThreshold time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates a clock with the given idle budget and warning threshold.
func New(idleBudget, warningThreshold time.Duration) *Clock {
	return &Clock{
		idleBudget:       idleBudget,
		warningThreshold: warningThreshold,
		entries:          make(map[string]*entry),
	}
}

// IdleBudget returns the configured idle budget.
func (c *Clock) IdleBudget() time.Duration { return c.idleBudget }

// Track registers a session with last-activity = now. Re-tracking an
// existing session only advances the timestamp.
func (c *Clock) Track(id string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		if now.After(e.last) {
			e.last = now
			e.warning = false
		}
		return
	}
	c.entries[id] = &entry{last: now}
}

// Touch advances last-activity to now. The timestamp is monotone: an older
// now never rewinds it. Reports whether the session is tracked.
func (c *Clock) Touch(id string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return false
	}
	if now.After(e.last) {
		e.last = now
		e.warning = false
	}
	return true
}

// Remaining answers time-remaining as (last + idleBudget) - now, plus the
// warning flag set by the sweeper. ok is false for untracked sessions.
func (c *Clock) Remaining(id string, now time.Time) (remaining time.Duration, warning bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.entries[id]
	if !found {
		return 0, false, false
	}
	return e.last.Add(c.idleBudget).Sub(now), e.warning, true
}

// MarkWarning flags a session that is inside the warning window.
func (c *Clock) MarkWarning(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		e.warning = true
	}
}

// WarningThreshold returns the configured warning window.
func (c *Clock) WarningThreshold() time.Duration { return c.warningThreshold }

// Forget drops tracking for a session.
func (c *Clock) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// Snapshot returns remaining time per tracked session, for the sweeper.
func (c *Clock) Snapshot(now time.Time) map[string]time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]time.Duration, len(c.entries))
	for id, e := range c.entries {
		out[id] = e.last.Add(c.idleBudget).Sub(now)
	}
	return out
}
