package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/parleyhq/parley/pkg/models"
)

// Memory is an in-process Store used by tests and local development. Values
// are deep-copied on the way in and out so callers cannot alias internal
// state.
type Memory struct {
	mu            sync.RWMutex
	sessions      map[string]*models.Session
	conversations map[string]*models.Conversation
	summaries     map[string]*models.SummaryRecord
	tasks         map[string]*models.SpeechTask
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions:      make(map[string]*models.Session),
		conversations: make(map[string]*models.Conversation),
		summaries:     make(map[string]*models.SummaryRecord),
		tasks:         make(map[string]*models.SpeechTask),
	}
}

func deepCopy[T any](src *T) *T {
	if src == nil {
		return nil
	}
	data, err := json.Marshal(src)
	if err != nil {
		panic("store: value not serializable: " + err.Error())
	}
	dst := new(T)
	if err := json.Unmarshal(data, dst); err != nil {
		panic("store: value not deserializable: " + err.Error())
	}
	return dst
}

func (m *Memory) PutSession(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = deepCopy(s)
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return deepCopy(s), nil
}

func (m *Memory) PutConversation(_ context.Context, c *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[c.SessionID] = deepCopy(c)
	return nil
}

func (m *Memory) GetConversation(_ context.Context, sessionID string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return deepCopy(c), nil
}

func (m *Memory) PutSummary(_ context.Context, r *models.SummaryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[r.SessionID] = deepCopy(r)
	return nil
}

func (m *Memory) GetSummary(_ context.Context, sessionID string) (*models.SummaryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.summaries[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return deepCopy(r), nil
}

func (m *Memory) PutSnapshot(_ context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.Session != nil {
		m.sessions[snap.Session.ID] = deepCopy(snap.Session)
	}
	if snap.Conversation != nil {
		m.conversations[snap.Conversation.SessionID] = deepCopy(snap.Conversation)
	}
	if snap.Summary != nil {
		m.summaries[snap.Summary.SessionID] = deepCopy(snap.Summary)
	}
	return nil
}

func (m *Memory) PutTask(_ context.Context, t *models.SpeechTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = deepCopy(t)
	return nil
}

func (m *Memory) GetTask(_ context.Context, id string) (*models.SpeechTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return deepCopy(t), nil
}

func (m *Memory) ListTasks(_ context.Context, sessionID string) ([]*models.SpeechTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.SpeechTask
	for _, t := range m.tasks {
		if t.SessionID == sessionID {
			out = append(out, deepCopy(t))
		}
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
