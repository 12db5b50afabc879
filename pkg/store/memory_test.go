package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/models"
)

func testSession(id string) *models.Session {
	cfg := models.DefaultSessionConfig()
	cfg.JobRole = "Software Engineer"
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.Session{
		ID:        id,
		Status:    models.StatusActive,
		Config:    cfg,
		Stats:     models.SessionStats{StartedAt: now, LastActivity: now},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemorySessionRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	s := testSession("s-1")
	require.NoError(t, m.PutSession(ctx, s))

	got, err := m.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, s.Config.JobRole, got.Config.JobRole)
	assert.Equal(t, models.StatusActive, got.Status)

	// Mutating the returned copy must not touch stored state.
	got.Status = models.StatusAbandoned
	again, err := m.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, again.Status)
}

func TestMemorySnapshotWritesAllRecords(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	s := testSession("s-2")
	snap := &Snapshot{
		Session: s,
		Conversation: &models.Conversation{
			SessionID: "s-2",
			History: []models.Turn{
				{Role: models.RoleAssistant, Agent: models.AgentInterviewer, Content: "Welcome", ResponseType: models.ResponseIntroduction},
			},
		},
		Summary: &models.SummaryRecord{SessionID: "s-2", Status: models.SummaryGenerating},
	}
	require.NoError(t, m.PutSnapshot(ctx, snap))

	conv, err := m.GetConversation(ctx, "s-2")
	require.NoError(t, err)
	require.Len(t, conv.History, 1)
	assert.Equal(t, models.ResponseIntroduction, conv.History[0].ResponseType)

	sum, err := m.GetSummary(ctx, "s-2")
	require.NoError(t, err)
	assert.Equal(t, models.SummaryGenerating, sum.Status)
}

func TestMemoryTasks(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	task := &models.SpeechTask{
		ID:        "t-1",
		SessionID: "s-3",
		Type:      models.TaskBatchTranscription,
		Status:    models.TaskProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, m.PutTask(ctx, task))

	task.Status = models.TaskCompleted
	require.NoError(t, m.PutTask(ctx, task))

	got, err := m.GetTask(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, got.Status)

	list, err := m.ListTasks(ctx, "s-3")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = m.ListTasks(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, list)
}
