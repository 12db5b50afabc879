// Package store persists session state. Three logical records exist per
// session (config+status+stats, conversation+feedback, final summary) plus a
// speech-task side table. Each write atomically replaces one record; a
// snapshot write replaces all three in one transaction.
package store

import (
	"context"
	"errors"

	"github.com/parleyhq/parley/pkg/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Snapshot is a point-in-time view of a session after a committed state
// transition. Conversation and Summary may be nil when unchanged.
type Snapshot struct {
	Session      *models.Session
	Conversation *models.Conversation
	Summary      *models.SummaryRecord
}

// Store is the persistence capability consumed by the registry and the
// speech pipelines.
type Store interface {
	// PutSession atomically replaces the config+status+stats record.
	PutSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)

	// PutConversation atomically replaces the history+feedback record.
	PutConversation(ctx context.Context, c *models.Conversation) error
	GetConversation(ctx context.Context, sessionID string) (*models.Conversation, error)

	// PutSummary atomically replaces the final-summary record.
	PutSummary(ctx context.Context, r *models.SummaryRecord) error
	GetSummary(ctx context.Context, sessionID string) (*models.SummaryRecord, error)

	// PutSnapshot writes all non-nil records of the snapshot atomically.
	PutSnapshot(ctx context.Context, snap *Snapshot) error

	// Speech-task side table.
	PutTask(ctx context.Context, t *models.SpeechTask) error
	GetTask(ctx context.Context, id string) (*models.SpeechTask, error)
	ListTasks(ctx context.Context, sessionID string) ([]*models.SpeechTask, error)

	Close() error
}
