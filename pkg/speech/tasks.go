// Package speech implements the speech pipelines: batch transcription,
// synthesis, and the streaming transcription coordinator, plus the speech
// task records that track them.
package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/store"
)

// TaskService manages speech task records. Tasks survive the request that
// created them; status endpoints read them back by id.
type TaskService struct {
	store store.Store
	now   func() time.Time
}

// NewTaskService creates a task service over the given store.
func NewTaskService(st store.Store) *TaskService {
	return &TaskService{store: st, now: time.Now}
}

// Create inserts a new task in processing state and returns it.
func (s *TaskService) Create(ctx context.Context, sessionID string, taskType models.SpeechTaskType) (*models.SpeechTask, error) {
	now := s.now()
	task := &models.SpeechTask{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      taskType,
		Status:    models.TaskProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.PutTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create speech task: %w", err)
	}
	return task, nil
}

// Progress updates the task's opaque progress blob.
func (s *TaskService) Progress(ctx context.Context, id string, progress any) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to encode task progress: %w", err)
	}
	task.Progress = raw
	task.UpdatedAt = s.now()
	return s.store.PutTask(ctx, task)
}

// Complete finalizes the task with its result blob.
func (s *TaskService) Complete(ctx context.Context, id string, result any) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode task result: %w", err)
	}
	task.Status = models.TaskCompleted
	task.Result = raw
	task.ErrorMessage = ""
	task.UpdatedAt = s.now()
	return s.store.PutTask(ctx, task)
}

// Fail finalizes the task with an error message.
func (s *TaskService) Fail(ctx context.Context, id string, msg string) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	task.Status = models.TaskError
	task.ErrorMessage = msg
	task.UpdatedAt = s.now()
	return s.store.PutTask(ctx, task)
}

// Get returns the task by id.
func (s *TaskService) Get(ctx context.Context, id string) (*models.SpeechTask, error) {
	return s.store.GetTask(ctx, id)
}

// List returns a session's tasks.
func (s *TaskService) List(ctx context.Context, sessionID string) ([]*models.SpeechTask, error) {
	return s.store.ListTasks(ctx, sessionID)
}
