package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/observe"
	"github.com/parleyhq/parley/pkg/ratelimit"
)

// EventType tags outbound streaming transcription events.
type EventType string

const (
	EventConnected     EventType = "connected"
	EventTranscript    EventType = "transcript"
	EventSpeechStarted EventType = "speech_started"
	EventUtteranceEnd  EventType = "utterance_end"
	EventError         EventType = "error"
)

// Event is one outbound streaming event. Consumers branch on Type; the
// remaining fields are populated per type.
type Event struct {
	Type         EventType `json:"type"`
	Text         string    `json:"text,omitempty"`
	IsFinal      bool      `json:"is_final,omitempty"`
	Timestamp    float64   `json:"timestamp,omitempty"`
	LastSpokenAt float64   `json:"last_spoken_at,omitempty"`
	Message      string    `json:"message,omitempty"`
}

// ClientConn is the consumer side of a streaming session: inbound opaque
// audio frames, outbound events. The API layer adapts a WebSocket to it.
type ClientConn interface {
	// ReadAudio returns the next audio frame, or io.EOF when the client is
	// done sending.
	ReadAudio(ctx context.Context) ([]byte, error)

	// SendEvent delivers one event to the client.
	SendEvent(ctx context.Context, e Event) error
}

// Coordinator drives streaming transcription sessions under the streaming
// concurrency cap.
type Coordinator struct {
	provider Provider
	fabric   *ratelimit.Fabric
	tasks    *TaskService
	metrics  *observe.Metrics
	logger   *slog.Logger
}

// NewCoordinator creates the streaming coordinator.
func NewCoordinator(provider Provider, fabric *ratelimit.Fabric, tasks *TaskService, metrics *observe.Metrics) *Coordinator {
	return &Coordinator{
		provider: provider,
		fabric:   fabric,
		tasks:    tasks,
		metrics:  metrics,
		logger:   slog.Default().With("component", "stream_coordinator"),
	}
}

// Run owns one streaming session end to end: slot acquisition, provider
// dial, both pumps, and teardown. The semaphore slot is released exactly
// once on every exit path. Returns when the stream has fully shut down.
func (c *Coordinator) Run(ctx context.Context, client ClientConn, sessionID string) error {
	if err := c.fabric.Acquire(ctx, config.ProviderStreamingTranscription); err != nil {
		_ = client.SendEvent(ctx, Event{Type: EventError, Message: "stream capacity exhausted"})
		return err
	}
	var releaseOnce sync.Once
	release := func() {
		releaseOnce.Do(func() { c.fabric.Release(config.ProviderStreamingTranscription) })
	}
	defer release()

	task, err := c.tasks.Create(ctx, sessionID, models.TaskStreamingTranscription)
	if err != nil {
		_ = client.SendEvent(ctx, Event{Type: EventError, Message: "failed to register stream"})
		return err
	}

	stream, err := c.provider.Dial(ctx)
	if err != nil {
		_ = client.SendEvent(ctx, Event{Type: EventError, Message: "transcription provider unavailable"})
		c.finalize(task.ID, "", err)
		return err
	}

	c.metrics.ActiveStreams.Add(ctx, 1)
	defer c.metrics.ActiveStreams.Add(ctx, -1)
	c.logger.Info("Stream opened", "task_id", task.ID, "session_id", sessionID)

	if err := client.SendEvent(ctx, Event{Type: EventConnected}); err != nil {
		stream.Close()
		c.finalize(task.ID, "", err)
		return err
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Audio pump: client frames to the provider.
	audioErr := make(chan error, 1)
	go func() {
		audioErr <- c.pumpAudio(pumpCtx, client, stream)
	}()

	// Event pump: provider events to the client, collecting the final
	// transcript for the task record.
	transcript, eventErr := c.pumpEvents(pumpCtx, client, stream)

	// Teardown order: stop forwarding, close the provider, release the
	// slot, finalize the task record.
	cancel()
	stream.Close()
	aErr := <-audioErr
	release()

	err = eventErr
	if err == nil {
		err = aErr
	}
	c.finalize(task.ID, transcript, err)
	c.logger.Info("Stream closed", "task_id", task.ID, "error", err)
	return err
}

// pumpAudio forwards client audio until EOF, cancellation, or a write
// failure. On EOF it closes the provider's audio side so final transcripts
// flush.
func (c *Coordinator) pumpAudio(ctx context.Context, client ClientConn, stream ProviderStream) error {
	for {
		frame, err := client.ReadAudio(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				stream.Close()
				return nil
			}
			stream.Close()
			return fmt.Errorf("client audio read failed: %w", err)
		}
		if len(frame) == 0 {
			continue
		}
		if err := stream.SendAudio(ctx, frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("provider audio write failed: %w", err)
		}
	}
}

// pumpEvents relays provider events until the provider stream ends or the
// client stops accepting. Returns the accumulated final transcript.
func (c *Coordinator) pumpEvents(ctx context.Context, client ClientConn, stream ProviderStream) (string, error) {
	var transcript string
	for {
		select {
		case <-ctx.Done():
			return transcript, nil
		case event, ok := <-stream.Events():
			if !ok {
				return transcript, nil
			}
			if event.Type == EventTranscript && event.IsFinal {
				if transcript != "" {
					transcript += " "
				}
				transcript += event.Text
			}
			if err := client.SendEvent(ctx, event); err != nil {
				if ctx.Err() != nil {
					return transcript, nil
				}
				return transcript, fmt.Errorf("client event write failed: %w", err)
			}
			if event.Type == EventError {
				return transcript, errors.New(event.Message)
			}
		}
	}
}

// finalize records the stream outcome on the task row. Uses a fresh context
// so a cancelled stream still gets its terminal status.
func (c *Coordinator) finalize(taskID, transcript string, streamErr error) {
	ctx := context.Background()
	if streamErr != nil {
		if err := c.tasks.Fail(ctx, taskID, streamErr.Error()); err != nil {
			c.logger.Error("Failed to finalize stream task", "task_id", taskID, "error", err)
		}
		return
	}
	result := models.TranscriptionResult{Text: transcript}
	if err := c.tasks.Complete(ctx, taskID, result); err != nil {
		c.logger.Error("Failed to finalize stream task", "task_id", taskID, "error", err)
	}
}
