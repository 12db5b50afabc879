package speech

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/observe"
	"github.com/parleyhq/parley/pkg/ratelimit"
	"github.com/parleyhq/parley/pkg/store"
)

type fakeStream struct {
	events chan Event

	mu     sync.Mutex
	frames [][]byte
	closed int

	closeOnce sync.Once
}

func newFakeStream(events ...Event) *fakeStream {
	s := &fakeStream{events: make(chan Event, len(events)+1)}
	for _, e := range events {
		s.events <- e
	}
	return s
}

func (s *fakeStream) Events() <-chan Event { return s.events }

func (s *fakeStream) SendAudio(ctx context.Context, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.events) })
	return nil
}

type fakeProvider struct {
	stream  *fakeStream
	dialErr error
}

func (p *fakeProvider) Dial(ctx context.Context) (ProviderStream, error) {
	if p.dialErr != nil {
		return nil, p.dialErr
	}
	return p.stream, nil
}

type fakeClient struct {
	mu       sync.Mutex
	frames   [][]byte
	received []Event
	sendErr  error
}

func (c *fakeClient) ReadAudio(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return nil, io.EOF
	}
	frame := c.frames[0]
	c.frames = c.frames[1:]
	return frame, nil
}

func (c *fakeClient) SendEvent(ctx context.Context, e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.received = append(c.received, e)
	return nil
}

func (c *fakeClient) events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.received...)
}

func streamFabric(capacity int) *ratelimit.Fabric {
	return ratelimit.New(config.RateLimitConfig{
		Caps:           map[string]int{config.ProviderStreamingTranscription: capacity},
		AcquireTimeout: 100 * time.Millisecond,
	})
}

func newTestCoordinator(provider Provider, fabric *ratelimit.Fabric) (*Coordinator, *TaskService) {
	tasks := NewTaskService(store.NewMemory())
	return NewCoordinator(provider, fabric, tasks, observe.DefaultMetrics()), tasks
}

func activeStreamSlots(f *ratelimit.Fabric) int64 {
	return f.UsageStats()[config.ProviderStreamingTranscription].Active
}

func TestStreamHappyPath(t *testing.T) {
	stream := newFakeStream(
		Event{Type: EventSpeechStarted, Timestamp: 0.5},
		Event{Type: EventTranscript, Text: "hello", IsFinal: false},
		Event{Type: EventTranscript, Text: "hello world", IsFinal: true},
	)
	fabric := streamFabric(1)
	coord, tasks := newTestCoordinator(&fakeProvider{stream: stream}, fabric)

	client := &fakeClient{frames: [][]byte{{1, 2}, {3, 4}}}
	err := coord.Run(context.Background(), client, "sess-1")
	require.NoError(t, err)

	events := client.events()
	require.NotEmpty(t, events)
	assert.Equal(t, EventConnected, events[0].Type)

	// Audio was forwarded to the provider.
	stream.mu.Lock()
	frames := len(stream.frames)
	stream.mu.Unlock()
	assert.Equal(t, 2, frames)

	// The slot is free again and the task holds the final transcript.
	assert.Equal(t, int64(0), activeStreamSlots(fabric))

	taskList, err := tasks.List(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, taskList, 1)
	assert.Equal(t, models.TaskCompleted, taskList[0].Status)
	assert.Contains(t, string(taskList[0].Result), "hello world")
}

func TestStreamCapacityExhausted(t *testing.T) {
	fabric := streamFabric(1)
	require.True(t, fabric.TryAcquire(config.ProviderStreamingTranscription))
	defer fabric.Release(config.ProviderStreamingTranscription)

	coord, _ := newTestCoordinator(&fakeProvider{stream: newFakeStream()}, fabric)
	client := &fakeClient{}

	err := coord.Run(context.Background(), client, "")
	assert.ErrorIs(t, err, ratelimit.ErrCapacityExhausted)

	events := client.events()
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)

	// Only the pre-acquired slot remains held; the failed run did not
	// release a slot it never got.
	assert.Equal(t, int64(1), activeStreamSlots(fabric))
}

func TestStreamSlotFreedAfterEachClosurePath(t *testing.T) {
	tests := []struct {
		name  string
		setup func() (Provider, *fakeClient)
	}{
		{
			name: "provider dial failure",
			setup: func() (Provider, *fakeClient) {
				return &fakeProvider{dialErr: errors.New("dial refused")}, &fakeClient{}
			},
		},
		{
			name: "client write failure",
			setup: func() (Provider, *fakeClient) {
				return &fakeProvider{stream: newFakeStream()}, &fakeClient{sendErr: errors.New("client gone")}
			},
		},
		{
			name: "provider error event",
			setup: func() (Provider, *fakeClient) {
				return &fakeProvider{stream: newFakeStream(Event{Type: EventError, Message: "upstream reset"})}, &fakeClient{}
			},
		},
		{
			name: "normal close",
			setup: func() (Provider, *fakeClient) {
				return &fakeProvider{stream: newFakeStream()}, &fakeClient{}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fabric := streamFabric(1)
			provider, client := tt.setup()
			coord, _ := newTestCoordinator(provider, fabric)

			_ = coord.Run(context.Background(), client, "")
			assert.Equal(t, int64(0), activeStreamSlots(fabric))

			// The cap is usable again: a second run gets a slot instead of
			// timing out, proving release ran exactly once.
			coord2, _ := newTestCoordinator(&fakeProvider{stream: newFakeStream()}, fabric)
			require.NoError(t, coord2.Run(context.Background(), &fakeClient{}, ""))
			assert.Equal(t, int64(0), activeStreamSlots(fabric))
		})
	}
}

func TestStreamTaskMarkedErrorOnFailure(t *testing.T) {
	fabric := streamFabric(1)
	coord, tasks := newTestCoordinator(&fakeProvider{stream: newFakeStream(
		Event{Type: EventError, Message: "upstream reset"},
	)}, fabric)

	err := coord.Run(context.Background(), &fakeClient{}, "sess-err")
	require.Error(t, err)

	taskList, err := tasks.List(context.Background(), "sess-err")
	require.NoError(t, err)
	require.Len(t, taskList, 1)
	assert.Equal(t, models.TaskError, taskList[0].Status)
	assert.Equal(t, "upstream reset", taskList[0].ErrorMessage)
}

func TestTaskServiceLifecycle(t *testing.T) {
	tasks := NewTaskService(store.NewMemory())
	ctx := context.Background()

	task, err := tasks.Create(ctx, "sess-1", models.TaskBatchTranscription)
	require.NoError(t, err)
	assert.Equal(t, models.TaskProcessing, task.Status)

	require.NoError(t, tasks.Progress(ctx, task.ID, map[string]string{"stage": "uploading"}))
	require.NoError(t, tasks.Complete(ctx, task.ID, models.TranscriptionResult{Text: "done", Confidence: 0.97}))

	got, err := tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, got.Status)
	assert.Contains(t, string(got.Result), "done")

	_, err = tasks.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
