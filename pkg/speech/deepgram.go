package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/parleyhq/parley/pkg/config"
)

const keepAliveInterval = 5 * time.Second

// Provider opens live transcription streams. The coordinator depends on
// this interface; tests substitute a fake.
type Provider interface {
	Dial(ctx context.Context) (ProviderStream, error)
}

// ProviderStream is one live transcription connection.
type ProviderStream interface {
	// Events delivers translated events until the stream closes.
	Events() <-chan Event

	// SendAudio forwards one opaque audio frame.
	SendAudio(ctx context.Context, frame []byte) error

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Deepgram dials the Deepgram live transcription WebSocket.
type Deepgram struct {
	cfg    config.DeepgramConfig
	logger *slog.Logger

	interimResults bool
	utteranceEndMS int
}

// DeepgramOption adjusts stream parameters.
type DeepgramOption func(*Deepgram)

// WithInterimResults toggles partial transcripts. Defaults to on.
func WithInterimResults(enabled bool) DeepgramOption {
	return func(d *Deepgram) { d.interimResults = enabled }
}

// WithUtteranceEnd sets the silence window (ms) after which the provider
// emits utterance-end events.
func WithUtteranceEnd(ms int) DeepgramOption {
	return func(d *Deepgram) { d.utteranceEndMS = ms }
}

// NewDeepgram creates the provider client.
func NewDeepgram(cfg config.DeepgramConfig, opts ...DeepgramOption) *Deepgram {
	d := &Deepgram{
		cfg:            cfg,
		logger:         slog.Default().With("component", "deepgram"),
		interimResults: true,
		utteranceEndMS: 1000,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial opens the live connection and starts the read and keep-alive pumps.
func (d *Deepgram) Dial(ctx context.Context) (ProviderStream, error) {
	u, err := url.Parse(d.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid deepgram url: %w", err)
	}
	q := u.Query()
	q.Set("model", d.cfg.Model)
	q.Set("language", d.cfg.Language)
	q.Set("sample_rate", strconv.Itoa(d.cfg.SampleRate))
	q.Set("encoding", "linear16")
	q.Set("channels", "1")
	q.Set("smart_format", "true")
	q.Set("vad_events", "true")
	q.Set("interim_results", strconv.FormatBool(d.interimResults))
	if d.utteranceEndMS > 0 {
		q.Set("utterance_end_ms", strconv.Itoa(d.utteranceEndMS))
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Token "+d.cfg.APIKey)

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("deepgram dial failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	conn.SetReadLimit(1 << 20)

	streamCtx, cancel := context.WithCancel(context.Background())
	s := &deepgramStream{
		conn:   conn,
		logger: d.logger,
		events: make(chan Event, 16),
		cancel: cancel,
	}
	go s.readPump(streamCtx)
	go s.keepAlive(streamCtx)
	return s, nil
}

type deepgramStream struct {
	conn   *websocket.Conn
	logger *slog.Logger
	events chan Event
	cancel context.CancelFunc

	closeOnce sync.Once
	writeMu   sync.Mutex
}

func (s *deepgramStream) Events() <-chan Event { return s.events }

func (s *deepgramStream) SendAudio(ctx context.Context, frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(ctx, websocket.MessageBinary, frame)
}

// Close signals end of audio, then closes the socket. Idempotent.
func (s *deepgramStream) Close() error {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		s.writeMu.Lock()
		_ = s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.writeMu.Unlock()
		cancel()

		s.cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "done")
	})
	return nil
}

// deepgramMessage covers the provider message shapes the coordinator
// translates.
type deepgramMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
	Timestamp   float64 `json:"timestamp"`
	LastWordEnd float64 `json:"last_word_end"`
}

func (s *deepgramStream) readPump(ctx context.Context) {
	defer close(s.events)
	for {
		msgType, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.emit(ctx, Event{Type: EventError, Message: "provider connection lost"})
				s.logger.Warn("Deepgram read failed", "error", err)
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		var msg deepgramMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("Unparseable provider message", "error", err)
			continue
		}

		switch msg.Type {
		case "Results":
			if len(msg.Channel.Alternatives) == 0 {
				continue
			}
			text := msg.Channel.Alternatives[0].Transcript
			if text == "" {
				continue
			}
			s.emit(ctx, Event{Type: EventTranscript, Text: text, IsFinal: msg.IsFinal})
		case "SpeechStarted":
			s.emit(ctx, Event{Type: EventSpeechStarted, Timestamp: msg.Timestamp})
		case "UtteranceEnd":
			s.emit(ctx, Event{Type: EventUtteranceEnd, LastSpokenAt: msg.LastWordEnd})
		}
	}
}

func (s *deepgramStream) emit(ctx context.Context, e Event) {
	select {
	case s.events <- e:
	case <-ctx.Done():
	}
}

// keepAlive keeps the provider connection open during audio gaps.
func (s *deepgramStream) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"KeepAlive"}`))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
