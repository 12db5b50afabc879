package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/observe"
	"github.com/parleyhq/parley/pkg/ratelimit"
)

// BatchTranscriber transcribes uploaded audio through AssemblyAI:
// upload, create transcript, poll until a terminal status.
type BatchTranscriber struct {
	cfg        config.AssemblyAIConfig
	fabric     *ratelimit.Fabric
	metrics    *observe.Metrics
	httpClient *http.Client
}

// NewBatchTranscriber creates the AssemblyAI-backed transcriber.
func NewBatchTranscriber(cfg config.AssemblyAIConfig, fabric *ratelimit.Fabric, metrics *observe.Metrics) *BatchTranscriber {
	return &BatchTranscriber{
		cfg:        cfg,
		fabric:     fabric,
		metrics:    metrics,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type transcriptRequest struct {
	AudioURL     string `json:"audio_url"`
	LanguageCode string `json:"language_code,omitempty"`
}

type transcriptResponse struct {
	ID         string  `json:"id"`
	Status     string  `json:"status"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	AudioDur   float64 `json:"audio_duration"`
	Error      string  `json:"error"`
	Language   string  `json:"language_code"`
}

// Transcribe runs the full upload/transcribe/poll cycle under the batch
// transcription cap. The cap is held for the whole cycle so in-flight
// provider work never exceeds the agreement.
func (t *BatchTranscriber) Transcribe(ctx context.Context, audio []byte, language string) (*TranscribeOutcome, error) {
	if err := t.fabric.Acquire(ctx, config.ProviderBatchTranscription); err != nil {
		return nil, err
	}
	defer t.fabric.Release(config.ProviderBatchTranscription)

	uploadURL, err := t.upload(ctx, audio)
	if err != nil {
		t.metrics.RecordProviderError(ctx, "assemblyai", "upload")
		return nil, err
	}

	id, err := t.createTranscript(ctx, uploadURL, language)
	if err != nil {
		t.metrics.RecordProviderError(ctx, "assemblyai", "transcript")
		return nil, err
	}

	res, err := t.poll(ctx, id)
	if err != nil {
		t.metrics.RecordProviderError(ctx, "assemblyai", "poll")
		return nil, err
	}
	t.metrics.RecordProviderRequest(ctx, "assemblyai", "batch_transcription", "ok")
	return res, nil
}

// TranscribeOutcome is the provider-level transcription result.
type TranscribeOutcome struct {
	Text       string
	Confidence float64
	Duration   float64
	Language   string
}

func (t *BatchTranscriber) upload(ctx context.Context, audio []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+"/upload", bytes.NewReader(audio))
	if err != nil {
		return "", err
	}
	req.Header.Set("authorization", t.cfg.APIKey)
	req.Header.Set("content-type", "application/octet-stream")

	var out uploadResponse
	if err := t.do(req, &out); err != nil {
		return "", fmt.Errorf("audio upload failed: %w", err)
	}
	return out.UploadURL, nil
}

func (t *BatchTranscriber) createTranscript(ctx context.Context, audioURL, language string) (string, error) {
	body, err := json.Marshal(transcriptRequest{AudioURL: audioURL, LanguageCode: language})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+"/transcript", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("authorization", t.cfg.APIKey)
	req.Header.Set("content-type", "application/json")

	var out transcriptResponse
	if err := t.do(req, &out); err != nil {
		return "", fmt.Errorf("transcript request failed: %w", err)
	}
	return out.ID, nil
}

// poll waits for the transcript to reach a terminal status, backing off
// between polls, bounded by the configured poll timeout.
func (t *BatchTranscriber) poll(ctx context.Context, id string) (*TranscribeOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.PollTimeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 0

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.BaseURL+"/transcript/"+id, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("authorization", t.cfg.APIKey)

		var out transcriptResponse
		if err := t.do(req, &out); err != nil {
			return nil, fmt.Errorf("transcript poll failed: %w", err)
		}

		switch out.Status {
		case "completed":
			return &TranscribeOutcome{
				Text:       out.Text,
				Confidence: out.Confidence,
				Duration:   out.AudioDur,
				Language:   out.Language,
			}, nil
		case "error":
			return nil, fmt.Errorf("transcription failed: %s", out.Error)
		}

		select {
		case <-time.After(bo.NextBackOff()):
		case <-ctx.Done():
			return nil, fmt.Errorf("transcription timed out: %w", ctx.Err())
		}
	}
}

func (t *BatchTranscriber) do(req *http.Request, out any) error {
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("assemblyai returned %d: %s", resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
