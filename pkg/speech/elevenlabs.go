package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/observe"
	"github.com/parleyhq/parley/pkg/ratelimit"
)

// Synthesizer produces audio from text via the ElevenLabs HTTP API, capped
// by the synthesis slot of the fabric.
type Synthesizer struct {
	cfg        config.ElevenLabsConfig
	fabric     *ratelimit.Fabric
	metrics    *observe.Metrics
	httpClient *http.Client
}

// NewSynthesizer creates the ElevenLabs-backed synthesizer.
func NewSynthesizer(cfg config.ElevenLabsConfig, fabric *ratelimit.Fabric, metrics *observe.Metrics) *Synthesizer {
	return &Synthesizer{
		cfg:        cfg,
		fabric:     fabric,
		metrics:    metrics,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type synthesisRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type voiceSettings struct {
	Speed float64 `json:"speed,omitempty"`
}

// Synthesize returns encoded audio for the given text. An empty voiceID
// uses the configured default voice; speed 0 keeps the provider default.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voiceID string, speed float64) ([]byte, string, error) {
	if err := s.fabric.Acquire(ctx, config.ProviderSynthesis); err != nil {
		return nil, "", err
	}
	defer s.fabric.Release(config.ProviderSynthesis)

	if voiceID == "" {
		voiceID = s.cfg.VoiceID
	}

	payload := synthesisRequest{Text: text, ModelID: s.cfg.ModelID}
	if speed > 0 {
		payload.VoiceSettings = &voiceSettings{Speed: speed}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", err
	}

	endpoint := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s",
		s.cfg.BaseURL, url.PathEscape(voiceID), url.QueryEscape(s.cfg.OutputFormat))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("xi-api-key", s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.metrics.RecordProviderError(ctx, "elevenlabs", "synthesis")
		return nil, "", fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		s.metrics.RecordProviderError(ctx, "elevenlabs", "synthesis")
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "", fmt.Errorf("elevenlabs returned %d: %s", resp.StatusCode, detail)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read synthesized audio: %w", err)
	}

	s.metrics.RecordProviderRequest(ctx, "elevenlabs", "synthesis", "ok")
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return audio, contentType, nil
}
