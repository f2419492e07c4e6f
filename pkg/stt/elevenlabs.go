package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/voiceloop/voicebridge/internal/httpc"
)

const (
	elevenLabsBaseURL  = "https://api.elevenlabs.io/v1"
	providerElevenLabs = "elevenlabs"
)

// ModelScribeV1 is the ElevenLabs speech-to-text model.
const ModelScribeV1 = "scribe_v1"

// ElevenLabs implements Transcriber for ElevenLabs speech-to-text.
type ElevenLabs struct {
	config  *Config
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

// NewElevenLabs creates a new ElevenLabs transcriber.
func NewElevenLabs(opts ...Option) (*ElevenLabs, error) {
	cfg := DefaultConfig()
	cfg.ModelID = ModelScribeV1
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = elevenLabsBaseURL
	}

	return &ElevenLabs{
		config:  cfg,
		client:  httpc.NewClient(cfg.Timeout),
		logger:  cfg.Logger.With("component", "stt.elevenlabs"),
		baseURL: baseURL,
	}, nil
}

// Transcribe sends the audio to the speech-to-text endpoint.
func (e *ElevenLabs) Transcribe(ctx context.Context, audio []byte, mimeType string) (*Result, error) {
	if len(audio) == 0 {
		return nil, WrapError(providerElevenLabs, ErrNoAudio)
	}
	start := time.Now()

	payload, contentType, err := multipartBody(audio, "audio."+extensionForMIME(mimeType), map[string]string{
		"model_id":      e.config.ModelID,
		"language_code": e.config.Language,
	})
	if err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("build form: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/speech-to-text", bytes.NewReader(payload))
	if err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("xi-api-key", e.config.APIKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := doWithRetry(ctx, e.client, req, payload, e.config, providerElevenLabs)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp, providerElevenLabs)
	}

	var body struct {
		Text         string `json:"text"`
		LanguageCode string `json:"language_code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("decode response: %w", err))
	}

	latency := measure(start)
	text := strings.TrimSpace(body.Text)
	e.logger.Debug("transcribed audio",
		"bytes", len(audio),
		"chars", len(text),
		"latency_ms", latency,
	)

	return &Result{
		Text:      text,
		Language:  body.LanguageCode,
		LatencyMs: latency,
	}, nil
}

// Health checks API connectivity and API key validity.
func (e *ElevenLabs) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/user", nil)
	if err != nil {
		return WrapError(providerElevenLabs, err)
	}
	req.Header.Set("xi-api-key", e.config.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return WrapError(providerElevenLabs, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseAPIError(resp, providerElevenLabs)
	}
	return nil
}

// Close releases resources held by the provider.
func (e *ElevenLabs) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

// measure returns elapsed milliseconds since start.
func measure(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

// Verify ElevenLabs implements Transcriber at compile time.
var _ Transcriber = (*ElevenLabs)(nil)
