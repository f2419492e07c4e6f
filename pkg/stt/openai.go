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
	openAIBaseURL  = "https://api.openai.com/v1"
	providerOpenAI = "openai"
)

// OpenAI transcription model IDs.
const (
	// ModelWhisper1 is the hosted Whisper model.
	ModelWhisper1 = "whisper-1"

	// ModelTranscribe is the gpt-4o-based transcription model.
	ModelTranscribe = "gpt-4o-transcribe"
)

// OpenAI implements Transcriber for OpenAI audio transcription.
type OpenAI struct {
	config  *Config
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

// NewOpenAI creates a new OpenAI transcriber.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.ModelID = ModelWhisper1
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAIBaseURL
	}

	return &OpenAI{
		config:  cfg,
		client:  httpc.NewClient(cfg.Timeout),
		logger:  cfg.Logger.With("component", "stt.openai"),
		baseURL: baseURL,
	}, nil
}

// Transcribe sends the audio to the transcriptions endpoint.
func (o *OpenAI) Transcribe(ctx context.Context, audio []byte, mimeType string) (*Result, error) {
	if len(audio) == 0 {
		return nil, WrapError(providerOpenAI, ErrNoAudio)
	}
	start := time.Now()

	payload, contentType, err := multipartBody(audio, "audio."+extensionForMIME(mimeType), map[string]string{
		"model":    o.config.ModelID,
		"language": o.config.Language,
	})
	if err != nil {
		return nil, WrapError(providerOpenAI, fmt.Errorf("build form: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/audio/transcriptions", bytes.NewReader(payload))
	if err != nil {
		return nil, WrapError(providerOpenAI, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+o.config.APIKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := doWithRetry(ctx, o.client, req, payload, o.config, providerOpenAI)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp, providerOpenAI)
	}

	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, WrapError(providerOpenAI, fmt.Errorf("decode response: %w", err))
	}

	latency := measure(start)
	text := strings.TrimSpace(body.Text)
	o.logger.Debug("transcribed audio",
		"bytes", len(audio),
		"chars", len(text),
		"latency_ms", latency,
		"model", o.config.ModelID,
	)

	return &Result{
		Text:      text,
		Language:  o.config.Language,
		LatencyMs: latency,
	}, nil
}

// Health checks API connectivity and API key validity.
func (o *OpenAI) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/models", nil)
	if err != nil {
		return WrapError(providerOpenAI, err)
	}
	req.Header.Set("Authorization", "Bearer "+o.config.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return WrapError(providerOpenAI, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseAPIError(resp, providerOpenAI)
	}
	return nil
}

// Close releases resources held by the provider.
func (o *OpenAI) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

// Verify OpenAI implements Transcriber at compile time.
var _ Transcriber = (*OpenAI)(nil)
