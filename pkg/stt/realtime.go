package stt

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// realtimeURL is the OpenAI realtime endpoint in transcription mode.
const realtimeURL = "wss://api.openai.com/v1/realtime?intent=transcription"

// RealtimeSession streams microphone audio to the OpenAI realtime API and
// surfaces transcripts through callbacks. One session per live connection;
// sessions are not reusable after Close. Set the callbacks before Connect.
type RealtimeSession struct {
	config *Config

	// mu guards ws writes and the closed flag; gorilla connections allow
	// only one concurrent writer.
	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool

	// OnPartial fires for each incremental transcript delta.
	OnPartial func(text string)

	// OnFinal fires when the provider completes a transcript segment.
	OnFinal func(text string)

	// OnError fires on read/protocol errors after which the session is dead.
	OnError func(err error)
}

// NewRealtimeSession creates a realtime transcription session.
// Call Connect before sending audio.
func NewRealtimeSession(opts ...Option) (*RealtimeSession, error) {
	cfg := DefaultConfig()
	cfg.ModelID = ModelTranscribe
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Logger = cfg.Logger.With("component", "stt.realtime")

	return &RealtimeSession{config: cfg}, nil
}

// Connect dials the realtime endpoint and starts the read loop.
func (s *RealtimeSession) Connect() error {
	url := realtimeURL
	if s.config.BaseURL != "" {
		url = s.config.BaseURL
	}

	header := map[string][]string{
		"Authorization": {"Bearer " + s.config.APIKey},
		"OpenAI-Beta":   {"realtime=v1"},
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.Dial(url, header)
	if err != nil {
		return WrapError(providerOpenAI, fmt.Errorf("dial realtime API: %w", err))
	}

	s.mu.Lock()
	s.ws = ws
	s.mu.Unlock()

	if err := s.configure(); err != nil {
		s.Close()
		return err
	}

	go s.readLoop()
	return nil
}

// configure installs the transcription session settings.
func (s *RealtimeSession) configure() error {
	msg := map[string]any{
		"type": "transcription_session.update",
		"session": map[string]any{
			"input_audio_format": "pcm16",
			"input_audio_transcription": map[string]any{
				"model":    s.config.ModelID,
				"language": s.config.Language,
			},
			"turn_detection": map[string]any{
				"type":                "server_vad",
				"threshold":           0.5,
				"prefix_padding_ms":   300,
				"silence_duration_ms": 500,
			},
		},
	}
	return s.sendJSON(msg)
}

// SendAudio appends PCM16 audio to the input buffer.
func (s *RealtimeSession) SendAudio(pcm16 []byte) error {
	return s.sendJSON(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm16),
	})
}

// Commit flushes the input buffer, forcing transcription of what is pending.
// With server VAD enabled this is only needed for explicit end-of-turn.
func (s *RealtimeSession) Commit() error {
	return s.sendJSON(map[string]string{"type": "input_audio_buffer.commit"})
}

// Close terminates the session.
func (s *RealtimeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.ws != nil {
		return s.ws.Close()
	}
	return nil
}

// sendJSON writes a message to the socket. The session state is checked
// under the same mutex that serializes writes.
func (s *RealtimeSession) sendJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.ws == nil {
		return ErrSessionClosed
	}
	if err := s.ws.WriteJSON(v); err != nil {
		return WrapError(providerOpenAI, err)
	}
	return nil
}

func (s *RealtimeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// readLoop processes incoming events until the connection dies.
func (s *RealtimeSession) readLoop() {
	for {
		_, message, err := s.ws.ReadMessage()
		if err != nil {
			if !s.isClosed() && s.OnError != nil {
				s.OnError(WrapError(providerOpenAI, err))
			}
			return
		}

		var event struct {
			Type       string `json:"type"`
			Delta      string `json:"delta"`
			Transcript string `json:"transcript"`
			Error      struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(message, &event); err != nil {
			continue
		}

		switch event.Type {
		case "conversation.item.input_audio_transcription.delta":
			if s.OnPartial != nil && event.Delta != "" {
				s.OnPartial(event.Delta)
			}
		case "conversation.item.input_audio_transcription.completed":
			if s.OnFinal != nil {
				s.OnFinal(event.Transcript)
			}
			s.config.Logger.Debug("transcript segment completed",
				"chars", len(event.Transcript),
			)
		case "error":
			if s.OnError != nil {
				s.OnError(WrapError(providerOpenAI, fmt.Errorf("%s", event.Error.Message)))
			}
		}
	}
}
