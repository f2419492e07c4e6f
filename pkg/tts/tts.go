// Package tts provides a unified interface for text-to-speech providers.
//
// The bridge proxies synthesis requests from the browser to a provider and
// streams the audio bytes back unmodified. All providers implement the
// Provider interface, so the web layer never cares which vendor is behind it.
//
// Example usage:
//
//	provider, _ := tts.NewElevenLabs(
//	    tts.WithAPIKey(os.Getenv("ELEVENLABS_API_KEY")),
//	    tts.WithVoice("your-voice-id"),
//	)
//	defer provider.Close()
//
//	result, _ := provider.Synthesize(ctx, "Hello world")
//	// result.Audio contains MP3 audio bytes
package tts

import (
	"context"
	"time"
)

// Provider defines the TTS provider interface.
type Provider interface {
	// Synthesize converts text to audio, returning the complete audio buffer.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Stream converts text to audio with streaming output for lowest latency.
	// Audio chunks are returned as they become available.
	Stream(ctx context.Context, text string) (AudioStream, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// AudioStream represents a streaming audio response.
// Callers should read until Read returns nil, then call Close.
type AudioStream interface {
	// Read returns the next audio chunk.
	// Returns nil when the stream is complete (not an error).
	Read() ([]byte, error)

	// Close stops the stream and releases resources.
	Close() error

	// ContentType returns the MIME type of the audio bytes.
	ContentType() string
}

// AudioResult is a complete synthesis result.
type AudioResult struct {
	// Audio contains the raw audio data.
	Audio []byte

	// ContentType is the MIME type of Audio (e.g. "audio/mpeg").
	ContentType string

	// CharCount is the number of characters synthesized.
	CharCount int

	// LatencyMs is the time to last byte in milliseconds.
	LatencyMs int64
}

// Format identifies the requested output encoding.
// Browser playback wants compressed audio, so MP3 is the default.
type Format string

const (
	FormatMP3  Format = "mp3_44100_128"
	FormatOpus Format = "opus"
	FormatPCM  Format = "pcm_24000"
)

// MIMEType returns the MIME type for a format.
func (f Format) MIMEType() string {
	switch f {
	case FormatMP3:
		return "audio/mpeg"
	case FormatOpus:
		return "audio/opus"
	case FormatPCM:
		return "audio/pcm"
	default:
		return "audio/mpeg"
	}
}

// readChunk is the buffer size for streaming reads.
const readChunk = 4096

// measure returns elapsed milliseconds since start.
func measure(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
