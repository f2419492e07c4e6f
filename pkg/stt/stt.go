// Package stt provides a unified interface for speech-to-text providers.
//
// The bridge proxies audio uploaded by the browser to a provider and returns
// the transcript text. An empty transcript means no speech was detected —
// that is a normal outcome, not an error. All providers implement the
// Transcriber interface.
package stt

import (
	"context"
)

// Transcriber defines the STT provider interface.
type Transcriber interface {
	// Transcribe converts an audio payload to text. mimeType describes the
	// payload (e.g. "audio/webm", "audio/wav"); providers that don't need
	// it may ignore it. An empty Result.Text means no speech.
	Transcribe(ctx context.Context, audio []byte, mimeType string) (*Result, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// Result is a completed transcription.
type Result struct {
	// Text is the transcript. Empty when no speech was detected.
	Text string

	// Language is the detected language code, when the provider reports it.
	Language string

	// LatencyMs is the round-trip time in milliseconds.
	LatencyMs int64
}

// extensionForMIME maps upload MIME types to the filename extension
// multipart APIs sniff the container format from.
func extensionForMIME(mimeType string) string {
	switch mimeType {
	case "audio/wav", "audio/x-wav":
		return "wav"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/ogg":
		return "ogg"
	case "audio/mp4":
		return "mp4"
	default:
		return "webm"
	}
}
