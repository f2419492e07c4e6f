//go:build integration

package tts_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/voiceloop/voicebridge/pkg/tts"
)

// TestElevenLabsIntegration tests the real ElevenLabs API.
// Run with: go test -tags=integration -v ./pkg/tts/...
func TestElevenLabsIntegration(t *testing.T) {
	apiKey := os.Getenv("ELEVENLABS_API_KEY")
	voiceID := os.Getenv("ELEVENLABS_VOICE_ID")

	if apiKey == "" {
		t.Skip("ELEVENLABS_API_KEY not set")
	}
	if voiceID == "" {
		t.Skip("ELEVENLABS_VOICE_ID not set")
	}

	provider, err := tts.NewElevenLabs(
		tts.WithAPIKey(apiKey),
		tts.WithVoice(voiceID),
		tts.WithModel(tts.ModelTurboV2_5),
	)
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	defer provider.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	t.Run("Health", func(t *testing.T) {
		if err := provider.Health(ctx); err != nil {
			t.Fatalf("health check failed: %v", err)
		}
	})

	t.Run("Synthesize", func(t *testing.T) {
		result, err := provider.Synthesize(ctx, "Hello, this is the voice bridge speaking.")
		if err != nil {
			t.Fatalf("synthesize failed: %v", err)
		}

		t.Logf("synthesized %d bytes, latency %dms", len(result.Audio), result.LatencyMs)

		if len(result.Audio) < 1000 {
			t.Error("audio too short, expected at least 1KB")
		}
		if result.ContentType != "audio/mpeg" {
			t.Errorf("expected audio/mpeg, got %s", result.ContentType)
		}
	})

	t.Run("Stream", func(t *testing.T) {
		stream, err := provider.Stream(ctx, "Streaming synthesis check.")
		if err != nil {
			t.Fatalf("stream failed: %v", err)
		}
		defer stream.Close()

		var total int
		for {
			chunk, err := stream.Read()
			if err != nil {
				t.Fatalf("stream read error: %v", err)
			}
			if chunk == nil {
				break
			}
			total += len(chunk)
		}
		t.Logf("streamed %d bytes", total)
		if total == 0 {
			t.Error("expected streamed audio bytes")
		}
	})
}

// TestOpenAIIntegration tests the real OpenAI speech API.
func TestOpenAIIntegration(t *testing.T) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("OPENAI_API_KEY not set")
	}

	provider, err := tts.NewOpenAI(
		tts.WithAPIKey(apiKey),
	)
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	defer provider.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := provider.Synthesize(ctx, "Hello from the fallback provider.")
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	if len(result.Audio) == 0 {
		t.Error("expected audio bytes")
	}
}
