// Package config provides environment-driven configuration for voicebridge.
package config

import (
	"os"
	"time"
)

// Defaults for the bridge server.
const (
	DefaultPort     = "8080"
	DefaultReplyTTL = 30 * time.Second
)

// Config holds everything the server binary needs.
type Config struct {
	// Port is the HTTP listen port.
	Port string

	// LogLevel controls the global logger ("debug", "info", "warn", "error").
	LogLevel string

	// ElevenLabsAPIKey enables the ElevenLabs STT/TTS providers when set.
	ElevenLabsAPIKey string

	// ElevenLabsVoiceID selects the synthesis voice.
	ElevenLabsVoiceID string

	// OpenAIAPIKey enables the OpenAI STT/TTS providers when set.
	OpenAIAPIKey string

	// BotWebhookURL is the external chatbot endpoint user messages are
	// forwarded to.
	BotWebhookURL string

	// CallbackBaseURL is the public base URL of this service, shared with
	// the bot so it can deliver replies to /api/callbacks/reply.
	CallbackBaseURL string

	// ReplyTTL is how long a deposited reply waits for the client before
	// eviction.
	ReplyTTL time.Duration
}

// Load reads configuration from the environment.
func Load() Config {
	return Config{
		Port:              getenv("PORT", DefaultPort),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		ElevenLabsAPIKey:  os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID: os.Getenv("ELEVENLABS_VOICE_ID"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		BotWebhookURL:     os.Getenv("BOT_WEBHOOK_URL"),
		CallbackBaseURL:   getenv("CALLBACK_BASE_URL", "http://localhost:"+getenv("PORT", DefaultPort)),
		ReplyTTL:          getduration("REPLY_TTL", DefaultReplyTTL),
	}
}

// getenv returns the env var value or the fallback if unset.
func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getduration parses a duration env var, falling back on absence or
// parse failure.
func getduration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
