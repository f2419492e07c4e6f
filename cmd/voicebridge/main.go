// voicebridge: voice-enabled bridge between a browser demo page and an
// external chatbot. Transcribes speech, forwards messages, parks async
// replies until the browser collects them, and speaks them back.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/voiceloop/voicebridge/internal/config"
	"github.com/voiceloop/voicebridge/internal/log"
	"github.com/voiceloop/voicebridge/internal/mailbox"
	"github.com/voiceloop/voicebridge/pkg/bot"
	"github.com/voiceloop/voicebridge/pkg/hub"
	"github.com/voiceloop/voicebridge/pkg/stt"
	"github.com/voiceloop/voicebridge/pkg/tts"
	"github.com/voiceloop/voicebridge/pkg/web"
)

var (
	port       = flag.String("port", "", "HTTP server port (overrides PORT)")
	requestLog = flag.Bool("request-log", false, "Enable per-request logging")
)

func main() {
	flag.Parse()

	cfg := config.Load()
	if *port != "" {
		cfg.Port = *port
	}

	log.Init(cfg.LogLevel)
	logger := log.L()
	logger.Info("voicebridge starting", "version", web.Version, "port", cfg.Port)

	transcriber := buildTranscriber(cfg)
	synthesizer := buildSynthesizer(cfg)

	h := hub.New(logger)
	go h.Run()

	box := mailbox.New(
		mailbox.WithTTL(cfg.ReplyTTL),
		mailbox.WithLogger(logger),
		mailbox.WithNotify(func(key string) {
			h.Publish(hub.ReplyReady(key))
		}),
	)

	var dispatcher *bot.Dispatcher
	if cfg.BotWebhookURL != "" {
		client, err := bot.NewClient(cfg.BotWebhookURL, logger)
		if err != nil {
			logger.Error("bot client setup failed", "error", err)
			os.Exit(1)
		}
		dispatcher = bot.NewDispatcher(client, logger)
	} else {
		logger.Warn("BOT_WEBHOOK_URL not set, message forwarding disabled")
	}

	var realtime func() (*stt.RealtimeSession, error)
	if cfg.OpenAIAPIKey != "" {
		realtime = func() (*stt.RealtimeSession, error) {
			return stt.NewRealtimeSession(
				stt.WithAPIKey(cfg.OpenAIAPIKey),
				stt.WithLogger(logger),
			)
		}
	}

	server := web.NewServer(web.Options{
		Port:        cfg.Port,
		Mailbox:     box,
		Transcriber: transcriber,
		Synthesizer: synthesizer,
		Dispatcher:  dispatcher,
		Hub:         h,
		Realtime:    realtime,
		CallbackURL: cfg.CallbackBaseURL + "/api/callbacks/reply",
		RequestLog:  *requestLog,
		Logger:      logger,
	})

	go func() {
		if err := server.Listen(); err != nil {
			logger.Error("server stopped", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	if err := server.Shutdown(); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if dispatcher != nil {
		dispatcher.Close()
	}
	box.Close()
	h.Stop()
	transcriber.Close()
	synthesizer.Close()

	logger.Info("goodbye")
}

// buildTranscriber prefers ElevenLabs, falls back to OpenAI, and runs a
// canned mock when no provider key is configured.
func buildTranscriber(cfg config.Config) stt.Transcriber {
	logger := log.L()

	if cfg.ElevenLabsAPIKey != "" {
		t, err := stt.NewElevenLabs(
			stt.WithAPIKey(cfg.ElevenLabsAPIKey),
			stt.WithLogger(logger),
		)
		if err == nil {
			logger.Info("transcription provider ready", "provider", "elevenlabs")
			return t
		}
		logger.Warn("elevenlabs stt setup failed", "error", err)
	}

	if cfg.OpenAIAPIKey != "" {
		t, err := stt.NewOpenAI(
			stt.WithAPIKey(cfg.OpenAIAPIKey),
			stt.WithLogger(logger),
		)
		if err == nil {
			logger.Info("transcription provider ready", "provider", "openai")
			return t
		}
		logger.Warn("openai stt setup failed", "error", err)
	}

	logger.Warn("no STT provider configured, using mock transcripts")
	return stt.NewMock("hello from the mock transcriber")
}

// buildSynthesizer chains every configured TTS provider so a vendor
// outage degrades instead of failing.
func buildSynthesizer(cfg config.Config) tts.Provider {
	logger := log.L()

	var providers []tts.Provider

	if cfg.ElevenLabsAPIKey != "" && cfg.ElevenLabsVoiceID != "" {
		p, err := tts.NewElevenLabs(
			tts.WithAPIKey(cfg.ElevenLabsAPIKey),
			tts.WithVoice(cfg.ElevenLabsVoiceID),
			tts.WithLogger(logger),
		)
		if err == nil {
			providers = append(providers, p)
		} else {
			logger.Warn("elevenlabs tts setup failed", "error", err)
		}
	}

	if cfg.OpenAIAPIKey != "" {
		p, err := tts.NewOpenAI(
			tts.WithAPIKey(cfg.OpenAIAPIKey),
			tts.WithLogger(logger),
		)
		if err == nil {
			providers = append(providers, p)
		} else {
			logger.Warn("openai tts setup failed", "error", err)
		}
	}

	switch len(providers) {
	case 0:
		logger.Warn("no TTS provider configured, using silent mock audio")
		return tts.NewMock()
	case 1:
		logger.Info("synthesis provider ready", "providers", 1)
		return providers[0]
	default:
		chain, err := tts.NewChain(providers...)
		if err != nil {
			return providers[0]
		}
		logger.Info("synthesis provider ready", "providers", len(providers))
		return chain
	}
}
