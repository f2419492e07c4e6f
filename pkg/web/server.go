// Package web provides the HTTP surface of the voice bridge.
package web

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/voiceloop/voicebridge/internal/mailbox"
	"github.com/voiceloop/voicebridge/pkg/bot"
	"github.com/voiceloop/voicebridge/pkg/hub"
	"github.com/voiceloop/voicebridge/pkg/stt"
	"github.com/voiceloop/voicebridge/pkg/tts"
)

// Version of the bridge service.
const Version = "1.0.0"

// Options wires the server's collaborators.
type Options struct {
	Port string

	Mailbox     *mailbox.Mailbox
	Transcriber stt.Transcriber
	Synthesizer tts.Provider

	// Dispatcher may be nil when no bot webhook is configured; the
	// message and conversation endpoints then answer 503.
	Dispatcher *bot.Dispatcher

	// Hub may be nil to disable the websocket push channel.
	Hub *hub.Hub

	// Realtime builds a streaming transcription session per websocket
	// connection. Nil disables the /ws/transcribe endpoint.
	Realtime func() (*stt.RealtimeSession, error)

	// CallbackURL is handed to the bot on conversation start.
	CallbackURL string

	// StaticDir is the demo page directory, "./web" by default.
	// Not mounted when the directory does not exist.
	StaticDir string

	// RequestLog enables fiber's per-request logger middleware.
	RequestLog bool

	Logger *slog.Logger
}

// Server is the bridge HTTP server.
type Server struct {
	app     *fiber.App
	opts    Options
	logger  *slog.Logger
	started time.Time
}

// NewServer creates the fiber app and registers all routes.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		opts:    opts,
		logger:  opts.Logger.With("component", "web"),
		started: time.Now(),
	}

	app := fiber.New(fiber.Config{
		AppName:               "voicebridge",
		DisableStartupMessage: true,
		BodyLimit:             16 * 1024 * 1024, // audio uploads
	})

	app.Use(recover.New())
	app.Use(cors.New())
	if opts.RequestLog {
		app.Use(logger.New())
	}

	// Demo page
	staticDir := opts.StaticDir
	if staticDir == "" {
		staticDir = "./web"
	}
	if info, err := os.Stat(staticDir); err == nil && info.IsDir() {
		app.Static("/", staticDir)
	}

	api := app.Group("/api")
	api.Post("/conversations", s.handleCreateConversation)
	api.Post("/conversations/:id/messages", s.handleSendMessage)
	api.Get("/conversations/:id/reply", s.handlePollReply)
	api.Post("/callbacks/reply", s.handleReplyCallback)
	api.Post("/transcribe", s.handleTranscribe)
	api.Post("/synthesize", s.handleSynthesize)
	api.Get("/stats", s.handleStats)

	app.Get("/health", s.handleHealth)

	if opts.Hub != nil || opts.Realtime != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
	}
	if opts.Hub != nil {
		app.Get("/ws/conversations/:id", websocket.New(s.handleSubscribe))
	}
	if opts.Realtime != nil {
		app.Get("/ws/transcribe", websocket.New(s.handleTranscribeStream))
	}

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the server on the configured port. Blocks.
func (s *Server) Listen() error {
	s.logger.Info("listening", "port", s.opts.Port)
	return s.app.Listen(":" + s.opts.Port)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// handleSubscribe attaches a websocket subscriber to a conversation.
func (s *Server) handleSubscribe(conn *websocket.Conn) {
	conversationID := conn.Params("id")
	if conversationID == "" {
		conn.Close()
		return
	}
	client := hub.NewClient(s.opts.Hub, conn, conversationID)
	client.Run() // blocks until the connection closes
}

// handleTranscribeStream bridges browser audio to a realtime transcription
// session. Binary frames carry PCM16 audio, the text frame "commit" flushes
// the buffer, and transcript events stream back as JSON.
func (s *Server) handleTranscribeStream(conn *websocket.Conn) {
	session, err := s.opts.Realtime()
	if err != nil {
		s.logger.Error("realtime session setup failed", "error", err)
		conn.Close()
		return
	}

	// Transcript callbacks fire from the session's read loop while this
	// goroutine may also write; serialize writes to the browser.
	var writeMu sync.Mutex
	push := func(kind, text string) {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.WriteJSON(fiber.Map{"type": kind, "text": text})
	}
	session.OnPartial = func(text string) { push("partial", text) }
	session.OnFinal = func(text string) { push("final", text) }
	session.OnError = func(err error) {
		s.logger.Warn("realtime transcription error", "error", err)
		writeMu.Lock()
		conn.WriteMessage(websocket.CloseMessage, []byte{})
		writeMu.Unlock()
	}

	if err := session.Connect(); err != nil {
		s.logger.Error("realtime connect failed", "error", err)
		conn.Close()
		return
	}
	defer session.Close()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch {
		case msgType == websocket.BinaryMessage:
			if err := session.SendAudio(data); err != nil {
				return
			}
		case msgType == websocket.TextMessage && string(data) == "commit":
			if err := session.Commit(); err != nil {
				return
			}
		}
	}
}
