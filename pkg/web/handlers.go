package web

import (
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/voiceloop/voicebridge/pkg/tts"
)

// CreateConversationResponse is the body of POST /api/conversations.
type CreateConversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

// SendMessageRequest is the body of POST /api/conversations/:id/messages.
type SendMessageRequest struct {
	Message string `json:"message"`
}

// ReplyCallbackRequest is the push delivery from the bot.
type ReplyCallbackRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// ReplyResponse is a successfully collected reply.
type ReplyResponse struct {
	Message     string    `json:"message"`
	DepositedAt time.Time `json:"deposited_at"`
}

// SynthesizeRequest is the body of POST /api/synthesize.
type SynthesizeRequest struct {
	Text string `json:"text"`
}

// handleCreateConversation mints a conversation id and tells the bot
// where replies for it should be delivered.
func (s *Server) handleCreateConversation(c *fiber.Ctx) error {
	if s.opts.Dispatcher == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "bot webhook not configured",
		})
	}

	conversationID := uuid.NewString()
	s.opts.Dispatcher.EnqueueNotify(conversationID, s.opts.CallbackURL)

	s.logger.Info("conversation started", "conversation_id", conversationID)
	return c.Status(fiber.StatusCreated).JSON(CreateConversationResponse{
		ConversationID: conversationID,
	})
}

// handleSendMessage relays a user message to the bot, fire-and-forget.
func (s *Server) handleSendMessage(c *fiber.Ctx) error {
	if s.opts.Dispatcher == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "bot webhook not configured",
		})
	}

	var req SendMessageRequest
	if err := c.BodyParser(&req); err != nil || req.Message == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "message required",
		})
	}

	conversationID := c.Params("id")
	s.opts.Dispatcher.EnqueueMessage(conversationID, req.Message)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "queued",
	})
}

// handlePollReply collects the pending reply for a conversation, if any.
// A miss is a normal polling outcome and answers 404.
func (s *Server) handlePollReply(c *fiber.Ctx) error {
	conversationID := c.Params("id")

	payload, depositedAt, ok := s.opts.Mailbox.TryTake(conversationID)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"status": "none",
		})
	}

	return c.JSON(ReplyResponse{
		Message:     payload,
		DepositedAt: depositedAt,
	})
}

// handleReplyCallback accepts the bot's asynchronous reply and deposits it.
// Always acknowledges: delivery to the browser is best-effort by design.
func (s *Server) handleReplyCallback(c *fiber.Ctx) error {
	var req ReplyCallbackRequest
	if err := c.BodyParser(&req); err != nil || req.ConversationID == "" {
		s.logger.Warn("reply callback without conversation id")
		return c.JSON(fiber.Map{"status": "ok"})
	}

	s.opts.Mailbox.Deposit(req.ConversationID, req.Message)

	return c.JSON(fiber.Map{"status": "ok"})
}

// handleTranscribe proxies an audio upload to the STT provider.
func (s *Server) handleTranscribe(c *fiber.Ctx) error {
	audio := c.Body()
	if len(audio) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "audio payload required",
		})
	}

	result, err := s.opts.Transcriber.Transcribe(c.UserContext(), audio, c.Get(fiber.HeaderContentType))
	if err != nil {
		s.logger.Error("transcription failed", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "transcription failed",
		})
	}

	return c.JSON(fiber.Map{"text": result.Text})
}

// handleSynthesize proxies text to the TTS provider and streams the audio
// back to the browser.
func (s *Server) handleSynthesize(c *fiber.Ctx) error {
	var req SynthesizeRequest
	if err := c.BodyParser(&req); err != nil || req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "text required",
		})
	}

	stream, err := s.opts.Synthesizer.Stream(c.UserContext(), req.Text)
	if err != nil {
		s.logger.Error("synthesis failed", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "synthesis failed",
		})
	}

	c.Set(fiber.HeaderContentType, stream.ContentType())
	return c.SendStream(&audioReader{stream: stream})
}

// handleHealth reports liveness and basic mailbox state.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"version": Version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"pending": s.opts.Mailbox.Len(),
	})
}

// handleStats reports mailbox activity counters.
func (s *Server) handleStats(c *fiber.Ctx) error {
	return c.JSON(s.opts.Mailbox.Stats())
}

// audioReader adapts a tts.AudioStream to io.Reader for fiber's SendStream.
type audioReader struct {
	stream tts.AudioStream
	buf    []byte
}

func (r *audioReader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		chunk, err := r.stream.Read()
		if err != nil {
			r.stream.Close()
			return 0, err
		}
		if chunk == nil {
			r.stream.Close()
			return 0, io.EOF
		}
		r.buf = chunk
	}

	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}
