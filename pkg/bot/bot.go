// Package bot talks to the external chatbot webhook.
//
// Outbound traffic is fire-and-forget from the caller's point of view:
// user messages and conversation-start notices go through the Dispatcher,
// which retries a bounded number of times and logs failures instead of
// surfacing them to the browser. Provider failures are opaque — the bot is
// a black box behind one URL.
package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/voiceloop/voicebridge/internal/httpc"
)

// ErrNoWebhookURL is returned when constructing a client without a target.
var ErrNoWebhookURL = errors.New("bot: webhook URL required")

// Message is the payload relayed to the bot for each user utterance.
type Message struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// StartNotice announces a new conversation, including where the bot should
// deliver its asynchronous replies.
type StartNotice struct {
	ConversationID string `json:"conversation_id"`
	CallbackURL    string `json:"callback_url,omitempty"`
}

// Client posts JSON payloads to the bot webhook.
type Client struct {
	webhookURL string
	client     *http.Client
	logger     *slog.Logger
}

// NewClient creates a bot webhook client.
func NewClient(webhookURL string, logger *slog.Logger) (*Client, error) {
	if webhookURL == "" {
		return nil, ErrNoWebhookURL
	}
	return &Client{
		webhookURL: webhookURL,
		client:     httpc.Client,
		logger:     logger.With("component", "bot"),
	}, nil
}

// Send relays a user message to the bot.
func (c *Client) Send(ctx context.Context, conversationID, message string) error {
	return c.post(ctx, c.webhookURL, Message{
		ConversationID: conversationID,
		Message:        message,
	})
}

// Notify tells the bot a new conversation exists and where replies go.
func (c *Client) Notify(ctx context.Context, conversationID, callbackURL string) error {
	return c.post(ctx, c.webhookURL+"/conversations", StartNotice{
		ConversationID: conversationID,
		CallbackURL:    callbackURL,
	})
}

// post sends one JSON request. Any failure maps to a generic error — the
// bot's error shape is not ours to classify.
func (c *Client) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bot: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("bot: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("bot: webhook request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("bot: webhook returned %d", resp.StatusCode)
	}
	return nil
}
