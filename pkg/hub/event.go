// Package hub provides a conversation-keyed websocket push channel
// using the idiomatic Go channel-based fan-out pattern.
//
// Subscribers attach to one conversation id and receive small JSON nudges;
// the mailbox stays the single source of truth for the reply payload, so
// push delivery never weakens the at-most-once guarantee of the poll path.
package hub

import "time"

// Event types pushed to subscribers.
const (
	// EventReplyReady tells the client a reply is waiting in the mailbox.
	EventReplyReady = "reply_ready"
)

// Event is one JSON message pushed to conversation subscribers.
type Event struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	Time           time.Time `json:"time"`
}

// ReplyReady builds the nudge event for a conversation.
func ReplyReady(conversationID string) Event {
	return Event{
		Type:           EventReplyReady,
		ConversationID: conversationID,
		Time:           time.Now(),
	}
}
