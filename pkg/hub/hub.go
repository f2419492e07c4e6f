package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Hub maintains per-conversation subscriber sets and fans events out to them.
type Hub struct {
	logger *slog.Logger

	// Subscribers keyed by conversation id
	topics map[string]map[*Client]bool

	// Inbound events to publish
	publish chan Event

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Mutex for subscriber counts (read-only access from outside)
	mu sync.RWMutex

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a Hub. Call Run in a goroutine before registering clients.
func New(logger *slog.Logger) *Hub {
	return &Hub{
		logger:     logger.With("component", "hub"),
		topics:     make(map[string]map[*Client]bool),
		publish:    make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
	}
}

// Run is the hub's main loop. It owns the topics map; all mutation happens
// here, which keeps registration, fan-out, and cleanup race-free.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			subs, ok := h.topics[client.conversationID]
			if !ok {
				subs = make(map[*Client]bool)
				h.topics[client.conversationID] = subs
			}
			subs[client] = true
			h.mu.Unlock()
			h.logger.Debug("subscriber connected",
				"conversation_id", client.conversationID,
				"subscribers", len(subs),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			h.mu.Unlock()
			h.logger.Debug("subscriber disconnected",
				"conversation_id", client.conversationID,
			)

		case event := <-h.publish:
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			h.mu.Lock()
			for client := range h.topics[event.ConversationID] {
				select {
				case client.send <- data:
				default:
					// Subscriber too slow; drop them
					h.drop(client)
					h.logger.Warn("dropped slow subscriber",
						"conversation_id", event.ConversationID,
					)
				}
			}
			h.mu.Unlock()

		case <-h.stop:
			h.mu.Lock()
			for _, subs := range h.topics {
				for client := range subs {
					close(client.send)
				}
			}
			h.topics = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return
		}
	}
}

// Publish queues an event for the conversation's subscribers.
// Never blocks; a full publish channel drops the event with a warning.
func (h *Hub) Publish(event Event) {
	select {
	case h.publish <- event:
	default:
		h.logger.Warn("publish channel full, dropping event",
			"conversation_id", event.ConversationID,
		)
	}
}

// Subscribers returns the subscriber count for a conversation.
func (h *Hub) Subscribers(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[conversationID])
}

// Stop shuts the hub down and disconnects all subscribers.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}

// drop removes a client and closes its send channel.
// Must be called with h.mu held.
func (h *Hub) drop(client *Client) {
	subs, ok := h.topics[client.conversationID]
	if !ok {
		return
	}
	if _, ok := subs[client]; !ok {
		return
	}
	delete(subs, client)
	close(client.send)
	if len(subs) == 0 {
		delete(h.topics, client.conversationID)
	}
}
