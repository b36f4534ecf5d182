package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypeVerdict     MessageType = "verdict"
	MessageTypeError       MessageType = "error"
)

// TopicAll receives verdicts of every threat level.
const TopicAll = "all"

// WSMessage represents a WebSocket message. Topic is a threat level
// (low, medium, high) or TopicAll.
type WSMessage struct {
	Type    MessageType `json:"type"`
	Topic   string      `json:"topic,omitempty"`
	Message interface{} `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// VerdictPayload announces a freshly recorded triage report
type VerdictPayload struct {
	ReportID       uint   `json:"report_id"`
	ArtifactID     string `json:"artifact_id"`
	Source         string `json:"source"`
	Outcome        string `json:"outcome"`
	OriginalSender string `json:"original_sender,omitempty"`
	Subject        string `json:"subject,omitempty"`
	Score          int    `json:"score"`
	ThreatLevel    string `json:"threat_level,omitempty"`
	RecordedAt     string `json:"recorded_at"`
}

// Hub maintains the set of active clients and broadcasts verdicts
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Topic subscriptions: topic -> set of clients
	subscriptions map[string]map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest
	broadcast   chan *broadcastMessage

	// done is closed when Run returns so late callers do not block
	done chan struct{}

	mu     sync.RWMutex
	logger *slog.Logger
}

type subscriptionRequest struct {
	client *Client
	topic  string
}

type broadcastMessage struct {
	topic   string
	message []byte
}

// NewHub creates a new Hub instance
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:       make(map[*Client]bool),
		subscriptions: make(map[string]map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		subscribe:     make(chan *subscriptionRequest),
		unsubscribe:   make(chan *subscriptionRequest),
		broadcast:     make(chan *broadcastMessage, 256),
		done:          make(chan struct{}),
		logger:        logger,
	}
}

// NormalizeTopic lowercases a topic and reports whether it is known.
func NormalizeTopic(topic string) (string, bool) {
	t := strings.ToLower(strings.TrimSpace(topic))
	switch t {
	case TopicAll, "low", "medium", "high":
		return t, true
	}
	return t, false
}

// Run starts the hub's main loop and returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.subscriptions = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.debug("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				for topic, subscribers := range h.subscriptions {
					delete(subscribers, client)
					if len(subscribers) == 0 {
						delete(h.subscriptions, topic)
					}
				}
			}
			h.mu.Unlock()
			h.debug("client unregistered")

		case req := <-h.subscribe:
			h.mu.Lock()
			if h.subscriptions[req.topic] == nil {
				h.subscriptions[req.topic] = make(map[*Client]bool)
			}
			h.subscriptions[req.topic][req.client] = true
			h.mu.Unlock()
			h.debug("client subscribed", slog.String("topic", req.topic))

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if subscribers, ok := h.subscriptions[req.topic]; ok {
				delete(subscribers, req.client)
				if len(subscribers) == 0 {
					delete(h.subscriptions, req.topic)
				}
			}
			h.mu.Unlock()
			h.debug("client unsubscribed", slog.String("topic", req.topic))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.recipients(msg.topic) {
				select {
				case client.send <- msg.message:
				default:
					// Client buffer full, skip
				}
			}
			h.mu.RUnlock()
		}
	}
}

// recipients merges topic subscribers with TopicAll subscribers so a client
// on both gets one copy. Callers hold h.mu.
func (h *Hub) recipients(topic string) map[*Client]bool {
	out := make(map[*Client]bool, len(h.subscriptions[topic])+len(h.subscriptions[TopicAll]))
	for c := range h.subscriptions[topic] {
		out[c] = true
	}
	for c := range h.subscriptions[TopicAll] {
		out[c] = true
	}
	return out
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribe subscribes a client to a topic
func (h *Hub) Subscribe(client *Client, topic string) {
	select {
	case h.subscribe <- &subscriptionRequest{client: client, topic: topic}:
	case <-h.done:
	}
}

// Unsubscribe unsubscribes a client from a topic
func (h *Hub) Unsubscribe(client *Client, topic string) {
	select {
	case h.unsubscribe <- &subscriptionRequest{client: client, topic: topic}:
	case <-h.done:
	}
}

// BroadcastVerdict queues a verdict for subscribers of its threat level.
// It never blocks; verdicts are dropped when the queue is full.
func (h *Hub) BroadcastVerdict(payload *VerdictPayload) {
	topic := payload.ThreatLevel
	msg := WSMessage{
		Type:    MessageTypeVerdict,
		Topic:   topic,
		Message: payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("failed to marshal broadcast message", slog.Any("error", err))
		}
		return
	}

	select {
	case h.broadcast <- &broadcastMessage{topic: topic, message: data}:
	default:
		if h.logger != nil {
			h.logger.Warn("verdict broadcast dropped, queue full", slog.String("artifact_id", payload.ArtifactID))
		}
	}
}

func (h *Hub) debug(msg string, attrs ...any) {
	if h.logger != nil {
		h.logger.Debug(msg, attrs...)
	}
}
