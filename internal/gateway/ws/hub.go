// Package ws handles WebSocket connections that mirror agent event streams
// in real time, keyed by chat id.
package ws

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/logger"
)

// Hub manages all WebSocket clients and routes events to the clients
// subscribed to each chat.
type Hub struct {
	clients     map[*Client]bool
	chatClients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage

	mu     sync.RWMutex
	logger *logger.Logger
}

type broadcastMessage struct {
	chatID string
	data   []byte
}

// NewHub creates a WebSocket hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		chatClients: make(map[string]map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *broadcastMessage, 256),
		logger:      log.WithFields(zap.String("component", "ws-hub")),
	}
}

// Run processes registrations and broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("websocket hub started")
	defer h.logger.Info("websocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.chatClients = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.dropSubscriptionsLocked(client)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", zap.String("client_id", client.ID))

		case msg := <-h.broadcast:
			h.mu.RLock()
			clients := h.chatClients[msg.chatID]
			h.mu.RUnlock()

			for client := range clients {
				select {
				case client.send <- msg.data:
				default:
					// Slow consumer; drop the connection.
					h.mu.Lock()
					if _, ok := h.clients[client]; ok {
						close(client.send)
						delete(h.clients, client)
						h.dropSubscriptionsLocked(client)
					}
					h.mu.Unlock()
				}
			}
		}
	}
}

// dropSubscriptionsLocked removes a client from every chat it follows.
// Callers hold h.mu.
func (h *Hub) dropSubscriptionsLocked(client *Client) {
	for chatID := range client.chatIDs {
		if clients, ok := h.chatClients[chatID]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.chatClients, chatID)
			}
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast sends one event line to every client subscribed to a chat.
func (h *Hub) Broadcast(chatID string, data []byte) {
	select {
	case h.broadcast <- &broadcastMessage{chatID: chatID, data: data}:
	default:
		h.logger.Warn("broadcast queue full, dropping event", zap.String("chat_id", chatID))
	}
}

// SubscribeClient subscribes a client to a chat.
func (h *Hub) SubscribeClient(client *Client, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.chatClients[chatID]; !ok {
		h.chatClients[chatID] = make(map[*Client]bool)
	}
	h.chatClients[chatID][client] = true
}

// UnsubscribeClient unsubscribes a client from a chat.
func (h *Hub) UnsubscribeClient(client *Client, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.chatClients[chatID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.chatClients, chatID)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount returns the number of clients following a chat.
func (h *Hub) SubscriberCount(chatID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.chatClients[chatID])
}
