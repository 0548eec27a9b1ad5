package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
)

// SubscriptionMessage is what clients send to follow or unfollow chats.
type SubscriptionMessage struct {
	Action  string   `json:"action"` // subscribe, unsubscribe
	ChatIDs []string `json:"chat_ids"`
}

// Client is one WebSocket connection and the chats it follows.
type Client struct {
	ID      string
	conn    *websocket.Conn
	chatIDs map[string]bool
	send    chan []byte
	hub     *Hub
	mu      sync.RWMutex
	logger  *logger.Logger
}

// NewClient creates a WebSocket client.
func NewClient(id string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ID:      id,
		conn:    conn,
		chatIDs: make(map[string]bool),
		send:    make(chan []byte, 256),
		hub:     hub,
		logger:  log.WithFields(zap.String("client_id", id)),
	}
}

// ReadPump consumes subscription messages until the connection drops.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			break
		}

		var sub SubscriptionMessage
		if err := json.Unmarshal(message, &sub); err != nil {
			c.logger.Warn("invalid subscription message", zap.Error(err))
			continue
		}

		switch sub.Action {
		case "subscribe":
			for _, chatID := range sub.ChatIDs {
				c.Subscribe(chatID)
			}
		case "unsubscribe":
			for _, chatID := range sub.ChatIDs {
				c.Unsubscribe(chatID)
			}
		default:
			c.logger.Warn("unknown action", zap.String("action", sub.Action))
		}
	}
}

// WritePump flushes outgoing events and keeps the connection alive.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Coalesce whatever queued up behind this write.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Subscribe follows a chat.
func (c *Client) Subscribe(chatID string) {
	c.mu.Lock()
	c.chatIDs[chatID] = true
	c.mu.Unlock()
	c.hub.SubscribeClient(c, chatID)
	c.logger.Debug("subscribed", zap.String("chat_id", chatID))
}

// Unsubscribe unfollows a chat.
func (c *Client) Unsubscribe(chatID string) {
	c.mu.Lock()
	delete(c.chatIDs, chatID)
	c.mu.Unlock()
	c.hub.UnsubscribeClient(c, chatID)
	c.logger.Debug("unsubscribed", zap.String("chat_id", chatID))
}

// IsSubscribed reports whether the client follows a chat.
func (c *Client) IsSubscribed(chatID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chatIDs[chatID]
}
