package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"whatsapp-chatbot/internal/automation"
	"whatsapp-chatbot/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboard is served from another origin
	},
}

// Client represents a connected WebSocket client
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans dispatch events out to dashboard clients. Broadcasting never
// blocks the caller: when the hub is behind, events are dropped.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex
	logger     *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     logger.Named("ws"),
	}
}

// Run serves the hub until ctx is done, then disconnects every client.
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
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered")
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered")
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

type WSEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func (h *Hub) BroadcastEvent(eventType string, data interface{}) {
	payload, err := json.Marshal(WSEvent{Type: eventType, Data: data})
	if err != nil {
		h.logger.Error("failed to marshal event", zap.String("type", eventType), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("broadcast buffer full, event dropped", zap.String("type", eventType))
	}
}

func (h *Hub) NotifyMessage(msg models.Message) {
	h.BroadcastEvent("new_message", msg)
}

type sessionEvent struct {
	ID            uint                   `json:"id"`
	ContactID     string                 `json:"contact_id"`
	ChatbotID     uint                   `json:"chatbot_id"`
	FlowID        *uint                  `json:"flow_id"`
	CurrentStepID *uint                  `json:"current_step_id"`
	Status        string                 `json:"status"`
	Data          map[string]interface{} `json:"data"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

func (h *Hub) NotifySession(s *automation.Session) {
	h.BroadcastEvent("session_update", sessionEvent{
		ID:            s.ID,
		ContactID:     s.ContactID,
		ChatbotID:     s.ChatbotID,
		FlowID:        s.FlowID,
		CurrentStepID: s.CurrentStepID,
		Status:        string(s.Status),
		Data:          s.Data,
		UpdatedAt:     s.UpdatedAt,
	})
}

type interactionEvent struct {
	ContactID string `json:"contact_id"`
	ChatbotID uint   `json:"chatbot_id"`
	SessionID *uint  `json:"session_id"`
	Action    string `json:"action_taken"`
	Input     string `json:"input_text"`
	Response  string `json:"response_text"`
	Success   bool   `json:"success"`
}

func (h *Hub) NotifyInteraction(i automation.Interaction) {
	h.BroadcastEvent("interaction", interactionEvent{
		ContactID: i.ContactID,
		ChatbotID: i.ChatbotID,
		SessionID: i.SessionID,
		Action:    string(i.Kind),
		Input:     i.Input,
		Response:  i.Response,
		Success:   i.Success,
	})
}

func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &Client{hub: h, conn: conn, send: make(chan []byte, 256)}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	for {
		// clients only send pings; reading detects disconnects
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
