package api

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/thereceipt/uart-link/internal/port"
	"github.com/thereceipt/uart-link/internal/session"
	"go.uber.org/zap"
)

// WebSocket message types
const (
	EventCommand      = "command"
	EventSessionState = "session_state"
	EventProgress     = "progress"
	EventPortAdded    = "port_added"
	EventPortRemoved  = "port_removed"
	EventResponse     = "response"
	EventError        = "error"
)

const (
	sendBuffer     = 256
	writeWait      = 10 * time.Second
	commandTimeout = 30 * time.Second
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data"`
}

// WSClient represents a connected WebSocket client
type WSClient struct {
	conn   *websocket.Conn
	send   chan WSMessage
	done   chan struct{}
	server *Server
}

// Hub tracks the connected clients of one server and fans events out to them
type Hub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[*WSClient]bool
	dropped atomic.Int64
}

// NewHub creates an empty hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger.Named("ws"),
		clients: make(map[*WSClient]bool),
	}
}

func (h *Hub) add(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
}

func (h *Hub) remove(client *WSClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped counts messages skipped because a client was too slow
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Broadcast queues msg for every client. Clients whose buffer is full miss it.
func (h *Hub) Broadcast(msg WSMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			h.dropped.Add(1)
		}
	}
}

// HandleEvent broadcasts a session event
func (h *Hub) HandleEvent(ev session.Event) {
	event := EventSessionState
	if ev.Kind == session.EventProgress {
		event = EventProgress
	}
	h.Broadcast(WSMessage{
		Event: event,
		Data:  map[string]interface{}{"session": ev.Snapshot},
	})
}

// BroadcastPortAdded broadcasts a port added event to all connected clients
func (h *Hub) BroadcastPortAdded(info port.PortInfo) {
	h.Broadcast(WSMessage{Event: EventPortAdded, Data: map[string]interface{}{"port": info}})
	h.logger.Debug("broadcast port added", zap.String("device", info.Device))
}

// BroadcastPortRemoved broadcasts a port removed event to all connected clients
func (h *Hub) BroadcastPortRemoved(info port.PortInfo) {
	h.Broadcast(WSMessage{Event: EventPortRemoved, Data: map[string]interface{}{"port": info}})
	h.logger.Debug("broadcast port removed", zap.String("device", info.Device))
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.conn.Close()
		delete(h.clients, client)
	}
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &WSClient{
		conn:   conn,
		send:   make(chan WSMessage, sendBuffer),
		done:   make(chan struct{}),
		server: s,
	}

	s.hub.add(client)
	s.hub.logger.Info("client connected", zap.String("remote", conn.RemoteAddr().String()))

	// Start goroutines
	go client.readPump()
	go client.writePump()
}

func (c *WSClient) writePump() {
	defer c.conn.Close()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.server.hub.logger.Debug("write failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *WSClient) readPump() {
	defer func() {
		c.server.hub.remove(c)
		close(c.done)
		c.conn.Close()
		c.server.hub.logger.Info("client disconnected")
	}()

	for {
		var msg WSMessage
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.hub.logger.Warn("read failed", zap.Error(err))
			}
			break
		}

		c.handleMessage(&msg)
	}
}

func (c *WSClient) handleMessage(msg *WSMessage) {
	switch msg.Event {
	case EventCommand:
		c.handleCommandEvent(msg.Data)
	default:
		c.sendError(fmt.Sprintf("unknown event: %s", msg.Event))
	}
}

// handleCommandEvent runs {"command": "..."} through the executor
func (c *WSClient) handleCommandEvent(data map[string]interface{}) {
	cmd, ok := data["command"].(string)
	if !ok || cmd == "" {
		c.sendError("command is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	result := c.server.executor.Execute(ctx, cmd)
	if !result.Success {
		c.sendError(result.Error)
		return
	}

	resp := map[string]interface{}{"success": true}
	if result.Message != "" {
		resp["message"] = result.Message
	}
	for k, v := range result.Data {
		resp[k] = v
	}
	c.sendResponse(resp)
}

func (c *WSClient) sendResponse(data map[string]interface{}) {
	c.queue(WSMessage{Event: EventResponse, Data: data})
}

func (c *WSClient) sendError(message string) {
	c.queue(WSMessage{
		Event: EventError,
		Data: map[string]interface{}{
			"error": message,
		},
	})
}

func (c *WSClient) queue(msg WSMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	}
}
