// Package status pushes sync lifecycle events and connectivity state to
// local UI clients over WebSocket. Clients connect to the agent on
// loopback and receive a state snapshot on connect, then an event stream
// as syncs run.
package status

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kmborden/plantsync/internal/logging"
	"github.com/kmborden/plantsync/internal/uuid"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Loopback clients only; the agent is not a public server.
		host := r.Host
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		return host == "localhost" || host == "127.0.0.1"
	},
}

// Event type strings sent to clients.
const (
	EventSyncStarted   = "sync.started"
	EventSyncCompleted = "sync.completed"
	EventSyncFailed    = "sync.failed"
	EventStateChanged  = "status.changed"
	EventSnapshot      = "status.snapshot"
)

// Envelope wraps all messages sent to clients.
type Envelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// State is the agent status snapshot sent to clients on connect and
// whenever it changes.
type State struct {
	Online  bool `json:"online"`
	Syncing bool `json:"syncing"`
	Pending int  `json:"pending"`
}

// Client is one connected WebSocket client.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub maintains active client connections and broadcasts status events.
type Hub struct {
	clients    map[string]*Client
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu    sync.RWMutex
	state State
}

// NewHub creates a Hub and starts its run loop.
func NewHub() *Hub {
	hub := &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
	go hub.run()
	return hub
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug().Str("client", client.id).Int("total", total).Msg("status client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug().Str("client", client.id).Int("total", total).Msg("status client disconnected")

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client, drop it.
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends an event to every connected client.
func (h *Hub) Broadcast(eventType string, data map[string]interface{}) {
	envelope := Envelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal status event")
		return
	}

	h.broadcast <- bytes
}

// PublishState records the new agent state and notifies clients when it
// differs from the last published one.
func (h *Hub) PublishState(state State) {
	h.mu.Lock()
	changed := h.state != state
	h.state = state
	h.mu.Unlock()

	if !changed {
		return
	}
	h.Broadcast(EventStateChanged, stateData(state))
}

// CurrentState returns the last published agent state.
func (h *Hub) CurrentState() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// PublishSyncStarted notifies clients that a drain pass began.
func (h *Hub) PublishSyncStarted(pending int) {
	h.Broadcast(EventSyncStarted, map[string]interface{}{
		"pending": pending,
	})
}

// PublishSyncCompleted notifies clients that a drain pass finished clean.
func (h *Hub) PublishSyncCompleted(pending int) {
	h.Broadcast(EventSyncCompleted, map[string]interface{}{
		"pending": pending,
	})
}

// PublishSyncFailed notifies clients that a drain pass failed and will be
// retried.
func (h *Hub) PublishSyncFailed(pending int, errMsg string) {
	h.Broadcast(EventSyncFailed, map[string]interface{}{
		"pending": pending,
		"error":   errMsg,
	})
}

func stateData(state State) map[string]interface{} {
	return map[string]interface{}{
		"online":  state.Online,
		"syncing": state.Syncing,
		"pending": state.Pending,
	}
}

// Handler upgrades HTTP connections to WebSocket and registers them with
// the hub. Each new client receives a state snapshot immediately.
func Handler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warn().Err(err).Msg("failed to upgrade status connection")
			return
		}

		client := &Client{
			id:   uuid.New(),
			conn: conn,
			send: make(chan []byte, 256),
		}
		client.hub = hub

		hub.register <- client

		snapshot, err := json.Marshal(Envelope{
			Type:      EventSnapshot,
			Data:      stateData(hub.CurrentState()),
			Timestamp: time.Now().Unix(),
		})
		if err == nil {
			client.send <- snapshot
		}

		go client.writePump()
		go client.readPump()
	}
}

// readPump drains client messages. Clients only listen, so anything read
// is discarded; the pump exists to detect disconnects and answer pings.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug().Err(err).Msg("status client read error")
			}
			return
		}
	}
}

// writePump pumps hub messages to the connection and keeps it alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
