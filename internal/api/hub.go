package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"churn-engine/internal/engine"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	eventBuffer = 100
	writeWait   = 5 * time.Second
)

// EventConnected is the first message every websocket client receives.
const EventConnected = "connected"

// Hub streams engine lifecycle events to connected WebSocket clients. It implements
// engine.EventSink.
type Hub struct {
	upgrader         websocket.Upgrader       // WebSocket upgrader for event streams
	clients          map[*websocket.Conn]bool // Connected WebSocket clients
	clientsMu        sync.Mutex               // Guards clients and serialises writes
	broadcastChannel chan engine.Event        // Events waiting to be broadcast
	stopChannel      chan struct{}            // Closed on shutdown, recreated by Start
	isRunning        bool
	mu               sync.Mutex
}

// NewHub creates a stopped hub. Events published before Start are buffered.
func NewHub() *Hub {
	return &Hub{
		upgrader:         websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:          make(map[*websocket.Conn]bool),
		broadcastChannel: make(chan engine.Event, eventBuffer),
	}
}

// Start launches the broadcaster. A stopped hub can be started again.
func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.isRunning {
		return fmt.Errorf("event hub is already running")
	}
	h.stopChannel = make(chan struct{})
	go h.clientBroadcaster(h.stopChannel)
	h.isRunning = true
	return nil
}

// Stop closes every client connection and stops the broadcaster.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.isRunning {
		return
	}
	close(h.stopChannel)

	h.clientsMu.Lock()
	for client := range h.clients {
		client.Close()
	}
	h.clients = make(map[*websocket.Conn]bool)
	h.clientsMu.Unlock()

	h.isRunning = false
	log.Info().Msg("Event hub stopped")
}

// Publish queues event for broadcast. When the buffer is full the event is dropped.
func (h *Hub) Publish(event engine.Event) {
	select {
	case h.broadcastChannel <- event:
	default:
		log.Warn().Str("type", event.Type).Msg("Event buffer full, dropping event")
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}

func (h *Hub) clientBroadcaster(stop <-chan struct{}) {
	for {
		select {
		case event := <-h.broadcastChannel:
			h.broadcastToClients(event)
		case <-stop:
			return
		}
	}
}

func (h *Hub) broadcastToClients(event engine.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event for broadcast")
		return
	}

	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	for client := range h.clients {
		client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Msg("Failed to send event to WebSocket client")
			client.Close()
			delete(h.clients, client)
		}
	}
}

// ServeWS upgrades the request and streams events until the client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	// Registration and the greeting share the lock so that the greeting is always the
	// first frame and every later event reaches the client.
	greeting, _ := json.Marshal(engine.Event{Type: EventConnected, Timestamp: time.Now().UTC()})
	h.clientsMu.Lock()
	h.clients[conn] = true
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteMessage(websocket.TextMessage, greeting)
	h.clientsMu.Unlock()
	if err != nil {
		h.remove(conn)
		return
	}

	// Keep connection alive
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(conn)
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.clientsMu.Lock()
	delete(h.clients, conn)
	h.clientsMu.Unlock()
}
