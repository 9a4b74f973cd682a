// Package hub fans build events out to websocket display clients. The
// event source is the history store's live feed; each client follows
// either the whole build or a single node.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/forgeview/orchestrator/internal/history"
	"github.com/forgeview/orchestrator/internal/metrics"
	"github.com/forgeview/orchestrator/pkg/types"
)

// Hub maintains the set of active clients and broadcasts events to the
// clients, filtering by node subscription.
type Hub struct {
	// Registered clients by node ID
	clients map[string]map[*Client]bool

	// Global clients (subscribed to all nodes)
	globalClients map[*Client]bool

	// Mutex for client maps
	mu sync.RWMutex

	// Inbound events from the history store
	events chan *types.Event

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Event source
	store history.Store

	// Logger
	logger *slog.Logger

	// Allowed websocket origins
	allowedOrigins map[string]bool

	// Auth validator for websocket connections
	authValidator AuthValidator

	// Stop channel
	stopCh chan struct{}
}

// AuthValidator validates websocket authentication and returns the
// authenticated subject. Returns an empty subject and nil error if auth
// is disabled. Returns an error if auth fails.
type AuthValidator func(r *http.Request) (subject string, err error)

// HubConfig holds Hub configuration.
type HubConfig struct {
	Store          history.Store
	Logger         *slog.Logger
	AllowedOrigins []string      // Allowed websocket origins (empty allows all - not recommended)
	AuthValidator  AuthValidator // Optional: validates websocket connections
}

// NewHub creates a new Hub over the given event store.
func NewHub(store history.Store) *Hub {
	return NewHubWithConfig(&HubConfig{
		Store:  store,
		Logger: slog.Default(),
	})
}

// NewHubWithConfig creates a new Hub with full configuration.
func NewHubWithConfig(cfg *HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Build allowed origins map for O(1) lookup
	allowedOrigins := make(map[string]bool)
	for _, origin := range cfg.AllowedOrigins {
		allowedOrigins[origin] = true
	}

	return &Hub{
		clients:        make(map[string]map[*Client]bool),
		globalClients:  make(map[*Client]bool),
		events:         make(chan *types.Event, 256),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		store:          cfg.Store,
		logger:         logger,
		allowedOrigins: allowedOrigins,
		authValidator:  cfg.AuthValidator,
		stopCh:         make(chan struct{}),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	// Start the store subscriber
	go h.pumpEvents()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case evt := <-h.events:
			h.broadcastEvent(evt)

		case <-h.stopCh:
			return
		}
	}
}

// Stop gracefully stops the hub.
func (h *Hub) Stop() {
	close(h.stopCh)
}

// registerClient adds a client to the appropriate node subscription.
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client.nodeID == "" || client.nodeID == "*" {
		// Subscribe to all nodes
		h.globalClients[client] = true
		h.logger.Info("client registered for all nodes",
			slog.String("subject", client.subject),
		)
	} else {
		// Subscribe to a specific node
		if h.clients[client.nodeID] == nil {
			h.clients[client.nodeID] = make(map[*Client]bool)
		}
		h.clients[client.nodeID][client] = true
		h.logger.Info("client registered for node",
			slog.String("node_id", client.nodeID),
			slog.String("subject", client.subject),
		)
	}
	metrics.WSClients.Inc()
}

// unregisterClient removes a client from subscriptions.
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Check global clients
	if _, ok := h.globalClients[client]; ok {
		delete(h.globalClients, client)
		close(client.send)
		metrics.WSClients.Dec()
		return
	}

	// Check node-specific clients
	if clients, ok := h.clients[client.nodeID]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			close(client.send)
			metrics.WSClients.Dec()

			// Clean up empty node maps
			if len(clients) == 0 {
				delete(h.clients, client.nodeID)
			}
		}
	}
}

// broadcastEvent sends an event to subscribed clients.
func (h *Hub) broadcastEvent(evt *types.Event) {
	raw, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to marshal event", slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	// Send to global clients
	for client := range h.globalClients {
		h.sendToClient(client, raw)
	}

	// Send to node-specific clients
	if evt.NodeID != "" {
		if clients, ok := h.clients[evt.NodeID]; ok {
			for client := range clients {
				h.sendToClient(client, raw)
			}
		}
	}
}

// sendToClient sends a message to a single client.
func (h *Hub) sendToClient(client *Client, message []byte) {
	select {
	case client.send <- message:
		// Message sent successfully
	default:
		// Client buffer full - will be cleaned up on next unregister
		h.logger.Warn("client buffer full, dropping event", slog.String("node_id", client.nodeID))
	}
}

// pumpEvents subscribes to the history store's live feed and forwards
// events into the broadcast loop.
func (h *Hub) pumpEvents() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, cleanup, err := h.store.Subscribe(ctx)
	if err != nil {
		h.logger.Error("failed to subscribe to event store", slog.String("error", err.Error()))
		return
	}
	defer cleanup()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				h.logger.Warn("event store feed closed")
				return
			}
			select {
			case h.events <- evt:
			default:
				h.logger.Warn("event queue full, dropping event")
			}

		case <-h.stopCh:
			return
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := len(h.globalClients)
	for _, clients := range h.clients {
		count += len(clients)
	}
	return count
}

// Handler returns an http.Handler that upgrades requests to websockets.
// The optional node query parameter narrows the subscription to one node.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(h, w, r, r.URL.Query().Get("node"))
	})
}

// ServeWs handles websocket requests from the peer.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, nodeID string) {
	// Validate authentication before upgrading connection
	var subject string
	if hub.authValidator != nil {
		var err error
		subject, err = hub.authValidator(r)
		if err != nil {
			hub.logger.Warn("websocket auth failed",
				slog.String("error", err.Error()),
				slog.String("node_id", nodeID),
				slog.String("remote_addr", r.RemoteAddr),
			)
			http.Error(w, `{"error": "authentication required"}`, http.StatusUnauthorized)
			return
		}
	}

	// Configure origin validation
	upgrader.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		// If no origin header (same-origin request), allow
		if origin == "" {
			return true
		}

		// If no allowed origins configured, allow all
		if len(hub.allowedOrigins) == 0 {
			return true
		}

		// Check if origin is in allowed list or if wildcard is configured
		if hub.allowedOrigins["*"] || hub.allowedOrigins[origin] {
			return true
		}

		hub.logger.Warn("websocket origin rejected",
			slog.String("origin", origin),
			slog.String("node_id", nodeID),
			slog.String("subject", subject),
		)
		return false
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, 256),
		nodeID:  nodeID,
		subject: subject,
	}
	client.hub.register <- client

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()
}
