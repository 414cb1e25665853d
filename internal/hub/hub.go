package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tarunjayantvm/cricket-auction/internal/events"
)

// Role partitions subscribers by what they are allowed to see. Admins get
// full detail, bidders get public state plus their own balance, spectators
// get public state only.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleBidder    Role = "bidder"
	RoleSpectator Role = "spectator"
)

// ParseRole validates a role string from the transport layer.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleBidder, RoleSpectator:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Hub fans engine events out to WebSocket subscribers, partitioned by role.
// Delivery is best-effort: a slow or dead connection is dropped, never
// allowed to block the engine or the other subscribers.
type Hub struct {
	// Connection pools organized by role
	roleConnections map[Role]map[*Connection]bool
	mu              sync.RWMutex

	// Upgrader for WebSocket connections
	upgrader websocket.Upgrader

	// Connection configuration
	config ConnectionConfig

	// Event broadcasting
	broadcastCh chan broadcastMessage
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID     string
	Handle string
	Role   Role
	Conn   *websocket.Conn
	Send   chan []byte
	Hub    *Hub

	// Connection metadata
	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// broadcastMessage is one queued delivery. A non-empty Handle restricts
// delivery to that subscriber regardless of role.
type broadcastMessage struct {
	Event  *events.AuctionEvent
	Handle string
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// New creates a hub with the given connection configuration.
func New(config ConnectionConfig) *Hub {
	return &Hub{
		roleConnections: make(map[Role]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1000), // Buffer for high throughput
	}
}

// Start begins processing broadcast messages, preserving enqueue order per
// subscriber.
func (h *Hub) Start(ctx context.Context) {
	log.Info().Msg("broadcast hub started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("broadcast hub shutting down")
			return
		case message := <-h.broadcastCh:
			h.handleBroadcast(message)
		}
	}
}

// Publish enqueues an event for role-filtered fan-out. It never blocks the
// caller; if the hub cannot keep up the event is dropped with a warning.
func (h *Hub) Publish(ev *events.AuctionEvent) {
	select {
	case h.broadcastCh <- broadcastMessage{Event: ev}:
	default:
		log.Warn().Str("event_type", string(ev.Type)).Msg("broadcast channel full, dropping event")
	}
}

// PublishTo enqueues an event for a single subscriber handle, used for
// private balances and command rejections.
func (h *Hub) PublishTo(handle string, ev *events.AuctionEvent) {
	select {
	case h.broadcastCh <- broadcastMessage{Event: ev, Handle: handle}:
	default:
		log.Warn().
			Str("event_type", string(ev.Type)).
			Str("handle", handle).
			Msg("broadcast channel full, dropping private event")
	}
}

// audience returns the roles allowed to see a broadcast event. Snapshots and
// broadcast-scoped errors carry balances for everyone, so only admins get
// them; everything else is public auction state.
func audience(eventType events.EventType) []Role {
	switch eventType {
	case events.EventTypeAuctionSnapshot, events.EventTypeEventError:
		return []Role{RoleAdmin}
	default:
		return []Role{RoleAdmin, RoleBidder, RoleSpectator}
	}
}

// handleBroadcast processes one queued delivery.
func (h *Hub) handleBroadcast(message broadcastMessage) {
	h.mu.RLock()
	var targets []*Connection
	if message.Handle != "" {
		for _, connections := range h.roleConnections {
			for conn := range connections {
				if conn.Handle == message.Handle {
					targets = append(targets, conn)
				}
			}
		}
	} else {
		for _, role := range audience(message.Event.Type) {
			for conn := range h.roleConnections[role] {
				targets = append(targets, conn)
			}
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		select {
		case conn.Send <- data:
		default:
			// Connection is slow/dead, close it
			log.Warn().
				Str("connection_id", conn.ID).
				Str("handle", conn.Handle).
				Msg("connection send buffer full, closing connection")
			h.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("handle", message.Handle).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// UpgradeConnection upgrades an HTTP request to a WebSocket subscription.
func (h *Hub) UpgradeConnection(w http.ResponseWriter, r *http.Request, role Role, handle string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Handle:      handle,
		Role:        role,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Hub:         h,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	h.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("handle", handle).
		Str("role", string(role)).
		Msg("WebSocket connection established")

	return nil
}

func (h *Hub) registerConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.roleConnections[conn.Role] == nil {
		h.roleConnections[conn.Role] = make(map[*Connection]bool)
	}
	h.roleConnections[conn.Role][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("role", string(conn.Role)).
		Int("total_connections", len(h.roleConnections[conn.Role])).
		Msg("connection registered")
}

func (h *Hub) unregisterConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if connections, exists := h.roleConnections[conn.Role]; exists {
		if _, exists := connections[conn]; exists {
			delete(connections, conn)
			close(conn.Send)

			if len(connections) == 0 {
				delete(h.roleConnections, conn.Role)
			}

			log.Info().
				Str("connection_id", conn.ID).
				Str("handle", conn.Handle).
				Str("role", string(conn.Role)).
				Msg("connection unregistered")
		}
	}
}

// Stats returns statistics about active connections per role.
func (h *Hub) Stats() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := map[string]int{"total": 0}
	for role, connections := range h.roleConnections {
		stats[string(role)] = len(connections)
		stats["total"] += len(connections)
	}
	return stats
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Hub.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Hub.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Hub.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		// Subscribers are read-only; commands arrive over HTTP.
		log.Debug().
			Str("connection_id", c.ID).
			Str("handle", c.Handle).
			RawJSON("message", message).
			Msg("ignoring client message")
		c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.ReadTimeout))
	}
}
