package hub

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Handler handles WebSocket upgrade requests for auction subscriptions
type Handler struct {
	hub *Hub
}

// NewHandler creates a new WebSocket handler
func NewHandler(h *Hub) *Handler {
	return &Handler{hub: h}
}

// HandleAuctionConnection subscribes a client to the auction event stream.
// Role and handle come from query parameters; in production these would come
// from the session, which stays out of scope here.
func (h *Handler) HandleAuctionConnection(w http.ResponseWriter, r *http.Request) {
	roleStr := r.URL.Query().Get("role")
	if roleStr == "" {
		roleStr = string(RoleSpectator)
	}
	role, err := ParseRole(roleStr)
	if err != nil {
		http.Error(w, "invalid role", http.StatusBadRequest)
		return
	}

	handle := r.URL.Query().Get("handle")
	if handle == "" && role == RoleBidder {
		http.Error(w, "handle is required for bidders", http.StatusBadRequest)
		return
	}

	if err := h.hub.UpgradeConnection(w, r, role, handle); err != nil {
		log.Error().
			Err(err).
			Str("role", string(role)).
			Str("handle", handle).
			Msg("failed to upgrade WebSocket connection")
		return
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *Handler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(h.hub.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/auction", h.HandleAuctionConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
