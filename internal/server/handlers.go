// Package server exposes HTTP handlers: the WebSocket upgrade and the
// read-only JSON views over the presence directory.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewHandler creates a Handler serving hub. Upgrades are checked against
// origins.
func NewHandler(hub *Hub, origins *originPolicy, log zerolog.Logger) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		log: log,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Warn().Err(err).Msg("error writing JSON response")
	}
}

// WebSocket upgrades the request and hands the new connection to the hub,
// which greets it and starts its pumps.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(conn, h.hub, r.RemoteAddr)
	if !h.hub.Register(client) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
	}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string  `json:"status"`
	OnlineUsers int     `json:"onlineUsers"`
	Uptime      float64 `json:"uptime"` // seconds
}

// Health reports liveness and the number of identities in the directory.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.JSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		OnlineUsers: h.hub.OnlineCount(),
		Uptime:      h.hub.Uptime().Seconds(),
	})
}

// User reports whether the identity in the path is known and connected.
func (h *Handler) User(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, h.hub.LookupUser(chi.URLParam(r, "id")))
}
