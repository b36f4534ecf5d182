package websocket

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// Handler upgrades HTTP requests to verdict streams on a Hub.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a Handler accepting connections from allowedOrigins
func NewHandler(hub *Hub, allowedOrigins string, logger *slog.Logger) *Handler {
	return &Handler{
		hub:      hub,
		upgrader: NewSecureUpgrader(allowedOrigins, logger),
		logger:   logger,
	}
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		if h.logger != nil {
			h.logger.Debug("websocket upgrade failed", slog.Any("error", err))
		}
		return
	}

	client := NewClient(h.hub, conn, h.logger)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
