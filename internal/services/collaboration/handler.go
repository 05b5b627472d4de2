package collaboration

import (
	"log"
	"net/http"

	"storyforge/internal/middleware"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: validate origin against the configured frontend host
		return true
	},
}

// WebSocketHandler upgrades HTTP requests into collaboration sessions.
type WebSocketHandler struct {
	hub *Hub
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(hub *Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// HandleConnection authenticates and upgrades one websocket connection. The
// session credential is renegotiated only by reconnecting the channel.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := r.URL.Query().Get("user_id")
	username := r.URL.Query().Get("username")
	avatar := r.URL.Query().Get("avatar")

	if userID == "" {
		http.Error(w, "user_id is required", http.StatusUnauthorized)
		return
	}
	if username == "" {
		username = "Anonymous"
	}

	ctx, span := middleware.StartSpan(ctx, "WebSocket.Connect",
		attribute.String("user.id", userID),
	)
	defer span.End()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	session := NewSession(h.hub, conn, userID, username, avatar)
	h.hub.register <- session

	go session.WritePump(ctx)
	go session.ReadPump(ctx)

	log.Printf("✓ WebSocket connection established (user: %s, session: %s)", username, session.ID)
}
