package collaboration

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"storyforge/internal/middleware"
	"storyforge/internal/models"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel/attribute"
)

// Session is one active websocket connection for one authenticated user. A
// single session can be a member of many rooms at once; membership is
// tracked by the hub's run goroutine, never mutated here.
type Session struct {
	ID       string
	UserID   string
	Username string
	Avatar   string

	ConnectedAt time.Time

	Conn *websocket.Conn
	Send chan []byte

	hub    *Hub
	rooms  map[RoomKey]bool // owned by the hub run goroutine
	closed bool             // set by the hub run goroutine on unregister

	activeMu   sync.RWMutex
	lastActive time.Time
}

// NewSession wraps an upgraded websocket connection.
func NewSession(hub *Hub, conn *websocket.Conn, userID, username, avatar string) *Session {
	now := time.Now()
	return &Session{
		ID:          ksuid.New().String(),
		UserID:      userID,
		Username:    username,
		Avatar:      avatar,
		ConnectedAt: now,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		hub:         hub,
		rooms:       make(map[RoomKey]bool),
		lastActive:  now,
	}
}

// LastActive returns the time of the last message or pong from this client.
func (s *Session) LastActive() time.Time {
	s.activeMu.RLock()
	defer s.activeMu.RUnlock()
	return s.lastActive
}

func (s *Session) touch() {
	s.activeMu.Lock()
	s.lastActive = time.Now()
	s.activeMu.Unlock()
}

// ReadPump reads and decodes client events until the connection drops.
// Malformed frames and unknown event types are dropped at this boundary;
// only validated payloads reach the hub.
func (s *Session) ReadPump(ctx context.Context) {
	defer func() {
		s.hub.unregister <- s
		s.Conn.Close()
	}()

	s.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	s.Conn.SetPongHandler(func(string) error {
		s.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		s.touch()
		return nil
	})

	for {
		_, message, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		s.touch()

		msgCtx, span := middleware.StartSpan(ctx, "WebSocket.ProcessMessage",
			attribute.String("session.id", s.ID),
			attribute.Int("message.size", len(message)),
		)

		var envelope models.Envelope
		if err := json.Unmarshal(message, &envelope); err != nil {
			log.Printf("⚠️  Session %s sent invalid frame: %v", s.ID, err)
			middleware.AddSpanError(msgCtx, err)
			span.End()
			continue
		}

		payload, err := envelope.DecodePayload()
		if err != nil {
			log.Printf("⚠️  Session %s sent invalid %s event: %v", s.ID, envelope.Type, err)
			middleware.AddSpanError(msgCtx, err)
			span.End()
			continue
		}

		span.SetAttributes(attribute.String("event.type", string(envelope.Type)))

		s.hub.inbound <- &inboundEvent{
			session:   s,
			eventType: envelope.Type,
			payload:   payload,
		}

		span.End()
	}
}

// WritePump writes queued messages and periodic pings to the connection.
// Running writes on a single goroutine keeps slow clients from blocking the
// hub.
func (s *Session) WritePump(ctx context.Context) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		s.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.Send:
			s.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				s.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := s.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Drain additional queued messages
			n := len(s.Send)
			for i := 0; i < n; i++ {
				if err := s.Conn.WriteMessage(websocket.TextMessage, <-s.Send); err != nil {
					return
				}
			}

		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
