package collaboration

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"storyforge/internal/models"
	"storyforge/internal/repository"
	"storyforge/internal/services"

	"errors"
)

// RoomKey identifies a collaboration room by its composite key, e.g.
// (project, P123) or (scene, S45).
type RoomKey struct {
	Type string
	ID   string
}

// TokenLedger defines what the hub needs from the token ledger.
type TokenLedger interface {
	DeductTokens(ctx context.Context, userID string, cost int) (remaining int, err error)
	RefundTokens(ctx context.Context, userID string, cost int) error
}

// CriticSubmitter defines what the hub needs from the critic service.
type CriticSubmitter interface {
	SubmitJob(job services.AnalysisJob) error
}

// inboundEvent is a decoded client event paired with its sender.
type inboundEvent struct {
	session   *Session
	eventType models.EventType
	payload   any
}

// roomMessage is a pre-typed event to be fanned out to a room.
type roomMessage struct {
	room     RoomKey
	envelope *models.Envelope
}

// Hub coordinates all websocket sessions, their room memberships, presence
// rosters, typing relays and critique result fan-out. All room state is
// owned by the single run goroutine; other goroutines only enqueue.
type Hub struct {
	rooms map[RoomKey]map[*Session]time.Time // joinedAt per session per room

	register   chan *Session
	unregister chan *Session
	inbound    chan *inboundEvent
	broadcasts chan *roomMessage
	done       chan struct{}
	stopped    chan struct{} // closed when the run loop has returned

	ledger  TokenLedger
	critics CriticSubmitter

	running bool
	mu      sync.RWMutex
}

// NewHub creates a new hub.
func NewHub(ledger TokenLedger) *Hub {
	return &Hub{
		rooms:      make(map[RoomKey]map[*Session]time.Time),
		register:   make(chan *Session, 64),
		unregister: make(chan *Session, 64),
		inbound:    make(chan *inboundEvent, 256),
		broadcasts: make(chan *roomMessage, 256),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		ledger:     ledger,
	}
}

// SetCriticSubmitter wires the critic service after construction (the critic
// service needs the hub as its publisher, so one side is set late).
func (h *Hub) SetCriticSubmitter(critics CriticSubmitter) {
	h.critics = critics
}

// Start begins the hub event loop.
func (h *Hub) Start() error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	log.Println("🔄 Starting collaboration hub...")
	go h.run()

	return nil
}

func (h *Hub) run() {
	defer close(h.stopped)
	for {
		select {
		case <-h.done:
			return

		case session := <-h.register:
			log.Printf("  Session %s connected (user: %s)", session.ID, session.Username)

		case session := <-h.unregister:
			h.handleDisconnect(session)

		case ev := <-h.inbound:
			h.handleEvent(ev)

		case msg := <-h.broadcasts:
			h.fanOut(msg.room, msg.envelope)
		}
	}
}

// handleEvent dispatches one decoded client event. Events from a session
// whose unregister was already processed are dropped: the channels race, and
// a late join_room would put the dead session (with its closed Send) back
// into a room.
func (h *Hub) handleEvent(ev *inboundEvent) {
	if ev.session.closed {
		return
	}

	switch p := ev.payload.(type) {
	case *models.RoomRef:
		key := RoomKey{Type: p.RoomType, ID: p.RoomID}
		if ev.eventType == models.EventJoinRoom {
			h.joinRoom(ev.session, key)
		} else {
			h.leaveRoom(ev.session, key)
		}

	case *models.TypingPayload:
		h.relayTyping(ev.session, p)

	case *models.AnalyzeRequestPayload:
		h.handleAnalyzeRequest(ev.session, p)

	default:
		log.Printf("⚠️  Session %s sent unexpected event %T", ev.session.ID, ev.payload)
	}
}

func (h *Hub) joinRoom(session *Session, key RoomKey) {
	if h.rooms[key] == nil {
		h.rooms[key] = make(map[*Session]time.Time)
	}
	if _, already := h.rooms[key][session]; !already {
		h.rooms[key][session] = time.Now()
	}
	session.rooms[key] = true

	log.Printf("  Session %s joined room %s:%s (total: %d)", session.ID, key.Type, key.ID, len(h.rooms[key]))

	h.broadcastPresence(key)
}

func (h *Hub) leaveRoom(session *Session, key RoomKey) {
	sessions, ok := h.rooms[key]
	if !ok {
		return
	}
	if _, member := sessions[session]; !member {
		return
	}

	delete(sessions, session)
	delete(session.rooms, key)
	if len(sessions) == 0 {
		delete(h.rooms, key)
		return
	}

	log.Printf("  Session %s left room %s:%s (remaining: %d)", session.ID, key.Type, key.ID, len(sessions))

	h.broadcastPresence(key)
}

// handleDisconnect removes a dropped session from every room it joined and
// refreshes those rooms' rosters.
func (h *Hub) handleDisconnect(session *Session) {
	if session.closed {
		return
	}
	session.closed = true

	for key := range session.rooms {
		h.leaveRoom(session, key)
	}
	close(session.Send)

	log.Printf("  Session %s disconnected (user: %s)", session.ID, session.Username)
}

// broadcastPresence pushes a full roster snapshot to everyone in the room.
// Snapshots replace the client roster wholesale, so out-of-order delivery
// can only make a roster stale, never wrong in shape.
func (h *Hub) broadcastPresence(key RoomKey) {
	sessions := h.rooms[key]

	// At most one roster entry per user, even with multiple connections;
	// the earliest join wins.
	byUser := make(map[string]models.PresenceUser, len(sessions))
	for sess, joinedAt := range sessions {
		entry, seen := byUser[sess.UserID]
		if !seen || joinedAt.Before(entry.JoinedAt) {
			byUser[sess.UserID] = models.PresenceUser{
				UserID:       sess.UserID,
				Username:     sess.Username,
				Avatar:       sess.Avatar,
				RoomID:       key.ID,
				JoinedAt:     joinedAt,
				LastActivity: sess.LastActive(),
			}
		}
	}

	users := make([]models.PresenceUser, 0, len(byUser))
	for _, u := range byUser {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].JoinedAt.Before(users[j].JoinedAt) })

	envelope, err := models.NewEnvelope(models.EventPresenceSnapshot, &models.PresenceSnapshotPayload{
		RoomID: key.ID,
		Users:  users,
	})
	if err != nil {
		log.Printf("⚠️  Failed to build presence snapshot: %v", err)
		return
	}

	h.fanOut(key, envelope)
}

// relayTyping forwards a typing signal to the room, sender included. Clients
// filter their own entry at the display layer.
func (h *Hub) relayTyping(session *Session, p *models.TypingPayload) {
	key := RoomKey{Type: p.RoomType, ID: p.RoomID}
	if _, member := h.rooms[key][session]; !member {
		return
	}

	timestamp := p.Timestamp
	if !p.IsTyping {
		timestamp = ""
	}

	envelope, err := models.NewEnvelope(models.EventTypingStatus, &models.TypingStatusPayload{
		UserID:    session.UserID,
		Username:  session.Username,
		RoomID:    p.RoomID,
		Timestamp: timestamp,
	})
	if err != nil {
		log.Printf("⚠️  Failed to build typing status: %v", err)
		return
	}

	h.fanOut(key, envelope)
}

// handleAnalyzeRequest deducts the critique cost and queues the job.
// Insufficient balance is answered with a distinct error code so the client
// can render "can't afford" instead of a retry prompt.
func (h *Hub) handleAnalyzeRequest(session *Session, p *models.AnalyzeRequestPayload) {
	critic, ok := models.CriticByID(p.CriticType)
	if !ok {
		h.sendAnalysisError(session, p, models.CodeAnalysisFailed, "unknown critic type")
		return
	}

	if _, err := h.ledger.DeductTokens(context.Background(), session.UserID, critic.TokenCost); err != nil {
		if errors.Is(err, repository.ErrInsufficientTokens) {
			h.sendAnalysisError(session, p, models.CodeInsufficientTokens, "insufficient tokens for this analysis")
		} else {
			h.sendAnalysisError(session, p, models.CodeAnalysisFailed, "failed to reserve tokens")
		}
		return
	}

	job := services.AnalysisJob{
		TargetID:   p.TargetID,
		TargetType: p.TargetType,
		CriticType: p.CriticType,
		UserID:     session.UserID,
	}
	if err := h.critics.SubmitJob(job); err != nil {
		if refundErr := h.ledger.RefundTokens(context.Background(), session.UserID, critic.TokenCost); refundErr != nil {
			log.Printf("⚠️  Failed to refund tokens for user %s: %v", session.UserID, refundErr)
		}
		h.sendAnalysisError(session, p, models.CodeAnalysisFailed, err.Error())
	}
}

// sendAnalysisError delivers a failure only to the requesting session.
func (h *Hub) sendAnalysisError(session *Session, p *models.AnalyzeRequestPayload, code models.AnalysisErrorCode, message string) {
	envelope, err := models.NewEnvelope(models.EventAnalysisError, &models.AnalysisErrorPayload{
		CriticType: p.CriticType,
		TargetID:   p.TargetID,
		Error:      message,
		Code:       code,
	})
	if err != nil {
		return
	}
	h.sendToSession(session, envelope)
}

// fanOut sends an envelope to every session in a room.
func (h *Hub) fanOut(key RoomKey, envelope *models.Envelope) {
	data, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("⚠️  Failed to marshal %s event: %v", envelope.Type, err)
		return
	}

	for session := range h.rooms[key] {
		select {
		case session.Send <- data:
		default:
			// Buffer full: connection is slow or dead, drop it
			log.Printf("⚠️  Session %s buffer full, closing connection", session.ID)
			go session.Conn.Close()
		}
	}
}

func (h *Hub) sendToSession(session *Session, envelope *models.Envelope) {
	data, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	select {
	case session.Send <- data:
	default:
		log.Printf("⚠️  Session %s buffer full, dropping %s", session.ID, envelope.Type)
	}
}

// BroadcastMutation pushes an authoritative artifact change to a room. The
// echo goes to every member including the originator, whose client treats it
// as confirmation of its optimistic write.
func (h *Hub) BroadcastMutation(roomType string, payload *models.MutationBroadcastPayload) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	h.mu.RUnlock()

	envelope, err := models.NewEnvelope(models.EventMutationBroadcast, payload)
	if err != nil {
		return err
	}

	h.broadcasts <- &roomMessage{
		room:     RoomKey{Type: roomType, ID: payload.RoomID},
		envelope: envelope,
	}
	return nil
}

// PublishAnalysis implements services.ResultPublisher.
func (h *Hub) PublishAnalysis(analysis *models.AIAnalysis) {
	envelope, err := models.NewEnvelope(models.EventAnalysisCompleted, &models.AnalysisCompletedPayload{
		Analysis: *analysis,
	})
	if err != nil {
		log.Printf("⚠️  Failed to build analysis_completed: %v", err)
		return
	}

	h.enqueueBroadcast(RoomKey{Type: string(analysis.TargetType), ID: analysis.TargetID}, envelope)
}

// PublishAnalysisError implements services.ResultPublisher.
func (h *Hub) PublishAnalysisError(targetType models.TargetType, targetID, criticType string, code models.AnalysisErrorCode, message string) {
	envelope, err := models.NewEnvelope(models.EventAnalysisError, &models.AnalysisErrorPayload{
		CriticType: criticType,
		TargetID:   targetID,
		Error:      message,
		Code:       code,
	})
	if err != nil {
		return
	}

	h.enqueueBroadcast(RoomKey{Type: string(targetType), ID: targetID}, envelope)
}

func (h *Hub) enqueueBroadcast(key RoomKey, envelope *models.Envelope) {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return
	}

	select {
	case h.broadcasts <- &roomMessage{room: key, envelope: envelope}:
	case <-h.done:
	}
}

// Shutdown stops the hub and closes all connections.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	log.Println("🛑 Shutting down collaboration hub...")
	close(h.done)

	// Wait for the run loop to return before touching h.rooms; it owns the
	// map until then.
	<-h.stopped

	for key, sessions := range h.rooms {
		for session := range sessions {
			if session.Conn != nil {
				session.Conn.Close()
			}
		}
		delete(h.rooms, key)
	}

	log.Println("✓ Collaboration hub shutdown complete")
}
