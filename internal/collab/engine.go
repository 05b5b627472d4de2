package collab

import (
	"context"
	"log"
	"sync"
	"time"

	"storyforge/internal/models"
)

// ConnState is the connection lifecycle state of the engine.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ChangeKind classifies engine change notifications.
type ChangeKind int

const (
	ChangeConnection ChangeKind = iota
	ChangePresence
	ChangeTyping
	ChangeAnalysis
	ChangeMutation
)

// Change describes one observable state change. RoomID, TargetID and
// ArtifactType are filled when relevant to the kind.
type Change struct {
	Kind         ChangeKind
	RoomID       string
	TargetID     string
	CriticType   string
	ArtifactType string
}

// Option configures an Engine.
type Option func(*Engine)

// WithBackoff sets the reconnect backoff bounds.
func WithBackoff(min, max time.Duration) Option {
	return func(e *Engine) {
		e.backoffMin = min
		e.backoffMax = max
	}
}

// WithTypingStaleness sets how old a typing timestamp may get before the
// sweep removes it.
func WithTypingStaleness(d time.Duration) Option {
	return func(e *Engine) { e.typingStaleness = d }
}

// WithSweepInterval sets how often stale typing entries are collected.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Engine) { e.sweepInterval = d }
}

// WithAnalysisTimeout bounds how long a critique request may stay pending
// before it is failed locally with a no-response error. Zero (the default)
// waits indefinitely.
func WithAnalysisTimeout(d time.Duration) Option {
	return func(e *Engine) { e.analysisTimeout = d }
}

// Engine is the client-side synchronization engine: it owns the connection
// lifecycle, room membership, presence rosters, typing indicators, critique
// correlation and optimistic mutation reconciliation. All methods are safe
// for concurrent use.
type Engine struct {
	transport Transport

	typingStaleness time.Duration
	sweepInterval   time.Duration
	analysisTimeout time.Duration
	backoffMin      time.Duration
	backoffMax      time.Duration

	rooms    *roomTracker
	presence *presenceRoster
	typing   *typingStore
	analyses *analysisTracker

	mu          sync.RWMutex
	session     *Session
	state       ConnState
	lastErr     error
	conn        Conn
	done        chan struct{}
	collections map[string]*Collection

	listenerMu sync.Mutex
	listeners  map[int]func(Change)
	nextID     int

	wg sync.WaitGroup
}

// NewEngine creates an engine over the given transport.
func NewEngine(transport Transport, opts ...Option) *Engine {
	e := &Engine{
		transport:       transport,
		typingStaleness: 3 * time.Second,
		sweepInterval:   time.Second,
		backoffMin:      time.Second,
		backoffMax:      30 * time.Second,
		rooms:           newRoomTracker(),
		presence:        newPresenceRoster(),
		typing:          newTypingStore(),
		analyses:        newAnalysisTracker(),
		collections:     make(map[string]*Collection),
		listeners:       make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start begins connecting as the given session and keeps reconnecting with
// exponential backoff until Stop is called.
func (e *Engine) Start(session *Session) error {
	e.mu.Lock()
	if e.done != nil {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	done := make(chan struct{})
	e.done = done
	e.session = session
	e.state = StateConnecting
	e.mu.Unlock()

	e.wg.Add(2)
	go e.run(done, session)
	go e.sweepLoop(done)

	log.Printf("🚀 Collaboration engine started (user: %s)", session.UserID)
	return nil
}

// Stop disconnects and clears all synchronized state. Room membership,
// rosters, typing indicators, pending analyses and collections are all
// discarded; a subsequent Start begins from scratch.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.done == nil {
		e.mu.Unlock()
		return
	}
	close(e.done)
	e.done = nil
	conn := e.conn
	e.conn = nil
	e.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	e.wg.Wait()

	e.rooms.clear()
	e.presence.clear()
	e.typing.clear()
	e.analyses.clear()

	e.mu.Lock()
	e.session = nil
	e.state = StateDisconnected
	e.collections = make(map[string]*Collection)
	e.mu.Unlock()

	log.Printf("🛑 Collaboration engine stopped")
}

// State returns the current connection state.
func (e *Engine) State() ConnState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Connected reports whether the engine currently holds a live connection.
func (e *Engine) Connected() bool {
	return e.State() == StateConnected
}

// LastError returns the most recent connection error, if any.
func (e *Engine) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// Subscribe registers a change listener and returns its disposer. Listeners
// are called from engine goroutines and must not block.
func (e *Engine) Subscribe(fn func(Change)) func() {
	e.listenerMu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	e.listenerMu.Unlock()

	return func() {
		e.listenerMu.Lock()
		delete(e.listeners, id)
		e.listenerMu.Unlock()
	}
}

func (e *Engine) notify(c Change) {
	e.listenerMu.Lock()
	fns := make([]func(Change), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.listenerMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

// JoinRoom adds a reference to a room. The first reference sends the join
// event; if the engine is offline the join is replayed on reconnect.
func (e *Engine) JoinRoom(roomType, roomID string) {
	key := RoomKey{Type: roomType, ID: roomID}
	if !e.rooms.join(key) {
		return
	}
	e.sendRoomEvent(models.EventJoinRoom, key)
}

// LeaveRoom drops a reference to a room. The last reference sends the leave
// event and discards the room's roster and typing indicators.
func (e *Engine) LeaveRoom(roomType, roomID string) {
	key := RoomKey{Type: roomType, ID: roomID}
	if !e.rooms.leave(key) {
		return
	}
	e.presence.dropRoom(roomID)
	e.typing.dropRoom(roomID)
	e.sendRoomEvent(models.EventLeaveRoom, key)
}

// sendRoomEvent uses the raw connection, not currentConn: a join issued
// while the reconnect replay is still in flight must not be dropped. The
// server treats duplicate joins as no-ops.
func (e *Engine) sendRoomEvent(t models.EventType, key RoomKey) {
	e.mu.RLock()
	conn := e.conn
	e.mu.RUnlock()
	if conn == nil {
		return
	}
	env, err := models.NewEnvelope(t, models.RoomRef{RoomType: key.Type, RoomID: key.ID})
	if err != nil {
		return
	}
	if err := conn.Send(env); err != nil {
		log.Printf("⚠️  Failed to send %s for %s/%s: %v", t, key.Type, key.ID, err)
	}
}

// SetTyping signals that the local user started (fresh timestamp) or
// stopped (empty timestamp) typing in a room. A no-op while offline; typing
// is ephemeral and not worth queueing.
func (e *Engine) SetTyping(roomType, roomID string, isTyping bool) error {
	if !e.started() {
		return ErrNotStarted
	}
	conn := e.currentConn()
	if conn == nil {
		return nil
	}

	ts := ""
	if isTyping {
		ts = time.Now().UTC().Format(time.RFC3339)
	}
	env, err := models.NewEnvelope(models.EventTyping, models.TypingPayload{
		RoomType:  roomType,
		RoomID:    roomID,
		IsTyping:  isTyping,
		Timestamp: ts,
	})
	if err != nil {
		return err
	}
	return conn.Send(env)
}

// ActiveUsers returns the current presence roster for a room.
func (e *Engine) ActiveUsers(roomID string) []PresenceEntry {
	return e.presence.activeUsers(roomID)
}

// TypingUsers returns the users currently typing in a room.
func (e *Engine) TypingUsers(roomID string) []TypingEntry {
	return e.typing.typingUsers(roomID)
}

// RequestAnalysis asks the server to run one critic against a target. At
// most one request per (target, critic) key may be in flight; the pending
// flag survives disconnects and clears when the matching completion or
// error arrives.
func (e *Engine) RequestAnalysis(targetID string, targetType models.TargetType, criticType string) error {
	if !e.started() {
		return ErrNotStarted
	}

	key := AnalysisKey{TargetID: targetID, CriticType: criticType}
	seq, err := e.analyses.begin(key)
	if err != nil {
		return err
	}

	conn := e.currentConn()
	if conn == nil {
		e.analyses.rollback(key, seq)
		return ErrNotConnected
	}

	env, err := models.NewEnvelope(models.EventAnalyzeRequest, models.AnalyzeRequestPayload{
		TargetID:   targetID,
		TargetType: targetType,
		CriticType: criticType,
	})
	if err != nil {
		e.analyses.rollback(key, seq)
		return err
	}
	if err := conn.Send(env); err != nil {
		e.analyses.rollback(key, seq)
		return err
	}

	if e.analysisTimeout > 0 {
		time.AfterFunc(e.analysisTimeout, func() {
			if e.analyses.expire(key, seq) {
				e.notify(Change{Kind: ChangeAnalysis, TargetID: targetID, CriticType: criticType})
			}
		})
	}
	return nil
}

// IsAnalysisPending reports whether a critique request is in flight for the
// (target, critic) key.
func (e *Engine) IsAnalysisPending(targetID, criticType string) bool {
	return e.analyses.isPending(AnalysisKey{TargetID: targetID, CriticType: criticType})
}

// ActiveAnalyses returns the critic types currently running for a target.
func (e *Engine) ActiveAnalyses(targetID string) []string {
	return e.analyses.pendingFor(targetID)
}

// AnalysisError returns the recorded failure for a key, if the last request
// for it failed.
func (e *Engine) AnalysisError(targetID, criticType string) (AnalysisError, bool) {
	return e.analyses.lastError(AnalysisKey{TargetID: targetID, CriticType: criticType})
}

// LatestAnalysis returns the most recent completed critique for a key.
func (e *Engine) LatestAnalysis(targetID, criticType string) (models.AIAnalysis, bool) {
	return e.analyses.latestResult(AnalysisKey{TargetID: targetID, CriticType: criticType})
}

// Analyses returns all received critiques for a target, newest first.
func (e *Engine) Analyses(targetID string) []models.AIAnalysis {
	return e.analyses.resultsFor(targetID)
}

// Collection returns the reconciled collection for an artifact type,
// creating it on first use.
func (e *Engine) Collection(artifactType string) *Collection {
	e.mu.Lock()
	defer e.mu.Unlock()
	col, ok := e.collections[artifactType]
	if !ok {
		col = NewCollection()
		e.collections[artifactType] = col
	}
	return col
}

func (e *Engine) started() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.done != nil
}

func (e *Engine) currentConn() Conn {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state != StateConnected {
		return nil
	}
	return e.conn
}

func (e *Engine) setState(state ConnState, err error) {
	e.mu.Lock()
	e.state = state
	if err != nil {
		e.lastErr = err
	}
	e.mu.Unlock()
	e.notify(Change{Kind: ChangeConnection})
}

// run is the connection loop: dial, replay room joins, drain events, and on
// drop retry with exponential backoff until Stop.
func (e *Engine) run(done chan struct{}, session *Session) {
	defer e.wg.Done()

	backoff := e.backoffMin
	for {
		select {
		case <-done:
			return
		default:
		}

		e.setState(StateConnecting, nil)
		conn, err := e.transport.Dial(context.Background(), session)
		if err != nil {
			e.setState(StateDisconnected, err)
			log.Printf("⚠️  Connection failed, retrying in %s: %v", backoff, err)
			select {
			case <-done:
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > e.backoffMax {
				backoff = e.backoffMax
			}
			continue
		}
		backoff = e.backoffMin

		e.mu.Lock()
		e.conn = conn
		e.mu.Unlock()

		// Replay room membership before announcing connected so consumers
		// never observe a connected engine with unjoined rooms.
		for _, key := range e.rooms.active() {
			env, err := models.NewEnvelope(models.EventJoinRoom, models.RoomRef{RoomType: key.Type, RoomID: key.ID})
			if err == nil {
				conn.Send(env)
			}
		}

		e.setState(StateConnected, nil)
		log.Printf("✓ Connected to collaboration server")

		e.drain(done, conn)

		e.mu.Lock()
		e.conn = nil
		e.mu.Unlock()

		select {
		case <-done:
			return
		default:
			e.setState(StateDisconnected, nil)
			log.Printf("⚠️  Connection lost, reconnecting")
		}
	}
}

func (e *Engine) drain(done chan struct{}, conn Conn) {
	defer conn.Close()
	for {
		select {
		case <-done:
			return
		case env, ok := <-conn.Events():
			if !ok {
				return
			}
			e.dispatch(env)
		}
	}
}

// dispatch routes one validated server event into the right store. Events
// for rooms the engine is no longer a member of are dropped as stale.
func (e *Engine) dispatch(env *models.Envelope) {
	payload, err := env.DecodePayload()
	if err != nil {
		log.Printf("⚠️  Dropping invalid %s event: %v", env.Type, err)
		return
	}

	switch p := payload.(type) {
	case *models.PresenceSnapshotPayload:
		if !e.rooms.memberID(p.RoomID) {
			return
		}
		e.presence.applySnapshot(p.RoomID, p.Users)
		e.notify(Change{Kind: ChangePresence, RoomID: p.RoomID})

	case *models.TypingStatusPayload:
		if !e.rooms.memberID(p.RoomID) {
			return
		}
		if e.typing.apply(p) {
			e.notify(Change{Kind: ChangeTyping, RoomID: p.RoomID})
		}

	case *models.AnalysisCompletedPayload:
		e.analyses.complete(p.Analysis)
		e.notify(Change{
			Kind:       ChangeAnalysis,
			TargetID:   p.Analysis.TargetID,
			CriticType: p.Analysis.CriticType,
		})

	case *models.AnalysisErrorPayload:
		key := AnalysisKey{TargetID: p.TargetID, CriticType: p.CriticType}
		if e.analyses.fail(key, p.Error, p.Code) {
			e.notify(Change{Kind: ChangeAnalysis, TargetID: p.TargetID, CriticType: p.CriticType})
		}

	case *models.MutationBroadcastPayload:
		if !e.rooms.memberID(p.RoomID) {
			return
		}
		if e.Collection(p.ArtifactType).ApplyBroadcast(p) {
			e.notify(Change{Kind: ChangeMutation, RoomID: p.RoomID, ArtifactType: p.ArtifactType})
		}
	}
}

// sweepLoop expires stale typing indicators on a fixed cadence, independent
// of connection state.
func (e *Engine) sweepLoop(done chan struct{}) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			for _, roomID := range e.typing.sweep(now, e.typingStaleness) {
				e.notify(Change{Kind: ChangeTyping, RoomID: roomID})
			}
		}
	}
}
