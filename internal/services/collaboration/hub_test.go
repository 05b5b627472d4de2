package collaboration

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"storyforge/internal/models"
	"storyforge/internal/repository"
	"storyforge/internal/services"

	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The tests below drive the hub's handlers directly instead of spinning up
// websocket connections; the pumps are plain I/O and the interesting
// behavior lives in the room bookkeeping.

func newTestSession(userID, username string) *Session {
	now := time.Now()
	return &Session{
		ID:          ksuid.New().String(),
		UserID:      userID,
		Username:    username,
		ConnectedAt: now,
		Send:        make(chan []byte, 16),
		rooms:       make(map[RoomKey]bool),
		lastActive:  now,
	}
}

func receive(t *testing.T, s *Session) *models.Envelope {
	t.Helper()
	select {
	case data := <-s.Send:
		var env models.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return &env
	case <-time.After(time.Second):
		t.Fatal("no message delivered to session")
		return nil
	}
}

func receivePresence(t *testing.T, s *Session) *models.PresenceSnapshotPayload {
	t.Helper()
	env := receive(t, s)
	require.Equal(t, models.EventPresenceSnapshot, env.Type)
	payload, err := env.DecodePayload()
	require.NoError(t, err)
	return payload.(*models.PresenceSnapshotPayload)
}

func TestJoinRoomBroadcastsRoster(t *testing.T) {
	hub := NewHub(nil)
	key := RoomKey{Type: "project", ID: "p1"}

	ada := newTestSession("u1", "Ada")
	hub.joinRoom(ada, key)

	snapshot := receivePresence(t, ada)
	require.Len(t, snapshot.Users, 1)
	assert.Equal(t, "u1", snapshot.Users[0].UserID)

	grace := newTestSession("u2", "Grace")
	hub.joinRoom(grace, key)

	// Both members get the refreshed two-user roster.
	for _, s := range []*Session{ada, grace} {
		snapshot := receivePresence(t, s)
		assert.Len(t, snapshot.Users, 2)
	}
}

func TestRosterDedupsMultipleConnectionsPerUser(t *testing.T) {
	hub := NewHub(nil)
	key := RoomKey{Type: "project", ID: "p1"}

	first := newTestSession("u1", "Ada")
	hub.joinRoom(first, key)
	receivePresence(t, first)

	second := newTestSession("u1", "Ada")
	hub.joinRoom(second, key)

	snapshot := receivePresence(t, first)
	require.Len(t, snapshot.Users, 1, "one roster entry per user, not per connection")
	// The earliest join is the one reported.
	assert.Equal(t, hub.rooms[key][first].Unix(), snapshot.Users[0].JoinedAt.Unix())
}

func TestLeaveRoomRefreshesRemainingMembers(t *testing.T) {
	hub := NewHub(nil)
	key := RoomKey{Type: "scene", ID: "s1"}

	ada := newTestSession("u1", "Ada")
	grace := newTestSession("u2", "Grace")
	hub.joinRoom(ada, key)
	receivePresence(t, ada)
	hub.joinRoom(grace, key)
	receivePresence(t, ada)
	receivePresence(t, grace)

	hub.leaveRoom(ada, key)

	snapshot := receivePresence(t, grace)
	require.Len(t, snapshot.Users, 1)
	assert.Equal(t, "u2", snapshot.Users[0].UserID)

	// Empty rooms are removed entirely.
	hub.leaveRoom(grace, key)
	assert.NotContains(t, hub.rooms, key)
}

func TestRelayTypingRequiresMembership(t *testing.T) {
	hub := NewHub(nil)
	key := RoomKey{Type: "project", ID: "p1"}

	member := newTestSession("u1", "Ada")
	outsider := newTestSession("u2", "Mallory")
	hub.joinRoom(member, key)
	receivePresence(t, member)

	hub.relayTyping(outsider, &models.TypingPayload{
		RoomType: "project", RoomID: "p1", IsTyping: true,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	select {
	case <-member.Send:
		t.Fatal("typing from a non-member must not be relayed")
	case <-time.After(50 * time.Millisecond):
	}

	hub.relayTyping(member, &models.TypingPayload{
		RoomType: "project", RoomID: "p1", IsTyping: true,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	env := receive(t, member)
	assert.Equal(t, models.EventTypingStatus, env.Type)
}

func TestRelayTypingStopClearsTimestamp(t *testing.T) {
	hub := NewHub(nil)
	key := RoomKey{Type: "project", ID: "p1"}

	member := newTestSession("u1", "Ada")
	hub.joinRoom(member, key)
	receivePresence(t, member)

	hub.relayTyping(member, &models.TypingPayload{
		RoomType: "project", RoomID: "p1", IsTyping: false,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})

	env := receive(t, member)
	payload, err := env.DecodePayload()
	require.NoError(t, err)
	assert.Empty(t, payload.(*models.TypingStatusPayload).Timestamp)
}

type fakeLedger struct {
	deducted  int
	refunded  int
	deductErr error
}

func (l *fakeLedger) DeductTokens(ctx context.Context, userID string, cost int) (int, error) {
	if l.deductErr != nil {
		return 0, l.deductErr
	}
	l.deducted += cost
	return 100 - l.deducted, nil
}

func (l *fakeLedger) RefundTokens(ctx context.Context, userID string, cost int) error {
	l.refunded += cost
	return nil
}

type fakeCritics struct {
	jobs      []services.AnalysisJob
	submitErr error
}

func (c *fakeCritics) SubmitJob(job services.AnalysisJob) error {
	if c.submitErr != nil {
		return c.submitErr
	}
	c.jobs = append(c.jobs, job)
	return nil
}

func TestAnalyzeRequestQueuesJob(t *testing.T) {
	ledger := &fakeLedger{}
	critics := &fakeCritics{}
	hub := NewHub(ledger)
	hub.SetCriticSubmitter(critics)

	session := newTestSession("u1", "Ada")
	hub.handleAnalyzeRequest(session, &models.AnalyzeRequestPayload{
		TargetID: "s1", TargetType: models.TargetScene, CriticType: "pacing",
	})

	require.Len(t, critics.jobs, 1)
	assert.Equal(t, "u1", critics.jobs[0].UserID)

	pacing, _ := models.CriticByID("pacing")
	assert.Equal(t, pacing.TokenCost, ledger.deducted)
	assert.Empty(t, session.Send, "no error frame on the happy path")
}

func TestAnalyzeRequestInsufficientTokens(t *testing.T) {
	ledger := &fakeLedger{deductErr: fmt.Errorf("user u1 needs 12 tokens: %w", repository.ErrInsufficientTokens)}
	hub := NewHub(ledger)
	hub.SetCriticSubmitter(&fakeCritics{})

	session := newTestSession("u1", "Ada")
	hub.handleAnalyzeRequest(session, &models.AnalyzeRequestPayload{
		TargetID: "s1", TargetType: models.TargetScene, CriticType: "pacing",
	})

	env := receive(t, session)
	require.Equal(t, models.EventAnalysisError, env.Type)
	payload, err := env.DecodePayload()
	require.NoError(t, err)
	assert.Equal(t, models.CodeInsufficientTokens, payload.(*models.AnalysisErrorPayload).Code)
}

func TestAnalyzeRequestUnknownCritic(t *testing.T) {
	ledger := &fakeLedger{}
	hub := NewHub(ledger)
	hub.SetCriticSubmitter(&fakeCritics{})

	session := newTestSession("u1", "Ada")
	hub.handleAnalyzeRequest(session, &models.AnalyzeRequestPayload{
		TargetID: "s1", TargetType: models.TargetScene, CriticType: "vibes",
	})

	env := receive(t, session)
	require.Equal(t, models.EventAnalysisError, env.Type)
	assert.Zero(t, ledger.deducted, "no deduction for an unknown critic")
}

func TestAnalyzeRequestFullQueueRefunds(t *testing.T) {
	ledger := &fakeLedger{}
	critics := &fakeCritics{submitErr: fmt.Errorf("queue full")}
	hub := NewHub(ledger)
	hub.SetCriticSubmitter(critics)

	session := newTestSession("u1", "Ada")
	hub.handleAnalyzeRequest(session, &models.AnalyzeRequestPayload{
		TargetID: "s1", TargetType: models.TargetScene, CriticType: "pacing",
	})

	pacing, _ := models.CriticByID("pacing")
	assert.Equal(t, pacing.TokenCost, ledger.refunded)

	env := receive(t, session)
	assert.Equal(t, models.EventAnalysisError, env.Type)
}

// Unregister and inbound events travel on separate channels, so the run
// loop can process a disconnect before events the same session queued
// earlier. Those stragglers must be dropped: a late join would re-add the
// dead session to the room and the next fan-out would send on its closed
// Send channel.
func TestEventsAfterDisconnectAreDropped(t *testing.T) {
	hub := NewHub(nil)
	key := RoomKey{Type: "project", ID: "p1"}

	ada := newTestSession("u1", "Ada")
	grace := newTestSession("u2", "Grace")
	hub.joinRoom(ada, key)
	receivePresence(t, ada)
	hub.joinRoom(grace, key)
	receivePresence(t, ada)
	receivePresence(t, grace)

	hub.handleDisconnect(ada)
	receivePresence(t, grace)

	require.NotPanics(t, func() {
		hub.handleEvent(&inboundEvent{
			session:   ada,
			eventType: models.EventJoinRoom,
			payload:   &models.RoomRef{RoomType: "project", RoomID: "p1"},
		})
		hub.handleEvent(&inboundEvent{
			session:   ada,
			eventType: models.EventTyping,
			payload: &models.TypingPayload{
				RoomType: "project", RoomID: "p1", IsTyping: true,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			},
		})
	})

	// The dead session is not back in the room and the survivor saw no
	// roster churn from the dropped events.
	assert.NotContains(t, hub.rooms[key], ada)
	assert.Empty(t, grace.Send)

	// Fan-out to the room still works for the remaining member.
	hub.broadcastPresence(key)
	receivePresence(t, grace)
}

func TestHandleDisconnectTwiceIsNoop(t *testing.T) {
	hub := NewHub(nil)
	session := newTestSession("u1", "Ada")
	hub.joinRoom(session, RoomKey{Type: "project", ID: "p1"})

	hub.handleDisconnect(session)
	require.NotPanics(t, func() { hub.handleDisconnect(session) })
}

func TestShutdownWaitsForRunLoop(t *testing.T) {
	hub := NewHub(nil)
	require.NoError(t, hub.Start())

	session := newTestSession("u1", "Ada")
	hub.register <- session
	hub.inbound <- &inboundEvent{
		session:   session,
		eventType: models.EventJoinRoom,
		payload:   &models.RoomRef{RoomType: "project", RoomID: "p1"},
	}
	receivePresence(t, session)

	hub.Shutdown()

	// Shutdown returns only after the run loop has exited and handed the
	// room map over.
	select {
	case <-hub.stopped:
	default:
		t.Fatal("run loop still owns the room map after Shutdown")
	}
	assert.Empty(t, hub.rooms)

	assert.ErrorIs(t, hub.BroadcastMutation("project", &models.MutationBroadcastPayload{
		Kind:         models.MutationDelete,
		RoomID:       "p1",
		ArtifactType: "scene",
		Artifact:     &models.WireArtifact{ID: "s1"},
	}), ErrHubNotRunning)
}

func TestHandleDisconnectLeavesAllRooms(t *testing.T) {
	hub := NewHub(nil)
	p1 := RoomKey{Type: "project", ID: "p1"}
	s1 := RoomKey{Type: "scene", ID: "s1"}

	session := newTestSession("u1", "Ada")
	hub.joinRoom(session, p1)
	hub.joinRoom(session, s1)

	hub.handleDisconnect(session)

	assert.NotContains(t, hub.rooms, p1)
	assert.NotContains(t, hub.rooms, s1)

	// Send is closed so the write pump terminates.
	_, open := <-session.Send
	for open {
		_, open = <-session.Send
	}
}
