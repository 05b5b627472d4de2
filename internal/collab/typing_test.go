package collab

import (
	"testing"
	"time"

	"storyforge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func typingAt(userID, roomID string, ts time.Time) *models.TypingStatusPayload {
	return &models.TypingStatusPayload{
		UserID:    userID,
		Username:  userID,
		RoomID:    roomID,
		Timestamp: ts.UTC().Format(time.RFC3339),
	}
}

func TestTypingApplyAndStop(t *testing.T) {
	store := newTypingStore()
	now := time.Now()

	assert.True(t, store.apply(typingAt("u1", "p1", now)))
	require.Len(t, store.typingUsers("p1"), 1)

	// Empty timestamp is a stop signal.
	assert.True(t, store.apply(&models.TypingStatusPayload{UserID: "u1", RoomID: "p1"}))
	assert.Empty(t, store.typingUsers("p1"))

	// Stopping an absent user changes nothing.
	assert.False(t, store.apply(&models.TypingStatusPayload{UserID: "u1", RoomID: "p1"}))
}

func TestTypingIgnoresOutOfOrderTimestamps(t *testing.T) {
	store := newTypingStore()
	now := time.Now()

	require.True(t, store.apply(typingAt("u1", "p1", now)))
	assert.False(t, store.apply(typingAt("u1", "p1", now.Add(-5*time.Second))))

	users := store.typingUsers("p1")
	require.Len(t, users, 1)
	assert.WithinDuration(t, now, users[0].Timestamp, time.Second)
}

func TestTypingRejectsInvalidTimestamp(t *testing.T) {
	store := newTypingStore()
	assert.False(t, store.apply(&models.TypingStatusPayload{
		UserID: "u1", RoomID: "p1", Timestamp: "not-a-time",
	}))
	assert.Empty(t, store.typingUsers("p1"))
}

func TestTypingSweepRemovesStaleEntries(t *testing.T) {
	store := newTypingStore()
	now := time.Now()

	store.apply(typingAt("u1", "p1", now.Add(-4*time.Second)))
	store.apply(typingAt("u2", "p1", now))
	store.apply(typingAt("u3", "p2", now.Add(-10*time.Second)))

	changed := store.sweep(now, 3*time.Second)
	assert.ElementsMatch(t, []string{"p1", "p2"}, changed)

	users := store.typingUsers("p1")
	require.Len(t, users, 1)
	assert.Equal(t, "u2", users[0].UserID)
	assert.Empty(t, store.typingUsers("p2"))

	// Nothing stale left: sweep reports no changes.
	assert.Empty(t, store.sweep(now, 3*time.Second))
}

func TestTypingUsersSortedByTimestamp(t *testing.T) {
	store := newTypingStore()
	now := time.Now()

	store.apply(typingAt("u2", "p1", now))
	store.apply(typingAt("u1", "p1", now.Add(-2*time.Second)))

	users := store.typingUsers("p1")
	require.Len(t, users, 2)
	assert.Equal(t, "u1", users[0].UserID)
	assert.Equal(t, "u2", users[1].UserID)
}

// A user who keeps typing for four seconds stays visible the whole time
// because every keystroke refreshes the timestamp; only silence expires the
// indicator.
func TestTypingRefreshKeepsEntryAlive(t *testing.T) {
	store := newTypingStore()
	start := time.Now()

	for elapsed := time.Duration(0); elapsed <= 4*time.Second; elapsed += time.Second {
		store.apply(typingAt("u1", "p1", start.Add(elapsed)))
		changed := store.sweep(start.Add(elapsed), 3*time.Second)
		assert.Empty(t, changed, "entry expired despite refresh at %s", elapsed)
		assert.Len(t, store.typingUsers("p1"), 1)
	}

	// Silence: the next sweep past staleness removes the entry.
	changed := store.sweep(start.Add(4*time.Second).Add(3100*time.Millisecond), 3*time.Second)
	assert.Equal(t, []string{"p1"}, changed)
	assert.Empty(t, store.typingUsers("p1"))
}

func TestEngineSweepExpiresTypingIndicators(t *testing.T) {
	engine, _, conn := startEngine(t,
		WithTypingStaleness(60*time.Millisecond),
		WithSweepInterval(10*time.Millisecond),
	)
	engine.JoinRoom("project", "p1")

	conn.push(t, models.EventTypingStatus, typingAt("u2", "p1", time.Now()))
	require.Eventually(t, func() bool { return len(engine.TypingUsers("p1")) == 1 },
		time.Second, 5*time.Millisecond)

	// No refresh: the sweep clears the indicator shortly after staleness.
	require.Eventually(t, func() bool { return len(engine.TypingUsers("p1")) == 0 },
		time.Second, 5*time.Millisecond)
}

func TestEngineTypingForUnjoinedRoomDropped(t *testing.T) {
	engine, _, conn := startEngine(t)

	conn.push(t, models.EventTypingStatus, typingAt("u2", "p-unknown", time.Now()))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, engine.TypingUsers("p-unknown"))
}
