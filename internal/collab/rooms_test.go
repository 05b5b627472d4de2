package collab

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoomTrackerRefCounting(t *testing.T) {
	tracker := newRoomTracker()
	key := RoomKey{Type: "project", ID: "p1"}

	assert.True(t, tracker.join(key))
	assert.False(t, tracker.join(key))

	assert.False(t, tracker.leave(key))
	assert.True(t, tracker.leave(key))

	// Fully released: a new join is a first join again.
	assert.True(t, tracker.join(key))
}

func TestRoomTrackerLeaveUnknownRoom(t *testing.T) {
	tracker := newRoomTracker()
	assert.False(t, tracker.leave(RoomKey{Type: "project", ID: "p1"}))
}

func TestRoomTrackerActiveIsSorted(t *testing.T) {
	tracker := newRoomTracker()
	tracker.join(RoomKey{Type: "scene", ID: "s2"})
	tracker.join(RoomKey{Type: "project", ID: "p1"})
	tracker.join(RoomKey{Type: "scene", ID: "s1"})

	assert.Equal(t, []RoomKey{
		{Type: "project", ID: "p1"},
		{Type: "scene", ID: "s1"},
		{Type: "scene", ID: "s2"},
	}, tracker.active())
}

func TestRoomTrackerMemberID(t *testing.T) {
	tracker := newRoomTracker()
	tracker.join(RoomKey{Type: "project", ID: "p1"})

	assert.True(t, tracker.memberID("p1"))
	assert.False(t, tracker.memberID("p2"))

	tracker.leave(RoomKey{Type: "project", ID: "p1"})
	assert.False(t, tracker.memberID("p1"))
}
