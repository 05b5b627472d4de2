package collab

import (
	"sort"
	"sync"
)

// RoomKey identifies one collaboration room by type and artifact ID.
type RoomKey struct {
	Type string
	ID   string
}

// roomTracker reference-counts room membership. Multiple views of the same
// artifact may join the same room; only the first join and the last leave
// cross the wire.
type roomTracker struct {
	mu   sync.RWMutex
	refs map[RoomKey]int
}

func newRoomTracker() *roomTracker {
	return &roomTracker{refs: make(map[RoomKey]int)}
}

// join increments the ref count and reports whether this was the first
// reference, i.e. whether a join event should be sent.
func (t *roomTracker) join(key RoomKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refs[key]++
	return t.refs[key] == 1
}

// leave decrements the ref count and reports whether the room was fully
// released. Leaving a room never joined is a no-op.
func (t *roomTracker) leave(key RoomKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.refs[key]
	if !ok {
		return false
	}
	if n > 1 {
		t.refs[key] = n - 1
		return false
	}
	delete(t.refs, key)
	return true
}

// active returns the joined rooms in deterministic order, used for replaying
// joins after a reconnect.
func (t *roomTracker) active() []RoomKey {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]RoomKey, 0, len(t.refs))
	for key := range t.refs {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Type != keys[j].Type {
			return keys[i].Type < keys[j].Type
		}
		return keys[i].ID < keys[j].ID
	})
	return keys
}

// memberID reports whether any joined room has the given artifact ID. Server
// events carry only the room ID, so inbound routing checks membership by ID.
func (t *roomTracker) memberID(roomID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for key := range t.refs {
		if key.ID == roomID {
			return true
		}
	}
	return false
}

func (t *roomTracker) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refs = make(map[RoomKey]int)
}
