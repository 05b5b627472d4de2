package collab

import (
	"sort"
	"sync"
	"time"

	"storyforge/internal/models"
)

// TypingEntry is one user currently typing in a room.
type TypingEntry struct {
	UserID    string
	Username  string
	RoomID    string
	Timestamp time.Time
}

// typingStore tracks who is typing per room. Entries are keyed by user and
// replaced on every update; an empty wire timestamp removes the entry. A
// sweep removes entries whose timestamp has gone stale, covering clients
// that disconnect without sending a stop.
type typingStore struct {
	mu    sync.RWMutex
	rooms map[string]map[string]TypingEntry
}

func newTypingStore() *typingStore {
	return &typingStore{rooms: make(map[string]map[string]TypingEntry)}
}

// apply folds one typing status event into the store and reports whether the
// room's indicator set changed. Events with timestamps older than what is
// already recorded are ignored, tolerating out-of-order delivery.
func (t *typingStore) apply(p *models.TypingStatusPayload) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	room := t.rooms[p.RoomID]

	if p.Timestamp == "" {
		if room == nil {
			return false
		}
		if _, ok := room[p.UserID]; !ok {
			return false
		}
		delete(room, p.UserID)
		if len(room) == 0 {
			delete(t.rooms, p.RoomID)
		}
		return true
	}

	ts, err := time.Parse(time.RFC3339, p.Timestamp)
	if err != nil {
		return false
	}

	if existing, ok := room[p.UserID]; ok && existing.Timestamp.After(ts) {
		return false
	}

	if room == nil {
		room = make(map[string]TypingEntry)
		t.rooms[p.RoomID] = room
	}
	room[p.UserID] = TypingEntry{
		UserID:    p.UserID,
		Username:  p.Username,
		RoomID:    p.RoomID,
		Timestamp: ts,
	}
	return true
}

// sweep removes entries older than staleness and returns the IDs of rooms
// whose indicator set changed.
func (t *typingStore) sweep(now time.Time, staleness time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var changed []string
	cutoff := now.Add(-staleness)
	for roomID, room := range t.rooms {
		dirty := false
		for userID, entry := range room {
			if entry.Timestamp.Before(cutoff) {
				delete(room, userID)
				dirty = true
			}
		}
		if dirty {
			changed = append(changed, roomID)
		}
		if len(room) == 0 {
			delete(t.rooms, roomID)
		}
	}
	return changed
}

// typingUsers returns the users typing in a room, oldest timestamp first.
func (t *typingStore) typingUsers(roomID string) []TypingEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	room := t.rooms[roomID]
	out := make([]TypingEntry, 0, len(room))
	for _, entry := range room {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (t *typingStore) dropRoom(roomID string) {
	t.mu.Lock()
	delete(t.rooms, roomID)
	t.mu.Unlock()
}

func (t *typingStore) clear() {
	t.mu.Lock()
	t.rooms = make(map[string]map[string]TypingEntry)
	t.mu.Unlock()
}
