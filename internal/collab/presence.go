package collab

import (
	"sync"

	"storyforge/internal/models"
)

// PresenceEntry is one user visible in a room roster.
type PresenceEntry = models.PresenceUser

// presenceRoster holds the server-authoritative roster per room. Every
// snapshot replaces the previous roster wholesale; there is no incremental
// merging, so a missed frame is healed by the next one.
type presenceRoster struct {
	mu    sync.RWMutex
	rooms map[string][]PresenceEntry
}

func newPresenceRoster() *presenceRoster {
	return &presenceRoster{rooms: make(map[string][]PresenceEntry)}
}

// applySnapshot replaces the roster for a room. Duplicate user IDs are
// collapsed keeping the first occurrence, matching server dedup order.
func (p *presenceRoster) applySnapshot(roomID string, users []PresenceEntry) {
	deduped := make([]PresenceEntry, 0, len(users))
	seen := make(map[string]bool, len(users))
	for _, u := range users {
		if seen[u.UserID] {
			continue
		}
		seen[u.UserID] = true
		deduped = append(deduped, u)
	}

	p.mu.Lock()
	p.rooms[roomID] = deduped
	p.mu.Unlock()
}

// ActiveUsers returns a copy of the current roster for a room.
func (p *presenceRoster) activeUsers(roomID string) []PresenceEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	users := p.rooms[roomID]
	out := make([]PresenceEntry, len(users))
	copy(out, users)
	return out
}

func (p *presenceRoster) dropRoom(roomID string) {
	p.mu.Lock()
	delete(p.rooms, roomID)
	p.mu.Unlock()
}

func (p *presenceRoster) clear() {
	p.mu.Lock()
	p.rooms = make(map[string][]PresenceEntry)
	p.mu.Unlock()
}
