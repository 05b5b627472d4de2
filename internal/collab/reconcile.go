package collab

import (
	"encoding/json"
	"sync"

	"storyforge/internal/models"
)

// Artifact is the client-side view of one synchronized artifact.
type Artifact struct {
	ID      string
	Version int64
	Order   int
	Data    json.RawMessage
}

// Collection reconciles optimistic local mutations against authoritative
// broadcasts for one artifact type. Local writes apply immediately; the
// server's echo (or a peer's broadcast) later confirms or overrides them.
// Broadcasts always win on reorder, and deletes are idempotent.
type Collection struct {
	mu    sync.RWMutex
	items map[string]Artifact
	order []string

	pending        map[string]models.MutationKind
	pendingReorder bool
	conflicts      int
}

// NewCollection creates an empty collection.
func NewCollection() *Collection {
	return &Collection{
		items:   make(map[string]Artifact),
		pending: make(map[string]models.MutationKind),
	}
}

// ApplyLocal records an optimistic local mutation. The caller issues the
// matching network request in parallel; the eventual broadcast echo clears
// the pending flag.
func (c *Collection) ApplyLocal(kind models.MutationKind, artifact Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch kind {
	case models.MutationCreate:
		if _, ok := c.items[artifact.ID]; !ok {
			c.order = append(c.order, artifact.ID)
		}
		c.items[artifact.ID] = artifact
		c.pending[artifact.ID] = kind

	case models.MutationUpdate:
		c.items[artifact.ID] = artifact
		c.pending[artifact.ID] = kind

	case models.MutationDelete:
		c.removeLocked(artifact.ID)
		c.pending[artifact.ID] = kind
	}

	c.renumberLocked()
}

// ReorderLocal applies an optimistic reorder. IDs not present in the
// collection are ignored; present IDs missing from the argument keep their
// relative order at the end.
func (c *Collection) ReorderLocal(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reorderLocked(ids)
	c.pendingReorder = true
}

// ApplyBroadcast folds one authoritative mutation broadcast into the
// collection and reports whether anything changed.
func (c *Collection) ApplyBroadcast(p *models.MutationBroadcastPayload) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch p.Kind {
	case models.MutationCreate, models.MutationUpdate:
		incoming := Artifact{
			ID:      p.Artifact.ID,
			Version: p.Artifact.Version,
			Order:   p.Artifact.Order,
			Data:    p.Artifact.Data,
		}

		local, exists := c.items[incoming.ID]
		if exists && local.Version > incoming.Version {
			// A newer optimistic write exists locally; keep it and wait
			// for its own echo.
			c.conflicts++
			return false
		}

		if !exists {
			c.order = append(c.order, incoming.ID)
		}
		c.items[incoming.ID] = incoming
		delete(c.pending, incoming.ID)
		c.renumberLocked()
		return true

	case models.MutationDelete:
		delete(c.pending, p.Artifact.ID)
		if _, ok := c.items[p.Artifact.ID]; !ok {
			// Already gone, locally deleted or never seen. Idempotent.
			return false
		}
		c.removeLocked(p.Artifact.ID)
		c.renumberLocked()
		return true

	case models.MutationReorder:
		// The authoritative order always wins; an unconfirmed local
		// reorder is discarded, not merged.
		if c.pendingReorder {
			c.conflicts++
		}
		c.pendingReorder = false
		c.reorderLocked(p.OrderedIDs)
		return true
	}

	return false
}

// Items returns the artifacts in their current order.
func (c *Collection) Items() []Artifact {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Artifact, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}

// Get returns one artifact by ID.
func (c *Collection) Get(id string) (Artifact, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.items[id]
	return a, ok
}

// Len returns the number of artifacts.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Conflicts counts broadcasts that contradicted an unconfirmed local
// mutation. Exposed so callers can surface sync pressure to the user.
func (c *Collection) Conflicts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conflicts
}

// HasPending reports whether any local mutation is still unconfirmed.
func (c *Collection) HasPending() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pending) > 0 || c.pendingReorder
}

func (c *Collection) removeLocked(id string) {
	if _, ok := c.items[id]; !ok {
		return
	}
	delete(c.items, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Collection) reorderLocked(ids []string) {
	next := make([]string, 0, len(c.order))
	placed := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := c.items[id]; ok && !placed[id] {
			next = append(next, id)
			placed[id] = true
		}
	}
	for _, id := range c.order {
		if !placed[id] {
			next = append(next, id)
		}
	}
	c.order = next
	c.renumberLocked()
}

// renumberLocked keeps Order fields contiguous after any structural change.
func (c *Collection) renumberLocked() {
	for i, id := range c.order {
		a := c.items[id]
		a.Order = i
		c.items[id] = a
	}
}

func (c *Collection) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]Artifact)
	c.order = nil
	c.pending = make(map[string]models.MutationKind)
	c.pendingReorder = false
	c.conflicts = 0
}
