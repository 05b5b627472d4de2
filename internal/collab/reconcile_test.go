package collab

import (
	"testing"

	"storyforge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(items []Artifact) []string {
	out := make([]string, len(items))
	for i, a := range items {
		out[i] = a.ID
	}
	return out
}

func broadcastCreate(id string, version int64) *models.MutationBroadcastPayload {
	return &models.MutationBroadcastPayload{
		Kind:         models.MutationCreate,
		RoomID:       "p1",
		ArtifactType: "scene",
		Artifact:     &models.WireArtifact{ID: id, Version: version},
	}
}

func TestLocalCreateThenEchoConfirms(t *testing.T) {
	col := NewCollection()

	col.ApplyLocal(models.MutationCreate, Artifact{ID: "s1", Version: 1})
	assert.True(t, col.HasPending())

	// The server echo confirms the optimistic write.
	assert.True(t, col.ApplyBroadcast(broadcastCreate("s1", 1)))
	assert.False(t, col.HasPending())
	assert.Equal(t, 1, col.Len())
	assert.Zero(t, col.Conflicts())
}

func TestPeerCreateAppends(t *testing.T) {
	col := NewCollection()
	col.ApplyLocal(models.MutationCreate, Artifact{ID: "s1", Version: 1})

	require.True(t, col.ApplyBroadcast(broadcastCreate("s2", 1)))

	items := col.Items()
	assert.Equal(t, []string{"s1", "s2"}, ids(items))
	// Order fields stay contiguous from zero.
	for i, a := range items {
		assert.Equal(t, i, a.Order)
	}
}

func TestUpdateBroadcastOlderThanLocalKeepsLocal(t *testing.T) {
	col := NewCollection()
	col.ApplyBroadcast(broadcastCreate("s1", 1))

	// Two quick local edits, only the first echo arrived yet.
	col.ApplyLocal(models.MutationUpdate, Artifact{ID: "s1", Version: 3})

	stale := &models.MutationBroadcastPayload{
		Kind:         models.MutationUpdate,
		RoomID:       "p1",
		ArtifactType: "scene",
		Artifact:     &models.WireArtifact{ID: "s1", Version: 2},
	}
	assert.False(t, col.ApplyBroadcast(stale))
	assert.Equal(t, 1, col.Conflicts())
	assert.True(t, col.HasPending())

	got, ok := col.Get("s1")
	require.True(t, ok)
	assert.EqualValues(t, 3, got.Version)

	// The matching echo then confirms.
	confirm := &models.MutationBroadcastPayload{
		Kind:         models.MutationUpdate,
		RoomID:       "p1",
		ArtifactType: "scene",
		Artifact:     &models.WireArtifact{ID: "s1", Version: 3},
	}
	assert.True(t, col.ApplyBroadcast(confirm))
	assert.False(t, col.HasPending())
}

func TestDeleteIsIdempotent(t *testing.T) {
	col := NewCollection()
	col.ApplyBroadcast(broadcastCreate("s1", 1))
	col.ApplyBroadcast(broadcastCreate("s2", 1))

	// Local delete, then its echo, then a duplicate delete from a peer who
	// raced us. Nothing after the first removal may change state.
	col.ApplyLocal(models.MutationDelete, Artifact{ID: "s1"})
	assert.Equal(t, 1, col.Len())

	del := &models.MutationBroadcastPayload{
		Kind:         models.MutationDelete,
		RoomID:       "p1",
		ArtifactType: "scene",
		Artifact:     &models.WireArtifact{ID: "s1"},
	}
	assert.False(t, col.ApplyBroadcast(del))
	assert.False(t, col.ApplyBroadcast(del))
	assert.Equal(t, 1, col.Len())
	assert.False(t, col.HasPending())

	// The survivor was renumbered to close the gap.
	got, ok := col.Get("s2")
	require.True(t, ok)
	assert.Equal(t, 0, got.Order)
}

func TestBroadcastReorderOverridesLocalReorder(t *testing.T) {
	col := NewCollection()
	col.ApplyBroadcast(broadcastCreate("s1", 1))
	col.ApplyBroadcast(broadcastCreate("s2", 1))
	col.ApplyBroadcast(broadcastCreate("s3", 1))

	col.ReorderLocal([]string{"s3", "s1", "s2"})
	assert.Equal(t, []string{"s3", "s1", "s2"}, ids(col.Items()))
	assert.True(t, col.HasPending())

	// A peer's reorder won the race server-side. The authoritative order
	// replaces the unconfirmed local one outright.
	reorder := &models.MutationBroadcastPayload{
		Kind:         models.MutationReorder,
		RoomID:       "p1",
		ArtifactType: "scene",
		OrderedIDs:   []string{"s2", "s3", "s1"},
	}
	assert.True(t, col.ApplyBroadcast(reorder))
	assert.Equal(t, []string{"s2", "s3", "s1"}, ids(col.Items()))
	assert.Equal(t, 1, col.Conflicts())
	assert.False(t, col.HasPending())
}

func TestReorderKeepsUnlistedArtifactsAtEnd(t *testing.T) {
	col := NewCollection()
	col.ApplyBroadcast(broadcastCreate("s1", 1))
	col.ApplyBroadcast(broadcastCreate("s2", 1))

	// An optimistic create the server has not echoed yet is not in the
	// broadcast order; it keeps its place at the end.
	col.ApplyLocal(models.MutationCreate, Artifact{ID: "s3", Version: 1})

	reorder := &models.MutationBroadcastPayload{
		Kind:         models.MutationReorder,
		RoomID:       "p1",
		ArtifactType: "scene",
		OrderedIDs:   []string{"s2", "s1"},
	}
	require.True(t, col.ApplyBroadcast(reorder))
	assert.Equal(t, []string{"s2", "s1", "s3"}, ids(col.Items()))
}

func TestReorderIgnoresUnknownIDs(t *testing.T) {
	col := NewCollection()
	col.ApplyBroadcast(broadcastCreate("s1", 1))

	col.ReorderLocal([]string{"ghost", "s1"})
	assert.Equal(t, []string{"s1"}, ids(col.Items()))
}

// Two sessions mutate the same project: each applies its own writes
// optimistically and receives both echoes. After the exchange both converge
// on identical content and order.
func TestDualSessionConvergence(t *testing.T) {
	a := NewCollection()
	b := NewCollection()

	// Session A creates s1, session B creates s2. The server assigns the
	// order it saw: s1 then s2.
	a.ApplyLocal(models.MutationCreate, Artifact{ID: "s1", Version: 1})
	b.ApplyLocal(models.MutationCreate, Artifact{ID: "s2", Version: 1})

	echoes := []*models.MutationBroadcastPayload{
		broadcastCreate("s1", 1),
		broadcastCreate("s2", 1),
	}
	for _, echo := range echoes {
		a.ApplyBroadcast(echo)
		b.ApplyBroadcast(echo)
	}

	// B saw s2 first optimistically; the shared reorder echo settles it.
	reorder := &models.MutationBroadcastPayload{
		Kind:         models.MutationReorder,
		RoomID:       "p1",
		ArtifactType: "scene",
		OrderedIDs:   []string{"s1", "s2"},
	}
	a.ApplyBroadcast(reorder)
	b.ApplyBroadcast(reorder)

	assert.Equal(t, ids(a.Items()), ids(b.Items()))
	assert.False(t, a.HasPending())
	assert.False(t, b.HasPending())
}
