package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, eventType EventType, payload string) (any, error) {
	t.Helper()
	env := &Envelope{Type: eventType, Payload: json.RawMessage(payload)}
	return env.DecodePayload()
}

func TestDecodeUnknownEventType(t *testing.T) {
	_, err := decode(t, "bogus", `{}`)
	assert.ErrorContains(t, err, "unknown event type")
}

func TestDecodeJoinRoom(t *testing.T) {
	payload, err := decode(t, EventJoinRoom, `{"roomType":"project","roomId":"p1"}`)
	require.NoError(t, err)

	ref := payload.(*RoomRef)
	assert.Equal(t, "project", ref.RoomType)
	assert.Equal(t, "p1", ref.RoomID)
}

func TestDecodeJoinRoomMissingFields(t *testing.T) {
	_, err := decode(t, EventJoinRoom, `{"roomType":"project"}`)
	assert.Error(t, err)

	_, err = decode(t, EventLeaveRoom, `{"roomId":"p1"}`)
	assert.Error(t, err)
}

func TestDecodeTypingRequiresRoom(t *testing.T) {
	_, err := decode(t, EventTyping, `{"isTyping":true}`)
	assert.Error(t, err)

	payload, err := decode(t, EventTyping, `{"roomType":"scene","roomId":"s1","isTyping":false,"timestamp":""}`)
	require.NoError(t, err)
	assert.False(t, payload.(*TypingPayload).IsTyping)
}

func TestDecodeAnalyzeRequestValidatesTargetType(t *testing.T) {
	_, err := decode(t, EventAnalyzeRequest, `{"targetId":"s1","targetType":"chapter","criticType":"pacing"}`)
	assert.ErrorContains(t, err, "unknown target type")

	payload, err := decode(t, EventAnalyzeRequest, `{"targetId":"s1","targetType":"scene","criticType":"pacing"}`)
	require.NoError(t, err)
	assert.Equal(t, "pacing", payload.(*AnalyzeRequestPayload).CriticType)
}

func TestDecodeAnalysisErrorDefaultsCode(t *testing.T) {
	payload, err := decode(t, EventAnalysisError, `{"criticType":"pacing","targetId":"s1","error":"boom"}`)
	require.NoError(t, err)
	assert.Equal(t, CodeAnalysisFailed, payload.(*AnalysisErrorPayload).Code)
}

func TestDecodeMutationBroadcast(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr string
	}{
		{
			name:    "create without artifact",
			payload: `{"kind":"create","roomId":"p1","artifactType":"scene"}`,
			wantErr: "requires an artifact",
		},
		{
			name:    "reorder without ids",
			payload: `{"kind":"reorder","roomId":"p1","artifactType":"scene"}`,
			wantErr: "requires orderedIds",
		},
		{
			name:    "unknown kind",
			payload: `{"kind":"upsert","roomId":"p1","artifactType":"scene"}`,
			wantErr: "unknown kind",
		},
		{
			name:    "missing room",
			payload: `{"kind":"create","artifactType":"scene","artifact":{"id":"s1"}}`,
			wantErr: "roomId and artifactType are required",
		},
		{
			name:    "valid delete",
			payload: `{"kind":"delete","roomId":"p1","artifactType":"scene","artifact":{"id":"s1"}}`,
		},
		{
			name:    "valid reorder",
			payload: `{"kind":"reorder","roomId":"p1","artifactType":"scene","orderedIds":["s2","s1"]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := decode(t, EventMutationBroadcast, tt.payload)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, &MutationBroadcastPayload{}, payload)
		})
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	_, err := decode(t, EventPresenceSnapshot, `{"roomId":`)
	assert.Error(t, err)
}

func TestNewEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(EventTypingStatus, &TypingStatusPayload{
		UserID: "u1", Username: "Ada", RoomID: "p1", Timestamp: "2026-01-02T15:04:05Z",
	})
	require.NoError(t, err)

	payload, err := env.DecodePayload()
	require.NoError(t, err)
	assert.Equal(t, "Ada", payload.(*TypingStatusPayload).Username)
}

func TestCriticCatalog(t *testing.T) {
	assert.Len(t, Critics, 8)

	plotHoles, ok := CriticByID("plot_holes")
	require.True(t, ok)
	assert.Equal(t, 15, plotHoles.TokenCost)

	dialog, ok := CriticByID("dialog")
	require.True(t, ok)
	assert.Equal(t, 8, dialog.TokenCost)

	_, ok = CriticByID("style")
	assert.False(t, ok)
}
