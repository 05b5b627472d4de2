package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType tags every message on the collaboration channel. Payloads are
// decoded into concrete structs at the transport boundary; untyped maps
// never cross into the engine or the hub.
type EventType string

const (
	// Client → server
	EventJoinRoom       EventType = "join_room"
	EventLeaveRoom      EventType = "leave_room"
	EventTyping         EventType = "typing"
	EventAnalyzeRequest EventType = "analyze_request"

	// Server → client
	EventPresenceSnapshot  EventType = "presence_snapshot"
	EventTypingStatus      EventType = "typing_status"
	EventAnalysisCompleted EventType = "analysis_completed"
	EventAnalysisError     EventType = "analysis_error"
	EventMutationBroadcast EventType = "mutation_broadcast"
)

// Envelope is the wire frame: a type tag plus the raw payload.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope marshals a typed payload into an envelope.
func NewEnvelope(t EventType, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return &Envelope{Type: t, Payload: raw}, nil
}

// RoomRef identifies a room by its composite key.
type RoomRef struct {
	RoomType string `json:"roomType"`
	RoomID   string `json:"roomId"`
}

// TypingPayload carries a typing start (fresh RFC3339 timestamp) or stop
// (empty timestamp) signal.
type TypingPayload struct {
	RoomType  string `json:"roomType"`
	RoomID    string `json:"roomId"`
	IsTyping  bool   `json:"isTyping"`
	Timestamp string `json:"timestamp"`
}

// AnalyzeRequestPayload asks for a critique of a scene or project.
type AnalyzeRequestPayload struct {
	TargetID   string     `json:"targetId"`
	TargetType TargetType `json:"targetType"`
	CriticType string     `json:"criticType"`
}

// PresenceUser is one roster entry in a presence snapshot.
type PresenceUser struct {
	UserID       string    `json:"userId"`
	Username     string    `json:"username"`
	Avatar       string    `json:"avatar,omitempty"`
	RoomID       string    `json:"roomId"`
	JoinedAt     time.Time `json:"joinedAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// PresenceSnapshotPayload replaces a room's roster wholesale.
type PresenceSnapshotPayload struct {
	RoomID string         `json:"roomId"`
	Users  []PresenceUser `json:"users"`
}

// TypingStatusPayload relays one user's typing signal to a room. An empty
// Timestamp means the user stopped typing.
type TypingStatusPayload struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	RoomID    string `json:"roomId"`
	Timestamp string `json:"timestamp"`
}

// AnalysisCompletedPayload delivers a finished critique.
type AnalysisCompletedPayload struct {
	Analysis AIAnalysis `json:"analysis"`
}

// AnalysisErrorCode distinguishes failure classes so clients can render
// "can't afford" differently from "failed, retry".
type AnalysisErrorCode string

const (
	CodeAnalysisFailed     AnalysisErrorCode = "analysis_failed"
	CodeInsufficientTokens AnalysisErrorCode = "insufficient_tokens"
	CodeNoResponse         AnalysisErrorCode = "no_response"
)

// AnalysisErrorPayload reports a failed critique request.
type AnalysisErrorPayload struct {
	CriticType string            `json:"criticType"`
	TargetID   string            `json:"targetId"`
	Error      string            `json:"error"`
	Code       AnalysisErrorCode `json:"code"`
}

// MutationKind is the operation carried by a mutation broadcast.
type MutationKind string

const (
	MutationCreate  MutationKind = "create"
	MutationUpdate  MutationKind = "update"
	MutationDelete  MutationKind = "delete"
	MutationReorder MutationKind = "reorder"
)

// WireArtifact is the generic artifact view carried by mutation broadcasts.
// Version increases monotonically per artifact; Order is the contiguous
// position for orderable artifact types.
type WireArtifact struct {
	ID      string          `json:"id"`
	Version int64           `json:"version"`
	Order   int             `json:"order"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// MutationBroadcastPayload announces an authoritative artifact change to a
// room, including to the session that issued it (the echo confirms the
// optimistic local write). Reorder broadcasts carry the full ordered ID set
// instead of a single artifact.
type MutationBroadcastPayload struct {
	Kind         MutationKind  `json:"kind"`
	RoomID       string        `json:"roomId"`
	ArtifactType string        `json:"artifactType"`
	Artifact     *WireArtifact `json:"artifact,omitempty"`
	OrderedIDs   []string      `json:"orderedIds,omitempty"`
}

// DecodePayload validates and decodes the envelope payload into its concrete
// type. Unknown event types and structurally invalid payloads are rejected
// here so downstream handlers only see well-formed events.
func (e *Envelope) DecodePayload() (any, error) {
	switch e.Type {
	case EventJoinRoom, EventLeaveRoom:
		var p RoomRef
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", e.Type, err)
		}
		if p.RoomType == "" || p.RoomID == "" {
			return nil, fmt.Errorf("%s: roomType and roomId are required", e.Type)
		}
		return &p, nil

	case EventTyping:
		var p TypingPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid typing payload: %w", err)
		}
		if p.RoomType == "" || p.RoomID == "" {
			return nil, fmt.Errorf("typing: roomType and roomId are required")
		}
		return &p, nil

	case EventAnalyzeRequest:
		var p AnalyzeRequestPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid analyze_request payload: %w", err)
		}
		if p.TargetID == "" || p.CriticType == "" {
			return nil, fmt.Errorf("analyze_request: targetId and criticType are required")
		}
		if p.TargetType != TargetScene && p.TargetType != TargetProject {
			return nil, fmt.Errorf("analyze_request: unknown target type %q", p.TargetType)
		}
		return &p, nil

	case EventPresenceSnapshot:
		var p PresenceSnapshotPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid presence_snapshot payload: %w", err)
		}
		if p.RoomID == "" {
			return nil, fmt.Errorf("presence_snapshot: roomId is required")
		}
		return &p, nil

	case EventTypingStatus:
		var p TypingStatusPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid typing_status payload: %w", err)
		}
		if p.UserID == "" || p.RoomID == "" {
			return nil, fmt.Errorf("typing_status: userId and roomId are required")
		}
		return &p, nil

	case EventAnalysisCompleted:
		var p AnalysisCompletedPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid analysis_completed payload: %w", err)
		}
		if p.Analysis.ID == "" || p.Analysis.TargetID == "" || p.Analysis.CriticType == "" {
			return nil, fmt.Errorf("analysis_completed: analysis id, targetId and criticType are required")
		}
		return &p, nil

	case EventAnalysisError:
		var p AnalysisErrorPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid analysis_error payload: %w", err)
		}
		if p.TargetID == "" || p.CriticType == "" {
			return nil, fmt.Errorf("analysis_error: targetId and criticType are required")
		}
		if p.Code == "" {
			p.Code = CodeAnalysisFailed
		}
		return &p, nil

	case EventMutationBroadcast:
		var p MutationBroadcastPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid mutation_broadcast payload: %w", err)
		}
		if p.RoomID == "" || p.ArtifactType == "" {
			return nil, fmt.Errorf("mutation_broadcast: roomId and artifactType are required")
		}
		switch p.Kind {
		case MutationCreate, MutationUpdate, MutationDelete:
			if p.Artifact == nil || p.Artifact.ID == "" {
				return nil, fmt.Errorf("mutation_broadcast: %s requires an artifact with an id", p.Kind)
			}
		case MutationReorder:
			if len(p.OrderedIDs) == 0 {
				return nil, fmt.Errorf("mutation_broadcast: reorder requires orderedIds")
			}
		default:
			return nil, fmt.Errorf("mutation_broadcast: unknown kind %q", p.Kind)
		}
		return &p, nil

	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}
