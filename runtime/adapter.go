package runtime

import (
	"context"

	"github.com/thenvoi/thenvoi-go/platform"
)

// Adapter is the decision logic plugged into the runtime. The runtime never
// inspects which implementation is installed; it only guarantees the calling
// contract: OnStarted is called exactly once per room before the first
// OnMessage for that room, OnMessage invocations for one room never overlap,
// and OnCleanup is called exactly once when the room closes or the process
// shuts down.
//
// Errors returned from OnMessage are logged and reported to the platform as
// a failed message; they do not tear down the room.
type Adapter interface {
	OnStarted(ctx context.Context, tools Tools, agentName, agentDescription string) error
	OnMessage(ctx context.Context, tools Tools, turn Turn) error
	OnCleanup(ctx context.Context, roomID string) error
}

// Tools is the only surface an adapter uses to act on the platform. Every
// implementation is pre-bound to one room so an adapter cannot act on the
// wrong room. Calls are synchronous: they return once the platform
// acknowledges or rejects.
type Tools interface {
	// RoomID returns the room this tools instance is bound to.
	RoomID() string

	// SendMessage posts a chat message. Content must be non-empty and at
	// least one mention must resolve to a current participant; mentions are
	// given by display name and resolved against the room roster.
	SendMessage(ctx context.Context, content string, mentions ...string) (string, error)

	// SendEvent posts a non-chat event (thought, task, error) visible in the
	// room's activity stream.
	SendEvent(ctx context.Context, messageType, content string) error

	// AddParticipant invites a peer, looked up by display name among peers
	// not yet in the room.
	AddParticipant(ctx context.Context, name, role string) error

	// RemoveParticipant removes a participant, looked up by display name.
	RemoveParticipant(ctx context.Context, name string) error

	// Participants returns the current room roster.
	Participants(ctx context.Context) ([]platform.Participant, error)

	// LookupPeers pages through agents and people addressable outside the
	// room.
	LookupPeers(ctx context.Context, page, pageSize int) (platform.PeerPage, error)
}
