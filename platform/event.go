package platform

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind identifies the type of an inbound platform event.
type EventKind string

const (
	KindAuth             EventKind = "auth"
	KindAuthOK           EventKind = "auth_ok"
	KindAuthError        EventKind = "auth_error"
	KindMessage          EventKind = "message"
	KindRoomJoined       EventKind = "room_joined"
	KindRoomClosed       EventKind = "room_closed"
	KindParticipantJoin  EventKind = "participant_joined"
	KindParticipantLeave EventKind = "participant_left"
	KindAck              EventKind = "ack"
)

// Frame is the websocket wire format: one JSON object per text message.
// DeliveryID is unique per physical delivery attempt, not per logical event;
// a redelivered event may reuse the same delivery id depending on which side
// retried.
type Frame struct {
	DeliveryID string          `json:"delivery_id"`
	RoomID     string          `json:"room_id,omitempty"`
	Kind       EventKind       `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Event is a decoded inbound delivery handed to the Link's event handler.
// The payload stays raw; callers decode it with the typed accessors once
// they have routed on Kind.
type Event struct {
	DeliveryID string
	RoomID     string
	Kind       EventKind
	Payload    json.RawMessage
}

// Message decodes the event payload as a chat message.
func (e Event) Message() (Message, error) {
	var m Message
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		return Message{}, fmt.Errorf("decode message payload: %w", err)
	}
	if m.RoomID == "" {
		m.RoomID = e.RoomID
	}
	return m, nil
}

// Room decodes the event payload as a room descriptor (room_joined/room_closed).
func (e Event) Room() (Room, error) {
	var r Room
	if err := json.Unmarshal(e.Payload, &r); err != nil {
		return Room{}, fmt.Errorf("decode room payload: %w", err)
	}
	if r.ID == "" {
		r.ID = e.RoomID
	}
	return r, nil
}

// Participant decodes the event payload as a participant (joined/left events).
func (e Event) Participant() (Participant, error) {
	var p Participant
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return Participant{}, fmt.Errorf("decode participant payload: %w", err)
	}
	return p, nil
}

// Mention is a participant reference embedded in message metadata.
type Mention struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MessageMetadata carries structured data attached to a message.
type MessageMetadata struct {
	Mentions []Mention `json:"mentions,omitempty"`
	Status   string    `json:"status,omitempty"`
}

// Message is a chat message as delivered by the platform, over either channel.
type Message struct {
	ID          string          `json:"id"`
	RoomID      string          `json:"chat_room_id"`
	Content     string          `json:"content"`
	SenderID    string          `json:"sender_id"`
	SenderType  string          `json:"sender_type"` // "User", "Agent", "System"
	SenderName  string          `json:"sender_name,omitempty"`
	MessageType string          `json:"message_type"`
	Metadata    MessageMetadata `json:"metadata"`
	InsertedAt  time.Time       `json:"inserted_at"`
}

// Participant is a member of a room.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"` // "User" or "Agent"
}

// Room describes a chat room the agent participates in.
type Room struct {
	ID              string `json:"id"`
	Title           string `json:"title,omitempty"`
	Status          string `json:"status,omitempty"`
	Type            string `json:"type,omitempty"`
	ParticipantRole string `json:"participant_role,omitempty"`
}

// Agent is the agent's own identity as registered on the platform.
type Agent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Peer is an agent or user addressable on the platform but not necessarily
// in any particular room.
type Peer struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// PageMeta is pagination metadata returned by list endpoints.
type PageMeta struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}

// PeerPage is one page of peer lookup results.
type PeerPage struct {
	Peers []Peer   `json:"peers"`
	Meta  PageMeta `json:"metadata"`
}

// MessageRequest is an outbound chat message.
type MessageRequest struct {
	Content  string    `json:"content"`
	Mentions []Mention `json:"mentions"`
}

// EventRequest is an outbound non-message event (thought, error, task).
type EventRequest struct {
	Content     string         `json:"content"`
	MessageType string         `json:"message_type"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
