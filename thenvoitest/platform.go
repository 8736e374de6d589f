package thenvoitest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/thenvoi/thenvoi-go/platform"
	"github.com/thenvoi/thenvoi-go/runtime"
)

// Mark records one message lifecycle report.
type Mark struct {
	RoomID    string
	MessageID string
	State     string // "processing", "processed", "failed"
	Reason    string
}

// Sent records one outbound message through the fake platform.
type Sent struct {
	RoomID string
	Req    platform.MessageRequest
}

// FakePlatform is an in-memory runtime.Platform: tests script its room
// state and push events directly into the registered handler, with no
// sockets involved.
type FakePlatform struct {
	AgentInfo platform.Agent

	mu          sync.Mutex
	handler     func(platform.Event)
	onReconnect func()
	connected   bool

	rooms     []platform.Room
	histories map[string][]platform.Message
	rosters   map[string][]platform.Participant
	backlogs  map[string][]platform.Message
	peerPage  platform.PeerPage

	sent   []Sent
	events []platform.EventRequest
	marks  []Mark
	added  map[string][]string
}

var _ runtime.Platform = (*FakePlatform)(nil)

// NewFakePlatform returns a fake with the given agent identity.
func NewFakePlatform(agent platform.Agent) *FakePlatform {
	return &FakePlatform{
		AgentInfo: agent,
		histories: make(map[string][]platform.Message),
		rosters:   make(map[string][]platform.Participant),
		backlogs:  make(map[string][]platform.Message),
		added:     make(map[string][]string),
	}
}

// --- scripting surface ---

// AddRoom registers a room the agent is a member of, with its roster and
// stored history.
func (f *FakePlatform) AddRoom(room platform.Room, roster []platform.Participant, history []platform.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms = append(f.rooms, room)
	f.rosters[room.ID] = roster
	f.histories[room.ID] = history
}

// DropRoom removes a room from the membership list, as if the agent had
// been removed while disconnected.
func (f *FakePlatform) DropRoom(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.rooms {
		if r.ID == roomID {
			f.rooms = append(f.rooms[:i], f.rooms[i+1:]...)
			break
		}
	}
}

// SetBacklog scripts unprocessed messages returned by NextMessage.
func (f *FakePlatform) SetBacklog(roomID string, msgs []platform.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backlogs[roomID] = msgs
}

// SetPeers scripts the peer lookup result.
func (f *FakePlatform) SetPeers(page platform.PeerPage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peerPage = page
}

// Deliver pushes a raw event into the registered handler, as if a frame
// arrived on the wire.
func (f *FakePlatform) Deliver(ev platform.Event) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// DeliverMessage delivers a message event with the given delivery id.
func (f *FakePlatform) DeliverMessage(deliveryID string, m platform.Message) {
	payload, _ := json.Marshal(m)
	f.Deliver(platform.Event{
		DeliveryID: deliveryID,
		RoomID:     m.RoomID,
		Kind:       platform.KindMessage,
		Payload:    payload,
	})
}

// DeliverRoomJoined announces a new room and registers it as a member room.
func (f *FakePlatform) DeliverRoomJoined(room platform.Room, roster []platform.Participant) {
	f.AddRoom(room, roster, nil)
	payload, _ := json.Marshal(room)
	f.Deliver(platform.Event{
		DeliveryID: uuid.NewString(),
		RoomID:     room.ID,
		Kind:       platform.KindRoomJoined,
		Payload:    payload,
	})
}

// DeliverRoomClosed signals platform-side room closure.
func (f *FakePlatform) DeliverRoomClosed(roomID string) {
	f.Deliver(platform.Event{
		DeliveryID: uuid.NewString(),
		RoomID:     roomID,
		Kind:       platform.KindRoomClosed,
		Payload:    json.RawMessage(`{}`),
	})
}

// DeliverParticipantJoined signals a roster addition.
func (f *FakePlatform) DeliverParticipantJoined(roomID string, p platform.Participant) {
	payload, _ := json.Marshal(p)
	f.Deliver(platform.Event{
		DeliveryID: uuid.NewString(),
		RoomID:     roomID,
		Kind:       platform.KindParticipantJoin,
		Payload:    payload,
	})
}

// DeliverParticipantLeft signals a roster removal.
func (f *FakePlatform) DeliverParticipantLeft(roomID string, p platform.Participant) {
	payload, _ := json.Marshal(p)
	f.Deliver(platform.Event{
		DeliveryID: uuid.NewString(),
		RoomID:     roomID,
		Kind:       platform.KindParticipantLeave,
		Payload:    payload,
	})
}

// TriggerReconnect fires the reconnect callback, as the link does after
// re-establishing its channel.
func (f *FakePlatform) TriggerReconnect() {
	f.mu.Lock()
	cb := f.onReconnect
	f.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// SentMessages returns outbound messages in send order.
func (f *FakePlatform) SentMessages() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Sent, len(f.sent))
	copy(out, f.sent)
	return out
}

// Marks returns message lifecycle reports in order.
func (f *FakePlatform) Marks() []Mark {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Mark, len(f.marks))
	copy(out, f.marks)
	return out
}

// MarksFor filters Marks by message id.
func (f *FakePlatform) MarksFor(messageID string) []Mark {
	var out []Mark
	for _, m := range f.Marks() {
		if m.MessageID == messageID {
			out = append(out, m)
		}
	}
	return out
}

// --- runtime.Platform ---

func (f *FakePlatform) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *FakePlatform) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *FakePlatform) OnEvent(fn func(platform.Event)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = fn
}

func (f *FakePlatform) OnReconnect(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onReconnect = fn
}

func (f *FakePlatform) Send(ctx context.Context, roomID string, req platform.MessageRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, Sent{RoomID: roomID, Req: req})
	id := uuid.NewString()
	f.histories[roomID] = append(f.histories[roomID], platform.Message{
		ID:         id,
		RoomID:     roomID,
		Content:    req.Content,
		SenderID:   f.AgentInfo.ID,
		SenderType: "Agent",
		SenderName: f.AgentInfo.Name,
	})
	return id, nil
}

func (f *FakePlatform) Me(ctx context.Context) (platform.Agent, error) {
	return f.AgentInfo, nil
}

func (f *FakePlatform) ListRooms(ctx context.Context) ([]platform.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]platform.Room, len(f.rooms))
	copy(out, f.rooms)
	return out, nil
}

func (f *FakePlatform) RoomContext(ctx context.Context, roomID string) ([]platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.Message(nil), f.histories[roomID]...), nil
}

func (f *FakePlatform) Participants(ctx context.Context, roomID string) ([]platform.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	roster, ok := f.rosters[roomID]
	if !ok {
		return nil, &platform.PlatformError{StatusCode: 404, Code: "not_found",
			Message: fmt.Sprintf("room %s not found", roomID)}
	}
	return append([]platform.Participant(nil), roster...), nil
}

func (f *FakePlatform) Peers(ctx context.Context, page, pageSize int, notInRoom string) (platform.PeerPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peerPage, nil
}

func (f *FakePlatform) CreateEvent(ctx context.Context, roomID string, req platform.EventRequest) (platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, req)
	return platform.Message{ID: uuid.NewString(), RoomID: roomID, Content: req.Content}, nil
}

func (f *FakePlatform) AddParticipant(ctx context.Context, roomID, participantID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added[roomID] = append(f.added[roomID], participantID)
	return nil
}

func (f *FakePlatform) RemoveParticipant(ctx context.Context, roomID, participantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	roster := f.rosters[roomID]
	for i, p := range roster {
		if p.ID == participantID {
			f.rosters[roomID] = append(roster[:i], roster[i+1:]...)
			return nil
		}
	}
	return &platform.PlatformError{StatusCode: 422, Code: "invalid_participant",
		Message: fmt.Sprintf("participant %s not in room", participantID)}
}

func (f *FakePlatform) NextMessage(ctx context.Context, roomID string) (platform.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	backlog := f.backlogs[roomID]
	if len(backlog) == 0 {
		return platform.Message{}, false, nil
	}
	m := backlog[0]
	f.backlogs[roomID] = backlog[1:]
	return m, true, nil
}

func (f *FakePlatform) MarkProcessing(ctx context.Context, roomID, messageID string) error {
	f.record(Mark{RoomID: roomID, MessageID: messageID, State: "processing"})
	return nil
}

func (f *FakePlatform) MarkProcessed(ctx context.Context, roomID, messageID string) error {
	f.record(Mark{RoomID: roomID, MessageID: messageID, State: "processed"})
	return nil
}

func (f *FakePlatform) MarkFailed(ctx context.Context, roomID, messageID, reason string) error {
	f.record(Mark{RoomID: roomID, MessageID: messageID, State: "failed", Reason: reason})
	return nil
}

func (f *FakePlatform) record(m Mark) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks = append(f.marks, m)
}
