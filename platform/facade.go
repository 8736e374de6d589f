package platform

import "context"

// Request/response operations, delegated to the REST client. Having them on
// Link lets callers hold one value for both channels.

func (l *Link) Me(ctx context.Context) (Agent, error) {
	return l.rest.Me(ctx)
}

func (l *Link) ListRooms(ctx context.Context) ([]Room, error) {
	return l.rest.ListRooms(ctx)
}

func (l *Link) RoomContext(ctx context.Context, roomID string) ([]Message, error) {
	return l.rest.RoomContext(ctx, roomID)
}

func (l *Link) Participants(ctx context.Context, roomID string) ([]Participant, error) {
	return l.rest.Participants(ctx, roomID)
}

func (l *Link) Peers(ctx context.Context, page, pageSize int, notInRoom string) (PeerPage, error) {
	return l.rest.Peers(ctx, page, pageSize, notInRoom)
}

func (l *Link) CreateEvent(ctx context.Context, roomID string, req EventRequest) (Message, error) {
	return l.rest.CreateEvent(ctx, roomID, req)
}

func (l *Link) AddParticipant(ctx context.Context, roomID, participantID, role string) error {
	return l.rest.AddParticipant(ctx, roomID, participantID, role)
}

func (l *Link) RemoveParticipant(ctx context.Context, roomID, participantID string) error {
	return l.rest.RemoveParticipant(ctx, roomID, participantID)
}

func (l *Link) NextMessage(ctx context.Context, roomID string) (Message, bool, error) {
	return l.rest.NextMessage(ctx, roomID)
}

func (l *Link) MarkProcessing(ctx context.Context, roomID, messageID string) error {
	return l.rest.MarkProcessing(ctx, roomID, messageID)
}

func (l *Link) MarkProcessed(ctx context.Context, roomID, messageID string) error {
	return l.rest.MarkProcessed(ctx, roomID, messageID)
}

func (l *Link) MarkFailed(ctx context.Context, roomID, messageID, reason string) error {
	return l.rest.MarkFailed(ctx, roomID, messageID, reason)
}
