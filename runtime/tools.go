package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/thenvoi/thenvoi-go/platform"
)

// RoomStateError reports an operation attempted against a room that is not
// in an appropriate lifecycle phase, such as sending after the room closed.
type RoomStateError struct {
	RoomID string
	Phase  Phase
	Op     string
}

func (e *RoomStateError) Error() string {
	return fmt.Sprintf("room %s: %s rejected, room is %s", e.RoomID, e.Op, e.Phase)
}

// AgentTools is the Tools implementation handed to adapters, bound to one
// room. Mentions and participant lookups resolve display names against the
// presence's roster cache, which is updated optimistically on add/remove so
// a participant is addressable immediately after being invited.
type AgentTools struct {
	presence *Presence
	logger   *slog.Logger
}

var _ Tools = (*AgentTools)(nil)

func newAgentTools(p *Presence) *AgentTools {
	return &AgentTools{
		presence: p,
		logger:   p.rt.logger.With("component", "tools", "room_id", p.roomID),
	}
}

func (t *AgentTools) RoomID() string { return t.presence.roomID }

func (t *AgentTools) checkPhase(op string) error {
	switch phase := t.presence.Phase(); phase {
	case PhasePending, PhaseActive, PhaseLeaving:
		// Pending is allowed so OnStarted can announce the agent before
		// the room goes active; leaving still allows the in-flight turn
		// to finish its sends.
		return nil
	default:
		return &RoomStateError{RoomID: t.presence.roomID, Phase: phase, Op: op}
	}
}

func (t *AgentTools) SendMessage(ctx context.Context, content string, mentions ...string) (string, error) {
	if err := t.checkPhase("send message"); err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("send message: content must not be empty")
	}
	if len(mentions) == 0 {
		return "", fmt.Errorf("send message: at least one mention is required so the message is addressable")
	}
	resolved, err := t.resolveMentions(mentions)
	if err != nil {
		return "", err
	}

	id, err := t.presence.rt.platform.Send(ctx, t.presence.roomID, platform.MessageRequest{
		Content:  content,
		Mentions: resolved,
	})
	if err != nil {
		return "", err
	}
	t.logger.Debug("message sent", "message_id", id, "mentions", len(resolved))
	return id, nil
}

func (t *AgentTools) SendEvent(ctx context.Context, messageType, content string) error {
	if err := t.checkPhase("send event"); err != nil {
		return err
	}
	if content == "" {
		return fmt.Errorf("send event: content must not be empty")
	}
	_, err := t.presence.rt.platform.CreateEvent(ctx, t.presence.roomID, platform.EventRequest{
		Content:     content,
		MessageType: messageType,
	})
	return err
}

func (t *AgentTools) AddParticipant(ctx context.Context, name, role string) error {
	if err := t.checkPhase("add participant"); err != nil {
		return err
	}
	if role == "" {
		role = "member"
	}
	peer, err := t.lookupPeerByName(ctx, name)
	if err != nil {
		return err
	}
	if err := t.presence.rt.platform.AddParticipant(ctx, t.presence.roomID, peer.ID, role); err != nil {
		return err
	}

	// Cache optimistically so mentions to the new participant resolve
	// before the roster event arrives.
	t.presence.mu.Lock()
	if !containsParticipant(t.presence.roster, peer.ID) {
		t.presence.roster = append(t.presence.roster, platform.Participant{
			ID: peer.ID, Name: peer.Name, Type: peer.Type,
		})
	}
	t.presence.mu.Unlock()
	return nil
}

func (t *AgentTools) RemoveParticipant(ctx context.Context, name string) error {
	if err := t.checkPhase("remove participant"); err != nil {
		return err
	}
	var target platform.Participant
	found := false
	for _, p := range t.presence.Roster() {
		if p.Name == name {
			target = p
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("remove participant: %q not found in this room", name)
	}
	if err := t.presence.rt.platform.RemoveParticipant(ctx, t.presence.roomID, target.ID); err != nil {
		return err
	}

	t.presence.mu.Lock()
	removeParticipant(&t.presence.roster, target.ID)
	t.presence.mu.Unlock()
	return nil
}

func (t *AgentTools) Participants(ctx context.Context) ([]platform.Participant, error) {
	if err := t.checkPhase("list participants"); err != nil {
		return nil, err
	}
	return t.presence.Roster(), nil
}

func (t *AgentTools) LookupPeers(ctx context.Context, page, pageSize int) (platform.PeerPage, error) {
	if err := t.checkPhase("lookup peers"); err != nil {
		return platform.PeerPage{}, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}
	return t.presence.rt.platform.Peers(ctx, page, pageSize, t.presence.roomID)
}

// resolveMentions maps display names to participant ids against the roster
// cache. An unresolvable name is an error that lists who is addressable, so
// a model can self-correct.
func (t *AgentTools) resolveMentions(names []string) ([]platform.Mention, error) {
	roster := t.presence.Roster()
	byName := make(map[string]platform.Participant, len(roster))
	for _, p := range roster {
		byName[p.Name] = p
	}

	resolved := make([]platform.Mention, 0, len(names))
	for _, name := range names {
		p, ok := byName[name]
		if !ok {
			available := make([]string, 0, len(roster))
			for _, rp := range roster {
				available = append(available, rp.Name)
			}
			return nil, fmt.Errorf("mention %q not found in room; available participants: %s",
				name, strings.Join(available, ", "))
		}
		resolved = append(resolved, platform.Mention{ID: p.ID, Name: p.Name})
	}
	return resolved, nil
}

// lookupPeerByName pages through peers not yet in the room until the name
// matches.
func (t *AgentTools) lookupPeerByName(ctx context.Context, name string) (platform.Peer, error) {
	for page := 1; ; page++ {
		result, err := t.presence.rt.platform.Peers(ctx, page, 100, t.presence.roomID)
		if err != nil {
			return platform.Peer{}, err
		}
		for _, peer := range result.Peers {
			if peer.Name == name {
				return peer, nil
			}
		}
		if page >= result.Meta.TotalPages || len(result.Peers) == 0 {
			return platform.Peer{}, fmt.Errorf("peer %q not found among addressable peers", name)
		}
	}
}
