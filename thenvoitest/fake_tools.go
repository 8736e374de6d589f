// Package thenvoitest provides test doubles for building agents against the
// platform without a network: a recording Tools implementation, an
// in-memory Platform fake for runtime-level tests, and a websocket+REST
// fake server for link-level tests.
package thenvoitest

import (
	"context"
	"fmt"
	"sync"

	"github.com/thenvoi/thenvoi-go/platform"
	"github.com/thenvoi/thenvoi-go/runtime"
)

// SentMessage records one FakeTools.SendMessage call.
type SentMessage struct {
	Content  string
	Mentions []string
}

// SentEvent records one FakeTools.SendEvent call.
type SentEvent struct {
	MessageType string
	Content     string
}

// FakeTools is a runtime.Tools that records every call and returns scripted
// results, for testing adapters in isolation.
type FakeTools struct {
	Room   string
	Roster []platform.Participant
	Peers  platform.PeerPage

	// SendErr, when set, is returned from SendMessage.
	SendErr error

	mu      sync.Mutex
	sent    []SentMessage
	events  []SentEvent
	added   []string
	removed []string
	sendSeq int
}

var _ runtime.Tools = (*FakeTools)(nil)

func (f *FakeTools) RoomID() string { return f.Room }

func (f *FakeTools) SendMessage(ctx context.Context, content string, mentions ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return "", f.SendErr
	}
	f.sent = append(f.sent, SentMessage{Content: content, Mentions: mentions})
	f.sendSeq++
	return fmt.Sprintf("fake-msg-%d", f.sendSeq), nil
}

func (f *FakeTools) SendEvent(ctx context.Context, messageType, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, SentEvent{MessageType: messageType, Content: content})
	return nil
}

func (f *FakeTools) AddParticipant(ctx context.Context, name, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, name)
	return nil
}

func (f *FakeTools) RemoveParticipant(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, name)
	return nil
}

func (f *FakeTools) Participants(ctx context.Context) ([]platform.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]platform.Participant, len(f.Roster))
	copy(out, f.Roster)
	return out, nil
}

func (f *FakeTools) LookupPeers(ctx context.Context, page, pageSize int) (platform.PeerPage, error) {
	return f.Peers, nil
}

// Sent returns the recorded messages in order.
func (f *FakeTools) Sent() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

// Events returns the recorded events in order.
func (f *FakeTools) Events() []SentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentEvent, len(f.events))
	copy(out, f.events)
	return out
}

// Added returns names passed to AddParticipant.
func (f *FakeTools) Added() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.added...)
}

// Removed returns names passed to RemoveParticipant.
func (f *FakeTools) Removed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}
