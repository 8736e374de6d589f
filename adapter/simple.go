// Package adapter provides reference runtime.Adapter implementations. The
// runtime treats every adapter the same; these exist so an agent works out
// of the box and so tests have a deterministic brain to host.
package adapter

import (
	"context"
	"sync"

	"github.com/thenvoi/thenvoi-go/runtime"
)

// Simple is a scripted adapter: each turn's reply comes from the Respond
// function, addressed to the senders of that turn's messages. With no
// Respond set it answers nothing, which makes it a convenient observer in
// tests.
type Simple struct {
	// Respond maps a turn to reply text. Empty reply means stay silent.
	Respond func(turn runtime.Turn) string

	mu        sync.Mutex
	agentName string
	agentDesc string
	started   int
	cleanedUp []string
	turns     []runtime.Turn
}

var _ runtime.Adapter = (*Simple)(nil)

func (s *Simple) OnStarted(ctx context.Context, tools runtime.Tools, agentName, agentDescription string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentName = agentName
	s.agentDesc = agentDescription
	s.started++
	return nil
}

func (s *Simple) OnMessage(ctx context.Context, tools runtime.Tools, turn runtime.Turn) error {
	s.mu.Lock()
	s.turns = append(s.turns, turn)
	respond := s.Respond
	s.mu.Unlock()

	if respond == nil || len(turn.Messages) == 0 {
		return nil
	}
	reply := respond(turn)
	if reply == "" {
		return nil
	}

	mentions := senderNames(turn)
	if len(mentions) == 0 {
		return nil
	}
	_, err := tools.SendMessage(ctx, reply, mentions...)
	return err
}

func (s *Simple) OnCleanup(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanedUp = append(s.cleanedUp, roomID)
	return nil
}

// StartedCount reports how many rooms announced this adapter.
func (s *Simple) StartedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// CleanedUp returns the room ids that have been torn down.
func (s *Simple) CleanedUp() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.cleanedUp))
	copy(out, s.cleanedUp)
	return out
}

// Turns returns every turn the adapter has been handed, in order.
func (s *Simple) Turns() []runtime.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]runtime.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// AgentName returns the identity received in OnStarted.
func (s *Simple) AgentName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentName
}

func senderNames(turn runtime.Turn) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range turn.Messages {
		name := m.SenderName
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
