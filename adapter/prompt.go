package adapter

import (
	"fmt"
	"strings"

	"github.com/thenvoi/thenvoi-go/platform"
	"github.com/thenvoi/thenvoi-go/runtime"
)

const baseInstructions = `## Environment

Multi-participant chat. Messages show sender as [Name]: content.
Use the send_message tool to respond; plain text output is not delivered to the room.
Mentions address participants by display name; every message needs at least one.

When someone asks you to get information from another participant, relay the
answer back to the original requester once you have it. Use send_event with
message_type "thought" to narrate reasoning that should be visible but is not
a chat message.`

// SystemPrompt renders the agent's identity, custom instructions, and the
// environment contract into one system message.
func SystemPrompt(agentName, agentDescription, custom string, participants []platform.Participant) string {
	if agentName == "" {
		agentName = "Agent"
	}
	if agentDescription == "" {
		agentDescription = "an AI assistant"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, %s.\n", agentName, agentDescription)
	if custom != "" {
		b.WriteString("\n" + custom + "\n")
	}
	b.WriteString("\n" + baseInstructions)
	b.WriteString("\n\n" + runtime.ParticipantsMessage(participants))
	return b.String()
}

// RenderTurn flattens a turn into user-visible text for the model: roster
// changes first, then each message prefixed with its sender.
func RenderTurn(turn runtime.Turn) string {
	var b strings.Builder
	for _, p := range turn.Diff.Joined {
		fmt.Fprintf(&b, "[system]: %s (%s) joined the room\n", p.Name, p.Type)
	}
	for _, p := range turn.Diff.Left {
		fmt.Fprintf(&b, "[system]: %s left the room\n", p.Name)
	}
	for _, m := range turn.Messages {
		name := m.SenderName
		if name == "" {
			name = m.SenderType
		}
		fmt.Fprintf(&b, "[%s]: %s\n", name, m.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
