package runtime

import (
	"strings"

	"github.com/thenvoi/thenvoi-go/platform"
)

// ChatMessage is a platform message flattened into the role/content shape
// LLM APIs expect. Pure data; adapters convert it to their SDK's types.
type ChatMessage struct {
	Role       string
	Content    string
	SenderName string
	SenderType string
}

// FormatMessage maps a platform message to the LLM chat shape. Messages from
// agents become assistant turns, everything else is a user turn.
func FormatMessage(m platform.Message) ChatMessage {
	name := m.SenderName
	if name == "" {
		name = m.SenderType
	}
	role := "user"
	if m.SenderType == "Agent" {
		role = "assistant"
	}
	return ChatMessage{
		Role:       role,
		Content:    m.Content,
		SenderName: name,
		SenderType: m.SenderType,
	}
}

// FormatHistory formats a message history for LLM injection, skipping the
// message with excludeID (usually the one currently being answered).
func FormatHistory(messages []platform.Message, excludeID string) []ChatMessage {
	out := make([]ChatMessage, 0, len(messages))
	for _, m := range messages {
		if excludeID != "" && m.ID == excludeID {
			continue
		}
		out = append(out, FormatMessage(m))
	}
	return out
}

// ParticipantsMessage renders the room roster as a system-message block so a
// model knows who is addressable.
func ParticipantsMessage(participants []platform.Participant) string {
	if len(participants) == 0 {
		return "## Current Participants\nNo other participants in this room."
	}
	var b strings.Builder
	b.WriteString("## Current Participants")
	for _, p := range participants {
		b.WriteString("\n- " + p.Name + " (ID: " + p.ID + ", Type: " + p.Type + ")")
	}
	b.WriteString("\n\nWhen sending a message, include mentions with ID and name from this list.")
	return b.String()
}
