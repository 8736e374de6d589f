package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thenvoi/thenvoi-go/platform"
)

func TestFormatMessageRoles(t *testing.T) {
	agent := platform.Message{SenderType: "Agent", SenderName: "Helper", Content: "hi"}
	user := platform.Message{SenderType: "User", SenderName: "Ada", Content: "hello"}

	assert.Equal(t, "assistant", FormatMessage(agent).Role)
	assert.Equal(t, "user", FormatMessage(user).Role)
}

func TestFormatMessageFallsBackToSenderType(t *testing.T) {
	m := platform.Message{SenderType: "User", Content: "x"}
	assert.Equal(t, "User", FormatMessage(m).SenderName)
}

func TestFormatHistoryExcludesID(t *testing.T) {
	history := []platform.Message{
		{ID: "m1", SenderType: "User", Content: "one"},
		{ID: "m2", SenderType: "User", Content: "two"},
	}
	out := FormatHistory(history, "m2")
	assert.Len(t, out, 1)
	assert.Equal(t, "one", out[0].Content)
}

func TestParticipantsMessage(t *testing.T) {
	msg := ParticipantsMessage([]platform.Participant{
		{ID: "p1", Name: "Ada", Type: "User"},
	})
	assert.Contains(t, msg, "## Current Participants")
	assert.Contains(t, msg, "Ada (ID: p1, Type: User)")

	empty := ParticipantsMessage(nil)
	assert.Contains(t, empty, "No other participants")
}
