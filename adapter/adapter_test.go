package adapter_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thenvoi/thenvoi-go/adapter"
	"github.com/thenvoi/thenvoi-go/platform"
	"github.com/thenvoi/thenvoi-go/runtime"
	"github.com/thenvoi/thenvoi-go/thenvoitest"
)

func TestRenderTurn(t *testing.T) {
	turn := runtime.Turn{
		RoomID: "r1",
		Diff: runtime.Diff{
			Joined: []platform.Participant{{ID: "u2", Name: "Bob", Type: "User"}},
			Left:   []platform.Participant{{ID: "u3", Name: "Carol", Type: "User"}},
		},
		Messages: []platform.Message{
			{ID: "m1", SenderName: "Ada", SenderType: "User", Content: "hello"},
			{ID: "m2", SenderType: "User", Content: "anonymous"},
		},
	}

	out := adapter.RenderTurn(turn)
	assert.Equal(t,
		"[system]: Bob (User) joined the room\n"+
			"[system]: Carol left the room\n"+
			"[Ada]: hello\n"+
			"[User]: anonymous",
		out)
}

func TestSystemPrompt(t *testing.T) {
	roster := []platform.Participant{{ID: "u1", Name: "Ada", Type: "User"}}
	out := adapter.SystemPrompt("Helper", "a research assistant", "Always cite sources.", roster)

	assert.Contains(t, out, "You are Helper, a research assistant.")
	assert.Contains(t, out, "Always cite sources.")
	assert.Contains(t, out, "send_message")
	assert.Contains(t, out, "Ada")
}

func TestSystemPromptDefaults(t *testing.T) {
	out := adapter.SystemPrompt("", "", "", nil)
	assert.Contains(t, out, "You are Agent, an AI assistant.")
	assert.Contains(t, out, "No other participants")
}

func TestToolDefsSchemas(t *testing.T) {
	defs := adapter.ToolDefs()
	byName := make(map[string]adapter.ToolDef, len(defs))
	for _, d := range defs {
		byName[d.Name] = d
	}

	for _, name := range []string{"send_message", "send_event", "add_participant",
		"remove_participant", "get_participants", "lookup_peers"} {
		require.Contains(t, byName, name)
		assert.Equal(t, "object", byName[name].Schema["type"])
	}
	assert.Equal(t, []string{"content", "mentions"}, byName["send_message"].Schema["required"])
}

func TestExecuteToolSendMessage(t *testing.T) {
	tools := &thenvoitest.FakeTools{Room: "r1"}
	out, isErr := adapter.ExecuteTool(context.Background(), tools, "send_message",
		json.RawMessage(`{"content":"hi there","mentions":["Ada"]}`))

	assert.False(t, isErr)
	assert.Contains(t, out, "message sent")
	sent := tools.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "hi there", sent[0].Content)
	assert.Equal(t, []string{"Ada"}, sent[0].Mentions)
}

func TestExecuteToolErrorsAreValues(t *testing.T) {
	tools := &thenvoitest.FakeTools{Room: "r1", SendErr: errors.New("mention \"Ada\" not found")}
	out, isErr := adapter.ExecuteTool(context.Background(), tools, "send_message",
		json.RawMessage(`{"content":"hi","mentions":["Ada"]}`))

	// Tool failures go back to the model as readable text, flagged as errors.
	assert.True(t, isErr)
	assert.Contains(t, out, "not found")
}

func TestExecuteToolSendEvent(t *testing.T) {
	tools := &thenvoitest.FakeTools{Room: "r1"}
	out, isErr := adapter.ExecuteTool(context.Background(), tools, "send_event",
		json.RawMessage(`{"message_type":"thought","content":"pondering"}`))

	assert.False(t, isErr)
	assert.Equal(t, "event posted", out)
	events := tools.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "thought", events[0].MessageType)
}

func TestExecuteToolParticipantManagement(t *testing.T) {
	tools := &thenvoitest.FakeTools{
		Room:   "r1",
		Roster: []platform.Participant{{ID: "u1", Name: "Ada", Type: "User"}},
	}

	out, isErr := adapter.ExecuteTool(context.Background(), tools, "add_participant",
		json.RawMessage(`{"name":"Bob","role":"member"}`))
	assert.False(t, isErr)
	assert.Contains(t, out, "Bob added")
	assert.Equal(t, []string{"Bob"}, tools.Added())

	out, isErr = adapter.ExecuteTool(context.Background(), tools, "remove_participant",
		json.RawMessage(`{"name":"Bob"}`))
	assert.False(t, isErr)
	assert.Contains(t, out, "Bob removed")

	out, isErr = adapter.ExecuteTool(context.Background(), tools, "get_participants", nil)
	assert.False(t, isErr)
	assert.Contains(t, out, "Ada")
}

func TestExecuteToolLookupPeers(t *testing.T) {
	tools := &thenvoitest.FakeTools{
		Room: "r1",
		Peers: platform.PeerPage{
			Peers: []platform.Peer{{ID: "p1", Name: "Research Bot", Type: "Agent"}},
			Meta:  platform.PageMeta{Page: 1, TotalPages: 1},
		},
	}
	out, isErr := adapter.ExecuteTool(context.Background(), tools, "lookup_peers",
		json.RawMessage(`{"page":1,"page_size":50}`))
	assert.False(t, isErr)
	assert.Contains(t, out, "Research Bot")
}

func TestExecuteToolUnknownName(t *testing.T) {
	out, isErr := adapter.ExecuteTool(context.Background(), &thenvoitest.FakeTools{}, "frobnicate", nil)
	assert.True(t, isErr)
	assert.Contains(t, out, "frobnicate")
}

func TestExecuteToolMalformedArgs(t *testing.T) {
	out, isErr := adapter.ExecuteTool(context.Background(), &thenvoitest.FakeTools{}, "send_message",
		json.RawMessage(`{"content": 42}`))
	assert.True(t, isErr)
	assert.Contains(t, out, "invalid arguments")
}

func TestSimpleAdapterReplies(t *testing.T) {
	tools := &thenvoitest.FakeTools{Room: "r1"}
	simple := &adapter.Simple{Respond: func(turn runtime.Turn) string { return "echo" }}

	require.NoError(t, simple.OnStarted(context.Background(), tools, "Helper", "a bot"))
	assert.Equal(t, "Helper", simple.AgentName())

	turn := runtime.Turn{
		RoomID: "r1",
		Messages: []platform.Message{
			{ID: "m1", SenderName: "Ada", SenderType: "User", Content: "hi"},
			{ID: "m2", SenderName: "Ada", SenderType: "User", Content: "again"},
			{ID: "m3", SenderName: "Bob", SenderType: "User", Content: "me too"},
		},
	}
	require.NoError(t, simple.OnMessage(context.Background(), tools, turn))

	sent := tools.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "echo", sent[0].Content)
	// Each sender mentioned once, duplicates collapsed.
	assert.Equal(t, []string{"Ada", "Bob"}, sent[0].Mentions)

	require.NoError(t, simple.OnCleanup(context.Background(), "r1"))
	assert.Equal(t, []string{"r1"}, simple.CleanedUp())
	require.Len(t, simple.Turns(), 1)
}
