package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/thenvoi/thenvoi-go/runtime"
)

// ToolDef describes one platform action as an LLM tool: name, description,
// and a JSON-schema parameter object. The LLM adapters translate these into
// their SDK's tool format and route invocations through ExecuteTool.
type ToolDef struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ToolDefs returns the platform actions exposed to models.
func ToolDefs() []ToolDef {
	return []ToolDef{
		{
			Name:        "send_message",
			Description: "Send a chat message to the room. Mentions are display names of participants; at least one is required.",
			Schema: objectSchema(map[string]any{
				"content":  map[string]any{"type": "string", "description": "Message text"},
				"mentions": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Participant names to @mention"},
			}, "content", "mentions"),
		},
		{
			Name:        "send_event",
			Description: "Post a non-chat event (thought, task, error) to the room's activity stream. No mentions required.",
			Schema: objectSchema(map[string]any{
				"message_type": map[string]any{"type": "string", "description": "Event type: thought, task, or error"},
				"content":      map[string]any{"type": "string", "description": "Event text"},
			}, "message_type", "content"),
		},
		{
			Name:        "add_participant",
			Description: "Invite a peer to the room by display name.",
			Schema: objectSchema(map[string]any{
				"name": map[string]any{"type": "string", "description": "Peer display name"},
				"role": map[string]any{"type": "string", "description": "Role in the room, defaults to member"},
			}, "name"),
		},
		{
			Name:        "remove_participant",
			Description: "Remove a participant from the room by display name.",
			Schema: objectSchema(map[string]any{
				"name": map[string]any{"type": "string", "description": "Participant display name"},
			}, "name"),
		},
		{
			Name:        "get_participants",
			Description: "List the room's current participants.",
			Schema:      objectSchema(map[string]any{}),
		},
		{
			Name:        "lookup_peers",
			Description: "Page through agents and people that could be invited to the room.",
			Schema: objectSchema(map[string]any{
				"page":      map[string]any{"type": "integer", "description": "Page number, starting at 1"},
				"page_size": map[string]any{"type": "integer", "description": "Results per page, max 100"},
			}),
		},
	}
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

type sendMessageArgs struct {
	Content  string   `json:"content"`
	Mentions []string `json:"mentions"`
}

type sendEventArgs struct {
	MessageType string `json:"message_type"`
	Content     string `json:"content"`
}

type participantArgs struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

type lookupPeersArgs struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// ExecuteTool runs one model-requested tool invocation against the room's
// Tools and returns a string result for the model. Errors come back as
// values, not Go errors, so the model can read and correct them; only the
// second return signals that the result should be flagged as an error.
func ExecuteTool(ctx context.Context, tools runtime.Tools, name string, args json.RawMessage) (string, bool) {
	switch name {
	case "send_message":
		var a sendMessageArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return "invalid arguments: " + err.Error(), true
		}
		id, err := tools.SendMessage(ctx, a.Content, a.Mentions...)
		if err != nil {
			return err.Error(), true
		}
		return "message sent: " + id, false

	case "send_event":
		var a sendEventArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return "invalid arguments: " + err.Error(), true
		}
		if err := tools.SendEvent(ctx, a.MessageType, a.Content); err != nil {
			return err.Error(), true
		}
		return "event posted", false

	case "add_participant":
		var a participantArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return "invalid arguments: " + err.Error(), true
		}
		if err := tools.AddParticipant(ctx, a.Name, a.Role); err != nil {
			return err.Error(), true
		}
		return a.Name + " added to the room", false

	case "remove_participant":
		var a participantArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return "invalid arguments: " + err.Error(), true
		}
		if err := tools.RemoveParticipant(ctx, a.Name); err != nil {
			return err.Error(), true
		}
		return a.Name + " removed from the room", false

	case "get_participants":
		parts, err := tools.Participants(ctx)
		if err != nil {
			return err.Error(), true
		}
		out, _ := json.Marshal(parts)
		return string(out), false

	case "lookup_peers":
		var a lookupPeersArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return "invalid arguments: " + err.Error(), true
		}
		page, err := tools.LookupPeers(ctx, a.Page, a.PageSize)
		if err != nil {
			return err.Error(), true
		}
		out, _ := json.Marshal(page)
		return string(out), false
	}

	return fmt.Sprintf("unknown tool %q", name), true
}
