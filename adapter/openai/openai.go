// Package openai hosts an agent on the OpenAI chat completions API, with
// the same turn-to-conversation mapping and tool loop as the anthropic
// variant.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/thenvoi/thenvoi-go/adapter"
	"github.com/thenvoi/thenvoi-go/runtime"
)

const defaultToolRounds = 8

// Adapter implements runtime.Adapter against the OpenAI SDK.
type Adapter struct {
	client     openai.Client
	model      string
	toolRounds int
	custom     string
	logger     *slog.Logger

	mu        sync.Mutex
	agentName string
	agentDesc string
}

// Option configures the adapter.
type Option func(*Adapter)

// WithInstructions adds custom text to the system prompt.
func WithInstructions(s string) Option {
	return func(a *Adapter) { a.custom = s }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l.With("component", "openai_adapter") }
}

// New creates an adapter. Model ids come from configuration, never
// hardcoded here.
func New(apiKey, model string, opts ...Option) *Adapter {
	a := &Adapter{
		client:     openai.NewClient(option.WithAPIKey(apiKey)),
		model:      model,
		toolRounds: defaultToolRounds,
		logger:     slog.Default().With("component", "openai_adapter"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var _ runtime.Adapter = (*Adapter)(nil)

func (a *Adapter) OnStarted(ctx context.Context, tools runtime.Tools, agentName, agentDescription string) error {
	a.mu.Lock()
	a.agentName = agentName
	a.agentDesc = agentDescription
	a.mu.Unlock()
	return nil
}

func (a *Adapter) OnCleanup(ctx context.Context, roomID string) error {
	return nil
}

func (a *Adapter) OnMessage(ctx context.Context, tools runtime.Tools, turn runtime.Turn) error {
	a.mu.Lock()
	name, desc := a.agentName, a.agentDesc
	a.mu.Unlock()

	parts, err := tools.Participants(ctx)
	if err != nil {
		return fmt.Errorf("load participants: %w", err)
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(adapter.SystemPrompt(name, desc, a.custom, parts)),
	}
	messages = append(messages, buildHistory(turn)...)

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(a.model),
		Messages: messages,
		Tools:    buildTools(),
	}

	for round := 0; round < a.toolRounds; round++ {
		resp, err := a.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return fmt.Errorf("openai call: %w", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("openai call: empty response")
		}
		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			return nil
		}

		params.Messages = append(params.Messages, msg.ToParam())
		for _, tc := range msg.ToolCalls {
			out, isErr := adapter.ExecuteTool(ctx, tools, tc.Function.Name, json.RawMessage(tc.Function.Arguments))
			a.logger.Debug("tool executed", "tool", tc.Function.Name, "error", isErr)
			params.Messages = append(params.Messages, openai.ToolMessage(out, tc.ID))
		}
	}

	a.logger.Warn("tool round limit reached", "room_id", turn.RoomID, "rounds", a.toolRounds)
	return nil
}

func buildHistory(turn runtime.Turn) []openai.ChatCompletionMessageParamUnion {
	currentIDs := make(map[string]bool, len(turn.Messages))
	for _, m := range turn.Messages {
		currentIDs[m.ID] = true
	}

	var out []openai.ChatCompletionMessageParamUnion
	for _, m := range turn.History {
		if currentIDs[m.ID] {
			continue
		}
		cm := runtime.FormatMessage(m)
		if cm.Content == "" {
			continue
		}
		if cm.Role == "assistant" {
			out = append(out, openai.AssistantMessage(cm.Content))
			continue
		}
		out = append(out, openai.UserMessage(fmt.Sprintf("[%s]: %s", cm.SenderName, cm.Content)))
	}

	if text := adapter.RenderTurn(turn); text != "" {
		out = append(out, openai.UserMessage(text))
	}
	return out
}

func buildTools() []openai.ChatCompletionToolParam {
	defs := adapter.ToolDefs()
	tools := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  shared.FunctionParameters(def.Schema),
			},
		})
	}
	return tools
}
