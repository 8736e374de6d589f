// Package anthropic hosts an agent on the Anthropic Messages API. The
// adapter rebuilds the conversation from each turn's accumulated history,
// exposes the room's actions as tools, and loops on tool use until the
// model stops asking for more.
package anthropic

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/thenvoi/thenvoi-go/adapter"
	"github.com/thenvoi/thenvoi-go/runtime"
)

const (
	defaultMaxTokens  = 4096
	defaultToolRounds = 8
)

// Adapter implements runtime.Adapter against the Anthropic SDK.
type Adapter struct {
	client     anthropic.Client
	model      string
	maxTokens  int64
	toolRounds int
	custom     string
	logger     *slog.Logger

	mu        sync.Mutex
	agentName string
	agentDesc string
}

// Option configures the adapter.
type Option func(*Adapter)

// WithMaxTokens caps the response length.
func WithMaxTokens(n int64) Option {
	return func(a *Adapter) { a.maxTokens = n }
}

// WithInstructions adds custom text to the system prompt.
func WithInstructions(s string) Option {
	return func(a *Adapter) { a.custom = s }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l.With("component", "anthropic_adapter") }
}

// New creates an adapter. Model ids come from configuration, never
// hardcoded here.
func New(apiKey, model string, opts ...Option) *Adapter {
	a := &Adapter{
		client:     anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:      model,
		maxTokens:  defaultMaxTokens,
		toolRounds: defaultToolRounds,
		logger:     slog.Default().With("component", "anthropic_adapter"),
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

	messages := buildHistory(turn)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: adapter.SystemPrompt(name, desc, a.custom, parts)},
		},
		Messages: messages,
		Tools:    buildTools(),
	}

	for round := 0; round < a.toolRounds; round++ {
		resp, err := a.client.Messages.New(ctx, params)
		if err != nil {
			return fmt.Errorf("anthropic call: %w", err)
		}

		var results []anthropic.ContentBlockParamUnion
		for _, block := range resp.Content {
			toolUse, ok := block.AsAny().(anthropic.ToolUseBlock)
			if !ok {
				continue
			}
			out, isErr := adapter.ExecuteTool(ctx, tools, toolUse.Name, toolUse.Input)
			a.logger.Debug("tool executed", "tool", toolUse.Name, "error", isErr)
			results = append(results, anthropic.NewToolResultBlock(toolUse.ID, out, isErr))
		}

		if len(results) == 0 {
			return nil
		}
		params.Messages = append(params.Messages, resp.ToParam(), anthropic.NewUserMessage(results...))
	}

	a.logger.Warn("tool round limit reached", "room_id", turn.RoomID, "rounds", a.toolRounds)
	return nil
}

// buildHistory converts the turn's accumulated history into alternating
// chat messages: agent messages become assistant turns, everything else is
// a sender-prefixed user turn. The current turn's content goes last.
func buildHistory(turn runtime.Turn) []anthropic.MessageParam {
	currentIDs := make(map[string]bool, len(turn.Messages))
	for _, m := range turn.Messages {
		currentIDs[m.ID] = true
	}

	var out []anthropic.MessageParam
	for _, m := range turn.History {
		// The current turn's messages are rendered together below, with
		// any roster diff, so the model sees one coherent prompt.
		if currentIDs[m.ID] {
			continue
		}
		cm := runtime.FormatMessage(m)
		if cm.Content == "" {
			continue
		}
		if cm.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(cm.Content)))
			continue
		}
		out = append(out, anthropic.NewUserMessage(
			anthropic.NewTextBlock(fmt.Sprintf("[%s]: %s", cm.SenderName, cm.Content)),
		))
	}

	if text := adapter.RenderTurn(turn); text != "" {
		out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
	}
	return out
}

func buildTools() []anthropic.ToolUnionParam {
	defs := adapter.ToolDefs()
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		tool := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: def.Schema["properties"],
			},
		}
		if required, ok := def.Schema["required"].([]string); ok {
			tool.InputSchema.Required = required
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return tools
}
