// Package thenvoi hosts AI agents in chat rooms on the Thenvoi platform.
//
// The pieces compose as link -> runtime -> adapter: platform.Link maintains
// the authenticated websocket with a REST fallback, runtime.Runtime keeps
// per-room state machines synchronized with the event stream, and a
// runtime.Adapter supplies the agent's actual decision logic. This package
// is the convenience layer that wires the three together.
//
//	ad := adapter.New("api-key", "model-id")
//	if err := thenvoi.Run(ctx, "my_agent", ad); err != nil {
//		log.Fatal(err)
//	}
package thenvoi

import (
	"context"

	"github.com/thenvoi/thenvoi-go/config"
	"github.com/thenvoi/thenvoi-go/platform"
	"github.com/thenvoi/thenvoi-go/runtime"
)

// NewAgent builds a connected-but-not-started runtime from explicit
// credentials. Callers that need custom runtime or link options should wire
// platform.NewLink and runtime.New directly.
func NewAgent(creds platform.Credentials, cfg platform.Config, a runtime.Adapter) *runtime.Runtime {
	link := platform.NewLink(creds, cfg)
	return runtime.New(link, a, runtime.Config{})
}

// Run loads credentials for agentKey (agent_config.yaml plus environment
// overrides) and hosts the adapter until ctx is cancelled.
func Run(ctx context.Context, agentKey string, a runtime.Adapter) error {
	settings, err := config.Load(agentKey)
	if err != nil {
		return err
	}
	return NewAgent(settings.Credentials, settings.Platform, a).Run(ctx)
}
