package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thenvoi/thenvoi-go/platform"
)

// Platform is the link surface the runtime drives: the live channel plus
// the request/response operations. *platform.Link satisfies it; tests use
// an in-memory fake.
type Platform interface {
	Connect(ctx context.Context) error
	Close() error
	OnEvent(fn func(platform.Event))
	OnReconnect(fn func())
	Send(ctx context.Context, roomID string, req platform.MessageRequest) (string, error)

	Me(ctx context.Context) (platform.Agent, error)
	ListRooms(ctx context.Context) ([]platform.Room, error)
	RoomContext(ctx context.Context, roomID string) ([]platform.Message, error)
	Participants(ctx context.Context, roomID string) ([]platform.Participant, error)
	Peers(ctx context.Context, page, pageSize int, notInRoom string) (platform.PeerPage, error)
	CreateEvent(ctx context.Context, roomID string, req platform.EventRequest) (platform.Message, error)
	AddParticipant(ctx context.Context, roomID, participantID, role string) error
	RemoveParticipant(ctx context.Context, roomID, participantID string) error
	NextMessage(ctx context.Context, roomID string) (platform.Message, bool, error)
	MarkProcessing(ctx context.Context, roomID, messageID string) error
	MarkProcessed(ctx context.Context, roomID, messageID string) error
	MarkFailed(ctx context.Context, roomID, messageID, reason string) error
}

// Config tunes the runtime. The zero value is usable: diffs dispatch
// immediately, history hydrates on join, shutdown grace is 10 seconds.
type Config struct {
	// DiffPolicy controls when participant-only changes reach the adapter.
	DiffPolicy DiffPolicy

	// SkipHydration disables the one-shot history fetch on room activation.
	// Useful for adapters that manage their own persistent state.
	SkipHydration bool

	// ShutdownGrace is how long in-flight adapter invocations get to finish
	// on shutdown before their contexts are cancelled.
	ShutdownGrace time.Duration

	// DedupCapacity and DedupMaxAge bound the delivery-id dedup store.
	DedupCapacity int
	DedupMaxAge   time.Duration

	// MaxAttempts is how many processing attempts a message gets before it
	// is marked permanently failed.
	MaxAttempts int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

const defaultShutdownGrace = 10 * time.Second

// Runtime hosts one agent across all its rooms: it owns the link, the
// delivery dedup filter, and the room-id -> Presence map, and it dispatches
// inbound events without blocking the link's read loop. The room map is
// mutated only on the dispatcher/Presence path.
type Runtime struct {
	platform Platform
	adapter  Adapter
	cfg      Config
	logger   *slog.Logger
	tracker  *RetryTracker

	// baseCtx outlives Run's ctx so draining turns keep a live context
	// during the shutdown grace window.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	agent platform.Agent

	mu    sync.RWMutex
	rooms map[string]*Presence

	events chan platform.Event
}

// New wires an adapter to a platform link.
func New(p Platform, a Adapter, cfg Config) *Runtime {
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = defaultShutdownGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	trackerOpts := []TrackerOption{}
	if cfg.DedupCapacity > 0 {
		trackerOpts = append(trackerOpts, WithCapacity(cfg.DedupCapacity))
	}
	if cfg.DedupMaxAge > 0 {
		trackerOpts = append(trackerOpts, WithMaxAge(cfg.DedupMaxAge))
	}
	if cfg.MaxAttempts > 0 {
		trackerOpts = append(trackerOpts, WithMaxAttempts(cfg.MaxAttempts))
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Runtime{
		platform:   p,
		adapter:    a,
		cfg:        cfg,
		logger:     cfg.Logger.With("component", "runtime"),
		tracker:    NewRetryTracker(trackerOpts...),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		rooms:      make(map[string]*Presence),
		events:     make(chan platform.Event, 1024),
	}
}

// Agent returns the agent identity fetched at startup.
func (rt *Runtime) Agent() platform.Agent {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.agent
}

// Rooms returns a snapshot of room id to lifecycle phase, for status
// surfaces.
func (rt *Runtime) Rooms() map[string]Phase {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make(map[string]Phase, len(rt.rooms))
	for id, p := range rt.rooms {
		out[id] = p.Phase()
	}
	return out
}

// Room returns the Presence for a room id, if the agent is in that room.
func (rt *Runtime) Room(roomID string) (*Presence, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	p, ok := rt.rooms[roomID]
	return p, ok
}

// Run connects, announces presence in every room the agent is already a
// member of, and processes inbound events until ctx is cancelled. On
// cancellation each room gets the shutdown grace period to finish its
// in-flight turn, cleanup fires once per room, and the link closes.
func (rt *Runtime) Run(ctx context.Context) error {
	rt.platform.OnEvent(rt.enqueue)
	rt.platform.OnReconnect(func() { go rt.revalidateAll() })

	if err := rt.platform.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	agent, err := rt.platform.Me(ctx)
	if err != nil {
		return fmt.Errorf("fetch agent identity: %w", err)
	}
	rt.mu.Lock()
	rt.agent = agent
	rt.mu.Unlock()
	rt.logger.Info("runtime started", "agent_id", agent.ID, "agent_name", agent.Name)

	rooms, err := rt.platform.ListRooms(ctx)
	if err != nil {
		rt.logger.Warn("list existing rooms failed", "error", err)
	}
	for _, room := range rooms {
		if p, created := rt.ensurePresence(room.ID); created {
			go p.activate(rt.baseCtx)
		}
	}

	for {
		select {
		case ev := <-rt.events:
			rt.dispatch(ev)
		case <-ctx.Done():
			rt.shutdown()
			return nil
		}
	}
}

// enqueue is the handler registered on the link. It must return quickly, so
// events land on a buffered channel consumed by the dispatcher. A full
// channel drops the event unmarked; the platform's redelivery brings it
// back.
func (rt *Runtime) enqueue(ev platform.Event) {
	select {
	case rt.events <- ev:
	default:
		rt.logger.Warn("event queue full, dropping delivery",
			"delivery_id", ev.DeliveryID, "room_id", ev.RoomID, "kind", ev.Kind)
	}
}

// dispatch routes one inbound event: dedup, resolve the room, hand off.
// Nothing here waits on an adapter.
func (rt *Runtime) dispatch(ev platform.Event) {
	if ev.DeliveryID != "" {
		if rt.tracker.Seen(ev.DeliveryID) {
			rt.logger.Debug("duplicate delivery suppressed", "delivery_id", ev.DeliveryID)
			return
		}
		rt.tracker.Mark(ev.DeliveryID)
	}

	switch ev.Kind {
	case platform.KindRoomJoined:
		room, err := ev.Room()
		if err != nil {
			rt.logger.Error("decode room event", "error", err)
			return
		}
		roomID := room.ID
		if roomID == "" {
			roomID = ev.RoomID
		}
		if roomID == "" {
			rt.logger.Warn("room_joined without room id")
			return
		}
		if p, created := rt.ensurePresence(roomID); created {
			go p.activate(rt.baseCtx)
		}

	case platform.KindMessage:
		m, err := ev.Message()
		if err != nil {
			rt.logger.Error("decode message", "delivery_id", ev.DeliveryID, "error", err)
			return
		}
		if m.SenderType == "Agent" && m.SenderID == rt.Agent().ID {
			return // own message echoed back
		}
		p, ok := rt.Room(ev.RoomID)
		if !ok {
			rt.logger.Warn("message for unknown room", "room_id", ev.RoomID, "message_id", m.ID)
			return
		}
		p.handleEvent(ev)

	case platform.KindParticipantJoin, platform.KindParticipantLeave, platform.KindRoomClosed:
		p, ok := rt.Room(ev.RoomID)
		if !ok {
			rt.logger.Debug("event for unknown room", "room_id", ev.RoomID, "kind", ev.Kind)
			return
		}
		p.handleEvent(ev)

	default:
		rt.logger.Debug("unhandled event kind", "kind", ev.Kind)
	}
}

// Leave departs a room on the agent's initiative. The in-flight turn, if
// any, completes first.
func (rt *Runtime) Leave(ctx context.Context, roomID string) error {
	p, ok := rt.Room(roomID)
	if !ok {
		return &RoomStateError{RoomID: roomID, Phase: PhaseClosed, Op: "leave"}
	}
	p.Leave(ctx)
	return nil
}

func (rt *Runtime) ensurePresence(roomID string) (*Presence, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if p, ok := rt.rooms[roomID]; ok {
		return p, false
	}
	p := newPresence(rt, roomID)
	rt.rooms[roomID] = p
	return p, true
}

func (rt *Runtime) removePresence(roomID string) {
	rt.mu.Lock()
	delete(rt.rooms, roomID)
	rt.mu.Unlock()
}

// revalidateAll runs after the link reconnects: prior RoomState is not
// trusted, membership is re-read from the platform. Rooms the agent is no
// longer in are closed without waiting on pending turns; the rest stay
// active with history intact and refresh their roster.
func (rt *Runtime) revalidateAll() {
	ctx, cancel := context.WithTimeout(rt.baseCtx, 30*time.Second)
	defer cancel()

	rooms, err := rt.platform.ListRooms(ctx)
	if err != nil {
		rt.logger.Error("membership revalidation failed", "error", err)
		return
	}
	member := make(map[string]bool, len(rooms))
	for _, r := range rooms {
		member[r.ID] = true
	}

	rt.mu.RLock()
	presences := make([]*Presence, 0, len(rt.rooms))
	for _, p := range rt.rooms {
		presences = append(presences, p)
	}
	rt.mu.RUnlock()

	for _, p := range presences {
		p.revalidate(ctx, member[p.roomID])
	}

	// Rooms joined while disconnected never produced a room_joined frame.
	for _, r := range rooms {
		if p, created := rt.ensurePresence(r.ID); created {
			go p.activate(rt.baseCtx)
		}
	}
}

func (rt *Runtime) shutdown() {
	rt.logger.Info("shutting down", "grace", rt.cfg.ShutdownGrace)

	graceCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.ShutdownGrace)
	defer cancel()

	rt.mu.RLock()
	presences := make([]*Presence, 0, len(rt.rooms))
	for _, p := range rt.rooms {
		presences = append(presences, p)
	}
	rt.mu.RUnlock()

	var wg sync.WaitGroup
	for _, p := range presences {
		wg.Add(1)
		go func(p *Presence) {
			defer wg.Done()
			p.shutdown(graceCtx)
		}(p)
	}
	wg.Wait()

	rt.baseCancel()
	rt.mu.Lock()
	rt.rooms = make(map[string]*Presence)
	rt.mu.Unlock()

	if err := rt.platform.Close(); err != nil {
		rt.logger.Warn("link close", "error", err)
	}
	rt.logger.Info("shutdown complete")
}

// callOnStarted invokes the adapter's room announcement with panic
// containment.
func (rt *Runtime) callOnStarted(ctx context.Context, tools Tools) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("adapter panic: %v", r)
		}
	}()
	agent := rt.Agent()
	return rt.adapter.OnStarted(ctx, tools, agent.Name, agent.Description)
}

// callOnCleanup invokes the adapter's teardown hook with panic containment
// and a bounded context of its own, since it often runs after Run's ctx is
// gone.
func (rt *Runtime) callOnCleanup(roomID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			rt.logger.Error("adapter cleanup panic", "room_id", roomID, "panic", r)
		}
	}()
	if err := rt.adapter.OnCleanup(ctx, roomID); err != nil {
		rt.logger.Warn("adapter cleanup failed", "room_id", roomID, "error", err)
	}
}
