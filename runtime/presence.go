package runtime

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/thenvoi/thenvoi-go/platform"
)

// Phase is a room's lifecycle state.
type Phase int32

const (
	// PhasePending means the room was announced but activation has not
	// completed; inbound events are buffered.
	PhasePending Phase = iota

	// PhaseActive means the room is confirmed joined and its Execution is
	// accepting events.
	PhaseActive

	// PhaseLeaving means a leave was requested or the platform signaled
	// removal; no new events are accepted while the in-flight turn drains.
	PhaseLeaving

	// PhaseClosed is terminal.
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseActive:
		return "active"
	case PhaseLeaving:
		return "leaving"
	case PhaseClosed:
		return "closed"
	}
	return "unknown"
}

// Presence is the lifecycle state machine for one room. It owns the room's
// Execution and roster snapshot, and it is the only path through which the
// runtime's room map is mutated.
type Presence struct {
	roomID string
	rt     *Runtime
	logger *slog.Logger

	mu       sync.Mutex
	phase    Phase
	roster   []platform.Participant
	exec     *Execution
	tools    *AgentTools
	buffered []platform.Event

	cleanupOnce sync.Once
}

func newPresence(rt *Runtime, roomID string) *Presence {
	return &Presence{
		roomID: roomID,
		rt:     rt,
		logger: rt.logger.With("component", "presence", "room_id", roomID),
	}
}

// Phase returns the current lifecycle phase.
func (p *Presence) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// Roster returns a copy of the current participant snapshot.
func (p *Presence) Roster() []platform.Participant {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.roster)
}

// Execution returns the room's turn accumulator, nil until activation.
func (p *Presence) Execution() *Execution {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exec
}

// activate drives PENDING -> ACTIVE: create the Execution, hydrate history,
// pull the unprocessed backlog, announce the adapter, then release any
// events that arrived while pending. On_started always precedes the first
// message turn because nothing reaches the Execution before the flush.
func (p *Presence) activate(ctx context.Context) {
	p.mu.Lock()
	if p.phase != PhasePending {
		p.mu.Unlock()
		return
	}
	p.tools = newAgentTools(p)
	p.exec = newExecution(p.rt.baseCtx, p.roomID, p.rt.adapter, p.tools,
		p.rt.platform, p.rt.tracker, p.rt.cfg.DiffPolicy, p.rt.logger)
	p.mu.Unlock()

	roster, err := p.rt.platform.Participants(ctx, p.roomID)
	if err != nil {
		p.logger.Warn("load participants failed", "error", err)
	}

	var history []platform.Message
	if !p.rt.cfg.SkipHydration {
		history, err = p.rt.platform.RoomContext(ctx, p.roomID)
		if err != nil {
			p.logger.Warn("history hydration failed", "error", err)
			history = nil
		}
	}

	backlog := p.pullBacklog(ctx)

	// Backlog messages reappear at the tail of the stored history; keep
	// them out of the hydrated context so they are processed as live turns
	// without duplication.
	if len(backlog) > 0 {
		backlogIDs := make(map[string]bool, len(backlog))
		for _, m := range backlog {
			backlogIDs[m.ID] = true
		}
		history = slices.DeleteFunc(history, func(m platform.Message) bool {
			return backlogIDs[m.ID]
		})
	}
	p.exec.Hydrate(history)

	// Roster must be in place before the announcement so tools calls made
	// inside OnStarted can resolve mentions.
	p.mu.Lock()
	p.roster = roster
	p.mu.Unlock()

	if err := p.rt.callOnStarted(ctx, p.tools); err != nil {
		p.logger.Error("adapter on_started failed", "error", err)
	}

	for _, m := range backlog {
		p.exec.AcceptMessage(m)
	}
	backlogIDs := make(map[string]bool, len(backlog))
	for _, m := range backlog {
		backlogIDs[m.ID] = true
	}

	// Flush the pending buffer before going active. The phase flips only
	// once the buffer is observed empty under the lock, so a message
	// arriving mid-flush keeps landing in the buffer and cannot overtake
	// earlier-delivered ones.
	for {
		p.mu.Lock()
		if p.phase != PhasePending {
			// Closed or leaving while activating; nothing to flush into.
			p.mu.Unlock()
			return
		}
		if len(p.buffered) == 0 {
			p.phase = PhaseActive
			p.mu.Unlock()
			break
		}
		buffered := p.buffered
		p.buffered = nil
		p.mu.Unlock()
		for _, ev := range buffered {
			p.applyEvent(ev, backlogIDs)
		}
	}

	p.logger.Info("room active", "participants", len(roster), "history", len(history), "backlog", len(backlog))
}

// pullBacklog drains messages left unprocessed while the agent was away,
// via the next-message endpoint. Permanently failed messages are reported
// and skipped so they cannot wedge the backlog.
func (p *Presence) pullBacklog(ctx context.Context) []platform.Message {
	var backlog []platform.Message
	for {
		m, ok, err := p.rt.platform.NextMessage(ctx, p.roomID)
		if err != nil {
			p.logger.Warn("backlog sync failed", "error", err)
			return backlog
		}
		if !ok {
			return backlog
		}
		if p.rt.tracker.Exhausted(m.ID) {
			p.rt.tracker.MarkPermanentlyFailed(m.ID)
			if err := p.rt.platform.MarkFailed(ctx, p.roomID, m.ID, "retry limit exceeded"); err != nil {
				p.logger.Warn("mark failed failed", "message_id", m.ID, "error", err)
			}
			continue
		}
		backlog = append(backlog, m)
		if len(backlog) >= 256 {
			p.logger.Warn("backlog truncated", "messages", len(backlog))
			return backlog
		}
	}
}

// handleEvent routes one deduplicated inbound event. Non-blocking: events
// either land in the pending buffer or the Execution's accumulator.
func (p *Presence) handleEvent(ev platform.Event) {
	p.mu.Lock()
	switch p.phase {
	case PhasePending:
		p.buffered = append(p.buffered, ev)
		p.mu.Unlock()
		return
	case PhaseLeaving, PhaseClosed:
		p.mu.Unlock()
		p.logger.Debug("event dropped after leave", "kind", ev.Kind)
		return
	}
	p.mu.Unlock()

	p.applyEvent(ev, nil)
}

func (p *Presence) applyEvent(ev platform.Event, skipMessageIDs map[string]bool) {
	switch ev.Kind {
	case platform.KindMessage:
		m, err := ev.Message()
		if err != nil {
			p.logger.Error("decode message event", "error", err)
			return
		}
		if skipMessageIDs[m.ID] {
			return
		}
		p.acceptMessage(m)

	case platform.KindParticipantJoin:
		part, err := ev.Participant()
		if err != nil {
			p.logger.Error("decode participant event", "error", err)
			return
		}
		p.mu.Lock()
		known := containsParticipant(p.roster, part.ID)
		if !known {
			p.roster = append(p.roster, part)
		}
		exec := p.exec
		p.mu.Unlock()
		if !known && exec != nil {
			exec.AcceptDiff(Diff{Joined: []platform.Participant{part}})
		}

	case platform.KindParticipantLeave:
		part, err := ev.Participant()
		if err != nil {
			p.logger.Error("decode participant event", "error", err)
			return
		}
		p.mu.Lock()
		removed := removeParticipant(&p.roster, part.ID)
		exec := p.exec
		p.mu.Unlock()
		if removed && exec != nil {
			exec.AcceptDiff(Diff{Left: []platform.Participant{part}})
		}

	case platform.KindRoomClosed:
		p.beginLeave("room closed by platform")

	default:
		p.logger.Debug("unhandled event kind", "kind", ev.Kind)
	}
}

func (p *Presence) acceptMessage(m platform.Message) {
	attempts := p.rt.tracker.RecordAttempt(m.ID)
	if attempts > p.rt.tracker.maxAttempts {
		p.logger.Warn("message exceeded retry limit", "message_id", m.ID, "attempts", attempts)
		p.rt.tracker.MarkPermanentlyFailed(m.ID)
		if err := p.rt.platform.MarkFailed(p.rt.baseCtx, p.roomID, m.ID, "retry limit exceeded"); err != nil {
			p.logger.Warn("mark failed failed", "message_id", m.ID, "error", err)
		}
		return
	}
	p.exec.AcceptMessage(m)
}

// Leave requests departure from the room: the in-flight turn finishes,
// further turns are suppressed, cleanup fires once.
func (p *Presence) Leave(ctx context.Context) {
	p.beginLeave("local leave")
}

// beginLeave drives ACTIVE -> LEAVING -> CLOSED. Draining happens off the
// dispatcher goroutine so event routing for other rooms is not held up.
func (p *Presence) beginLeave(reason string) {
	p.mu.Lock()
	if p.phase == PhaseLeaving || p.phase == PhaseClosed {
		p.mu.Unlock()
		return
	}
	wasPending := p.phase == PhasePending
	p.phase = PhaseLeaving
	exec := p.exec
	p.mu.Unlock()

	p.logger.Info("leaving room", "reason", reason)

	if wasPending || exec == nil {
		p.close()
		return
	}
	go func() {
		if err := exec.Drain(p.rt.baseCtx); err != nil {
			p.logger.Warn("drain interrupted", "error", err)
			exec.Abort()
		}
		p.close()
	}()
}

// forceClose skips LEAVING: the platform says the room no longer exists, so
// a pending turn is not worth waiting for.
func (p *Presence) forceClose(reason string) {
	p.mu.Lock()
	if p.phase == PhaseClosed {
		p.mu.Unlock()
		return
	}
	p.phase = PhaseLeaving
	exec := p.exec
	p.mu.Unlock()

	p.logger.Warn("force closing room", "reason", reason)
	if exec != nil {
		exec.Abort()
	}
	p.close()
}

// close finishes teardown: adapter cleanup exactly once, phase CLOSED, and
// removal from the runtime's room map.
func (p *Presence) close() {
	p.cleanupOnce.Do(func() {
		p.rt.callOnCleanup(p.roomID)
		p.mu.Lock()
		p.phase = PhaseClosed
		p.exec = nil
		p.buffered = nil
		p.mu.Unlock()
		p.rt.removePresence(p.roomID)
		p.logger.Info("room closed")
	})
}

// shutdown is the process-exit path: give the in-flight turn the grace
// period, then abort, then cleanup.
func (p *Presence) shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.phase == PhaseClosed {
		p.mu.Unlock()
		return
	}
	p.phase = PhaseLeaving
	exec := p.exec
	p.mu.Unlock()

	if exec != nil {
		if err := exec.Drain(ctx); err != nil {
			p.logger.Warn("shutdown grace expired, aborting turn", "error", err)
			exec.Abort()
		}
	}
	p.close()
}

// revalidate runs after a reconnect: membership is re-checked against the
// platform's authoritative state instead of trusting pre-disconnect
// RoomState. Still a member: stay ACTIVE with history intact and take a
// fresh roster snapshot. No longer a member: close without waiting.
func (p *Presence) revalidate(ctx context.Context, stillMember bool) {
	p.mu.Lock()
	active := p.phase == PhaseActive
	p.mu.Unlock()
	if !active {
		return
	}

	if !stillMember {
		p.forceClose("membership lost during disconnect")
		return
	}

	roster, err := p.rt.platform.Participants(ctx, p.roomID)
	if err != nil {
		p.logger.Warn("roster refresh failed", "error", err)
		return
	}
	p.applyRoster(roster)
}

// applyRoster accepts a full roster snapshot. Platforms may resend rosters
// that have not changed; only actual changes reach the adapter.
func (p *Presence) applyRoster(roster []platform.Participant) {
	p.mu.Lock()
	diff := DiffRosters(p.roster, roster)
	p.roster = slices.Clone(roster)
	exec := p.exec
	p.mu.Unlock()

	if !diff.Empty() && exec != nil {
		exec.AcceptDiff(diff)
	}
}
