package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/thenvoi/thenvoi-go/platform"
)

// DiffPolicy controls when a participant diff with no accompanying message
// is handed to the adapter.
type DiffPolicy int

const (
	// DiffDispatchImmediate dispatches a roster change as its own turn as
	// soon as no invocation is running, so adapters see participant changes
	// without waiting for the next message. The default.
	DiffDispatchImmediate DiffPolicy = iota

	// DiffHoldForMessage holds roster changes and delivers them alongside
	// the next message turn.
	DiffHoldForMessage
)

// marker is the slice of the platform surface Execution needs to report
// message lifecycle.
type marker interface {
	MarkProcessing(ctx context.Context, roomID, messageID string) error
	MarkProcessed(ctx context.Context, roomID, messageID string) error
	MarkFailed(ctx context.Context, roomID, messageID, reason string) error
}

// Execution accumulates a room's inbound messages and participant diffs into
// ordered turns and serializes their delivery to the adapter: at most one
// adapter invocation runs per room at any time. Anything arriving while an
// invocation is in flight joins the next turn instead of starting a second
// one.
type Execution struct {
	roomID     string
	adapter    Adapter
	tools      Tools
	marks      marker
	tracker    *RetryTracker
	diffPolicy DiffPolicy
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	hydrated    bool
	history     []platform.Message
	pendingMsgs []platform.Message
	pendingDiff Diff
	inFlight    bool
	stopped     bool
	waiters     []chan struct{}
}

func newExecution(ctx context.Context, roomID string, adapter Adapter, tools Tools,
	marks marker, tracker *RetryTracker, policy DiffPolicy, logger *slog.Logger) *Execution {
	execCtx, cancel := context.WithCancel(ctx)
	return &Execution{
		roomID:     roomID,
		adapter:    adapter,
		tools:      tools,
		marks:      marks,
		tracker:    tracker,
		diffPolicy: policy,
		logger:     logger.With("component", "execution", "room_id", roomID),
		ctx:        execCtx,
		cancel:     cancel,
	}
}

// Hydrate seeds the room's history from the platform's stored conversation.
// Called at most once, before live events are accepted, so an adapter
// joining mid-conversation sees prior context.
func (e *Execution) Hydrate(history []platform.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hydrated {
		return
	}
	e.hydrated = true
	e.history = slices.Clone(history)
}

// History returns a copy of the accumulated conversation.
func (e *Execution) History() []platform.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.history)
}

// AcceptMessage appends a message to the currently-accumulating turn. If no
// invocation is in flight one starts immediately with everything accumulated
// so far; otherwise the message waits for the next turn.
func (e *Execution) AcceptMessage(m platform.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.pendingMsgs = append(e.pendingMsgs, m)
	e.kickLocked()
}

// AcceptDiff merges a participant diff into the accumulating turn. Under
// DiffDispatchImmediate an idle room dispatches it at once; otherwise it
// rides along with the next message.
func (e *Execution) AcceptDiff(d Diff) {
	if d.Empty() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.pendingDiff.Merge(d)
	if e.diffPolicy == DiffDispatchImmediate {
		e.kickLocked()
	}
}

// InFlight reports whether an adapter invocation is currently running.
func (e *Execution) InFlight() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}

// Drain stops accepting new work and waits for the in-flight invocation, if
// any, to finish. Returns ctx.Err() if the wait is cut short; the invocation
// itself keeps its own context.
func (e *Execution) Drain(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	if !e.inFlight {
		e.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	e.waiters = append(e.waiters, ch)
	e.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abort cancels the invocation context and stops accepting work. Used on
// forced close and when the shutdown grace period expires.
func (e *Execution) Abort() {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.cancel()
}

func (e *Execution) kickLocked() {
	if e.inFlight {
		return
	}
	e.inFlight = true
	go e.dispatchLoop()
}

func (e *Execution) dispatchable() bool {
	if len(e.pendingMsgs) > 0 {
		return true
	}
	return e.diffPolicy == DiffDispatchImmediate && !e.pendingDiff.Empty()
}

// dispatchLoop drains accumulated turns one at a time. It is the only
// goroutine that invokes the adapter for this room, which is what makes the
// non-overlap guarantee hold.
func (e *Execution) dispatchLoop() {
	for {
		e.mu.Lock()
		if e.stopped || !e.dispatchable() {
			e.inFlight = false
			for _, ch := range e.waiters {
				close(ch)
			}
			e.waiters = nil
			e.mu.Unlock()
			return
		}
		msgs := e.pendingMsgs
		diff := e.pendingDiff
		e.pendingMsgs = nil
		e.pendingDiff = Diff{}
		e.history = append(e.history, msgs...)
		turn := Turn{
			RoomID:   e.roomID,
			Messages: msgs,
			Diff:     diff,
			History:  slices.Clone(e.history),
		}
		e.mu.Unlock()

		e.invoke(turn)
	}
}

// invoke runs one adapter invocation and reports the outcome per message.
// Adapter errors and panics stop here: they are logged and reported to the
// platform, never propagated, so one bad turn cannot take down the room or
// the process.
func (e *Execution) invoke(turn Turn) {
	for _, m := range turn.Messages {
		if err := e.marks.MarkProcessing(e.ctx, e.roomID, m.ID); err != nil {
			e.logger.Warn("mark processing failed", "message_id", m.ID, "error", err)
		}
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("adapter panic: %v", r)
			}
		}()
		err = e.adapter.OnMessage(e.ctx, e.tools, turn)
	}()

	if err != nil {
		e.logger.Error("adapter invocation failed",
			"messages", len(turn.Messages), "error", err)
		for _, m := range turn.Messages {
			if markErr := e.marks.MarkFailed(e.ctx, e.roomID, m.ID, err.Error()); markErr != nil {
				e.logger.Warn("mark failed failed", "message_id", m.ID, "error", markErr)
			}
		}
		return
	}

	for _, m := range turn.Messages {
		e.tracker.MarkSuccess(m.ID)
		if markErr := e.marks.MarkProcessed(e.ctx, e.roomID, m.ID); markErr != nil {
			e.logger.Warn("mark processed failed", "message_id", m.ID, "error", markErr)
		}
	}
}
