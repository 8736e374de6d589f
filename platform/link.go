package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the platform.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong before the connection is
	// considered dead.
	pongWait = 60 * time.Second

	// Ping period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size.
	maxFrameSize = 512 * 1024

	// Backoff parameters for connect and reconnect attempts.
	backoffBase = 100 * time.Millisecond
	backoffCap  = 10 * time.Second
)

// Credentials identify the agent to the platform.
type Credentials struct {
	AgentID string
	APIKey  string
}

// Config holds the platform endpoints.
type Config struct {
	WSURL   string
	RESTURL string
}

// DefaultConfig returns the production platform endpoints.
func DefaultConfig() Config {
	return Config{
		WSURL:   "wss://api.thenvoi.com/ws",
		RESTURL: "https://api.thenvoi.com",
	}
}

// ConnectStatus describes one failed connection attempt. It is reported
// through the status callback so callers can observe retry progress.
type ConnectStatus struct {
	Attempt   int
	Err       error
	NextRetry time.Duration
}

type authPayload struct {
	AgentID string `json:"agent_id"`
	APIKey  string `json:"api_key"`
}

type authErrorPayload struct {
	Reason string `json:"reason"`
}

type ackPayload struct {
	DeliveryID string `json:"delivery_id"`
	MessageID  string `json:"message_id,omitempty"`
}

// Link is the live link to the platform: one authenticated websocket plus
// the REST client as fallback. A Link delivers inbound events to a single
// handler, in the order frames arrive on the wire. The handler must not
// block; it is expected to enqueue work and return.
type Link struct {
	creds  Credentials
	cfg    Config
	rest   *REST
	logger *slog.Logger

	dialer *websocket.Dialer

	mu        sync.RWMutex
	conn      *websocket.Conn
	connGen   int // bumped on every new connection; stale pumps exit
	connected bool
	authDead  bool
	closed    bool

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan ackPayload

	handler     func(Event)
	onStatus    func(ConnectStatus)
	onReconnect func()

	done chan struct{}
}

// LinkOption configures a Link.
type LinkOption func(*Link)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) LinkOption {
	return func(lk *Link) { lk.logger = l.With("component", "link") }
}

// WithDialer overrides the websocket dialer (used by tests).
func WithDialer(d *websocket.Dialer) LinkOption {
	return func(lk *Link) { lk.dialer = d }
}

// NewLink creates a Link. It does not connect; call Connect.
func NewLink(creds Credentials, cfg Config, opts ...LinkOption) *Link {
	if cfg.WSURL == "" {
		cfg = DefaultConfig()
	}
	l := &Link{
		creds:   creds,
		cfg:     cfg,
		rest:    NewREST(cfg.RESTURL, creds.AgentID, creds.APIKey, nil),
		logger:  slog.Default().With("component", "link"),
		dialer:  websocket.DefaultDialer,
		pending: make(map[string]chan ackPayload),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// REST returns the request/response client sharing this Link's credentials.
func (l *Link) REST() *REST { return l.rest }

// OnEvent registers the single inbound event handler. Must be called before
// Connect.
func (l *Link) OnEvent(fn func(Event)) { l.handler = fn }

// OnStatus registers a callback invoked after each failed connection attempt.
func (l *Link) OnStatus(fn func(ConnectStatus)) { l.onStatus = fn }

// OnReconnect registers a callback invoked after a successful automatic
// reconnection. The Link does not restore per-room state; the callback is
// where the runtime revalidates room membership against the platform.
func (l *Link) OnReconnect(fn func()) { l.onReconnect = fn }

// Connected reports whether the websocket channel is currently live.
func (l *Link) Connected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected
}

// Connect establishes the websocket channel and authenticates. It retries
// internally with capped exponential backoff and jitter until ctx is
// cancelled; each failed attempt is reported through the status callback.
// Rejected credentials return ErrAuth immediately and are never retried.
func (l *Link) Connect(ctx context.Context) error {
	attempt := 0
	for {
		err := l.dial(ctx)
		if err == nil {
			return nil
		}
		if l.isAuthDead() {
			return err
		}
		attempt++
		delay := backoffDelay(attempt)
		if l.onStatus != nil {
			l.onStatus(ConnectStatus{Attempt: attempt, Err: err, NextRetry: delay})
		}
		l.logger.Warn("connect failed", "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("connect: %w", ctx.Err())
		case <-l.done:
			return ErrNotConnected
		case <-time.After(delay):
		}
	}
}

// Close shuts the link down. Idempotent.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.connected = false
	conn := l.conn
	l.mu.Unlock()

	close(l.done)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Send delivers a chat message to a room and returns once the platform
// acknowledges receipt (not once processed). When the websocket channel is
// down the call transparently falls back to the REST API so outbound
// actions are not lost during a reconnect window. Returns the platform
// message id.
func (l *Link) Send(ctx context.Context, roomID string, req MessageRequest) (string, error) {
	if !l.Connected() {
		m, err := l.rest.CreateMessage(ctx, roomID, req)
		if err != nil {
			return "", err
		}
		return m.ID, nil
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}
	deliveryID := uuid.NewString()
	ackCh := make(chan ackPayload, 1)

	l.pendingMu.Lock()
	l.pending[deliveryID] = ackCh
	l.pendingMu.Unlock()
	defer func() {
		l.pendingMu.Lock()
		delete(l.pending, deliveryID)
		l.pendingMu.Unlock()
	}()

	frame := Frame{
		DeliveryID: deliveryID,
		RoomID:     roomID,
		Kind:       KindMessage,
		Payload:    payload,
	}
	if err := l.writeFrame(frame); err != nil {
		// Channel went down under us; fall back for this one call.
		l.logger.Warn("websocket send failed, falling back to REST", "room_id", roomID, "error", err)
		m, restErr := l.rest.CreateMessage(ctx, roomID, req)
		if restErr != nil {
			return "", restErr
		}
		return m.ID, nil
	}

	select {
	case ack, ok := <-ackCh:
		if !ok {
			// Connection dropped before the ack arrived. The frame may or
			// may not have reached the platform; surface the loss rather
			// than re-sending and risking a duplicate.
			return "", &TransportError{Op: "await ack", Err: ErrNotConnected}
		}
		return ack.MessageID, nil
	case <-ctx.Done():
		return "", fmt.Errorf("await ack: %w", ctx.Err())
	case <-l.done:
		return "", ErrNotConnected
	}
}

// --- internal ---

func (l *Link) isAuthDead() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.authDead
}

// dial opens the websocket and performs the auth handshake: first frame out
// carries the credentials, first frame in is auth_ok or auth_error.
func (l *Link) dial(ctx context.Context) error {
	wsURL := l.cfg.WSURL + "?agent_id=" + l.creds.AgentID
	conn, _, err := l.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}

	authBody, err := json.Marshal(authPayload{AgentID: l.creds.AgentID, APIKey: l.creds.APIKey})
	if err != nil {
		conn.Close()
		return fmt.Errorf("marshal auth: %w", err)
	}
	auth := Frame{DeliveryID: uuid.NewString(), Kind: KindAuth, Payload: authBody}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(auth); err != nil {
		conn.Close()
		return &TransportError{Op: "write auth", Err: err}
	}

	if dl, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(dl)
	} else {
		conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	}
	var reply Frame
	if err := conn.ReadJSON(&reply); err != nil {
		conn.Close()
		return &TransportError{Op: "read auth reply", Err: err}
	}
	conn.SetReadDeadline(time.Time{})

	switch reply.Kind {
	case KindAuthOK:
		// fine
	case KindAuthError:
		var fail authErrorPayload
		json.Unmarshal(reply.Payload, &fail)
		conn.Close()
		l.mu.Lock()
		l.authDead = true
		l.mu.Unlock()
		if fail.Reason != "" {
			return fmt.Errorf("%w: %s", ErrAuth, fail.Reason)
		}
		return ErrAuth
	default:
		conn.Close()
		return &TransportError{Op: "auth handshake", Err: fmt.Errorf("unexpected frame kind %q", reply.Kind)}
	}

	l.mu.Lock()
	l.conn = conn
	l.connGen++
	gen := l.connGen
	l.connected = true
	l.mu.Unlock()

	go l.readLoop(conn, gen)
	go l.pingLoop(conn, gen)

	l.logger.Info("connected", "agent_id", l.creds.AgentID)
	return nil
}

func (l *Link) current(gen int) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connGen == gen && !l.closed
}

// readLoop pumps frames off the wire. Its only job per frame is to decode
// and hand off; anything slow happens downstream.
func (l *Link) readLoop(conn *websocket.Conn, gen int) {
	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			conn.Close()
			if !l.current(gen) {
				return
			}
			l.mu.Lock()
			wasConnected := l.connected
			l.connected = false
			l.mu.Unlock()
			l.failPending()
			if wasConnected {
				l.logger.Warn("connection lost", "error", err)
				go l.reconnect()
			}
			return
		}

		if frame.Kind == KindAck {
			l.resolveAck(frame)
			continue
		}
		if l.handler != nil {
			l.handler(Event{
				DeliveryID: frame.DeliveryID,
				RoomID:     frame.RoomID,
				Kind:       frame.Kind,
				Payload:    frame.Payload,
			})
		}
	}
}

// failPending wakes every Send waiting on an ack. The connection it was
// written on is gone, so that ack will never arrive. Only the current
// generation's read loop calls this, which also serializes it against
// resolveAck.
func (l *Link) failPending() {
	l.pendingMu.Lock()
	defer l.pendingMu.Unlock()
	for id, ch := range l.pending {
		close(ch)
		delete(l.pending, id)
	}
}

func (l *Link) resolveAck(frame Frame) {
	var ack ackPayload
	if err := json.Unmarshal(frame.Payload, &ack); err != nil {
		l.logger.Error("decode ack", "error", err)
		return
	}
	l.pendingMu.Lock()
	ch, ok := l.pending[ack.DeliveryID]
	l.pendingMu.Unlock()
	if ok {
		select {
		case ch <- ack:
		default:
		}
	}
}

func (l *Link) pingLoop(conn *websocket.Conn, gen int) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			if !l.current(gen) {
				return
			}
			l.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			l.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// reconnect re-establishes the channel after an unexpected disconnect. Room
// state is not restored here; the OnReconnect callback triggers membership
// revalidation in the runtime.
func (l *Link) reconnect() {
	attempt := 0
	for {
		select {
		case <-l.done:
			return
		default:
		}
		if l.isAuthDead() {
			l.logger.Error("credentials rejected, not reconnecting")
			return
		}

		attempt++
		delay := backoffDelay(attempt)
		if l.onStatus != nil {
			l.onStatus(ConnectStatus{Attempt: attempt, Err: ErrNotConnected, NextRetry: delay})
		}
		l.logger.Info("reconnecting", "attempt", attempt, "delay", delay)

		select {
		case <-l.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := l.dial(ctx)
		cancel()
		if err != nil {
			if l.isAuthDead() {
				l.logger.Error("auth rejected during reconnect, giving up")
				return
			}
			l.logger.Warn("reconnect failed", "attempt", attempt, "error", err)
			continue
		}

		if l.onReconnect != nil {
			l.onReconnect()
		}
		l.logger.Info("reconnected", "attempt", attempt)
		return
	}
}

func (l *Link) writeFrame(frame Frame) error {
	l.mu.RLock()
	conn := l.conn
	connected := l.connected
	l.mu.RUnlock()
	if conn == nil || !connected {
		return ErrNotConnected
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(frame); err != nil {
		return &TransportError{Op: "write frame", Err: err}
	}
	return nil
}

// backoffDelay computes the retry delay for the given attempt: exponential
// from backoffBase, capped at backoffCap, with ±25% jitter.
func backoffDelay(attempt int) time.Duration {
	shift := attempt - 1
	if shift > 20 {
		shift = 20
	}
	delay := backoffBase << shift
	if delay > backoffCap || delay <= 0 {
		delay = backoffCap
	}
	jitter := time.Duration(rand.Int64N(int64(delay) / 2))
	return delay - delay/4 + jitter
}
