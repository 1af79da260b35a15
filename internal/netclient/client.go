package netclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"stackrush/internal/protocol"
)

var (
	ErrConnectInProgress = errors.New("connect attempt already in progress")
	ErrConnectTimeout    = errors.New("timed out waiting for server ack")
	ErrConnectAborted    = errors.New("connect attempt aborted")
)

// ServerError carries the text of a server `error` reply.
type ServerError struct {
	Text string
}

func (e *ServerError) Error() string { return e.Text }

// Phase is the connection lifecycle state.
type Phase int32

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseAwaitingServerAck
	PhaseConnected
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseAwaitingServerAck:
		return "awaitingServerAck"
	case PhaseConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Identity is what the client presents in its connect handshake.
type Identity struct {
	ClientID string
	Username string
	Meta     map[string]any
}

type Config struct {
	URL string

	// AutoConnect dials in the background as soon as the client is
	// constructed, with a generated identity.
	AutoConnect bool

	// Reconnect enables automatic reconnection after unexpected closes.
	Reconnect         bool
	ReconnectDelay    time.Duration // base backoff delay, default 1s
	MaxReconnectDelay time.Duration // backoff cap, default 30s
	ReconnectAttempts int           // -1 (default via 0) = unlimited

	PingInterval   time.Duration // default 30s
	PongTimeout    time.Duration // default 5s
	ConnectTimeout time.Duration // handshake deadline, default 5s

	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.ReconnectAttempts == 0 {
		c.ReconnectAttempts = -1
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 5 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

const writeTimeout = 3 * time.Second

// Client owns the single outbound connection. All higher layers send
// through it and receive inbound traffic via its event bus.
type Client struct {
	cfg Config
	log *zap.Logger
	bus *emitter

	mu            sync.Mutex
	phase         Phase
	conn          *websocket.Conn
	readCancel    context.CancelFunc
	attemptCancel context.CancelFunc
	identity      Identity
	attempts      int
	manual        bool
	rtt           time.Duration

	pingSeq         uint64
	pingSentAt      time.Time
	pingOutstanding bool
	pongTimer       *time.Timer
	hbStop          chan struct{}

	reconnectTimer *time.Timer
	ackCh          chan error

	rooms []protocol.RoomSummary
	users []protocol.User
}

func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg: cfg,
		log: cfg.Logger,
		bus: newEmitter(cfg.Logger),
	}
	if cfg.AutoConnect {
		go func() {
			if err := c.Connect(context.Background(), Identity{}); err != nil {
				c.log.Warn("auto connect failed", zap.Error(err))
			}
		}()
	}
	return c
}

// On subscribes a handler for an event kind and returns its unsubscribe
// func.
func (c *Client) On(kind EventKind, h Handler) func() { return c.bus.on(kind, h) }

// Publish emits a locally generated event on the client's bus. Session
// layers use it for events that have no wire message behind them.
func (c *Client) Publish(ev Event) { c.bus.emit(ev) }

func (c *Client) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Client) Connected() bool { return c.Phase() == PhaseConnected }

// RTT is the most recent heartbeat round-trip measurement, zero before
// the first pong.
func (c *Client) RTT() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rtt
}

func (c *Client) Identity() Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Rooms returns the room list as of the last roomList message.
func (c *Client) Rooms() []protocol.RoomSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.RoomSummary, len(c.rooms))
	copy(out, c.rooms)
	return out
}

// Users returns the user list as of the last userList/userJoined/userLeft
// message.
func (c *Client) Users() []protocol.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.User, len(c.users))
	copy(out, c.users)
	return out
}

// Connect dials the endpoint, performs the connect handshake and waits
// for the server ack. Cancelling ctx aborts the attempt at any point
// before resolution. Only one attempt may be in flight at a time.
func (c *Client) Connect(ctx context.Context, id Identity) error {
	c.mu.Lock()
	if c.phase != PhaseDisconnected {
		c.mu.Unlock()
		return ErrConnectInProgress
	}
	if id.ClientID == "" {
		id.ClientID = uuid.NewString()
	}
	c.identity = id
	c.manual = false
	c.phase = PhaseConnecting
	attemptCtx, attemptDone := context.WithCancel(ctx)
	c.attemptCancel = attemptDone
	c.mu.Unlock()
	defer attemptDone()

	dialCtx, cancel := context.WithTimeout(attemptCtx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.cfg.URL, nil)
	if err != nil {
		return c.failConnect(nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err))
	}
	conn.SetReadLimit(1 << 20)

	hello, err := protocol.Encode(protocol.NewConnect(id.ClientID, id.Username, id.Meta))
	if err != nil {
		return c.failConnect(conn, fmt.Errorf("encode connect: %w", err))
	}
	if err := conn.Write(dialCtx, websocket.MessageText, hello); err != nil {
		return c.failConnect(conn, fmt.Errorf("send connect: %w", err))
	}

	ack := make(chan error, 1)
	readCtx, readCancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.phase = PhaseAwaitingServerAck
	c.conn = conn
	c.readCancel = readCancel
	c.ackCh = ack
	c.mu.Unlock()

	go c.readPump(conn, readCtx)

	select {
	case err := <-ack:
		if err != nil {
			return c.failConnect(conn, err)
		}
	case <-dialCtx.Done():
		err := ErrConnectTimeout
		if attemptCtx.Err() != nil {
			err = ErrConnectAborted
		}
		return c.failConnect(conn, err)
	}

	c.mu.Lock()
	if c.conn != conn {
		// The transport died between the ack and here; the read pump has
		// already torn the connection state down.
		c.mu.Unlock()
		return c.failConnect(nil, errors.New("connection closed during handshake"))
	}
	c.phase = PhaseConnected
	c.attempts = 0
	c.ackCh = nil
	c.attemptCancel = nil
	hbStop := make(chan struct{})
	c.hbStop = hbStop
	c.mu.Unlock()

	c.log.Info("connected", zap.String("url", c.cfg.URL), zap.String("clientId", id.ClientID))
	go c.heartbeat(conn, hbStop)
	c.bus.emit(Event{Kind: EventConnected})
	return nil
}

// failConnect tears down a failed attempt and schedules a retry when
// auto-reconnect applies. It always returns err for the caller to
// propagate.
func (c *Client) failConnect(conn *websocket.Conn, err error) error {
	c.mu.Lock()
	if conn != nil && c.conn == conn {
		c.conn = nil
		if c.readCancel != nil {
			c.readCancel()
			c.readCancel = nil
		}
	}
	c.phase = PhaseDisconnected
	c.ackCh = nil
	c.attemptCancel = nil
	retry := c.cfg.Reconnect && !c.manual && !errors.Is(err, ErrConnectAborted)
	c.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "handshake failed")
	}
	c.log.Warn("connect failed", zap.Error(err))
	c.bus.emit(Event{Kind: EventError, Err: err})
	if retry {
		c.scheduleReconnect()
	}
	return err
}

// Disconnect is idempotent: it suppresses auto-reconnect, cancels any
// pending retry and in-flight attempt, stops the heartbeat, closes the
// transport and resets connection-derived state.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manual = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.attemptCancel != nil {
		c.attemptCancel()
		c.attemptCancel = nil
	}
	if c.readCancel != nil {
		c.readCancel()
		c.readCancel = nil
	}
	c.stopHeartbeatLocked()
	conn := c.conn
	c.conn = nil
	wasConnected := c.phase == PhaseConnected
	c.phase = PhaseDisconnected
	c.attempts = 0
	c.rtt = 0
	c.rooms = nil
	c.users = nil
	c.ackCh = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if wasConnected {
		c.bus.emit(Event{Kind: EventDisconnected})
	}
}

// Send transmits a message if and only if the client is connected. The
// contract is best effort: false means the message was dropped and the
// caller must not assume delivery.
func (c *Client) Send(m protocol.Message) bool {
	c.mu.Lock()
	conn := c.conn
	ok := c.phase == PhaseConnected
	c.mu.Unlock()
	if !ok || conn == nil {
		return false
	}
	return c.write(conn, m)
}

func (c *Client) write(conn *websocket.Conn, m protocol.Message) bool {
	data, err := protocol.Encode(m)
	if err != nil {
		c.log.Error("encode message", zap.String("kind", string(m.MessageKind())), zap.Error(err))
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.log.Debug("write failed", zap.String("kind", string(m.MessageKind())), zap.Error(err))
		return false
	}
	return true
}

func (c *Client) readPump(conn *websocket.Conn, ctx context.Context) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		c.dispatch(conn, data)
	}
}

// handleClose runs when the read pump exits. Stale connections (already
// replaced or torn down) are ignored so teardown paths never double up.
func (c *Client) handleClose(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.readCancel != nil {
		c.readCancel()
		c.readCancel = nil
	}
	wasConnected := c.phase == PhaseConnected
	c.phase = PhaseDisconnected
	c.stopHeartbeatLocked()
	c.rtt = 0
	manual := c.manual
	ack := c.ackCh
	c.ackCh = nil
	c.mu.Unlock()

	conn.Close(websocket.StatusNormalClosure, "")

	if ack != nil {
		ack <- fmt.Errorf("connection closed: %w", cause)
		return
	}
	if !wasConnected {
		return
	}
	if !manual {
		c.log.Warn("connection lost", zap.Error(cause))
		c.bus.emit(Event{Kind: EventError, Err: cause})
	}
	c.bus.emit(Event{Kind: EventDisconnected})
	if !manual && c.cfg.Reconnect {
		c.scheduleReconnect()
	}
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.manual || c.reconnectTimer != nil {
		c.mu.Unlock()
		return
	}
	c.attempts++
	attempt := c.attempts
	if c.cfg.ReconnectAttempts >= 0 && attempt > c.cfg.ReconnectAttempts {
		c.mu.Unlock()
		c.log.Error("reconnect attempts exhausted", zap.Int("attempts", attempt-1))
		c.bus.emit(Event{Kind: EventReconnectFailed, Err: errors.New("reconnect attempts exhausted")})
		return
	}
	delay := backoffDelay(c.cfg.ReconnectDelay, c.cfg.MaxReconnectDelay, attempt)
	id := c.identity
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		c.mu.Unlock()
		// A failed attempt schedules the next one itself.
		_ = c.Connect(context.Background(), id)
	})
	c.mu.Unlock()

	c.log.Info("reconnecting", zap.Int("attempt", attempt), zap.Duration("delay", delay))
	c.bus.emit(Event{Kind: EventReconnecting, Attempt: attempt, Delay: delay})
}

// backoffDelay is min(base * 2^(attempt-1), max).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func (c *Client) heartbeat(conn *websocket.Conn, stop chan struct{}) {
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			c.sendPing(conn)
		}
	}
}

func (c *Client) sendPing(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn || c.phase != PhaseConnected {
		c.mu.Unlock()
		return
	}
	c.pingSeq++
	seq := c.pingSeq
	now := time.Now()
	c.pingSentAt = now
	c.pingOutstanding = true
	if c.pongTimer != nil {
		c.pongTimer.Stop()
	}
	c.pongTimer = time.AfterFunc(c.cfg.PongTimeout, func() { c.onPongTimeout(conn, seq) })
	c.mu.Unlock()

	c.write(conn, protocol.NewPing(seq, now.UnixMilli()))
}

func (c *Client) onPongTimeout(conn *websocket.Conn, seq uint64) {
	c.mu.Lock()
	if c.conn != conn || !c.pingOutstanding || c.pingSeq != seq {
		c.mu.Unlock()
		return
	}
	c.pingOutstanding = false
	forceClose := c.cfg.Reconnect && !c.manual
	c.mu.Unlock()

	c.log.Warn("pong timeout", zap.Uint64("sequence", seq))
	c.bus.emit(Event{Kind: EventTimeout})
	if forceClose {
		// The read pump observes the close and drives the reconnect path.
		conn.Close(websocket.StatusPolicyViolation, "heartbeat timeout")
	}
}

func (c *Client) stopHeartbeatLocked() {
	if c.hbStop != nil {
		close(c.hbStop)
		c.hbStop = nil
	}
	if c.pongTimer != nil {
		c.pongTimer.Stop()
		c.pongTimer = nil
	}
	c.pingOutstanding = false
}

// dispatch routes one inbound message. The generic message event fires
// first; specific handling still runs afterwards so subscribers can pick
// either granularity.
func (c *Client) dispatch(conn *websocket.Conn, data []byte) {
	m, err := protocol.Decode(data)
	if err != nil {
		c.log.Debug("dropping undecodable frame", zap.Error(err))
		return
	}

	c.bus.emit(Event{Kind: EventMessage, Msg: m})

	switch msg := m.(type) {
	case *protocol.Pong:
		c.handlePong(conn, msg)

	case *protocol.Ping:
		// Act as heartbeat responder for server-originated pings.
		c.write(conn, protocol.NewPong(msg.Sequence, msg.Timestamp))

	case *protocol.ConnectSuccess:
		c.mu.Lock()
		ack := c.ackCh
		c.ackCh = nil
		c.mu.Unlock()
		if ack != nil {
			ack <- nil
		}

	case *protocol.Error:
		serverErr := &ServerError{Text: msg.Text}
		c.mu.Lock()
		ack := c.ackCh
		c.ackCh = nil
		c.mu.Unlock()
		if ack != nil {
			ack <- serverErr
		}
		c.bus.emit(Event{Kind: EventError, Msg: msg, Err: serverErr})

	case *protocol.RoomList:
		c.mu.Lock()
		c.rooms = msg.Rooms // replace, never merge
		c.mu.Unlock()
		c.bus.emit(Event{Kind: EventRoomList, Msg: msg})

	case *protocol.UserList:
		c.mu.Lock()
		c.users = msg.Users
		c.mu.Unlock()
		c.bus.emit(Event{Kind: EventUserList, Msg: msg})

	case *protocol.UserJoined:
		c.mu.Lock()
		c.patchUserLocked(protocol.User{ID: msg.ID, Username: msg.Username})
		c.mu.Unlock()
		c.bus.emit(Event{Kind: EventUserJoined, Msg: msg})

	case *protocol.UserLeft:
		c.mu.Lock()
		c.removeUserLocked(msg.ID)
		c.mu.Unlock()
		c.bus.emit(Event{Kind: EventUserLeft, Msg: msg})

	default:
		c.bus.emit(Event{Kind: EventKind(m.MessageKind()), Msg: m})
	}
}

func (c *Client) handlePong(conn *websocket.Conn, msg *protocol.Pong) {
	c.mu.Lock()
	if c.conn != conn || !c.pingOutstanding || msg.Sequence != c.pingSeq {
		c.mu.Unlock()
		return
	}
	c.pingOutstanding = false
	if c.pongTimer != nil {
		c.pongTimer.Stop()
		c.pongTimer = nil
	}
	c.rtt = time.Since(c.pingSentAt)
	rtt := c.rtt
	c.mu.Unlock()

	c.bus.emit(Event{Kind: EventRTT, Msg: msg, RTT: rtt})
}

func (c *Client) patchUserLocked(u protocol.User) {
	for i := range c.users {
		if c.users[i].ID == u.ID {
			c.users[i] = u
			return
		}
	}
	c.users = append(c.users, u)
}

func (c *Client) removeUserLocked(id string) {
	for i := range c.users {
		if c.users[i].ID == id {
			c.users = append(c.users[:i], c.users[i+1:]...)
			return
		}
	}
}
