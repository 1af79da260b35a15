// Package session layers room membership and identity negotiation on top
// of the connection client. Every request/response exchange goes through
// one pending-request table keyed by the reply kind it expects, so a
// reply, a server error, or the deadline sweep resolves each request
// exactly once.
package session

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"stackrush/internal/netclient"
	"stackrush/internal/protocol"
)

var (
	ErrNotConnected    = errors.New("not connected")
	ErrRequestTimeout  = errors.New("no reply from server")
	ErrRequestInFlight = errors.New("request of this kind already in flight")
	ErrInvalidUsername = errors.New("username must be 2-64 characters of letters, digits, _ or -")
	ErrClosed          = errors.New("session coordinator closed")
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{2,64}$`)

// EventLeftRoom is published on the client bus after a leaveRoom; there
// is no wire reply to wait for.
const EventLeftRoom netclient.EventKind = "leftRoom"

// Conn is the slice of the connection client the coordinator uses.
// *netclient.Client satisfies it; tests substitute a mock.
type Conn interface {
	Connected() bool
	Identity() netclient.Identity
	Send(m protocol.Message) bool
	On(kind netclient.EventKind, h netclient.Handler) func()
	Publish(ev netclient.Event)
}

// UsernameChange reports the outcome of a successful rename.
type UsernameChange struct {
	Old     string
	New     string
	Display string
}

type Config struct {
	RequestTimeout time.Duration // default 5s
	SweepInterval  time.Duration // default 1s
	Logger         *zap.Logger
}

type outcome struct {
	msg protocol.Message
	err error
}

type pendingRequest struct {
	ch       chan outcome
	deadline time.Time
}

type Coordinator struct {
	conn    Conn
	log     *zap.Logger
	timeout time.Duration

	mu       sync.Mutex
	room     string
	username string
	pending  map[protocol.Kind]*pendingRequest

	unsubs    []func()
	stop      chan struct{}
	closeOnce sync.Once
}

func New(conn Conn, cfg Config) *Coordinator {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Coordinator{
		conn:     conn,
		log:      cfg.Logger,
		timeout:  cfg.RequestTimeout,
		username: conn.Identity().Username,
		pending:  make(map[protocol.Kind]*pendingRequest),
		stop:     make(chan struct{}),
	}

	s.unsubs = append(s.unsubs,
		conn.On(netclient.EventKind(protocol.KindJoinSuccess), func(ev netclient.Event) {
			s.resolve(protocol.KindJoinSuccess, ev.Msg)
		}),
		conn.On(netclient.EventKind(protocol.KindUsernameChangeSuccess), func(ev netclient.Event) {
			s.resolve(protocol.KindUsernameChangeSuccess, ev.Msg)
		}),
		// A server error rejects whatever is in flight; the suite runs
		// one session request at a time.
		conn.On(netclient.EventError, func(ev netclient.Event) {
			s.rejectAll(ev.Err)
		}),
		conn.On(netclient.EventDisconnected, func(netclient.Event) {
			s.rejectAll(ErrNotConnected)
			s.mu.Lock()
			s.room = ""
			s.mu.Unlock()
		}),
	)

	go s.sweep(cfg.SweepInterval)
	return s
}

// Close detaches the coordinator from the client bus and fails any
// requests still waiting.
func (s *Coordinator) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		for _, unsub := range s.unsubs {
			unsub()
		}
		s.rejectAll(ErrClosed)
	})
}

// Room is the current room name, empty outside a room.
func (s *Coordinator) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

func (s *Coordinator) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// JoinRoom requests membership in the named room and waits for the
// server's verdict. It fails immediately, without a send, when the
// client is not connected.
func (s *Coordinator) JoinRoom(ctx context.Context, roomName string) (string, error) {
	if !s.conn.Connected() {
		return "", ErrNotConnected
	}

	ch, cancel, err := s.register(protocol.KindJoinSuccess)
	if err != nil {
		return "", err
	}

	id := s.conn.Identity()
	if !s.conn.Send(protocol.NewJoinRoom(roomName, id.ClientID, s.Username())) {
		cancel()
		return "", ErrNotConnected
	}

	select {
	case out := <-ch:
		if out.err != nil {
			return "", out.err
		}
		joined := roomName
		if reply, ok := out.msg.(*protocol.JoinSuccess); ok && reply.RoomName != "" {
			joined = reply.RoomName
		}
		s.mu.Lock()
		s.room = joined
		s.mu.Unlock()
		s.log.Info("joined room", zap.String("room", joined))
		return joined, nil
	case <-ctx.Done():
		cancel()
		return "", ctx.Err()
	}
}

// LeaveRoom is a no-op outside a room. There is no reply to wait for:
// membership and room-scoped caches are cleared locally and a leftRoom
// event is published.
func (s *Coordinator) LeaveRoom() {
	s.mu.Lock()
	room := s.room
	s.room = ""
	s.mu.Unlock()
	if room == "" {
		return
	}

	id := s.conn.Identity()
	s.conn.Send(protocol.NewLeaveRoom(id.ClientID, s.Username()))
	s.conn.Publish(netclient.Event{Kind: EventLeftRoom})
	s.log.Info("left room", zap.String("room", room))
}

// SetUsername validates locally first, so malformed names fail without a
// round trip, then negotiates the rename with the server.
func (s *Coordinator) SetUsername(ctx context.Context, name string) (UsernameChange, error) {
	if !usernamePattern.MatchString(name) {
		return UsernameChange{}, ErrInvalidUsername
	}
	if !s.conn.Connected() {
		return UsernameChange{}, ErrNotConnected
	}

	ch, cancel, err := s.register(protocol.KindUsernameChangeSuccess)
	if err != nil {
		return UsernameChange{}, err
	}

	if !s.conn.Send(protocol.NewChangeUsername(name)) {
		cancel()
		return UsernameChange{}, ErrNotConnected
	}

	select {
	case out := <-ch:
		if out.err != nil {
			return UsernameChange{}, out.err
		}
		change := UsernameChange{New: name, Display: name}
		if reply, ok := out.msg.(*protocol.UsernameChangeSuccess); ok {
			change = UsernameChange{
				Old:     reply.OldUsername,
				New:     reply.NewUsername,
				Display: reply.DisplayName,
			}
		}
		s.mu.Lock()
		s.username = change.New
		s.mu.Unlock()
		return change, nil
	case <-ctx.Done():
		cancel()
		return UsernameChange{}, ctx.Err()
	}
}

// register claims the pending slot for a reply kind. The returned cancel
// releases the slot if the caller gives up first.
func (s *Coordinator) register(kind protocol.Kind) (chan outcome, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pending[kind]; exists {
		return nil, nil, ErrRequestInFlight
	}
	p := &pendingRequest{
		ch:       make(chan outcome, 1),
		deadline: time.Now().Add(s.timeout),
	}
	s.pending[kind] = p

	cancel := func() {
		s.mu.Lock()
		if s.pending[kind] == p {
			delete(s.pending, kind)
		}
		s.mu.Unlock()
	}
	return p.ch, cancel, nil
}

// resolve completes the pending request for kind, if any. Removing the
// entry under the lock before delivering makes double resolution
// impossible.
func (s *Coordinator) resolve(kind protocol.Kind, msg protocol.Message) {
	s.mu.Lock()
	p, ok := s.pending[kind]
	if ok {
		delete(s.pending, kind)
	}
	s.mu.Unlock()
	if ok {
		p.ch <- outcome{msg: msg}
	}
}

func (s *Coordinator) rejectAll(err error) {
	if err == nil {
		err = errors.New("request failed")
	}
	s.mu.Lock()
	rejected := make([]*pendingRequest, 0, len(s.pending))
	for kind, p := range s.pending {
		delete(s.pending, kind)
		rejected = append(rejected, p)
	}
	s.mu.Unlock()
	for _, p := range rejected {
		p.ch <- outcome{err: err}
	}
}

// sweep expires pending requests whose deadline passed. One ticker
// services the whole table.
func (s *Coordinator) sweep(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-t.C:
			var expired []*pendingRequest
			s.mu.Lock()
			for kind, p := range s.pending {
				if now.After(p.deadline) {
					delete(s.pending, kind)
					expired = append(expired, p)
				}
			}
			s.mu.Unlock()
			for _, p := range expired {
				p.ch <- outcome{err: ErrRequestTimeout}
			}
		}
	}
}
