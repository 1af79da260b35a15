package ws

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"stackrush/internal/protocol"
	"stackrush/internal/relay"
)

const (
	handshakeTimeout = 5 * time.Second
	writeTimeout     = 3 * time.Second

	// Inbound frame budget per connection; sync updates are the
	// chattiest traffic at one per board change.
	frameRate  = 30
	frameBurst = 60
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{2,64}$`)

// Handler upgrades the connection, performs the connect handshake and
// then services the session protocol until the peer goes away.
func Handler(reg *relay.Registry, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		s := &sessionConn{
			conn: conn,
			reg:  reg,
			log:  log,
		}
		s.run(r.Context())
	}
}

type sessionConn struct {
	conn *websocket.Conn
	reg  *relay.Registry
	log  *zap.Logger

	client *relay.Client
	room   *relay.Room
}

func (s *sessionConn) run(ctx context.Context) {
	if !s.handshake(ctx) {
		return
	}

	writeCtx, writeCancel := context.WithCancel(ctx)
	defer writeCancel()
	go s.writePump(writeCtx)

	defer func() {
		if s.room != nil {
			s.room.Inbox() <- relay.Leave{ClientID: s.client.ID}
		}
	}()

	limiter := rate.NewLimiter(rate.Limit(frameRate), frameBurst)

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return
		}
		if !limiter.Allow() {
			s.log.Warn("rate limit exceeded, dropping frame", zap.String("clientId", s.client.ID))
			continue
		}

		m, err := protocol.Decode(data)
		if err != nil {
			s.send(ctx, protocol.NewError("bad message"))
			continue
		}
		s.handle(ctx, m, data)
	}
}

// handshake waits for the client's connect message and acks it.
func (s *sessionConn) handshake(ctx context.Context) bool {
	hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	_, data, err := s.conn.Read(hsCtx)
	if err != nil {
		return false
	}
	m, err := protocol.Decode(data)
	if err != nil {
		s.send(ctx, protocol.NewError("bad message"))
		return false
	}
	hello, ok := m.(*protocol.Connect)
	if !ok {
		s.send(ctx, protocol.NewError("expected connect"))
		return false
	}

	id := hello.ClientID
	if id == "" {
		id = uuid.NewString()
	}
	username := hello.Username
	if username == "" {
		username = "player-" + id[:min(6, len(id))]
	}
	s.client = &relay.Client{ID: id, Username: username, Outbox: make(chan []byte, 32)}

	if !s.send(ctx, protocol.NewConnectSuccess()) {
		return false
	}
	s.send(ctx, protocol.NewRoomList(s.reg.List()))
	s.log.Info("client connected", zap.String("clientId", id), zap.String("username", username))
	return true
}

func (s *sessionConn) handle(ctx context.Context, m protocol.Message, raw []byte) {
	switch msg := m.(type) {
	case *protocol.Ping:
		s.send(ctx, protocol.NewPong(msg.Sequence, msg.Timestamp))

	case *protocol.Pong:
		// Client answered one of ours; nothing to track server-side.

	case *protocol.JoinRoom:
		if msg.RoomName == "" {
			s.send(ctx, protocol.NewError("missing room name"))
			return
		}
		if s.room != nil {
			s.room.Inbox() <- relay.Leave{ClientID: s.client.ID}
			s.room = nil
		}
		room := s.reg.Ensure(msg.RoomName)
		reply := make(chan error, 1)
		room.Inbox() <- relay.Join{Client: s.client, Reply: reply}
		if err := <-reply; err != nil {
			s.send(ctx, protocol.NewError(err.Error()))
			return
		}
		s.room = room
		// joinSuccess and the user list come from the room itself.

	case *protocol.LeaveRoom:
		if s.room != nil {
			s.room.Inbox() <- relay.Leave{ClientID: s.client.ID}
			s.room = nil
			s.send(ctx, protocol.NewRoomList(s.reg.List()))
		}

	case *protocol.ChangeUsername:
		if !usernamePattern.MatchString(msg.Username) {
			s.send(ctx, protocol.NewError("invalid username"))
			return
		}
		old := s.client.Username
		s.client.Username = msg.Username
		s.send(ctx, protocol.NewUsernameChangeSuccess(old, msg.Username, msg.Username))
		if s.room != nil {
			s.room.Inbox() <- relay.Rename{ClientID: s.client.ID, Username: msg.Username}
		}

	case *protocol.Connect:
		s.send(ctx, protocol.NewError("already connected"))

	default:
		// Chat, sync updates and game extension types relay verbatim to
		// the rest of the room.
		if s.room == nil {
			s.send(ctx, protocol.NewError("not in a room"))
			return
		}
		s.room.Inbox() <- relay.Frame{FromID: s.client.ID, Data: raw}
	}
}

func (s *sessionConn) send(ctx context.Context, m protocol.Message) bool {
	data, err := protocol.Encode(m)
	if err != nil {
		s.log.Error("encode reply", zap.Error(err))
		return false
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return s.conn.Write(wctx, websocket.MessageText, data) == nil
}

func (s *sessionConn) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-s.client.Outbox:
			if !ok {
				s.conn.Close(websocket.StatusPolicyViolation, "too slow")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := s.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
