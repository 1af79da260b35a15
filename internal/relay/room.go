// Package relay implements the development relay server the game client
// talks to: a registry of rooms, each room an actor owning its member
// list and forwarding game traffic between members.
package relay

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"stackrush/internal/protocol"
)

var ErrRoomFull = errors.New("room is full")

// DefaultMaxPlayers matches the four-board free-for-all limit. -1 means
// unlimited.
const DefaultMaxPlayers = 4

// Client is one connected member as the room sees it. Outbox carries
// pre-encoded frames; the connection's writer goroutine drains it.
type Client struct {
	ID       string
	Username string
	Outbox   chan []byte
}

type RoomMsg interface{ isRoomMsg() }

type Join struct {
	Client *Client
	Reply  chan error
}

func (Join) isRoomMsg() {}

type Leave struct{ ClientID string }

func (Leave) isRoomMsg() {}

type Rename struct {
	ClientID string
	Username string
}

func (Rename) isRoomMsg() {}

// Frame relays one raw wire frame from a member to every other member.
// Chat, sync updates and game extension messages all travel this way.
type Frame struct {
	FromID string
	Data   []byte
}

func (Frame) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

type Room struct {
	name       string
	maxPlayers int
	inbox      chan RoomMsg
	clients    map[string]*Client
	hostID     string
	ctx        context.Context
	cancel     context.CancelFunc
	log        *zap.Logger

	// onChange reports membership counts to the registry; onEmpty asks
	// it to reap the room.
	onChange func(summary protocol.RoomSummary)
	onEmpty  func(name string)
}

func NewRoom(parent context.Context, name string, maxPlayers int, log *zap.Logger,
	onChange func(protocol.RoomSummary), onEmpty func(string)) *Room {
	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		name:       name,
		maxPlayers: maxPlayers,
		inbox:      make(chan RoomMsg, 64),
		clients:    make(map[string]*Client),
		ctx:        ctx,
		cancel:     cancel,
		log:        log.With(zap.String("room", name)),
		onChange:   onChange,
		onEmpty:    onEmpty,
	}
	go r.loop()
	return r
}

func (r *Room) Inbox() chan<- RoomMsg { return r.inbox }

func (r *Room) Name() string { return r.name }

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				msg.Reply <- r.handleJoin(msg.Client)

			case Leave:
				r.handleLeave(msg.ClientID)

			case Rename:
				if c := r.clients[msg.ClientID]; c != nil {
					old := c.Username
					c.Username = msg.Username
					r.broadcast(protocol.NewSystem(old+" is now "+msg.Username), "")
				}

			case Frame:
				r.relay(msg.FromID, msg.Data)

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) handleJoin(c *Client) error {
	if r.maxPlayers >= 0 && len(r.clients) >= r.maxPlayers {
		return ErrRoomFull
	}
	r.clients[c.ID] = c
	if r.hostID == "" {
		r.hostID = c.ID
	}

	r.send(c, protocol.NewJoinSuccess(r.name))
	r.send(c, protocol.NewUserList(r.userList()))
	r.broadcast(protocol.NewUserJoined(c.ID, c.Username), c.ID)

	r.log.Info("client joined", zap.String("clientId", c.ID), zap.Int("players", len(r.clients)))
	r.reportChange()
	return nil
}

func (r *Room) handleLeave(clientID string) {
	if _, ok := r.clients[clientID]; !ok {
		return
	}
	delete(r.clients, clientID)
	r.broadcast(protocol.NewUserLeft(clientID), "")

	if clientID == r.hostID {
		r.hostID = ""
		r.broadcast(protocol.NewHostLeft(), "")
		// First remaining member inherits the room.
		for id := range r.clients {
			r.hostID = id
			break
		}
	}

	r.log.Info("client left", zap.String("clientId", clientID), zap.Int("players", len(r.clients)))
	r.reportChange()
	if len(r.clients) == 0 && r.onEmpty != nil {
		r.onEmpty(r.name)
	}
}

func (r *Room) relay(fromID string, data []byte) {
	for id, c := range r.clients {
		if id == fromID {
			continue
		}
		r.deliver(c, data)
	}
}

func (r *Room) broadcast(m protocol.Message, exceptID string) {
	data, err := protocol.Encode(m)
	if err != nil {
		r.log.Error("encode broadcast", zap.Error(err))
		return
	}
	for id, c := range r.clients {
		if id == exceptID {
			continue
		}
		r.deliver(c, data)
	}
}

func (r *Room) send(c *Client, m protocol.Message) {
	data, err := protocol.Encode(m)
	if err != nil {
		r.log.Error("encode message", zap.Error(err))
		return
	}
	r.deliver(c, data)
}

// deliver drops slow clients rather than blocking the room.
func (r *Room) deliver(c *Client, data []byte) {
	select {
	case c.Outbox <- data:
	default:
		r.log.Warn("dropping slow client", zap.String("clientId", c.ID))
		close(c.Outbox)
		delete(r.clients, c.ID)
	}
}

func (r *Room) userList() []protocol.User {
	users := make([]protocol.User, 0, len(r.clients))
	for _, c := range r.clients {
		users = append(users, protocol.User{ID: c.ID, Username: c.Username})
	}
	return users
}

func (r *Room) reportChange() {
	if r.onChange != nil {
		r.onChange(protocol.RoomSummary{
			Name:        r.name,
			PlayerCount: len(r.clients),
			MaxPlayers:  r.maxPlayers,
		})
	}
}

func (r *Room) shutdown() {
	for id, c := range r.clients {
		close(c.Outbox)
		delete(r.clients, id)
	}
	r.cancel()
}
