package relay

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"stackrush/internal/protocol"
)

type RegistryMsg interface{ isRegistryMsg() }

// EnsureRoom replies with the named room, creating it if needed.
type EnsureRoom struct {
	Name  string
	Reply chan *Room
}

func (EnsureRoom) isRegistryMsg() {}

type GetRoom struct {
	Name  string
	Reply chan *Room
}

func (GetRoom) isRegistryMsg() {}

type RemoveRoom struct{ Name string }

func (RemoveRoom) isRegistryMsg() {}

type ListRooms struct{ Reply chan []protocol.RoomSummary }

func (ListRooms) isRegistryMsg() {}

type updateSummary struct{ summary protocol.RoomSummary }

func (updateSummary) isRegistryMsg() {}

type ShutdownRegistry struct{}

func (ShutdownRegistry) isRegistryMsg() {}

// Registry owns the name->room map and the room summaries served to
// clients and the HTTP listing.
type Registry struct {
	inbox     chan RegistryMsg
	rooms     map[string]*Room
	summaries map[string]protocol.RoomSummary
	ctx       context.Context
	cancel    context.CancelFunc
	log       *zap.Logger
}

func NewRegistry(parent context.Context, log *zap.Logger) *Registry {
	ctx, cancel := context.WithCancel(parent)
	reg := &Registry{
		inbox:     make(chan RegistryMsg, 64),
		rooms:     make(map[string]*Room),
		summaries: make(map[string]protocol.RoomSummary),
		ctx:       ctx,
		cancel:    cancel,
		log:       log,
	}
	go reg.loop()
	return reg
}

func (reg *Registry) Inbox() chan<- RegistryMsg { return reg.inbox }

// Ensure is the channel round trip packaged for handler code.
func (reg *Registry) Ensure(name string) *Room {
	reply := make(chan *Room, 1)
	reg.inbox <- EnsureRoom{Name: name, Reply: reply}
	return <-reply
}

// List returns current room summaries sorted by name.
func (reg *Registry) List() []protocol.RoomSummary {
	reply := make(chan []protocol.RoomSummary, 1)
	reg.inbox <- ListRooms{Reply: reply}
	return <-reply
}

func (reg *Registry) loop() {
	for {
		select {
		case <-reg.ctx.Done():
			reg.shutdown()
			return

		case m := <-reg.inbox:
			switch msg := m.(type) {
			case EnsureRoom:
				room := reg.rooms[msg.Name]
				if room == nil {
					room = reg.createRoom(msg.Name)
				}
				msg.Reply <- room

			case GetRoom:
				msg.Reply <- reg.rooms[msg.Name]

			case RemoveRoom:
				if room := reg.rooms[msg.Name]; room != nil {
					room.Inbox() <- Shutdown{}
					delete(reg.rooms, msg.Name)
					delete(reg.summaries, msg.Name)
					reg.log.Info("room removed", zap.String("room", msg.Name))
				}

			case updateSummary:
				reg.summaries[msg.summary.Name] = msg.summary

			case ListRooms:
				out := make([]protocol.RoomSummary, 0, len(reg.summaries))
				for _, s := range reg.summaries {
					out = append(out, s)
				}
				sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
				msg.Reply <- out

			case ShutdownRegistry:
				reg.shutdown()
				return
			}
		}
	}
}

func (reg *Registry) createRoom(name string) *Room {
	room := NewRoom(reg.ctx, name, DefaultMaxPlayers, reg.log,
		func(s protocol.RoomSummary) {
			// Rooms report from their own goroutine; never block them.
			select {
			case reg.inbox <- updateSummary{summary: s}:
			default:
			}
		},
		func(roomName string) {
			select {
			case reg.inbox <- RemoveRoom{Name: roomName}:
			default:
			}
		},
	)
	reg.rooms[name] = room
	reg.summaries[name] = protocol.RoomSummary{Name: name, PlayerCount: 0, MaxPlayers: DefaultMaxPlayers}
	reg.log.Info("room created", zap.String("room", name))
	return room
}

func (reg *Registry) shutdown() {
	for name, room := range reg.rooms {
		room.Inbox() <- Shutdown{}
		delete(reg.rooms, name)
	}
	clear(reg.summaries)
	reg.cancel()
}
