package netclient

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"stackrush/internal/protocol"
)

// EventKind names a client event. The constants below cover the built-in
// lifecycle events; inbound messages the client has no specific handling
// for are re-emitted under their literal wire type, so any string is a
// valid subscription key.
type EventKind string

const (
	EventConnected       EventKind = "connected"
	EventDisconnected    EventKind = "disconnected"
	EventError           EventKind = "error"
	EventMessage         EventKind = "message"
	EventRTT             EventKind = "rtt"
	EventTimeout         EventKind = "timeout"
	EventReconnecting    EventKind = "reconnecting"
	EventReconnectFailed EventKind = "reconnectFailed"
	EventRoomList        EventKind = "roomList"
	EventUserList        EventKind = "userList"
	EventUserJoined      EventKind = "userJoined"
	EventUserLeft        EventKind = "userLeft"
)

// Event is the payload delivered to subscribers. Fields are populated
// according to Kind; unused fields are zero.
type Event struct {
	Kind    EventKind
	Msg     protocol.Message // inbound message, when one triggered the event
	Err     error            // error and reconnectFailed events
	RTT     time.Duration    // rtt events
	Attempt int              // reconnecting events
	Delay   time.Duration    // reconnecting events
}

type Handler func(Event)

type emitter struct {
	log *zap.Logger

	mu       sync.Mutex
	nextID   int
	handlers map[EventKind]map[int]Handler
}

func newEmitter(log *zap.Logger) *emitter {
	return &emitter{log: log, handlers: make(map[EventKind]map[int]Handler)}
}

// on registers a handler and returns its unsubscribe func. Unsubscribing
// twice is harmless.
func (e *emitter) on(kind EventKind, h Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	if e.handlers[kind] == nil {
		e.handlers[kind] = make(map[int]Handler)
	}
	e.handlers[kind][id] = h

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.handlers[kind], id)
	}
}

// emit fans the event out to every handler registered for its kind. A
// panicking handler is logged and must not take the others down with it.
func (e *emitter) emit(ev Event) {
	e.mu.Lock()
	snapshot := make([]Handler, 0, len(e.handlers[ev.Kind]))
	for _, h := range e.handlers[ev.Kind] {
		snapshot = append(snapshot, h)
	}
	e.mu.Unlock()

	for _, h := range snapshot {
		e.call(ev, h)
	}
}

func (e *emitter) call(ev Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("event handler panicked",
				zap.String("event", string(ev.Kind)),
				zap.Any("panic", r),
			)
		}
	}()
	h(ev)
}
