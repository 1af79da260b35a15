package netclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestEmitterFanout(t *testing.T) {
	e := newEmitter(zap.NewNop())

	var got []int
	e.on(EventConnected, func(Event) { got = append(got, 1) })
	e.on(EventConnected, func(Event) { got = append(got, 2) })
	e.on(EventDisconnected, func(Event) { got = append(got, 3) })

	e.emit(Event{Kind: EventConnected})
	assert.ElementsMatch(t, []int{1, 2}, got)
}

func TestEmitterUnsubscribe(t *testing.T) {
	e := newEmitter(zap.NewNop())

	calls := 0
	off := e.on(EventMessage, func(Event) { calls++ })

	e.emit(Event{Kind: EventMessage})
	off()
	e.emit(Event{Kind: EventMessage})
	// Double unsubscribe is a no-op.
	off()
	e.emit(Event{Kind: EventMessage})

	assert.Equal(t, 1, calls)
}

func TestEmitterHandlerPanicIsolated(t *testing.T) {
	e := newEmitter(zap.NewNop())

	survived := false
	e.on(EventError, func(Event) { panic("boom") })
	e.on(EventError, func(Event) { survived = true })

	assert.NotPanics(t, func() { e.emit(Event{Kind: EventError}) })
	assert.True(t, survived, "second handler must still run after the first panics")
}

func TestEmitterLiteralKindSubscription(t *testing.T) {
	e := newEmitter(zap.NewNop())

	calls := 0
	e.on(EventKind("attack"), func(Event) { calls++ })
	e.emit(Event{Kind: EventKind("attack")})
	e.emit(Event{Kind: EventKind("knockout")})

	assert.Equal(t, 1, calls)
}
