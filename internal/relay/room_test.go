package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stackrush/internal/protocol"
)

func newTestRoom(t *testing.T, maxPlayers int) *Room {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewRoom(ctx, "quad-1", maxPlayers, zap.NewNop(), nil, nil)
}

func newTestClient(id, username string) *Client {
	return &Client{ID: id, Username: username, Outbox: make(chan []byte, 16)}
}

func join(t *testing.T, r *Room, c *Client) error {
	t.Helper()
	reply := make(chan error, 1)
	r.Inbox() <- Join{Client: c, Reply: reply}
	select {
	case err := <-reply:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("join did not resolve")
		return nil
	}
}

func recv(t *testing.T, c *Client) protocol.Message {
	t.Helper()
	select {
	case data, ok := <-c.Outbox:
		require.True(t, ok, "outbox closed")
		m, err := protocol.Decode(data)
		require.NoError(t, err)
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message on outbox")
		return nil
	}
}

func recvRaw(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case data, ok := <-c.Outbox:
		require.True(t, ok, "outbox closed")
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("no frame on outbox")
		return nil
	}
}

func assertNoMsg(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Outbox:
		t.Fatalf("unexpected frame: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestJoinDeliversSuccessAndRoster(t *testing.T) {
	r := newTestRoom(t, DefaultMaxPlayers)
	a := newTestClient("a", "ada")
	b := newTestClient("b", "bea")

	require.NoError(t, join(t, r, a))

	m := recv(t, a)
	success, ok := m.(*protocol.JoinSuccess)
	require.True(t, ok, "expected joinSuccess, got %T", m)
	assert.Equal(t, "quad-1", success.RoomName)

	m = recv(t, a)
	roster, ok := m.(*protocol.UserList)
	require.True(t, ok, "expected userList, got %T", m)
	assert.Equal(t, []protocol.User{{ID: "a", Username: "ada"}}, roster.Users)

	require.NoError(t, join(t, r, b))

	recv(t, b) // joinSuccess
	m = recv(t, b)
	roster, ok = m.(*protocol.UserList)
	require.True(t, ok)
	assert.Len(t, roster.Users, 2)

	m = recv(t, a)
	joined, ok := m.(*protocol.UserJoined)
	require.True(t, ok, "expected userJoined, got %T", m)
	assert.Equal(t, "b", joined.ID)
	assert.Equal(t, "bea", joined.Username)
}

func TestJoinFullRoom(t *testing.T) {
	r := newTestRoom(t, 1)
	a := newTestClient("a", "ada")
	b := newTestClient("b", "bea")

	require.NoError(t, join(t, r, a))
	assert.ErrorIs(t, join(t, r, b), ErrRoomFull)

	recv(t, a) // joinSuccess
	recv(t, a) // userList
	assertNoMsg(t, a)
	assertNoMsg(t, b)
}

func TestRelaySkipsSender(t *testing.T) {
	r := newTestRoom(t, DefaultMaxPlayers)
	a := newTestClient("a", "ada")
	b := newTestClient("b", "bea")
	c := newTestClient("c", "cal")

	require.NoError(t, join(t, r, a))
	require.NoError(t, join(t, r, b))
	require.NoError(t, join(t, r, c))
	for _, cl := range []*Client{a, b, c} {
		for len(cl.Outbox) > 0 {
			<-cl.Outbox
		}
	}

	frame := []byte(`{"type":"attack","from":1,"to":2,"lines":4}`)
	r.Inbox() <- Frame{FromID: "a", Data: frame}

	assert.Equal(t, frame, recvRaw(t, b), "frames relay verbatim")
	assert.Equal(t, frame, recvRaw(t, c))
	assertNoMsg(t, a)
}

func TestLeaveBroadcastsAndPromotesHost(t *testing.T) {
	empty := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r := NewRoom(ctx, "quad-1", DefaultMaxPlayers, zap.NewNop(), nil,
		func(name string) { empty <- name })

	a := newTestClient("a", "ada")
	b := newTestClient("b", "bea")
	require.NoError(t, join(t, r, a))
	require.NoError(t, join(t, r, b))
	for len(a.Outbox) > 0 {
		<-a.Outbox
	}
	for len(b.Outbox) > 0 {
		<-b.Outbox
	}

	// The first joiner is the host; their departure announces both events.
	r.Inbox() <- Leave{ClientID: "a"}

	m := recv(t, b)
	left, ok := m.(*protocol.UserLeft)
	require.True(t, ok, "expected userLeft, got %T", m)
	assert.Equal(t, "a", left.ID)

	m = recv(t, b)
	_, ok = m.(*protocol.HostLeft)
	require.True(t, ok, "expected hostLeft, got %T", m)

	// Last member out triggers the reap callback.
	r.Inbox() <- Leave{ClientID: "b"}
	select {
	case name := <-empty:
		assert.Equal(t, "quad-1", name)
	case <-time.After(2 * time.Second):
		t.Fatal("empty room was never reported")
	}
}

func TestRenameBroadcastsSystemNotice(t *testing.T) {
	r := newTestRoom(t, DefaultMaxPlayers)
	a := newTestClient("a", "ada")
	b := newTestClient("b", "bea")
	require.NoError(t, join(t, r, a))
	require.NoError(t, join(t, r, b))
	for len(a.Outbox) > 0 {
		<-a.Outbox
	}
	for len(b.Outbox) > 0 {
		<-b.Outbox
	}

	r.Inbox() <- Rename{ClientID: "a", Username: "ada_l"}

	m := recv(t, b)
	note, ok := m.(*protocol.System)
	require.True(t, ok, "expected system, got %T", m)
	assert.Equal(t, "ada is now ada_l", note.Text)
}

func TestSlowClientDropped(t *testing.T) {
	r := newTestRoom(t, DefaultMaxPlayers)

	// Room for one frame only; the join's second message overflows it.
	slow := &Client{ID: "s", Username: "slow", Outbox: make(chan []byte, 1)}
	require.NoError(t, join(t, r, slow))

	recv(t, slow) // joinSuccess landed
	_, ok := <-slow.Outbox
	assert.False(t, ok, "overflowing outbox gets closed")

	// The dropped client is gone from the roster the next joiner sees.
	b := newTestClient("b", "bea")
	require.NoError(t, join(t, r, b))
	recv(t, b) // joinSuccess
	m := recv(t, b)
	roster, rok := m.(*protocol.UserList)
	require.True(t, rok)
	assert.Equal(t, []protocol.User{{ID: "b", Username: "bea"}}, roster.Users)
}
