package transport

import (
	"context"
	"fmt"
	"testing"

	"github.com/fusionserver/relay/internal/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHubSession(hub *Hub, id string) *Session {
	session := newSession(newMockConn(), hub, types.SessionIDType(id), "127.0.0.1:1234")
	hub.Register(session)
	return session
}

func (h *Hub) inUnidentified(session *Session) bool {
	h.unidentifiedMu.Lock()
	defer h.unidentifiedMu.Unlock()
	_, ok := h.unidentified[session]
	return ok
}

func TestHubRegister(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	session := newHubSession(hub, "s0")

	assert.Equal(t, 1, hub.SessionCount())
	assert.True(t, hub.inUnidentified(session))
	assert.Equal(t, "unjoined", session.Phase())
}

func TestHubRegisterTwiceIsIgnored(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	session := newHubSession(hub, "s0")

	hub.Register(session)
	assert.Equal(t, 1, hub.SessionCount())
}

func TestHubUnregisterUnknownSessionIsNoop(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	session := newSession(newMockConn(), hub, "ghost", "127.0.0.1:1")

	hub.Unregister(session)
	assert.Equal(t, 0, hub.SessionCount())
}

func TestHubUnregisterUnjoinedSession(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	session := newHubSession(hub, "s0")

	hub.Unregister(session)
	assert.Equal(t, 0, hub.SessionCount())
	assert.False(t, hub.inUnidentified(session))

	// Idempotent.
	hub.Unregister(session)
	assert.Equal(t, 0, hub.SessionCount())
}

func TestHubAttachToRoomCreatesRoom(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	session := newHubSession(hub, "s0")

	snapshot, playerID, room, ok := hub.AttachToRoom(session, "arena", "alice", types.TeamHintRandom)
	require.True(t, ok)
	require.NotNil(t, room)

	assert.Equal(t, types.PlayerIDType(0), playerID)
	assert.Len(t, snapshot.Players, 1)
	assert.Equal(t, 1, hub.RoomCount())
	assert.False(t, hub.inUnidentified(session))
	assert.Equal(t, 1, hub.SessionCount())
}

func TestHubAttachToRoomReusesExistingRoom(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	first := newHubSession(hub, "s0")
	second := newHubSession(hub, "s1")

	_, _, roomA, ok := hub.AttachToRoom(first, "arena", "a", types.TeamHintRandom)
	require.True(t, ok)
	_, _, roomB, ok := hub.AttachToRoom(second, "arena", "b", types.TeamHintRandom)
	require.True(t, ok)

	assert.Same(t, roomA, roomB)
	assert.Equal(t, 1, hub.RoomCount())
	assert.Equal(t, 2, roomA.Size())
}

func TestHubAttachToRoomFullTeam(t *testing.T) {
	hub := NewHub(nil, nil, nil)

	for i := 0; i < 5; i++ {
		session := newHubSession(hub, fmt.Sprintf("s%d", i))
		_, _, _, ok := hub.AttachToRoom(session, "arena", "nick", types.TeamHintFirst)
		require.True(t, ok)
	}

	overflow := newHubSession(hub, "overflow")
	_, _, _, ok := hub.AttachToRoom(overflow, "arena", "nick", types.TeamHintFirst)
	assert.False(t, ok)

	// The failed joiner stays unidentified; the existing room survives.
	assert.True(t, hub.inUnidentified(overflow))
	assert.Equal(t, 1, hub.RoomCount())
}

func TestHubAttachToRoomTwiceFails(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	session := newHubSession(hub, "s0")

	_, _, _, ok := hub.AttachToRoom(session, "arena", "a", types.TeamHintRandom)
	require.True(t, ok)
	_, _, _, ok = hub.AttachToRoom(session, "arena", "a", types.TeamHintRandom)
	assert.False(t, ok)
	assert.Equal(t, 1, hub.RoomCount())
}

func TestHubDetachFromRoomReturnsSessionToUnidentified(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	leaver := newHubSession(hub, "s0")
	stayer := newHubSession(hub, "s1")

	_, _, _, ok := hub.AttachToRoom(leaver, "arena", "a", types.TeamHintRandom)
	require.True(t, ok)
	_, _, room, ok := hub.AttachToRoom(stayer, "arena", "b", types.TeamHintRandom)
	require.True(t, ok)

	hub.DetachFromRoom(leaver)

	assert.True(t, hub.inUnidentified(leaver))
	assert.Equal(t, 1, room.Size())
	assert.Equal(t, 1, hub.RoomCount())

	// The remaining member saw an update broadcast about the departure.
	queued := stayer.queued()
	require.NotEmpty(t, queued)
	assert.Contains(t, string(queued[len(queued)-1]), `"type":"update"`)
}

func TestHubDetachFromRoomDropsEmptiedRoom(t *testing.T) {
	bus := &mockBusService{}
	hub := NewHub(bus, nil, nil)
	session := newHubSession(hub, "s0")

	_, _, _, ok := hub.AttachToRoom(session, "arena", "a", types.TeamHintRandom)
	require.True(t, ok)
	require.Equal(t, 1, hub.RoomCount())

	hub.DetachFromRoom(session)

	assert.Equal(t, 0, hub.RoomCount())
	assert.True(t, hub.inUnidentified(session))
	bus.mu.Lock()
	defer bus.mu.Unlock()
	assert.Equal(t, 1, bus.unsubscribed)
}

func TestHubDetachFromRoomWhenUnjoinedIsNoop(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	session := newHubSession(hub, "s0")

	hub.DetachFromRoom(session)
	assert.True(t, hub.inUnidentified(session))
	assert.Equal(t, 1, hub.SessionCount())
}

func TestHubUnregisterJoinedSessionBroadcastsDeparture(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	leaver := newHubSession(hub, "s0")
	stayer := newHubSession(hub, "s1")

	_, _, _, ok := hub.AttachToRoom(leaver, "arena", "a", types.TeamHintRandom)
	require.True(t, ok)
	_, _, room, ok := hub.AttachToRoom(stayer, "arena", "b", types.TeamHintRandom)
	require.True(t, ok)

	hub.Unregister(leaver)

	assert.Equal(t, 1, hub.SessionCount())
	assert.Equal(t, 1, room.Size())
	queued := stayer.queued()
	require.NotEmpty(t, queued)
	assert.Contains(t, string(queued[len(queued)-1]), `"type":"update"`)
}

func TestHubUnregisterLastMemberDropsRoom(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	session := newHubSession(hub, "s0")

	_, _, _, ok := hub.AttachToRoom(session, "arena", "a", types.TeamHintRandom)
	require.True(t, ok)

	hub.Unregister(session)

	assert.Equal(t, 0, hub.RoomCount())
	assert.Equal(t, 0, hub.SessionCount())
}

func TestHubShutdownClosesEverySession(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	joined := newHubSession(hub, "s0")
	unjoined := newHubSession(hub, "s1")

	_, _, _, ok := hub.AttachToRoom(joined, "arena", "a", types.TeamHintRandom)
	require.True(t, ok)

	hub.Shutdown(context.Background())

	assert.True(t, joined.isClosing())
	assert.True(t, unjoined.isClosing())
	assert.Equal(t, 0, hub.SessionCount())
	assert.Equal(t, 0, hub.RoomCount())

	// Unregisters racing with shutdown are suppressed.
	hub.Unregister(joined)
	assert.Equal(t, 0, hub.SessionCount())
}

func TestHubAttachToRoomAfterShutdownFails(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	session := newHubSession(hub, "s0")

	hub.Shutdown(context.Background())

	_, _, _, ok := hub.AttachToRoom(session, "arena", "a", types.TeamHintRandom)
	assert.False(t, ok)
}
