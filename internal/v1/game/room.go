// Package game implements rooms: named multicast groups of sessions split
// into two teams. The server relays state between room members, it does not
// simulate the game.
package game

import (
	"context"
	"sync"

	"github.com/fusionserver/relay/internal/v1/logging"
	"github.com/fusionserver/relay/internal/v1/metrics"
	"github.com/fusionserver/relay/internal/v1/protocol"
	"github.com/fusionserver/relay/internal/v1/types"
	"go.uber.org/zap"
)

// MaxPlayersPerTeam caps each of the two teams of a room.
const MaxPlayersPerTeam = 5

// teamEntry pairs a session with its player. Slices keep insertion order,
// which snapshot frames must preserve.
type teamEntry struct {
	session types.SessionInterface
	player  *Player
}

// Room is a named multicast group of sessions. Lock order inside a room is
// firstMu before secondMu before byMu; no method may acquire them in the
// inverse order.
type Room struct {
	name types.RoomNameType

	firstMu sync.RWMutex
	first   []teamEntry

	secondMu sync.RWMutex
	second   []teamEntry

	byMu      sync.RWMutex
	bySession map[types.SessionIDType]types.TeamIDType

	idMu         sync.Mutex
	nextPlayerID types.PlayerIDType

	bus   types.BusService
	unsub func()
}

// NewRoom creates a room. When a bus is configured the room subscribes to
// its state channel so broadcasts from other instances reach local members.
func NewRoom(name types.RoomNameType, bus types.BusService) *Room {
	r := &Room{
		name:      name,
		bySession: make(map[types.SessionIDType]types.TeamIDType),
		bus:       bus,
	}
	if bus != nil {
		r.unsub = bus.SubscribeState(string(name), r.BroadcastLocal)
	}
	return r
}

// Name returns the unique name of this room.
func (r *Room) Name() types.RoomNameType {
	return r.name
}

// Close releases the bus subscription. Called by the registry when the room
// is dropped.
func (r *Room) Close() {
	if r.unsub != nil {
		r.unsub()
		r.unsub = nil
	}
	metrics.RoomPlayers.DeleteLabelValues(string(r.name))
}

// Join places the session into a team and allocates its player. With
// TeamHintRandom the smaller team wins; ties go to the second team. It
// fails when the chosen team is full or the session already joined, and in
// both cases the room is left unchanged. The returned snapshot reflects the
// post-join state.
func (r *Room) Join(session types.SessionInterface, nick types.NickType, hint types.TeamHintType) (protocol.Snapshot, types.PlayerIDType, bool) {
	r.firstMu.Lock()
	defer r.firstMu.Unlock()
	r.secondMu.Lock()
	defer r.secondMu.Unlock()
	r.byMu.Lock()
	defer r.byMu.Unlock()

	if _, joined := r.bySession[session.SessionID()]; joined {
		logging.Warn(context.Background(), "Session attempted to re-join a room it is in",
			zap.String("room", string(r.name)),
			zap.String("session", string(session.SessionID())))
		return protocol.Snapshot{}, 0, false
	}

	var teamID types.TeamIDType
	switch hint {
	case types.TeamHintFirst:
		teamID = types.TeamIDFirst
	case types.TeamHintSecond:
		teamID = types.TeamIDSecond
	default:
		if len(r.first) < len(r.second) {
			teamID = types.TeamIDFirst
		} else {
			teamID = types.TeamIDSecond
		}
	}

	team := &r.first
	if teamID == types.TeamIDSecond {
		team = &r.second
	}
	if len(*team) >= MaxPlayersPerTeam {
		return protocol.Snapshot{}, 0, false
	}

	r.idMu.Lock()
	playerID := r.nextPlayerID
	r.nextPlayerID++
	r.idMu.Unlock()

	player := NewPlayer(playerID, teamID, nick)
	*team = append(*team, teamEntry{session: session, player: player})
	r.bySession[session.SessionID()] = teamID

	metrics.RoomPlayers.WithLabelValues(string(r.name)).Set(float64(len(r.first) + len(r.second)))

	return r.snapshotLocked(), playerID, true
}

// Leave removes the session from whichever team holds it. Returns false
// when the session is not a member.
func (r *Room) Leave(session types.SessionInterface) bool {
	sid := session.SessionID()

	r.byMu.RLock()
	teamID, ok := r.bySession[sid]
	r.byMu.RUnlock()
	if !ok {
		return false
	}

	removed := false
	if teamID == types.TeamIDFirst {
		r.firstMu.Lock()
		r.first, removed = removeEntry(r.first, sid)
		r.firstMu.Unlock()
	} else {
		r.secondMu.Lock()
		r.second, removed = removeEntry(r.second, sid)
		r.secondMu.Unlock()
	}
	if !removed {
		// A concurrent leave won the race.
		return false
	}

	r.byMu.Lock()
	delete(r.bySession, sid)
	r.byMu.Unlock()

	metrics.RoomPlayers.WithLabelValues(string(r.name)).Set(float64(r.Size()))
	return true
}

func removeEntry(team []teamEntry, sid types.SessionIDType) ([]teamEntry, bool) {
	for i, entry := range team {
		if entry.session.SessionID() == sid {
			return append(team[:i], team[i+1:]...), true
		}
	}
	return team, false
}

// IsMember reports whether the session currently belongs to this room.
func (r *Room) IsMember(session types.SessionInterface) bool {
	r.byMu.RLock()
	defer r.byMu.RUnlock()
	_, ok := r.bySession[session.SessionID()]
	return ok
}

// UpdatePlayer applies an update frame to the session's player. Position
// coordinates are truncated to the integer grid of the map. Returns false
// when the session has no player here.
func (r *Room) UpdatePlayer(session types.SessionInterface, position [2]float64, angle float64) bool {
	sid := session.SessionID()

	r.byMu.RLock()
	teamID, ok := r.bySession[sid]
	r.byMu.RUnlock()
	if !ok {
		return false
	}

	apply := func(team []teamEntry) bool {
		for _, entry := range team {
			if entry.session.SessionID() == sid {
				entry.player.Position[0] = int64(position[0])
				entry.player.Position[1] = int64(position[1])
				entry.player.Angle = angle
				return true
			}
		}
		return false
	}

	if teamID == types.TeamIDFirst {
		r.firstMu.Lock()
		defer r.firstMu.Unlock()
		return apply(r.first)
	}
	r.secondMu.Lock()
	defer r.secondMu.Unlock()
	return apply(r.second)
}

// Broadcast enqueues the frame onto every member session and, when a bus is
// configured, publishes it for the other instances. Delivery is serialized
// per session; no inter-session ordering is guaranteed.
func (r *Room) Broadcast(frame []byte) {
	r.BroadcastLocal(frame)

	if r.bus != nil {
		if err := r.bus.PublishState(string(r.name), frame); err != nil {
			logging.Error(context.Background(), "Failed to publish broadcast to bus",
				zap.String("room", string(r.name)), zap.Error(err))
		}
	}
}

// BroadcastLocal enqueues the frame onto local member sessions only. The
// bus subscription delivers remote frames through here so they are never
// re-published.
func (r *Room) BroadcastLocal(frame []byte) {
	if len(frame) == 0 {
		return
	}

	r.firstMu.RLock()
	for _, entry := range r.first {
		entry.session.Write(frame)
	}
	r.firstMu.RUnlock()

	r.secondMu.RLock()
	for _, entry := range r.second {
		entry.session.Write(frame)
	}
	r.secondMu.RUnlock()
}

// Size returns the total number of players in the room.
func (r *Room) Size() int {
	r.firstMu.RLock()
	defer r.firstMu.RUnlock()
	r.secondMu.RLock()
	defer r.secondMu.RUnlock()
	return len(r.first) + len(r.second)
}

// Snapshot returns the current state of the room: team one's players
// followed by team two's, each in insertion order. Rays are reserved and
// always empty.
func (r *Room) Snapshot() protocol.Snapshot {
	r.firstMu.RLock()
	defer r.firstMu.RUnlock()
	r.secondMu.RLock()
	defer r.secondMu.RUnlock()
	return r.snapshotLocked()
}

// snapshotLocked builds the snapshot. Caller holds both team locks.
func (r *Room) snapshotLocked() protocol.Snapshot {
	snapshot := protocol.NewSnapshot()
	for _, entry := range r.first {
		snapshot.Players = append(snapshot.Players, entry.player.State())
	}
	for _, entry := range r.second {
		snapshot.Players = append(snapshot.Players, entry.player.State())
	}
	return snapshot
}
