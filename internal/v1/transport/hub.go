package transport

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/fusionserver/relay/internal/v1/game"
	"github.com/fusionserver/relay/internal/v1/logging"
	"github.com/fusionserver/relay/internal/v1/metrics"
	"github.com/fusionserver/relay/internal/v1/protocol"
	"github.com/fusionserver/relay/internal/v1/ratelimit"
	"github.com/fusionserver/relay/internal/v1/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// placement records where the registry believes a session is. joined false
// means the session sits in the unidentified set.
type placement struct {
	roomName types.RoomNameType
	joined   bool
}

// Hub is the session registry. It owns the room table, the unidentified
// set, and the session-to-room index, each behind its own lock. When more
// than one of those locks is held the order is roomsMu, then sessionRoomMu,
// then unidentifiedMu; room-internal locks nest under roomsMu only.
type Hub struct {
	roomsMu sync.Mutex
	rooms   map[types.RoomNameType]*game.Room

	sessionRoomMu sync.Mutex
	sessionRoom   map[*Session]placement

	unidentifiedMu sync.Mutex
	unidentified   map[*Session]struct{}

	bus         types.BusService
	rateLimiter *ratelimit.RateLimiter
	upgrader    websocket.Upgrader

	unjoined *unjoinedHandler

	shuttingDown atomic.Bool
}

// NewHub creates the registry. bus may be nil for single-instance mode and
// rateLimiter may be nil to disable the per-IP upgrade limit.
func NewHub(bus types.BusService, rateLimiter *ratelimit.RateLimiter, allowedOrigins []string) *Hub {
	h := &Hub{
		rooms:        make(map[types.RoomNameType]*game.Room),
		sessionRoom:  make(map[*Session]placement),
		unidentified: make(map[*Session]struct{}),
		bus:          bus,
		rateLimiter:  rateLimiter,
	}
	h.unjoined = &unjoinedHandler{hub: h}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	wildcard := false
	for _, origin := range allowed {
		if origin == "*" {
			wildcard = true
		}
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		if wildcard {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients send no Origin header.
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (h *Hub) unjoinedHandler() Handler {
	return h.unjoined
}

// Register adds a session to the unidentified set and gives it the
// unjoined handler. Registering a session the registry already tracks is
// logged and ignored.
func (h *Hub) Register(session *Session) {
	h.sessionRoomMu.Lock()
	defer h.sessionRoomMu.Unlock()

	if _, tracked := h.sessionRoom[session]; tracked {
		logging.Warn(context.Background(), "Session registered twice",
			zap.String("session", string(session.SessionID())))
		return
	}
	h.sessionRoom[session] = placement{}

	h.unidentifiedMu.Lock()
	h.unidentified[session] = struct{}{}
	h.unidentifiedMu.Unlock()

	session.SetHandler(h.unjoined)
}

// Unregister removes a session from wherever the registry holds it. If the
// session was in a room the remaining members get an update broadcast and
// an emptied room is dropped. Unregistering an unknown session is a no-op,
// and during shutdown the shutdown path owns all cleanup.
func (h *Hub) Unregister(session *Session) {
	if h.shuttingDown.Load() {
		return
	}

	h.sessionRoomMu.Lock()
	where, tracked := h.sessionRoom[session]
	delete(h.sessionRoom, session)
	h.sessionRoomMu.Unlock()
	if !tracked {
		return
	}

	if !where.joined {
		h.unidentifiedMu.Lock()
		delete(h.unidentified, session)
		h.unidentifiedMu.Unlock()
		return
	}

	h.removeFromRoom(session, where.roomName)
}

// AttachToRoom joins the session to the named room, creating the room on
// first use. On success the registry indices move atomically with respect
// to other registry operations on the same session. On failure the registry
// is unchanged and a room created for this join is dropped again.
func (h *Hub) AttachToRoom(session *Session, name types.RoomNameType, nick types.NickType, hint types.TeamHintType) (protocol.Snapshot, types.PlayerIDType, *game.Room, bool) {
	if h.shuttingDown.Load() {
		return protocol.Snapshot{}, 0, nil, false
	}

	h.roomsMu.Lock()
	room, exists := h.rooms[name]
	created := false
	if !exists {
		room = game.NewRoom(name, h.bus)
		h.rooms[name] = room
		created = true
		metrics.ActiveRooms.Inc()
		logging.Info(context.Background(), "Room created", zap.String("room", string(name)))
	}

	snapshot, playerID, joined := room.Join(session, nick, hint)
	if !joined && created {
		delete(h.rooms, name)
		room.Close()
		metrics.ActiveRooms.Dec()
	}
	h.roomsMu.Unlock()

	if !joined {
		return protocol.Snapshot{}, 0, nil, false
	}

	h.sessionRoomMu.Lock()
	h.sessionRoom[session] = placement{roomName: name, joined: true}
	h.unidentifiedMu.Lock()
	delete(h.unidentified, session)
	h.unidentifiedMu.Unlock()
	h.sessionRoomMu.Unlock()

	return snapshot, playerID, room, true
}

// DetachFromRoom takes the session out of its room and back into the
// unidentified set. Remaining members learn about the departure through an
// update broadcast. A session that is not in a room is left alone.
func (h *Hub) DetachFromRoom(session *Session) {
	h.sessionRoomMu.Lock()
	where, tracked := h.sessionRoom[session]
	if !tracked || !where.joined {
		h.sessionRoomMu.Unlock()
		return
	}
	h.sessionRoom[session] = placement{}
	h.unidentifiedMu.Lock()
	h.unidentified[session] = struct{}{}
	h.unidentifiedMu.Unlock()
	h.sessionRoomMu.Unlock()

	h.removeFromRoom(session, where.roomName)
}

// removeFromRoom pulls the session out of the named room, broadcasts the
// new room state to whoever remains, and drops the room when it emptied.
func (h *Hub) removeFromRoom(session *Session, name types.RoomNameType) {
	h.roomsMu.Lock()
	room, ok := h.rooms[name]
	if !ok {
		h.roomsMu.Unlock()
		return
	}

	left := room.Leave(session)
	emptied := left && room.Size() == 0
	if emptied {
		delete(h.rooms, name)
		room.Close()
		metrics.ActiveRooms.Dec()
		logging.Info(context.Background(), "Room emptied and dropped",
			zap.String("room", string(name)))
	}
	h.roomsMu.Unlock()

	if left && !emptied {
		room.Broadcast(protocol.NewUpdateBroadcast(room.Snapshot()))
	}
}

// RoomCount returns the number of live rooms.
func (h *Hub) RoomCount() int {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	return len(h.rooms)
}

// SessionCount returns the number of registered sessions.
func (h *Hub) SessionCount() int {
	h.sessionRoomMu.Lock()
	defer h.sessionRoomMu.Unlock()
	return len(h.sessionRoom)
}

// Shutdown closes every registered session gracefully and clears the
// registry. Per-session unregisters racing with shutdown become no-ops so
// the maps are torn down exactly once, here.
func (h *Hub) Shutdown(ctx context.Context) {
	h.shuttingDown.Store(true)

	h.sessionRoomMu.Lock()
	sessions := make([]*Session, 0, len(h.sessionRoom))
	for session := range h.sessionRoom {
		sessions = append(sessions, session)
	}
	h.sessionRoom = make(map[*Session]placement)
	h.unidentifiedMu.Lock()
	h.unidentified = make(map[*Session]struct{})
	h.unidentifiedMu.Unlock()
	h.sessionRoomMu.Unlock()

	h.roomsMu.Lock()
	rooms := h.rooms
	h.rooms = make(map[types.RoomNameType]*game.Room)
	h.roomsMu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
	for _, room := range rooms {
		room.Close()
	}
	metrics.ActiveRooms.Set(0)

	logging.Info(ctx, "Registry shut down",
		zap.Int("sessions_closed", len(sessions)),
		zap.Int("rooms_dropped", len(rooms)))
}

// ServeWs upgrades the request to a WebSocket and hands the connection to
// a new session.
func (h *Hub) ServeWs(c *gin.Context) {
	if h.shuttingDown.Load() {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}

	if h.rateLimiter != nil && !h.rateLimiter.CheckWebSocket(c) {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		logging.Debug(c.Request.Context(), "WebSocket upgrade failed",
			zap.String("remote", c.Request.RemoteAddr), zap.Error(err))
		return
	}

	session := newSession(conn, h, types.SessionIDType(uuid.New().String()), conn.RemoteAddr().String())
	h.Register(session)
	metrics.IncConnection()

	logging.Debug(c.Request.Context(), "Session connected",
		zap.String("session", string(session.SessionID())),
		zap.String("remote", session.RemoteEndpoint()))

	go session.writePump()
	go session.readPump()
}
