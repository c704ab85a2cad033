package types

// --- Core Domain Types ---

// RoomNameType is the unique name of a room ("game" in protocol frames).
type RoomNameType string

// SessionIDType is the opaque stable identifier of a session connection.
type SessionIDType string

// NickType is the player nick supplied in a join frame.
type NickType string

// PlayerIDType identifies a player within a single room.
type PlayerIDType uint64

// TeamIDType identifies one of the two teams of a room.
type TeamIDType uint8

// Team constants. These values appear verbatim in update frames.
const (
	TeamIDFirst  TeamIDType = 0
	TeamIDSecond TeamIDType = 1
)

// TeamHintType expresses the team preference of a join request.
type TeamHintType uint8

const (
	TeamHintFirst TeamHintType = iota
	TeamHintSecond
	TeamHintRandom
)

// SessionInterface defines the behavior the game package needs from a
// WebSocket session. It keeps the game package free of any dependency on
// the transport package.
type SessionInterface interface {
	// SessionID returns the stable identifier of the connection.
	SessionID() SessionIDType
	// RemoteEndpoint returns the label captured at accept time. It stays
	// valid after the connection has closed.
	RemoteEndpoint() string
	// Write enqueues one frame. The session delivers its frames in enqueue
	// order; frames written after the closing procedure began are dropped.
	Write(frame []byte)
	// CloseWithFrame enqueues the definitive last frame and starts the
	// closing procedure.
	CloseWithFrame(frame []byte)
	// Close starts the closing procedure without a final frame.
	Close()
}

// BusService defines the interface for the optional cross-instance
// broadcast bus.
type BusService interface {
	PublishState(roomName string, frame []byte) error
	SubscribeState(roomName string, handler func(frame []byte)) (unsubscribe func())
	Ping() error
	Close() error
}
