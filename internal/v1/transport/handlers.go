package transport

import (
	"context"

	"github.com/fusionserver/relay/internal/v1/game"
	"github.com/fusionserver/relay/internal/v1/logging"
	"github.com/fusionserver/relay/internal/v1/protocol"
	"github.com/fusionserver/relay/internal/v1/types"
	"go.uber.org/zap"
)

// Handler consumes validated frames on behalf of a session. The hub swaps
// the session's handler as it moves between the unjoined and joined phases.
type Handler interface {
	HandleFrame(ctx context.Context, session *Session, frame protocol.Frame)
	Phase() string
}

// unjoinedHandler serves sessions that have not joined a room yet. Only
// join frames do anything here; update and leave draw a warning.
type unjoinedHandler struct {
	hub *Hub
}

func (h *unjoinedHandler) Phase() string { return "unjoined" }

func (h *unjoinedHandler) HandleFrame(ctx context.Context, session *Session, frame protocol.Frame) {
	join, ok := frame.(protocol.JoinRequest)
	if !ok {
		logging.Debug(ctx, "Unjoined session sent a frame that needs a room",
			zap.String("frame_type", frame.FrameType()))
		session.Write(protocol.NewWarningFrame())
		return
	}

	snapshot, playerID, room, joined := h.hub.AttachToRoom(session, join.Game, join.Nick, types.TeamHintRandom)
	if !joined {
		session.Write(protocol.NewFullResponse(join.ID))
		return
	}

	session.SetHandler(&roomHandler{hub: h.hub, room: room})
	session.Write(protocol.NewJoinedResponse(join.ID, playerID, snapshot))

	logging.Info(ctx, "Session joined room",
		zap.String("room", string(join.Game)),
		zap.String("nick", string(join.Nick)),
		zap.Uint64("player_id", uint64(playerID)))
}

// roomHandler serves sessions that belong to a room. A join frame here is
// out of phase and draws a warning.
type roomHandler struct {
	hub  *Hub
	room *game.Room
}

func (h *roomHandler) Phase() string { return "joined" }

func (h *roomHandler) HandleFrame(ctx context.Context, session *Session, frame protocol.Frame) {
	switch f := frame.(type) {
	case protocol.UpdateRequest:
		if !h.room.UpdatePlayer(session, f.Position, f.Angle) {
			logging.Warn(ctx, "Update from session with no player in its room",
				zap.String("room", string(h.room.Name())))
			return
		}
		h.room.Broadcast(protocol.NewUpdateBroadcast(h.room.Snapshot()))

	case protocol.LeaveRequest:
		h.hub.DetachFromRoom(session)
		session.SetHandler(h.hub.unjoinedHandler())

	default:
		logging.Debug(ctx, "Joined session sent a frame for the unjoined phase",
			zap.String("frame_type", frame.FrameType()),
			zap.String("room", string(h.room.Name())))
		session.Write(protocol.NewWarningFrame())
	}
}
