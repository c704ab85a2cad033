package protocol

import (
	"context"
	"encoding/json"

	"github.com/fusionserver/relay/internal/v1/logging"
	"github.com/fusionserver/relay/internal/v1/types"
	"go.uber.org/zap"
)

// PlayerState is the wire shape of one player in a "players" array.
type PlayerState struct {
	PlayerID types.PlayerIDType `json:"player_id"`
	TeamID   types.TeamIDType   `json:"team_id"`
	Nick     types.NickType     `json:"nick"`
	Color    [3]uint8           `json:"color"`
	Health   int32              `json:"health"`
	Position [2]int64           `json:"position"`
	Angle    float64            `json:"angle"`
}

// RayState is reserved. No code path populates rays; the field is only ever
// serialized as an empty array.
type RayState = json.RawMessage

// Snapshot is the {players, rays} object describing a room's current state.
type Snapshot struct {
	Players []PlayerState `json:"players"`
	Rays    []RayState    `json:"rays"`
}

// NewSnapshot returns an empty snapshot with both arrays allocated so they
// serialize as [] rather than null.
func NewSnapshot() Snapshot {
	return Snapshot{Players: []PlayerState{}, Rays: []RayState{}}
}

type joinedResponse struct {
	ID      uint64             `json:"id"`
	Result  string             `json:"result"`
	MyID    types.PlayerIDType `json:"my_id"`
	Players []PlayerState      `json:"players"`
	Rays    []RayState         `json:"rays"`
}

type fullResponse struct {
	ID     uint64 `json:"id"`
	Result string `json:"result"`
}

type updateBroadcast struct {
	Type    string        `json:"type"`
	Players []PlayerState `json:"players"`
	Rays    []RayState    `json:"rays"`
}

type warningFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Closed  bool   `json:"closed"`
}

// NewJoinedResponse builds the success reply to a join request. The
// snapshot already reflects the post-join state of the room.
func NewJoinedResponse(requestID uint64, myID types.PlayerIDType, snapshot Snapshot) []byte {
	return marshalFrame(joinedResponse{
		ID:      requestID,
		Result:  "joined",
		MyID:    myID,
		Players: snapshot.Players,
		Rays:    snapshot.Rays,
	})
}

// NewFullResponse builds the reply sent when the chosen team is full.
func NewFullResponse(requestID uint64) []byte {
	return marshalFrame(fullResponse{ID: requestID, Result: "full"})
}

// NewUpdateBroadcast builds the state frame fanned out to every room member.
func NewUpdateBroadcast(snapshot Snapshot) []byte {
	return marshalFrame(updateBroadcast{
		Type:    FrameTypeUpdate,
		Players: snapshot.Players,
		Rays:    snapshot.Rays,
	})
}

// NewWarningFrame builds the reply to a schema-valid frame that the
// session's current phase does not accept.
func NewWarningFrame() []byte {
	return marshalFrame(warningFrame{
		Type:    FrameTypeWarning,
		Message: "Received an unidentified package.",
		Closed:  false,
	})
}

// Encode serializes the error frame.
func (e *ErrorFrame) Encode() []byte {
	return marshalFrame(e)
}

// marshalFrame serializes one outbound frame. The frame structs contain
// only marshalable fields, so a failure here indicates a programming error;
// it is logged and the frame is dropped rather than crashing a pump.
func marshalFrame(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal outbound frame", zap.Error(err))
		return nil
	}
	return data
}
