// Package protocol implements the JSON frame codec of the relay protocol.
// One WebSocket text message carries exactly one JSON document.
package protocol

import (
	"encoding/json"

	"github.com/fusionserver/relay/internal/v1/types"
)

// Frame type names as they appear on the wire.
const (
	FrameTypeJoin    = "join"
	FrameTypeUpdate  = "update"
	FrameTypeLeave   = "leave"
	FrameTypeWarning = "warning"
	FrameTypeError   = "error"
)

// Frame is a validated client frame.
type Frame interface {
	FrameType() string
}

// JoinRequest asks to join the named room.
type JoinRequest struct {
	ID   uint64
	Nick types.NickType
	Game types.RoomNameType
}

func (JoinRequest) FrameType() string { return FrameTypeJoin }

// UpdateRequest carries a player state update.
type UpdateRequest struct {
	TeamID   types.TeamIDType
	Position [2]float64
	Angle    float64
}

func (UpdateRequest) FrameType() string { return FrameTypeUpdate }

// LeaveRequest asks to leave the current room.
type LeaveRequest struct{}

func (LeaveRequest) FrameType() string { return FrameTypeLeave }

// ErrorFrame is the reply sent when a frame fails validation. Closed tells
// the caller the connection should be torn down after sending.
type ErrorFrame struct {
	Type    string `json:"type"`
	Closed  bool   `json:"closed"`
	Message string `json:"message"`
}

// Validation failure messages. The wording is part of the protocol.
const (
	msgNotValidJSON   = "One of the packages didn't contain a valid JSON."
	msgTypeNotFound   = "One of the packages didn't have a \"type\" field."
	msgUnknownType    = "One of the packages contained an unknown \"type\"."
	msgNotValidJoin   = "A \"JOIN\" was ill-formed."
	msgNotValidUpdate = "A \"UPDATE\" was ill-formed."
	msgNotValidLeave  = "A \"LEAVE\" was ill-formed."
)

func errNotValidJSON() *ErrorFrame {
	return &ErrorFrame{Type: FrameTypeError, Closed: true, Message: msgNotValidJSON}
}

func errTypeNotFound() *ErrorFrame {
	return &ErrorFrame{Type: FrameTypeError, Closed: true, Message: msgTypeNotFound}
}

func errUnknownType() *ErrorFrame {
	return &ErrorFrame{Type: FrameTypeError, Closed: true, Message: msgUnknownType}
}

func errNotValidJoin() *ErrorFrame {
	return &ErrorFrame{Type: FrameTypeError, Closed: true, Message: msgNotValidJoin}
}

func errNotValidUpdate() *ErrorFrame {
	return &ErrorFrame{Type: FrameTypeError, Closed: true, Message: msgNotValidUpdate}
}

func errNotValidLeave() *ErrorFrame {
	return &ErrorFrame{Type: FrameTypeError, Closed: true, Message: msgNotValidLeave}
}

// Verify parses and validates one raw frame. On success it returns the
// typed frame; on failure it returns the error reply the session must send
// before closing. Validation is strict: unknown types, missing fields, and
// extra fields all fail, nothing is defaulted.
func Verify(raw []byte) (Frame, *ErrorFrame) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, errNotValidJSON()
	}

	rawType, ok := fields["type"]
	if !ok {
		return nil, errTypeNotFound()
	}
	var frameType string
	if err := json.Unmarshal(rawType, &frameType); err != nil {
		return nil, errTypeNotFound()
	}

	switch frameType {
	case FrameTypeJoin:
		return verifyJoin(fields)
	case FrameTypeUpdate:
		return verifyUpdate(fields)
	case FrameTypeLeave:
		return verifyLeave(fields)
	default:
		return nil, errUnknownType()
	}
}

func verifyJoin(fields map[string]json.RawMessage) (Frame, *ErrorFrame) {
	// Exactly "type", "id", "nick", "game".
	if len(fields) != 4 {
		return nil, errNotValidJoin()
	}

	var req JoinRequest

	rawID, ok := fields["id"]
	if !ok || json.Unmarshal(rawID, &req.ID) != nil {
		return nil, errNotValidJoin()
	}
	rawNick, ok := fields["nick"]
	if !ok || json.Unmarshal(rawNick, &req.Nick) != nil {
		return nil, errNotValidJoin()
	}
	rawGame, ok := fields["game"]
	if !ok || json.Unmarshal(rawGame, &req.Game) != nil {
		return nil, errNotValidJoin()
	}

	return req, nil
}

func verifyUpdate(fields map[string]json.RawMessage) (Frame, *ErrorFrame) {
	// Exactly "type", "team_id", "position", "angle".
	if len(fields) != 4 {
		return nil, errNotValidUpdate()
	}

	var req UpdateRequest

	rawTeam, ok := fields["team_id"]
	if !ok {
		return nil, errNotValidUpdate()
	}
	var teamID uint64
	if json.Unmarshal(rawTeam, &teamID) != nil || teamID > 1 {
		return nil, errNotValidUpdate()
	}
	req.TeamID = types.TeamIDType(teamID)

	rawPosition, ok := fields["position"]
	if !ok {
		return nil, errNotValidUpdate()
	}
	var position []float64
	if json.Unmarshal(rawPosition, &position) != nil || len(position) != 2 {
		return nil, errNotValidUpdate()
	}
	req.Position[0], req.Position[1] = position[0], position[1]

	rawAngle, ok := fields["angle"]
	if !ok || json.Unmarshal(rawAngle, &req.Angle) != nil {
		return nil, errNotValidUpdate()
	}

	return req, nil
}

func verifyLeave(fields map[string]json.RawMessage) (Frame, *ErrorFrame) {
	// Exactly "type".
	if len(fields) != 1 {
		return nil, errNotValidLeave()
	}
	return LeaveRequest{}, nil
}
