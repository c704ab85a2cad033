package game

import (
	"github.com/fusionserver/relay/internal/v1/protocol"
	"github.com/fusionserver/relay/internal/v1/types"
)

// Default player attributes applied on join.
const (
	DefaultHealth = int32(100)
	DefaultAngle  = float64(0)
)

// Player is the per-participant mutable state inside a room. It is owned by
// the room and mutated only under the owning team's lock.
type Player struct {
	ID       types.PlayerIDType
	TeamID   types.TeamIDType
	Nick     types.NickType
	Health   int32
	Position [2]int64
	Angle    float64
	Color    [3]uint8
}

// NewPlayer creates a player with default health, position, angle and color.
func NewPlayer(id types.PlayerIDType, teamID types.TeamIDType, nick types.NickType) *Player {
	return &Player{
		ID:     id,
		TeamID: teamID,
		Nick:   nick,
		Health: DefaultHealth,
		Angle:  DefaultAngle,
	}
}

// State returns the wire shape of this player for snapshot frames.
func (p *Player) State() protocol.PlayerState {
	return protocol.PlayerState{
		PlayerID: p.ID,
		TeamID:   p.TeamID,
		Nick:     p.Nick,
		Color:    p.Color,
		Health:   p.Health,
		Position: p.Position,
		Angle:    p.Angle,
	}
}
