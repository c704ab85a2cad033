package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTeamIDValues(t *testing.T) {
	// These values travel on the wire in update frames.
	assert.Equal(t, TeamIDType(0), TeamIDFirst)
	assert.Equal(t, TeamIDType(1), TeamIDSecond)
}

func TestTeamHintsAreDistinct(t *testing.T) {
	hints := map[TeamHintType]bool{TeamHintFirst: true, TeamHintSecond: true, TeamHintRandom: true}
	assert.Len(t, hints, 3)
}
