package worldgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/worldsync/internal/game/world"
)

func TestDeterministic(t *testing.T) {
	a := New(42, 64).GenerateChunkAtPosition(world.ChunkCoord{X: 3, Y: 9})
	b := New(42, 64).GenerateChunkAtPosition(world.ChunkCoord{X: 3, Y: 9})
	assert.Equal(t, a, b)

	c := New(43, 64).GenerateChunkAtPosition(world.ChunkCoord{X: 3, Y: 9})
	assert.NotEqual(t, a.Heat, c.Heat)
}

func TestChunksAreComplete(t *testing.T) {
	g := New(7, 8)
	for y := int32(0); y < 8; y++ {
		for x := int32(0); x < 8; x++ {
			d := g.GenerateChunkAtPosition(world.ChunkCoord{X: x, Y: y})
			require.NoError(t, d.Validate())
			for _, v := range d.Ground {
				assert.NotZero(t, v)
			}
		}
	}
}

func TestWrapsCoordinates(t *testing.T) {
	g := New(1, 64)
	d := g.GenerateChunkAtPosition(world.ChunkCoord{X: -1, Y: 64})
	assert.Equal(t, world.ChunkCoord{X: 63, Y: 0}, d.Coord)
	assert.Equal(t, g.GenerateChunkAtPosition(world.ChunkCoord{X: 63, Y: 0}), d)
}
