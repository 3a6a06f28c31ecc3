// Package world holds the geometry shared by chunk streaming and entities:
// positions, chunk grid coordinates and toroidal wrapping.
package world

import (
	"fmt"
	"math"
)

const (
	// ChunkEdge is the side length of a chunk in cells and world units.
	ChunkEdge = 16
	// ChunkCells is the number of cells in one chunk.
	ChunkCells = ChunkEdge * ChunkEdge
	// DefaultSize is the world edge length in chunks.
	DefaultSize = 64
)

// Vec2 is a world-space position.
type Vec2 struct {
	X, Y float32
}

func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v.X + o.X, v.Y + o.Y} }

func (v Vec2) String() string { return fmt.Sprintf("(%.2f, %.2f)", v.X, v.Y) }

// ChunkCoord is a position on the chunk grid.
type ChunkCoord struct {
	X, Y int32
}

func (c ChunkCoord) String() string { return fmt.Sprintf("[%d,%d]", c.X, c.Y) }

// Wrap maps c into [0, size) on both axes.
func (c ChunkCoord) Wrap(size int32) ChunkCoord {
	return ChunkCoord{X: mod(c.X, size), Y: mod(c.Y, size)}
}

// Offset returns the shortest toroidal displacement from c to o, with each
// component in [-size/2, size/2).
func (c ChunkCoord) Offset(o ChunkCoord, size int32) (dx, dy int32) {
	return shortest(o.X-c.X, size), shortest(o.Y-c.Y, size)
}

// ChunkOf converts a world position to the wrapped chunk that contains it.
func ChunkOf(pos Vec2, size int32) ChunkCoord {
	c := ChunkCoord{
		X: int32(math.Floor(float64(pos.X) / ChunkEdge)),
		Y: int32(math.Floor(float64(pos.Y) / ChunkEdge)),
	}
	return c.Wrap(size)
}

// Origin is the world position of the chunk's lower corner.
func (c ChunkCoord) Origin() Vec2 {
	return Vec2{X: float32(c.X * ChunkEdge), Y: float32(c.Y * ChunkEdge)}
}

func mod(v, size int32) int32 {
	m := v % size
	if m < 0 {
		m += size
	}
	return m
}

func shortest(d, size int32) int32 {
	d = mod(d, size)
	if d >= size/2 && size > 1 {
		d -= size
	}
	return d
}
