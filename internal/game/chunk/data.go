// Package chunk holds terrain chunk state: the chunk record, the client-side
// cache and interest manager, and the server's authoritative store.
package chunk

import (
	"errors"
	"fmt"

	"github.com/zeusync/worldsync/internal/game/world"
)

// ErrIncomplete matches every *IncompleteError.
var ErrIncomplete = errors.New("chunk: incomplete")

// IncompleteError reports a chunk with a missing or short layer.
type IncompleteError struct {
	Coord world.ChunkCoord
	Layer string
	Len   int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("chunk %s: %s layer has %d of %d cells", e.Coord, e.Layer, e.Len, world.ChunkCells)
}

func (e *IncompleteError) Unwrap() error { return ErrIncomplete }

// Data is one chunk. It is either complete (all five layers hold exactly
// world.ChunkCells entries) or it must not be shared.
type Data struct {
	Coord world.ChunkCoord

	Ground   []uint16
	Object   []uint16
	Biome    []uint8
	Heat     []uint8
	Moisture []uint8
}

// New allocates a complete, zeroed chunk.
func New(coord world.ChunkCoord) *Data {
	return &Data{
		Coord:    coord,
		Ground:   make([]uint16, world.ChunkCells),
		Object:   make([]uint16, world.ChunkCells),
		Biome:    make([]uint8, world.ChunkCells),
		Heat:     make([]uint8, world.ChunkCells),
		Moisture: make([]uint8, world.ChunkCells),
	}
}

// Validate returns an *IncompleteError naming the first bad layer.
func (d *Data) Validate() error {
	if d == nil {
		return &IncompleteError{Layer: "chunk"}
	}
	layers := []struct {
		name    string
		n       int
		missing bool
	}{
		{"ground", len(d.Ground), d.Ground == nil},
		{"object", len(d.Object), d.Object == nil},
		{"biome", len(d.Biome), d.Biome == nil},
		{"heat", len(d.Heat), d.Heat == nil},
		{"moisture", len(d.Moisture), d.Moisture == nil},
	}
	for _, l := range layers {
		if l.missing || l.n != world.ChunkCells {
			return &IncompleteError{Coord: d.Coord, Layer: l.name, Len: l.n}
		}
	}
	return nil
}

// CellIndex returns the layer index of local cell (x, y), row-major.
func CellIndex(x, y int) int {
	return y*world.ChunkEdge + x
}

// Clone returns a deep copy.
func (d *Data) Clone() *Data {
	return &Data{
		Coord:    d.Coord,
		Ground:   append([]uint16(nil), d.Ground...),
		Object:   append([]uint16(nil), d.Object...),
		Biome:    append([]uint8(nil), d.Biome...),
		Heat:     append([]uint8(nil), d.Heat...),
		Moisture: append([]uint8(nil), d.Moisture...),
	}
}

// Generator produces authoritative chunks. Implementations must be
// deterministic for a given coordinate and return complete chunks.
type Generator interface {
	GenerateChunkAtPosition(coord world.ChunkCoord) *Data
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(coord world.ChunkCoord) *Data

func (f GeneratorFunc) GenerateChunkAtPosition(coord world.ChunkCoord) *Data { return f(coord) }
