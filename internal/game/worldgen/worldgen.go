// Package worldgen is a deterministic reference terrain generator. It derives
// every cell from an xxhash of the seed and the cell's global coordinate, so the
// same seed always yields the same world without storing anything.
package worldgen

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/worldsync/internal/game/chunk"
	"github.com/zeusync/worldsync/internal/game/world"
)

// Ground tiles.
const (
	GroundWater uint16 = iota + 1
	GroundSand
	GroundGrass
	GroundForest
	GroundRock
	GroundSnow
)

// Objects placed on top of the ground. Zero is an empty cell.
const (
	ObjectNone uint16 = iota
	ObjectTree
	ObjectBoulder
	ObjectBush
)

// Biomes.
const (
	BiomeOcean uint8 = iota
	BiomeDesert
	BiomePlains
	BiomeForest
	BiomeTundra
	BiomeMountain
)

const (
	layerHeight uint8 = iota
	layerHeat
	layerMoisture
	layerObject
)

// lattice is the spacing of the value-noise grid in cells.
const lattice = 8

// Generator implements chunk.Generator.
type Generator struct {
	seed      uint64
	worldSize int32
}

var _ chunk.Generator = (*Generator)(nil)

func New(seed int64, worldSize int32) *Generator {
	if worldSize <= 0 {
		worldSize = world.DefaultSize
	}
	return &Generator{seed: uint64(seed), worldSize: worldSize}
}

// GenerateChunkAtPosition builds the complete chunk at coord.
func (g *Generator) GenerateChunkAtPosition(coord world.ChunkCoord) *chunk.Data {
	coord = coord.Wrap(g.worldSize)
	d := chunk.New(coord)
	ox, oy := coord.X*world.ChunkEdge, coord.Y*world.ChunkEdge

	for y := 0; y < world.ChunkEdge; y++ {
		for x := 0; x < world.ChunkEdge; x++ {
			gx, gy := ox+int32(x), oy+int32(y)
			i := chunk.CellIndex(x, y)

			height := g.noise(layerHeight, gx, gy)
			heat := g.noise(layerHeat, gx, gy)
			moisture := g.noise(layerMoisture, gx, gy)

			d.Heat[i] = heat
			d.Moisture[i] = moisture
			d.Biome[i] = biome(height, heat, moisture)
			d.Ground[i] = ground(d.Biome[i], height)
			d.Object[i] = g.object(d.Biome[i], gx, gy)
		}
	}
	return d
}

func biome(height, heat, moisture uint8) uint8 {
	switch {
	case height < 80:
		return BiomeOcean
	case height > 210:
		return BiomeMountain
	case heat < 60:
		return BiomeTundra
	case heat > 190 && moisture < 90:
		return BiomeDesert
	case moisture > 150:
		return BiomeForest
	default:
		return BiomePlains
	}
}

func ground(b, height uint8) uint16 {
	switch b {
	case BiomeOcean:
		if height > 70 {
			return GroundSand
		}
		return GroundWater
	case BiomeDesert:
		return GroundSand
	case BiomeForest:
		return GroundForest
	case BiomeTundra:
		return GroundSnow
	case BiomeMountain:
		if height > 235 {
			return GroundSnow
		}
		return GroundRock
	default:
		return GroundGrass
	}
}

func (g *Generator) object(b uint8, gx, gy int32) uint16 {
	roll := g.hash(layerObject, gx, gy) % 100
	switch b {
	case BiomeForest:
		if roll < 30 {
			return ObjectTree
		}
		if roll < 38 {
			return ObjectBush
		}
	case BiomePlains:
		if roll < 4 {
			return ObjectTree
		}
		if roll < 10 {
			return ObjectBush
		}
	case BiomeMountain, BiomeTundra:
		if roll < 6 {
			return ObjectBoulder
		}
	}
	return ObjectNone
}

// noise is bilinear value noise over a lattice that wraps with the world.
func (g *Generator) noise(layer uint8, gx, gy int32) uint8 {
	period := g.worldSize * world.ChunkEdge / lattice
	lx, fx := gx/lattice, float32(gx%lattice)/lattice
	ly, fy := gy/lattice, float32(gy%lattice)/lattice

	corner := func(x, y int32) float32 {
		x, y = wrap(x, period), wrap(y, period)
		return float32(g.hash(layer, x, y) & 0xff)
	}
	top := lerp(corner(lx, ly), corner(lx+1, ly), fx)
	bottom := lerp(corner(lx, ly+1), corner(lx+1, ly+1), fx)
	return uint8(lerp(top, bottom, fy))
}

func (g *Generator) hash(layer uint8, x, y int32) uint64 {
	var key [17]byte
	binary.LittleEndian.PutUint64(key[0:], g.seed)
	binary.LittleEndian.PutUint32(key[8:], uint32(x))
	binary.LittleEndian.PutUint32(key[12:], uint32(y))
	key[16] = layer
	return xxhash.Sum64(key[:])
}

func lerp(a, b, t float32) float32 { return a + (b-a)*t }

func wrap(v, n int32) int32 {
	v %= n
	if v < 0 {
		v += n
	}
	return v
}
