package chunk

import (
	"sort"

	"github.com/zeusync/worldsync/internal/game/world"
)

// Cache is the client's copy of the chunks it asked for. It is owned by the
// tick goroutine and is not safe for concurrent use.
type Cache struct {
	chunks map[world.ChunkCoord]*Data
}

func NewCache() *Cache {
	return &Cache{chunks: make(map[world.ChunkCoord]*Data)}
}

func (c *Cache) Has(coord world.ChunkCoord) bool {
	_, ok := c.chunks[coord]
	return ok
}

func (c *Cache) Get(coord world.ChunkCoord) (*Data, bool) {
	d, ok := c.chunks[coord]
	return d, ok
}

// Put stores d, replacing any cached chunk at the same coordinate. Incomplete
// chunks are refused.
func (c *Cache) Put(d *Data) error {
	if err := d.Validate(); err != nil {
		return err
	}
	c.chunks[d.Coord] = d
	return nil
}

func (c *Cache) Drop(coord world.ChunkCoord) bool {
	if _, ok := c.chunks[coord]; !ok {
		return false
	}
	delete(c.chunks, coord)
	return true
}

func (c *Cache) Len() int { return len(c.chunks) }

// Coords returns the cached coordinates in row-major order.
func (c *Cache) Coords() []world.ChunkCoord {
	out := make([]world.ChunkCoord, 0, len(c.chunks))
	for coord := range c.chunks {
		out = append(out, coord)
	}
	SortCoords(out)
	return out
}

func (c *Cache) Clear() {
	clear(c.chunks)
}

// SortCoords orders coords by Y, then X.
func SortCoords(coords []world.ChunkCoord) {
	sort.Slice(coords, func(i, j int) bool {
		if coords[i].Y != coords[j].Y {
			return coords[i].Y < coords[j].Y
		}
		return coords[i].X < coords[j].X
	})
}
