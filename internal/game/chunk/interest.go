package chunk

import (
	"errors"

	"github.com/zeusync/worldsync/internal/game/world"
)

// RequestKind is the action of a chunk request.
type RequestKind uint8

const (
	RequestLoad RequestKind = iota
	RequestUnload
)

func (k RequestKind) String() string {
	switch k {
	case RequestLoad:
		return "load"
	case RequestUnload:
		return "unload"
	default:
		return "unknown"
	}
}

func (k RequestKind) Valid() bool { return k <= RequestUnload }

// DefaultLoadRadius is the inner interest radius in chunks.
const DefaultLoadRadius = 2

// InLoadBand reports whether a chunk at offset (dx, dy) from the centre chunk
// lies within radius r, measured between chunk centres with half a chunk of
// slack.
func InLoadBand(dx, dy, r int32) bool {
	return 4*(dx*dx+dy*dy) <= (2*r+1)*(2*r+1)
}

// BeyondUnloadBand reports whether (dx, dy) lies outside radius r+1.
func BeyondUnloadBand(dx, dy, r int32) bool {
	return 4*(dx*dx+dy*dy) > (2*r+3)*(2*r+3)
}

// Send delivers one batched request. Flush calls it at most once per kind.
type Send func(kind RequestKind, coords []world.ChunkCoord) error

// Interest decides which chunks the client keeps resident around its
// controlled entity. Chunks inside the load band are requested, chunks beyond
// the unload band are released, and anything in between stays as it is.
// Requests accumulate across a tick and leave in at most two batches.
type Interest struct {
	cache     *Cache
	radius    int32
	worldSize int32

	pending map[world.ChunkCoord]struct{}
	loads   map[world.ChunkCoord]struct{}
	unloads map[world.ChunkCoord]struct{}
}

func NewInterest(cache *Cache, radius, worldSize int32) *Interest {
	if radius <= 0 {
		radius = DefaultLoadRadius
	}
	if worldSize <= 0 {
		worldSize = world.DefaultSize
	}
	return &Interest{
		cache:     cache,
		radius:    radius,
		worldSize: worldSize,
		pending:   make(map[world.ChunkCoord]struct{}),
		loads:     make(map[world.ChunkCoord]struct{}),
		unloads:   make(map[world.ChunkCoord]struct{}),
	}
}

func (i *Interest) Radius() int32 { return i.radius }

// Update runs one interest pass for an entity at pos.
func (i *Interest) Update(pos world.Vec2) {
	center := world.ChunkOf(pos, i.worldSize)

	for dy := -i.radius; dy <= i.radius; dy++ {
		for dx := -i.radius; dx <= i.radius; dx++ {
			if !InLoadBand(dx, dy, i.radius) {
				continue
			}
			i.requestLoad(world.ChunkCoord{X: center.X + dx, Y: center.Y + dy}.Wrap(i.worldSize))
		}
	}

	for coord := range i.cache.chunks {
		i.unloadIfBeyond(center, coord)
	}
	for _, set := range []map[world.ChunkCoord]struct{}{i.pending, i.loads} {
		for coord := range set {
			i.unloadIfBeyond(center, coord)
		}
	}
}

func (i *Interest) unloadIfBeyond(center, coord world.ChunkCoord) {
	dx, dy := center.Offset(coord, i.worldSize)
	if BeyondUnloadBand(dx, dy, i.radius) {
		i.requestUnload(coord)
	}
}

func (i *Interest) requestLoad(coord world.ChunkCoord) {
	if i.cache.Has(coord) {
		return
	}
	if _, ok := i.pending[coord]; ok {
		return
	}
	delete(i.unloads, coord)
	i.loads[coord] = struct{}{}
}

// requestUnload drops the chunk from the cache at once; the server's own copy
// is unaffected.
func (i *Interest) requestUnload(coord world.ChunkCoord) {
	_, queued := i.loads[coord]
	delete(i.loads, coord)
	if queued {
		return
	}
	_, wasPending := i.pending[coord]
	delete(i.pending, coord)
	if i.cache.Drop(coord) || wasPending {
		i.unloads[coord] = struct{}{}
	}
}

// Flush sends the accumulated loads and unloads as one batch each and marks
// the loaded coordinates pending. Both sets are cleared even when send fails;
// unanswered loads are requested again on the next pass.
func (i *Interest) Flush(send Send) error {
	var errs []error
	if len(i.loads) > 0 {
		coords := keys(i.loads)
		if err := send(RequestLoad, coords); err != nil {
			errs = append(errs, err)
		} else {
			for _, c := range coords {
				i.pending[c] = struct{}{}
			}
		}
		clear(i.loads)
	}
	if len(i.unloads) > 0 {
		if err := send(RequestUnload, keys(i.unloads)); err != nil {
			errs = append(errs, err)
		}
		clear(i.unloads)
	}
	return errors.Join(errs...)
}

// Accept stores a chunk received from the server if it is still wanted and
// reports whether it was stored. Answers to requests that were unloaded in the
// meantime are discarded.
func (i *Interest) Accept(d *Data) (bool, error) {
	if d == nil {
		return false, &IncompleteError{Layer: "chunk"}
	}
	_, wanted := i.pending[d.Coord]
	if !wanted && !i.cache.Has(d.Coord) {
		return false, nil
	}
	if err := i.cache.Put(d); err != nil {
		return false, err
	}
	delete(i.pending, d.Coord)
	return true, nil
}

// Pending returns the number of requested chunks not yet received.
func (i *Interest) Pending() int { return len(i.pending) }

// Reset forgets all requests and empties the cache.
func (i *Interest) Reset() {
	clear(i.pending)
	clear(i.loads)
	clear(i.unloads)
	i.cache.Clear()
}

func keys(set map[world.ChunkCoord]struct{}) []world.ChunkCoord {
	out := make([]world.ChunkCoord, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	SortCoords(out)
	return out
}
