package chunk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/worldsync/internal/game/world"
)

const defaultShardCount = 16

var ErrNoGenerator = errors.New("chunk: store has no generator")

// Store is the server's authoritative chunk map. Chunks are spread over
// shards by an xxhash of their coordinate so generation of distinct chunks can
// proceed in parallel.
type Store struct {
	shards    []storeShard
	generator Generator
}

type storeShard struct {
	mx     sync.RWMutex
	chunks map[world.ChunkCoord]*Data
}

// NewStore creates a store with shardCount shards (16 when <= 0). generator
// may be nil, in which case only Put chunks exist.
func NewStore(shardCount int, generator Generator) *Store {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	s := &Store{
		shards:    make([]storeShard, shardCount),
		generator: generator,
	}
	for i := range s.shards {
		s.shards[i].chunks = make(map[world.ChunkCoord]*Data)
	}
	return s
}

func (s *Store) shardFor(coord world.ChunkCoord) *storeShard {
	var key [8]byte
	binary.LittleEndian.PutUint32(key[:4], uint32(coord.X))
	binary.LittleEndian.PutUint32(key[4:], uint32(coord.Y))
	return &s.shards[xxhash.Sum64(key[:])%uint64(len(s.shards))]
}

func (s *Store) Get(coord world.ChunkCoord) (*Data, bool) {
	sh := s.shardFor(coord)
	sh.mx.RLock()
	defer sh.mx.RUnlock()
	d, ok := sh.chunks[coord]
	return d, ok
}

// Put stores a complete chunk, replacing the previous one.
func (s *Store) Put(d *Data) error {
	if err := d.Validate(); err != nil {
		return err
	}
	sh := s.shardFor(d.Coord)
	sh.mx.Lock()
	sh.chunks[d.Coord] = d
	sh.mx.Unlock()
	return nil
}

// GetOrGenerate returns the chunk at coord, generating and storing it first if
// it does not exist yet. generated reports whether the generator ran.
func (s *Store) GetOrGenerate(coord world.ChunkCoord) (d *Data, generated bool, err error) {
	if d, ok := s.Get(coord); ok {
		return d, false, nil
	}
	if s.generator == nil {
		return nil, false, ErrNoGenerator
	}

	sh := s.shardFor(coord)
	sh.mx.Lock()
	defer sh.mx.Unlock()
	if d, ok := sh.chunks[coord]; ok {
		return d, false, nil
	}
	d = s.generator.GenerateChunkAtPosition(coord)
	if err = d.Validate(); err != nil {
		return nil, false, fmt.Errorf("generate %s: %w", coord, err)
	}
	if d.Coord != coord {
		return nil, false, fmt.Errorf("generate %s: generator returned chunk %s", coord, d.Coord)
	}
	sh.chunks[coord] = d
	return d, true, nil
}

// Update runs fn on the stored chunk under the shard's write lock.
func (s *Store) Update(coord world.ChunkCoord, fn func(*Data) error) error {
	sh := s.shardFor(coord)
	sh.mx.Lock()
	defer sh.mx.Unlock()
	d, ok := sh.chunks[coord]
	if !ok {
		return fmt.Errorf("chunk %s: not in store", coord)
	}
	return fn(d)
}

func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		s.shards[i].mx.RLock()
		n += len(s.shards[i].chunks)
		s.shards[i].mx.RUnlock()
	}
	return n
}
