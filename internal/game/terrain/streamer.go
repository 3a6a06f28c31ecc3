package terrain

import (
	"github.com/zeusync/worldsync/internal/core/events"
	"github.com/zeusync/worldsync/internal/core/observability/log"
	"github.com/zeusync/worldsync/internal/core/player"
	"github.com/zeusync/worldsync/internal/core/protocol"
	"github.com/zeusync/worldsync/internal/game/chunk"
	"github.com/zeusync/worldsync/internal/game/messages"
	"github.com/zeusync/worldsync/internal/game/world"
)

// Streamer keeps the client's chunk cache filled around a position.
type Streamer struct {
	cache    *chunk.Cache
	interest *chunk.Interest
	logger   log.Log

	// OnChunkLoaded fires for every chunk stored in the cache.
	OnChunkLoaded events.Observers[*chunk.Data]
}

func NewStreamer(radius, worldSize int32, logger log.Log) *Streamer {
	if logger == nil {
		logger = log.Provide()
	}
	cache := chunk.NewCache()
	return &Streamer{
		cache:    cache,
		interest: chunk.NewInterest(cache, radius, worldSize),
		logger:   logger.With(log.String("component", "chunk_streamer")),
	}
}

func (s *Streamer) Register(r *protocol.Registry) error {
	return protocol.Handle[messages.ChunkData](r, s.handleChunk)
}

func (s *Streamer) Cache() *chunk.Cache { return s.cache }

func (s *Streamer) Interest() *chunk.Interest { return s.interest }

func (s *Streamer) handleChunk(msg *messages.ChunkData, _ *player.Player) error {
	stored, err := s.interest.Accept(msg.Chunk)
	if err != nil {
		return err
	}
	if !stored {
		s.logger.Debug("Discarded chunk no longer wanted", log.Stringer("coord", msg.Chunk.Coord))
		return nil
	}
	return s.OnChunkLoaded.Emit(msg.Chunk)
}

// Tick runs one interest pass at pos and sends the resulting requests.
func (s *Streamer) Tick(pos world.Vec2, send func(protocol.Message) error) error {
	s.interest.Update(pos)
	return s.interest.Flush(func(kind chunk.RequestKind, coords []world.ChunkCoord) error {
		return send(&messages.ChunkRequest{Type: kind, Coords: coords})
	})
}

// Reset empties the cache, as after a disconnect.
func (s *Streamer) Reset() { s.interest.Reset() }
