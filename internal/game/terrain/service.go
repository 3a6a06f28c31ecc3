// Package terrain streams chunks between the server's authoritative store and
// the clients' caches over ChunkRequest and ChunkData.
package terrain

import (
	"errors"
	"fmt"

	"github.com/zeusync/worldsync/internal/core/observability/log"
	"github.com/zeusync/worldsync/internal/core/player"
	"github.com/zeusync/worldsync/internal/core/protocol"
	"github.com/zeusync/worldsync/internal/game/chunk"
	"github.com/zeusync/worldsync/internal/game/messages"
	"github.com/zeusync/worldsync/internal/game/world"
	"github.com/zeusync/worldsync/pkg/concurrent"
)

// Sender is the part of the server session the service needs.
type Sender interface {
	SendToPlayer(msg protocol.Message, p *player.Player) error
	Player(id player.ID) (*player.Player, bool)
}

// Service answers chunk requests from the store and remembers which player
// holds which chunk, so that world changes reach exactly those players.
type Service struct {
	store     *chunk.Store
	sender    Sender
	worldSize int32
	logger    log.Log

	interest map[player.ID]map[world.ChunkCoord]struct{}
}

func NewService(store *chunk.Store, sender Sender, worldSize int32, logger log.Log) *Service {
	if logger == nil {
		logger = log.Provide()
	}
	if worldSize <= 0 {
		worldSize = world.DefaultSize
	}
	return &Service{
		store:     store,
		sender:    sender,
		worldSize: worldSize,
		logger:    logger.With(log.String("component", "chunk_service")),
		interest:  make(map[player.ID]map[world.ChunkCoord]struct{}),
	}
}

func (s *Service) Register(r *protocol.Registry) error {
	return protocol.Handle[messages.ChunkRequest](r, s.handleRequest)
}

func (s *Service) handleRequest(msg *messages.ChunkRequest, from *player.Player) error {
	if from == nil {
		return nil
	}
	switch msg.Type {
	case chunk.RequestLoad:
		return s.load(from, msg.Coords)
	case chunk.RequestUnload:
		s.unload(from, msg.Coords)
		return nil
	default:
		return fmt.Errorf("chunk request type %d", msg.Type)
	}
}

// load generates missing chunks in parallel, then sends them in request order.
func (s *Service) load(p *player.Player, coords []world.ChunkCoord) error {
	coords = s.normalize(coords)
	chunks, err := concurrent.ParallelMap(coords, 0, func(c world.ChunkCoord) (*chunk.Data, error) {
		d, _, err := s.store.GetOrGenerate(c)
		return d, err
	})
	if err != nil {
		return fmt.Errorf("load chunks for %d: %w", p.ID, err)
	}

	held := s.held(p.ID)
	var errs []error
	for _, d := range chunks {
		held[d.Coord] = struct{}{}
		if err := s.sender.SendToPlayer(&messages.ChunkData{Chunk: d}, p); err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.Debug("Chunks sent", log.Uint64("player_id", p.ID), log.Int("count", len(chunks)))
	return errors.Join(errs...)
}

func (s *Service) unload(p *player.Player, coords []world.ChunkCoord) {
	held, ok := s.interest[p.ID]
	if !ok {
		return
	}
	for _, c := range s.normalize(coords) {
		delete(held, c)
	}
}

func (s *Service) held(id player.ID) map[world.ChunkCoord]struct{} {
	held, ok := s.interest[id]
	if !ok {
		held = make(map[world.ChunkCoord]struct{})
		s.interest[id] = held
	}
	return held
}

// normalize wraps coords and drops duplicates, keeping the first occurrence.
func (s *Service) normalize(coords []world.ChunkCoord) []world.ChunkCoord {
	seen := make(map[world.ChunkCoord]struct{}, len(coords))
	out := make([]world.ChunkCoord, 0, len(coords))
	for _, c := range coords {
		c = c.Wrap(s.worldSize)
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Holds reports whether player id currently holds coord.
func (s *Service) Holds(id player.ID, coord world.ChunkCoord) bool {
	_, ok := s.interest[id][coord.Wrap(s.worldSize)]
	return ok
}

// SetCell changes one cell of an authoritative chunk and resends the chunk to
// every player holding it.
func (s *Service) SetCell(coord world.ChunkCoord, x, y int, ground, object uint16) error {
	if x < 0 || x >= world.ChunkEdge || y < 0 || y >= world.ChunkEdge {
		return fmt.Errorf("cell (%d,%d) outside chunk", x, y)
	}
	coord = coord.Wrap(s.worldSize)
	if _, _, err := s.store.GetOrGenerate(coord); err != nil {
		return err
	}

	var snapshot *chunk.Data
	err := s.store.Update(coord, func(d *chunk.Data) error {
		i := chunk.CellIndex(x, y)
		d.Ground[i] = ground
		d.Object[i] = object
		snapshot = d.Clone()
		return nil
	})
	if err != nil {
		return err
	}

	var errs []error
	for id, held := range s.interest {
		if _, ok := held[coord]; !ok {
			continue
		}
		p, ok := s.sender.Player(id)
		if !ok {
			continue
		}
		if err = s.sender.SendToPlayer(&messages.ChunkData{Chunk: snapshot}, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnPlayerDisconnect forgets the player's interest set.
func (s *Service) OnPlayerDisconnect(p *player.Player) error {
	delete(s.interest, p.ID)
	return nil
}
