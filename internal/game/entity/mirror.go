package entity

import (
	"errors"
	"fmt"

	"github.com/zeusync/worldsync/internal/core/events"
	"github.com/zeusync/worldsync/internal/core/observability/log"
	"github.com/zeusync/worldsync/internal/core/player"
	"github.com/zeusync/worldsync/internal/core/protocol"
	"github.com/zeusync/worldsync/internal/game/messages"
	"github.com/zeusync/worldsync/internal/game/world"
)

// SpawnEvent reports a new or replaced entity. Local is set for the
// character this client controls.
type SpawnEvent struct {
	Entity *Entity
	Local  bool
}

// MoveEvent reports a position change. Mode is a presentation hint only:
// ease towards Entity.Position on Interpolate, snap on Teleport.
type MoveEvent struct {
	Entity   *Entity
	Previous world.Vec2
	Mode     messages.SyncMode
}

type DespawnEvent struct {
	Entity *Entity
}

// Mirror is the client's view of the server's entities.
type Mirror struct {
	table   *Table
	localID player.ID
	logger  log.Log

	moves  []messages.EntityMovement
	queued map[uint64]int

	// despawned holds ids whose despawn arrived before their spawn.
	despawned map[uint64]struct{}

	OnSpawn   events.Observers[SpawnEvent]
	OnMove    events.Observers[MoveEvent]
	OnDespawn events.Observers[DespawnEvent]
}

func NewMirror(logger log.Log) *Mirror {
	if logger == nil {
		logger = log.Provide()
	}
	return &Mirror{
		table:     NewTable(),
		logger:    logger.With(log.String("component", "entity_mirror")),
		queued:    make(map[uint64]int),
		despawned: make(map[uint64]struct{}),
	}
}

// Register installs the handlers for spawn, move and despawn.
func (m *Mirror) Register(r *protocol.Registry) error {
	if err := protocol.Handle[messages.EntitySpawn](r, m.handleSpawn); err != nil {
		return err
	}
	if err := protocol.Handle[messages.EntityMove](r, m.handleMove); err != nil {
		return err
	}
	return protocol.Handle[messages.EntityDespawn](r, m.handleDespawn)
}

// SetLocalID sets the player id whose character this client controls.
func (m *Mirror) SetLocalID(id player.ID) { m.localID = id }

func (m *Mirror) Table() *Table { return m.table }

// Local returns the controlled character once the server has spawned it.
func (m *Mirror) Local() (*Entity, bool) {
	if m.localID == 0 {
		return nil, false
	}
	return m.table.Get(m.localID)
}

func (m *Mirror) handleSpawn(msg *messages.EntitySpawn, _ *player.Player) error {
	if _, gone := m.despawned[msg.ID]; gone {
		delete(m.despawned, msg.ID)
		m.logger.Debug("Dropped spawn of despawned entity", log.Uint64("entity_id", msg.ID))
		return nil
	}
	e := &Entity{ID: msg.ID, Owner: msg.Owner, Type: msg.Type, Position: msg.Position, Data: msg.Data}
	m.table.Put(e)
	return m.OnSpawn.Emit(SpawnEvent{Entity: e, Local: m.localID != 0 && e.ID == m.localID})
}

func (m *Mirror) handleMove(msg *messages.EntityMove, _ *player.Player) error {
	var errs []error
	for _, mv := range msg.Moves {
		e, ok := m.table.Get(mv.ID)
		if !ok {
			// The spawn travels on another channel and may still be in flight.
			m.logger.Debug("Move for unknown entity", log.Uint64("entity_id", mv.ID))
			continue
		}
		prev := e.Position
		e.Position = mv.Position
		if err := m.OnMove.Emit(MoveEvent{Entity: e, Previous: prev, Mode: mv.Mode}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Mirror) handleDespawn(msg *messages.EntityDespawn, _ *player.Player) error {
	e, ok := m.table.Delete(msg.ID)
	if !ok {
		// Spawns and despawns travel on separate streams.
		m.despawned[msg.ID] = struct{}{}
		return nil
	}
	m.dequeue(msg.ID)
	return m.OnDespawn.Emit(DespawnEvent{Entity: e})
}

// MoveControlled moves the local character and queues the update for the
// server.
func (m *Mirror) MoveControlled(pos world.Vec2, mode messages.SyncMode) error {
	return m.MoveOwned(m.localID, pos, mode)
}

// MoveOwned moves an entity owned by the local player. The server ignores
// moves for anything else, so they are refused here.
func (m *Mirror) MoveOwned(id uint64, pos world.Vec2, mode messages.SyncMode) error {
	e, ok := m.table.Get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	if m.localID == 0 || e.Owner != m.localID {
		return fmt.Errorf("entity %d is owned by %d", id, e.Owner)
	}
	e.Position = pos
	mv := messages.EntityMovement{ID: id, Position: pos, Mode: mode}
	if i, ok := m.queued[id]; ok {
		m.moves[i] = mv
		return nil
	}
	m.queued[id] = len(m.moves)
	m.moves = append(m.moves, mv)
	return nil
}

// Flush sends the queued moves.
func (m *Mirror) Flush(send func(protocol.Message) error) error {
	if len(m.moves) == 0 {
		return nil
	}
	defer func() {
		m.moves = m.moves[:0]
		clear(m.queued)
	}()
	for _, batch := range messages.Batches(m.moves) {
		if err := send(batch); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mirror) dequeue(id uint64) {
	i, ok := m.queued[id]
	if !ok {
		return
	}
	m.moves = append(m.moves[:i], m.moves[i+1:]...)
	delete(m.queued, id)
	for j := i; j < len(m.moves); j++ {
		m.queued[m.moves[j].ID] = j
	}
}

// Clear despawns everything locally, as after a disconnect.
func (m *Mirror) Clear() {
	for _, e := range m.table.All() {
		m.table.Delete(e.ID)
		if err := m.OnDespawn.Emit(DespawnEvent{Entity: e}); err != nil {
			m.logger.Warn("Despawn observer failed", log.Error(err))
		}
	}
	m.moves = m.moves[:0]
	clear(m.queued)
	clear(m.despawned)
	m.localID = 0
}
