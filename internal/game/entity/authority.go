package entity

import (
	"errors"
	"fmt"

	"github.com/zeusync/worldsync/internal/core/observability/log"
	"github.com/zeusync/worldsync/internal/core/player"
	"github.com/zeusync/worldsync/internal/core/protocol"
	"github.com/zeusync/worldsync/internal/game/messages"
	"github.com/zeusync/worldsync/internal/game/world"
)

// Sender is the part of the server session the authority needs.
type Sender interface {
	SendToPlayer(msg protocol.Message, p *player.Player) error
	Broadcast(msg protocol.Message, skip func(*player.Player) bool) error
	Players() []*player.Player
}

// SpawnPoint picks where a joining player's character appears.
type SpawnPoint func(p *player.Player) world.Vec2

// Authority owns the server's entity table. Spawns and despawns go out
// immediately on reliable channels; moves are collected during the tick and
// sent by Flush as one sequenced batch per recipient.
type Authority struct {
	table  *Table
	sender Sender
	spawn  SpawnPoint
	logger log.Log

	moves  []messages.EntityMovement
	queued map[uint64]int
	nextID uint64
}

func NewAuthority(sender Sender, spawn SpawnPoint, logger log.Log) *Authority {
	if logger == nil {
		logger = log.Provide()
	}
	if spawn == nil {
		spawn = func(*player.Player) world.Vec2 { return world.Vec2{} }
	}
	return &Authority{
		table:  NewTable(),
		sender: sender,
		spawn:  spawn,
		logger: logger.With(log.String("component", "entity_authority")),
		queued: make(map[uint64]int),
		nextID: 1 << 63,
	}
}

// Register handles EntityMove sent by clients for entities they own.
func (a *Authority) Register(r *protocol.Registry) error {
	return protocol.Handle[messages.EntityMove](r, a.handleClientMove)
}

func (a *Authority) Table() *Table { return a.table }

// NextID allocates an id for a server-created entity. Character ids equal
// their owner's player id; these ids live in the upper half of the range.
func (a *Authority) NextID() uint64 {
	for {
		id := a.nextID
		a.nextID++
		if _, taken := a.table.Get(id); !taken {
			return id
		}
	}
}

// Spawn adds e and tells every player about it.
func (a *Authority) Spawn(e *Entity) error {
	if _, exists := a.table.Get(e.ID); exists {
		return fmt.Errorf("%w: %d", ErrDuplicateID, e.ID)
	}
	a.table.Put(e)
	a.logger.Debug("Entity spawned",
		log.Uint64("entity_id", e.ID),
		log.Uint64("owner", e.Owner),
		log.Uint16("type", e.Type),
		log.Stringer("position", e.Position))
	return a.sender.Broadcast(spawnMessage(e), nil)
}

// Move updates the position of id and queues it for the next Flush. A queued
// Teleport is kept even if an Interpolate move follows in the same tick.
func (a *Authority) Move(id uint64, pos world.Vec2, mode messages.SyncMode) error {
	e, ok := a.table.Get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	e.Position = pos
	if i, ok := a.queued[id]; ok {
		if a.moves[i].Mode == messages.Teleport {
			mode = messages.Teleport
		}
		a.moves[i] = messages.EntityMovement{ID: id, Position: pos, Mode: mode}
		return nil
	}
	a.queued[id] = len(a.moves)
	a.moves = append(a.moves, messages.EntityMovement{ID: id, Position: pos, Mode: mode})
	return nil
}

// Despawn removes id and tells every player.
func (a *Authority) Despawn(id uint64) error {
	if _, ok := a.table.Delete(id); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	if i, ok := a.queued[id]; ok {
		a.moves = append(a.moves[:i], a.moves[i+1:]...)
		delete(a.queued, id)
		for j := i; j < len(a.moves); j++ {
			a.queued[a.moves[j].ID] = j
		}
	}
	return a.sender.Broadcast(&messages.EntityDespawn{ID: id}, nil)
}

// Flush sends the moves queued this tick. Each recipient gets every queued
// move except Interpolate moves of entities it owns, which it already
// predicted locally.
func (a *Authority) Flush() error {
	if len(a.moves) == 0 {
		return nil
	}
	defer func() {
		a.moves = a.moves[:0]
		clear(a.queued)
	}()

	var errs []error
	for _, p := range a.sender.Players() {
		moves := make([]messages.EntityMovement, 0, len(a.moves))
		for _, mv := range a.moves {
			if mv.Mode == messages.Interpolate {
				if e, ok := a.table.Get(mv.ID); ok && e.Owner == p.ID {
					continue
				}
			}
			moves = append(moves, mv)
		}
		for _, batch := range messages.Batches(moves) {
			if err := a.sender.SendToPlayer(batch, p); err != nil {
				errs = append(errs, fmt.Errorf("moves to %d: %w", p.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}

// OnPlayerConnect sends the joiner every existing entity, then spawns its
// character.
func (a *Authority) OnPlayerConnect(p *player.Player) error {
	var errs []error
	for _, e := range a.table.All() {
		if err := a.sender.SendToPlayer(spawnMessage(e), p); err != nil {
			errs = append(errs, err)
		}
	}
	character := &Entity{ID: p.ID, Owner: p.ID, Type: TypeCharacter, Position: a.spawn(p)}
	if err := a.Spawn(character); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// OnPlayerDisconnect despawns everything the player owned.
func (a *Authority) OnPlayerDisconnect(p *player.Player) error {
	var errs []error
	for _, e := range a.table.OwnedBy(p.ID) {
		if err := a.Despawn(e.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *Authority) handleClientMove(msg *messages.EntityMove, from *player.Player) error {
	if from == nil {
		return nil
	}
	for _, mv := range msg.Moves {
		e, ok := a.table.Get(mv.ID)
		if !ok || e.Owner != from.ID {
			a.logger.Debug("Ignored move for entity not owned by sender",
				log.Uint64("entity_id", mv.ID),
				log.Uint64("player_id", from.ID))
			continue
		}
		if err := a.Move(mv.ID, mv.Position, mv.Mode); err != nil {
			return err
		}
	}
	return nil
}

func spawnMessage(e *Entity) *messages.EntitySpawn {
	return &messages.EntitySpawn{ID: e.ID, Owner: e.Owner, Type: e.Type, Position: e.Position, Data: e.Data}
}
