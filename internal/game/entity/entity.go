// Package entity synchronizes entities from the server, which owns them, to
// clients, which mirror what they have been told about.
package entity

import (
	"errors"
	"sort"

	"github.com/zeusync/worldsync/internal/core/player"
	"github.com/zeusync/worldsync/internal/game/world"
)

// TypeCharacter is the entity type of a player's avatar.
const TypeCharacter uint16 = 1

var (
	ErrUnknownEntity = errors.New("entity: unknown entity")
	ErrDuplicateID   = errors.New("entity: id already in use")
)

// Entity is one synchronized object. Data is an opaque type-specific payload.
type Entity struct {
	ID       uint64
	Owner    player.ID
	Type     uint16
	Position world.Vec2
	Data     []byte
}

// Table indexes entities by id. It is owned by the tick goroutine.
type Table struct {
	entities map[uint64]*Entity
}

func NewTable() *Table {
	return &Table{entities: make(map[uint64]*Entity)}
}

func (t *Table) Get(id uint64) (*Entity, bool) {
	e, ok := t.entities[id]
	return e, ok
}

// Put inserts or replaces e.
func (t *Table) Put(e *Entity) {
	t.entities[e.ID] = e
}

func (t *Table) Delete(id uint64) (*Entity, bool) {
	e, ok := t.entities[id]
	if ok {
		delete(t.entities, id)
	}
	return e, ok
}

func (t *Table) Len() int { return len(t.entities) }

// All returns every entity ordered by id.
func (t *Table) All() []*Entity {
	out := make([]*Entity, 0, len(t.entities))
	for _, e := range t.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OwnedBy returns the entities owned by owner, ordered by id.
func (t *Table) OwnedBy(owner player.ID) []*Entity {
	var out []*Entity
	for _, e := range t.All() {
		if e.Owner == owner {
			out = append(out, e)
		}
	}
	return out
}

func (t *Table) Clear() {
	clear(t.entities)
}
