// Package messages defines the game's wire messages and the order in which
// both peers register them.
package messages

import (
	"errors"
	"fmt"
	"math"

	"github.com/zeusync/worldsync/internal/core/protocol"
	"github.com/zeusync/worldsync/internal/core/transport"
	"github.com/zeusync/worldsync/internal/core/wire"
	"github.com/zeusync/worldsync/internal/game/chunk"
	"github.com/zeusync/worldsync/internal/game/world"
)

// Message ids. They follow registration order and must never be reordered.
const (
	IDPlayerConnect protocol.ID = iota + 1
	IDPlayerDisconnect
	IDPlayerListSync
	IDEntitySpawn
	IDEntityMove
	IDEntityDespawn
	IDChunkRequest
	IDChunkData
)

var (
	ErrTooManyEntries  = errors.New("messages: too many entries")
	ErrInvalidSyncMode = errors.New("messages: invalid sync mode")
	ErrInvalidRequest  = errors.New("messages: invalid chunk request type")
)

// Register registers every game message with r. Client and server call it
// before adding handlers.
func Register(r *protocol.Registry) error {
	return errors.Join(
		protocol.Register[PlayerConnect](r, IDPlayerConnect),
		protocol.Register[PlayerDisconnect](r, IDPlayerDisconnect),
		protocol.Register[PlayerListSync](r, IDPlayerListSync),
		protocol.Register[EntitySpawn](r, IDEntitySpawn),
		protocol.Register[EntityMove](r, IDEntityMove),
		protocol.Register[EntityDespawn](r, IDEntityDespawn),
		protocol.Register[ChunkRequest](r, IDChunkRequest),
		protocol.Register[ChunkData](r, IDChunkData),
	)
}

// PlayerConnect announces a player that joined after the receiver.
type PlayerConnect struct {
	ID   uint64
	Name string
}

func (*PlayerConnect) Delivery() transport.Delivery { return transport.ReliableUnordered }

func (m *PlayerConnect) Serialize(w *wire.Writer) error {
	w.U64(m.ID)
	w.String(m.Name)
	return nil
}

func (m *PlayerConnect) Deserialize(r *wire.Reader) error {
	m.ID = r.U64()
	m.Name = r.String()
	return r.Err()
}

// PlayerDisconnect announces a departed player.
type PlayerDisconnect struct {
	ID uint64
}

func (*PlayerDisconnect) Delivery() transport.Delivery { return transport.ReliableUnordered }

func (m *PlayerDisconnect) Serialize(w *wire.Writer) error {
	w.U64(m.ID)
	return nil
}

func (m *PlayerDisconnect) Deserialize(r *wire.Reader) error {
	m.ID = r.U64()
	return r.Err()
}

// PlayerEntry is one roster row inside PlayerListSync.
type PlayerEntry struct {
	ID   uint64
	Name string
}

// PlayerListSync is the full roster, sent to a player when it joins.
type PlayerListSync struct {
	Players []PlayerEntry
}

func (*PlayerListSync) Delivery() transport.Delivery { return transport.ReliableUnordered }

func (m *PlayerListSync) Serialize(w *wire.Writer) error {
	if len(m.Players) > math.MaxUint16 {
		return fmt.Errorf("%w: %d players", ErrTooManyEntries, len(m.Players))
	}
	w.U16(uint16(len(m.Players)))
	for _, p := range m.Players {
		w.U64(p.ID)
		w.String(p.Name)
	}
	return nil
}

func (m *PlayerListSync) Deserialize(r *wire.Reader) error {
	n := int(r.U16())
	m.Players = nil
	// Every entry is at least id + empty string.
	if r.Err() == nil && n*10 > r.Remaining() {
		r.Fail(wire.ErrLengthOverflows)
	}
	if n > 0 && r.Err() == nil {
		m.Players = make([]PlayerEntry, 0, n)
	}
	for i := 0; i < n && r.Err() == nil; i++ {
		m.Players = append(m.Players, PlayerEntry{ID: r.U64(), Name: r.String()})
	}
	return r.Err()
}

// EntitySpawn creates or replaces an entity on the receiver.
type EntitySpawn struct {
	ID       uint64
	Owner    uint64
	Type     uint16
	Position world.Vec2
	Data     []byte
}

func (*EntitySpawn) Delivery() transport.Delivery { return transport.ReliableUnordered }

func (m *EntitySpawn) Serialize(w *wire.Writer) error {
	if len(m.Data) > math.MaxInt32 {
		return fmt.Errorf("%w: %d payload bytes", ErrTooManyEntries, len(m.Data))
	}
	w.U64(m.ID)
	w.U64(m.Owner)
	w.U16(m.Type)
	w.F32(m.Position.X)
	w.F32(m.Position.Y)
	w.I32(int32(len(m.Data)))
	w.Raw(m.Data)
	return nil
}

func (m *EntitySpawn) Deserialize(r *wire.Reader) error {
	m.ID = r.U64()
	m.Owner = r.U64()
	m.Type = r.U16()
	m.Position = world.Vec2{X: r.F32(), Y: r.F32()}
	m.Data = nil
	if n := r.Count(1); n > 0 {
		m.Data = r.Bytes(n)
	}
	return r.Err()
}

// SyncMode tells the receiver's presentation layer how to apply a position.
type SyncMode uint8

const (
	Interpolate SyncMode = iota
	Teleport
)

func (s SyncMode) String() string {
	switch s {
	case Interpolate:
		return "interpolate"
	case Teleport:
		return "teleport"
	default:
		return fmt.Sprintf("syncmode(%d)", uint8(s))
	}
}

// EntityMovement is one entry of an EntityMove batch.
type EntityMovement struct {
	ID       uint64
	Position world.Vec2
	Mode     SyncMode
}

// movementSize is the encoded size of one EntityMovement.
const movementSize = 8 + 4 + 4 + 1

// MaxMovesPerBatch keeps an EntityMove frame inside one QUIC datagram.
const MaxMovesPerBatch = 64

// EntityMove carries the latest positions of many entities. Only the newest
// batch per connection is applied; older ones are dropped in transit.
type EntityMove struct {
	Moves []EntityMovement
}

func (*EntityMove) Delivery() transport.Delivery { return transport.UnreliableSequenced }

func (m *EntityMove) Serialize(w *wire.Writer) error {
	for _, mv := range m.Moves {
		if mv.Mode > Teleport {
			return fmt.Errorf("%w: entity %d: %d", ErrInvalidSyncMode, mv.ID, mv.Mode)
		}
	}
	w.I32(int32(len(m.Moves)))
	for _, mv := range m.Moves {
		w.U64(mv.ID)
		w.F32(mv.Position.X)
		w.F32(mv.Position.Y)
		w.U8(uint8(mv.Mode))
	}
	return nil
}

func (m *EntityMove) Deserialize(r *wire.Reader) error {
	n := r.Count(movementSize)
	m.Moves = nil
	if n > 0 {
		m.Moves = make([]EntityMovement, 0, n)
	}
	for i := 0; i < n && r.Err() == nil; i++ {
		mv := EntityMovement{ID: r.U64(), Position: world.Vec2{X: r.F32(), Y: r.F32()}, Mode: SyncMode(r.U8())}
		if mv.Mode > Teleport {
			r.Fail(fmt.Errorf("%w: %d", ErrInvalidSyncMode, mv.Mode))
			break
		}
		m.Moves = append(m.Moves, mv)
	}
	return r.Err()
}

// Batches splits moves into EntityMove messages of at most MaxMovesPerBatch
// entries.
func Batches(moves []EntityMovement) []*EntityMove {
	var out []*EntityMove
	for len(moves) > 0 {
		n := min(len(moves), MaxMovesPerBatch)
		out = append(out, &EntityMove{Moves: moves[:n:n]})
		moves = moves[n:]
	}
	return out
}

// EntityDespawn removes an entity on the receiver.
type EntityDespawn struct {
	ID uint64
}

func (*EntityDespawn) Delivery() transport.Delivery { return transport.ReliableUnordered }

func (m *EntityDespawn) Serialize(w *wire.Writer) error {
	w.U64(m.ID)
	return nil
}

func (m *EntityDespawn) Deserialize(r *wire.Reader) error {
	m.ID = r.U64()
	return r.Err()
}

// ChunkRequest asks the server to start or stop streaming a set of chunks.
type ChunkRequest struct {
	Type   chunk.RequestKind
	Coords []world.ChunkCoord
}

func (*ChunkRequest) Delivery() transport.Delivery { return transport.ReliableOrdered }

func (m *ChunkRequest) Serialize(w *wire.Writer) error {
	if !m.Type.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidRequest, m.Type)
	}
	w.U8(uint8(m.Type))
	w.I32(int32(len(m.Coords)))
	for _, c := range m.Coords {
		w.I32(c.X)
		w.I32(c.Y)
	}
	return nil
}

func (m *ChunkRequest) Deserialize(r *wire.Reader) error {
	m.Type = chunk.RequestKind(r.U8())
	if r.Err() == nil && !m.Type.Valid() {
		r.Fail(fmt.Errorf("%w: %d", ErrInvalidRequest, m.Type))
	}
	n := r.Count(8)
	m.Coords = nil
	if n > 0 {
		m.Coords = make([]world.ChunkCoord, 0, n)
	}
	for i := 0; i < n && r.Err() == nil; i++ {
		m.Coords = append(m.Coords, world.ChunkCoord{X: r.I32(), Y: r.I32()})
	}
	return r.Err()
}

// cellSize is the encoded size of one chunk cell.
const cellSize = 2 + 2 + 1 + 1 + 1

// ChunkData carries one complete chunk.
type ChunkData struct {
	Chunk *chunk.Data
}

func (*ChunkData) Delivery() transport.Delivery { return transport.ReliableOrdered }

// Serialize fails with a *chunk.IncompleteError, without writing anything,
// when any layer is missing or short.
func (m *ChunkData) Serialize(w *wire.Writer) error {
	if err := m.Chunk.Validate(); err != nil {
		return err
	}
	d := m.Chunk
	w.I32(d.Coord.X)
	w.I32(d.Coord.Y)
	for i := 0; i < world.ChunkCells; i++ {
		w.U16(d.Ground[i])
		w.U16(d.Object[i])
		w.U8(d.Biome[i])
		w.U8(d.Heat[i])
		w.U8(d.Moisture[i])
	}
	return nil
}

func (m *ChunkData) Deserialize(r *wire.Reader) error {
	coord := world.ChunkCoord{X: r.I32(), Y: r.I32()}
	if r.Err() == nil && r.Remaining() < world.ChunkCells*cellSize {
		r.Fail(fmt.Errorf("%w: chunk body", wire.ErrShortBuffer))
	}
	if r.Err() != nil {
		return r.Err()
	}
	d := chunk.New(coord)
	for i := 0; i < world.ChunkCells; i++ {
		d.Ground[i] = r.U16()
		d.Object[i] = r.U16()
		d.Biome[i] = r.U8()
		d.Heat[i] = r.U8()
		d.Moisture[i] = r.U8()
	}
	if err := r.Err(); err != nil {
		return err
	}
	m.Chunk = d
	return nil
}
