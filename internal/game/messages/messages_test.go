package messages

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/worldsync/internal/core/observability/log"
	"github.com/zeusync/worldsync/internal/core/player"
	"github.com/zeusync/worldsync/internal/core/protocol"
	"github.com/zeusync/worldsync/internal/core/wire"
	"github.com/zeusync/worldsync/internal/game/chunk"
	"github.com/zeusync/worldsync/internal/game/world"
)

func newRegistry(t *testing.T) *protocol.Registry {
	t.Helper()
	r := protocol.NewRegistry(log.Nop())
	require.NoError(t, Register(r))
	return r
}

// roundTrip encodes msg through the registry and decodes it into out.
func roundTrip[M any, PM interface {
	*M
	protocol.Message
}](t *testing.T, msg PM) *M {
	t.Helper()
	r := newRegistry(t)
	var got *M
	protocol.MustHandle[M, PM](r, func(m *M, _ *player.Player) error {
		got = m
		return nil
	})
	frame, err := r.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, r.DispatchFrame(frame, nil))
	require.NotNil(t, got)
	return got
}

func TestRegistrationOrder(t *testing.T) {
	r := newRegistry(t)
	assert.Equal(t, 8, r.Len())

	for want, msg := range map[protocol.ID]protocol.Message{
		1: &PlayerConnect{}, 2: &PlayerDisconnect{}, 3: &PlayerListSync{}, 4: &EntitySpawn{},
		5: &EntityMove{}, 6: &EntityDespawn{}, 7: &ChunkRequest{}, 8: &ChunkData{},
	} {
		id, ok := r.IDOf(msg)
		require.True(t, ok)
		assert.Equal(t, want, id, "%T", msg)
	}

	assert.Error(t, Register(r), "second registration must collide")
}

func TestRoundTrips(t *testing.T) {
	pc := &PlayerConnect{ID: math.MaxUint64, Name: "Zoë"}
	assert.Equal(t, pc, roundTrip(t, pc))

	pd := &PlayerDisconnect{ID: 0}
	assert.Equal(t, pd, roundTrip(t, pd))

	pls := &PlayerListSync{Players: []PlayerEntry{{ID: 1, Name: "a"}, {ID: math.MaxUint64, Name: ""}}}
	assert.Equal(t, pls, roundTrip(t, pls))

	es := &EntitySpawn{ID: 9, Owner: 3, Type: math.MaxUint16, Position: world.Vec2{X: -1.5, Y: 1e6}, Data: []byte{1, 2, 3}}
	assert.Equal(t, es, roundTrip(t, es))

	empty := &EntitySpawn{ID: 1}
	assert.Equal(t, empty, roundTrip(t, empty))

	ed := &EntityDespawn{ID: 77}
	assert.Equal(t, ed, roundTrip(t, ed))

	cr := &ChunkRequest{Type: chunk.RequestUnload, Coords: []world.ChunkCoord{{X: 0, Y: 0}, {X: -1, Y: math.MaxInt32}}}
	assert.Equal(t, cr, roundTrip(t, cr))

	none := &ChunkRequest{Type: chunk.RequestLoad}
	assert.Equal(t, none, roundTrip(t, none))
}

func TestEmptyPlayerListIsTwoBytes(t *testing.T) {
	w := wire.NewWriter(8)
	require.NoError(t, (&PlayerListSync{}).Serialize(w))
	assert.Equal(t, []byte{0, 0}, w.Bytes())

	got := roundTrip(t, &PlayerListSync{})
	assert.Empty(t, got.Players)
}

func TestEntityMovePreservesSyncModes(t *testing.T) {
	mv := &EntityMove{Moves: []EntityMovement{
		{ID: 1, Position: world.Vec2{X: 1, Y: 2}},
		{ID: 2, Position: world.Vec2{X: 3, Y: 4}, Mode: Teleport},
		{ID: 3, Position: world.Vec2{X: 5, Y: 6}, Mode: Interpolate},
	}}
	got := roundTrip(t, mv)
	require.Len(t, got.Moves, 3)
	assert.Equal(t, []SyncMode{Interpolate, Teleport, Interpolate},
		[]SyncMode{got.Moves[0].Mode, got.Moves[1].Mode, got.Moves[2].Mode})
	assert.Equal(t, mv, got)
}

func TestEntityMoveRejectsUnknownMode(t *testing.T) {
	w := wire.NewWriter(32)
	err := (&EntityMove{Moves: []EntityMovement{{ID: 1, Mode: 9}}}).Serialize(w)
	assert.ErrorIs(t, err, ErrInvalidSyncMode)
	assert.Equal(t, 0, w.Len())

	r := newRegistry(t)
	protocol.MustHandle[EntityMove](r, func(*EntityMove, *player.Player) error { return nil })
	payload := []byte{1, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 7}
	assert.ErrorIs(t, r.Dispatch(IDEntityMove, payload, nil), protocol.ErrMalformedPayload)
}

func TestBatches(t *testing.T) {
	moves := make([]EntityMovement, MaxMovesPerBatch*2+1)
	batches := Batches(moves)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0].Moves, MaxMovesPerBatch)
	assert.Len(t, batches[2].Moves, 1)
	assert.Empty(t, Batches(nil))

	w := wire.NewWriter(0)
	require.NoError(t, batches[0].Serialize(w))
	assert.Less(t, w.Len()+protocol.HeaderSize+4, 1200)
}

func TestChunkDataRoundTrip(t *testing.T) {
	d := chunk.New(world.ChunkCoord{X: 12, Y: 63})
	for i := range d.Ground {
		d.Ground[i] = uint16(i * 7)
		d.Object[i] = math.MaxUint16 - uint16(i)
		d.Biome[i] = uint8(i)
		d.Heat[i] = uint8(255 - i)
		d.Moisture[i] = uint8(i / 2)
	}
	got := roundTrip(t, &ChunkData{Chunk: d})
	assert.Equal(t, d, got.Chunk)

	w := wire.NewWriter(0)
	require.NoError(t, (&ChunkData{Chunk: d}).Serialize(w))
	assert.Equal(t, 8+world.ChunkCells*7, w.Len())
}

func TestChunkDataIncompleteWritesNothing(t *testing.T) {
	d := chunk.New(world.ChunkCoord{X: 1, Y: 1})
	d.Object = nil

	w := wire.NewWriter(16)
	err := (&ChunkData{Chunk: d}).Serialize(w)
	var inc *chunk.IncompleteError
	require.ErrorAs(t, err, &inc)
	assert.Equal(t, "object", inc.Layer)
	assert.Equal(t, 0, w.Len())

	_, err = newRegistry(t).Encode(&ChunkData{})
	assert.ErrorIs(t, err, chunk.ErrIncomplete)
}

func TestTruncatedChunkDataIsMalformed(t *testing.T) {
	r := newRegistry(t)
	protocol.MustHandle[ChunkData](r, func(*ChunkData, *player.Player) error { return nil })
	assert.ErrorIs(t, r.Dispatch(IDChunkData, make([]byte, 8+100), nil), protocol.ErrMalformedPayload)
}

func TestCorruptCountsAreMalformed(t *testing.T) {
	r := newRegistry(t)
	protocol.MustHandle[PlayerListSync](r, func(*PlayerListSync, *player.Player) error { return nil })
	protocol.MustHandle[ChunkRequest](r, func(*ChunkRequest, *player.Player) error { return nil })

	assert.ErrorIs(t, r.Dispatch(IDPlayerListSync, []byte{0xff, 0xff}, nil), protocol.ErrMalformedPayload)
	assert.ErrorIs(t, r.Dispatch(IDChunkRequest, []byte{0, 0xff, 0xff, 0xff, 0x7f}, nil), protocol.ErrMalformedPayload)
	assert.ErrorIs(t, r.Dispatch(IDChunkRequest, []byte{5, 0, 0, 0, 0}, nil), protocol.ErrMalformedPayload)
}
