package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/worldsync/internal/core/observability/log"
	"github.com/zeusync/worldsync/internal/core/player"
	"github.com/zeusync/worldsync/internal/core/protocol"
	"github.com/zeusync/worldsync/internal/game/messages"
	"github.com/zeusync/worldsync/internal/game/world"
)

type fakeSender struct {
	players []*player.Player
	sent    map[player.ID][]protocol.Message
}

func newFakeSender(players ...*player.Player) *fakeSender {
	return &fakeSender{players: players, sent: make(map[player.ID][]protocol.Message)}
}

func (f *fakeSender) SendToPlayer(msg protocol.Message, p *player.Player) error {
	f.sent[p.ID] = append(f.sent[p.ID], msg)
	return nil
}

func (f *fakeSender) Broadcast(msg protocol.Message, skip func(*player.Player) bool) error {
	for _, p := range f.players {
		if skip == nil || !skip(p) {
			f.sent[p.ID] = append(f.sent[p.ID], msg)
		}
	}
	return nil
}

func (f *fakeSender) Players() []*player.Player { return f.players }

func spawnedIDs(msgs []protocol.Message) []uint64 {
	var out []uint64
	for _, m := range msgs {
		if s, ok := m.(*messages.EntitySpawn); ok {
			out = append(out, s.ID)
		}
	}
	return out
}

func TestJoinSpawnsCharacterAndReplaysWorld(t *testing.T) {
	p1, p2 := player.New(11, "a"), player.New(22, "b")
	f := newFakeSender()
	a := NewAuthority(f, func(p *player.Player) world.Vec2 { return world.Vec2{X: float32(p.ID)} }, log.Nop())

	f.players = append(f.players, p1)
	require.NoError(t, a.OnPlayerConnect(p1))
	assert.Equal(t, []uint64{11}, spawnedIDs(f.sent[11]))

	f.players = append(f.players, p2)
	require.NoError(t, a.OnPlayerConnect(p2))
	assert.Equal(t, []uint64{11, 22}, spawnedIDs(f.sent[22]))
	assert.Equal(t, []uint64{11, 22}, spawnedIDs(f.sent[11]))

	e, ok := a.Table().Get(22)
	require.True(t, ok)
	assert.Equal(t, TypeCharacter, e.Type)
	assert.Equal(t, player.ID(22), e.Owner)
	assert.Equal(t, world.Vec2{X: 22}, e.Position)
}

func TestFlushOmitsOwnInterpolatedMoves(t *testing.T) {
	p1, p2 := player.New(1, "a"), player.New(2, "b")
	f := newFakeSender(p1, p2)
	a := NewAuthority(f, nil, log.Nop())
	require.NoError(t, a.OnPlayerConnect(p1))
	require.NoError(t, a.OnPlayerConnect(p2))
	clear(f.sent)

	require.NoError(t, a.Move(1, world.Vec2{X: 1}, messages.Interpolate))
	require.NoError(t, a.Move(2, world.Vec2{X: 2}, messages.Teleport))
	require.NoError(t, a.Move(2, world.Vec2{X: 3}, messages.Interpolate))
	require.NoError(t, a.Flush())

	require.Len(t, f.sent[1], 1)
	assert.Equal(t, &messages.EntityMove{Moves: []messages.EntityMovement{
		{ID: 2, Position: world.Vec2{X: 3}, Mode: messages.Teleport},
	}}, f.sent[1][0])

	require.Len(t, f.sent[2], 1)
	assert.Equal(t, &messages.EntityMove{Moves: []messages.EntityMovement{
		{ID: 1, Position: world.Vec2{X: 1}, Mode: messages.Interpolate},
		{ID: 2, Position: world.Vec2{X: 3}, Mode: messages.Teleport},
	}}, f.sent[2][0])

	clear(f.sent)
	require.NoError(t, a.Flush())
	assert.Empty(t, f.sent)

	assert.ErrorIs(t, a.Move(99, world.Vec2{}, messages.Interpolate), ErrUnknownEntity)
}

func TestClientMovesOnlyForOwnedEntities(t *testing.T) {
	p1, p2 := player.New(1, "a"), player.New(2, "b")
	f := newFakeSender(p1, p2)
	a := NewAuthority(f, nil, log.Nop())
	require.NoError(t, a.OnPlayerConnect(p1))
	require.NoError(t, a.OnPlayerConnect(p2))

	r := protocol.NewRegistry(log.Nop())
	require.NoError(t, messages.Register(r))
	require.NoError(t, a.Register(r))

	frame, err := r.Encode(&messages.EntityMove{Moves: []messages.EntityMovement{
		{ID: 1, Position: world.Vec2{X: 5, Y: 5}},
		{ID: 2, Position: world.Vec2{X: 9, Y: 9}},
	}})
	require.NoError(t, err)
	require.NoError(t, r.DispatchFrame(frame, p1))

	e1, _ := a.Table().Get(1)
	e2, _ := a.Table().Get(2)
	assert.Equal(t, world.Vec2{X: 5, Y: 5}, e1.Position)
	assert.Equal(t, world.Vec2{}, e2.Position)
}

func TestDisconnectDespawnsOwned(t *testing.T) {
	p1, p2 := player.New(1, "a"), player.New(2, "b")
	f := newFakeSender(p1, p2)
	a := NewAuthority(f, nil, log.Nop())
	require.NoError(t, a.OnPlayerConnect(p1))
	require.NoError(t, a.OnPlayerConnect(p2))
	torch := &Entity{ID: a.NextID(), Owner: 1, Type: 7, Data: []byte("lit")}
	require.NoError(t, a.Spawn(torch))
	assert.ErrorIs(t, a.Spawn(torch), ErrDuplicateID)
	require.NoError(t, a.Move(torch.ID, world.Vec2{X: 1}, messages.Interpolate))

	f.players = f.players[1:]
	clear(f.sent)
	require.NoError(t, a.OnPlayerDisconnect(p1))

	assert.ElementsMatch(t, []protocol.Message{&messages.EntityDespawn{ID: 1}, &messages.EntityDespawn{ID: torch.ID}}, f.sent[2])
	assert.Equal(t, 1, a.Table().Len())

	clear(f.sent)
	require.NoError(t, a.Flush())
	assert.Empty(t, f.sent, "despawned entity must not be flushed")
}

func newClient(t *testing.T, localID player.ID) (*protocol.Registry, *Mirror) {
	t.Helper()
	r := protocol.NewRegistry(log.Nop())
	require.NoError(t, messages.Register(r))
	m := NewMirror(log.Nop())
	m.SetLocalID(localID)
	require.NoError(t, m.Register(r))
	return r, m
}

func deliver(t *testing.T, r *protocol.Registry, msgs ...protocol.Message) {
	t.Helper()
	for _, msg := range msgs {
		frame, err := r.Encode(msg)
		require.NoError(t, err)
		require.NoError(t, r.DispatchFrame(frame, nil))
	}
}

func TestMirrorAppliesServerState(t *testing.T) {
	r, m := newClient(t, 5)
	var spawns []SpawnEvent
	var moves []MoveEvent
	var despawns []DespawnEvent
	m.OnSpawn.Subscribe(func(ev SpawnEvent) error { spawns = append(spawns, ev); return nil })
	m.OnMove.Subscribe(func(ev MoveEvent) error { moves = append(moves, ev); return nil })
	m.OnDespawn.Subscribe(func(ev DespawnEvent) error { despawns = append(despawns, ev); return nil })

	deliver(t, r,
		&messages.EntitySpawn{ID: 4, Owner: 4, Type: TypeCharacter, Position: world.Vec2{X: 1, Y: 1}},
		&messages.EntitySpawn{ID: 5, Owner: 5, Type: TypeCharacter},
		&messages.EntityMove{Moves: []messages.EntityMovement{
			{ID: 4, Position: world.Vec2{X: 2, Y: 2}},
			{ID: 404, Position: world.Vec2{X: 9, Y: 9}},
			{ID: 5, Position: world.Vec2{X: 3, Y: 3}, Mode: messages.Teleport},
		}},
		&messages.EntityDespawn{ID: 4},
	)

	require.Len(t, spawns, 2)
	assert.False(t, spawns[0].Local)
	assert.True(t, spawns[1].Local)

	require.Len(t, moves, 2)
	assert.Equal(t, world.Vec2{X: 1, Y: 1}, moves[0].Previous)
	assert.Equal(t, world.Vec2{X: 2, Y: 2}, moves[0].Entity.Position)
	assert.Equal(t, messages.Interpolate, moves[0].Mode)
	assert.Equal(t, messages.Teleport, moves[1].Mode)

	require.Len(t, despawns, 1)
	assert.Equal(t, uint64(4), despawns[0].Entity.ID)

	local, ok := m.Local()
	require.True(t, ok)
	assert.Equal(t, world.Vec2{X: 3, Y: 3}, local.Position)
}

func TestMirrorMoveControlled(t *testing.T) {
	r, m := newClient(t, 5)
	assert.ErrorIs(t, m.MoveControlled(world.Vec2{}, messages.Interpolate), ErrUnknownEntity)

	deliver(t, r,
		&messages.EntitySpawn{ID: 5, Owner: 5, Type: TypeCharacter},
		&messages.EntitySpawn{ID: 6, Owner: 6, Type: TypeCharacter},
	)
	assert.Error(t, m.MoveOwned(6, world.Vec2{}, messages.Interpolate))

	require.NoError(t, m.MoveControlled(world.Vec2{X: 1}, messages.Interpolate))
	require.NoError(t, m.MoveControlled(world.Vec2{X: 2}, messages.Interpolate))

	var sent []protocol.Message
	require.NoError(t, m.Flush(func(msg protocol.Message) error {
		sent = append(sent, msg)
		return nil
	}))
	require.Len(t, sent, 1)
	assert.Equal(t, &messages.EntityMove{Moves: []messages.EntityMovement{{ID: 5, Position: world.Vec2{X: 2}}}}, sent[0])

	sent = nil
	require.NoError(t, m.Flush(func(msg protocol.Message) error {
		sent = append(sent, msg)
		return nil
	}))
	assert.Empty(t, sent)
}

func TestMirrorDropsSpawnOvertakenByDespawn(t *testing.T) {
	r, m := newClient(t, 5)
	var spawns int
	m.OnSpawn.Subscribe(func(SpawnEvent) error { spawns++; return nil })

	deliver(t, r,
		&messages.EntityDespawn{ID: 7},
		&messages.EntitySpawn{ID: 7, Owner: 7, Type: TypeCharacter},
	)
	_, ok := m.Table().Get(7)
	assert.False(t, ok)
	assert.Zero(t, spawns)

	// The tombstone is used up; a later spawn with the same id is new.
	deliver(t, r, &messages.EntitySpawn{ID: 7, Owner: 7, Type: TypeCharacter})
	_, ok = m.Table().Get(7)
	assert.True(t, ok)
	assert.Equal(t, 1, spawns)
}

func TestMirrorClear(t *testing.T) {
	r, m := newClient(t, 5)
	deliver(t, r,
		&messages.EntitySpawn{ID: 5, Owner: 5},
		&messages.EntitySpawn{ID: 6, Owner: 6},
	)
	var despawned []uint64
	m.OnDespawn.Subscribe(func(ev DespawnEvent) error {
		despawned = append(despawned, ev.Entity.ID)
		return nil
	})
	m.Clear()
	assert.Equal(t, []uint64{5, 6}, despawned)
	assert.Equal(t, 0, m.Table().Len())
	_, ok := m.Local()
	assert.False(t, ok)
}
