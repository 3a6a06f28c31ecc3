package roster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/worldsync/internal/core/observability/log"
	"github.com/zeusync/worldsync/internal/core/player"
	"github.com/zeusync/worldsync/internal/core/protocol"
	"github.com/zeusync/worldsync/internal/game/messages"
)

// fakeSender records what the server would put on the wire per player.
type fakeSender struct {
	players []*player.Player
	sent    map[player.ID][]protocol.Message
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[player.ID][]protocol.Message)}
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

func (f *fakeSender) join(s *Server, p *player.Player) {
	f.players = append(f.players, p)
	_ = s.OnPlayerConnect(p)
}

func (f *fakeSender) leave(s *Server, id player.ID) {
	for i, p := range f.players {
		if p.ID == id {
			f.players = append(f.players[:i], f.players[i+1:]...)
			_ = s.OnPlayerDisconnect(p)
			return
		}
	}
}

func TestThirdPlayerJoins(t *testing.T) {
	const hostID = 100
	f := newFakeSender()
	s := NewServer(f, Host, hostID, log.Nop())

	a, b, c := player.New(1, "a"), player.New(2, "b"), player.New(3, "c")
	f.join(s, a)
	f.join(s, b)
	clear(f.sent)

	f.join(s, c)

	require.Len(t, f.sent[c.ID], 1)
	sync, ok := f.sent[c.ID][0].(*messages.PlayerListSync)
	require.True(t, ok)
	assert.Equal(t, []messages.PlayerEntry{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}, {ID: 3, Name: "c"}}, sync.Players)

	for _, id := range []player.ID{a.ID, b.ID} {
		require.Len(t, f.sent[id], 1)
		assert.Equal(t, &messages.PlayerConnect{ID: 3, Name: "c"}, f.sent[id][0])
	}
	assert.Empty(t, f.sent[hostID])
}

func TestFirstPlayerGetsOnlySync(t *testing.T) {
	f := newFakeSender()
	s := NewServer(f, Dedicated, 0, log.Nop())
	f.join(s, player.New(7, "solo"))

	require.Len(t, f.sent[7], 1)
	assert.IsType(t, &messages.PlayerListSync{}, f.sent[7][0])
}

func TestLocalPlayerIsNeverMessaged(t *testing.T) {
	const hostID = 100
	f := newFakeSender()
	s := NewServer(f, Host, hostID, log.Nop())
	f.players = append(f.players, player.New(hostID, "host"))

	f.join(s, player.New(1, "a"))
	f.join(s, player.New(2, "b"))
	f.join(s, player.New(3, "c"))
	f.leave(s, 1)

	assert.Empty(t, f.sent[hostID])
	assert.NotEmpty(t, f.sent[2])
}

func TestSuppressDeparture(t *testing.T) {
	assert.True(t, suppressDeparture(0, Dedicated))
	assert.True(t, suppressDeparture(0, Host))
	assert.True(t, suppressDeparture(2, Host))
	assert.False(t, suppressDeparture(2, Dedicated))
	assert.False(t, suppressDeparture(1, Host))
	assert.False(t, suppressDeparture(3, Host))
}

func TestDepartureBroadcast(t *testing.T) {
	f := newFakeSender()
	s := NewServer(f, Dedicated, 0, log.Nop())
	for id := player.ID(1); id <= 3; id++ {
		f.join(s, player.New(id, "p"))
	}
	clear(f.sent)

	f.leave(s, 2)
	assert.Equal(t, []protocol.Message{&messages.PlayerDisconnect{ID: 2}}, f.sent[1])
	assert.Equal(t, []protocol.Message{&messages.PlayerDisconnect{ID: 2}}, f.sent[3])
	assert.Empty(t, f.sent[2])

	// Host mode with two left stays quiet.
	f = newFakeSender()
	s = NewServer(f, Host, 0, log.Nop())
	for id := player.ID(1); id <= 3; id++ {
		f.join(s, player.New(id, "p"))
	}
	clear(f.sent)
	f.leave(s, 3)
	assert.Empty(t, f.sent)
}

type client struct {
	registry *protocol.Registry
	mirror   *Mirror
	// delivered counts messages already handed to the mirror.
	delivered int
}

func newClient(t *testing.T) *client {
	t.Helper()
	r := protocol.NewRegistry(log.Nop())
	require.NoError(t, messages.Register(r))
	m := NewMirror(log.Nop())
	require.NoError(t, m.Register(r))
	r.Seal()
	return &client{registry: r, mirror: m}
}

func (c *client) pump(t *testing.T, queue []protocol.Message) {
	t.Helper()
	for ; c.delivered < len(queue); c.delivered++ {
		frame, err := c.registry.Encode(queue[c.delivered])
		require.NoError(t, err)
		require.NoError(t, c.registry.DispatchFrame(frame, nil))
	}
}

func ids(players []*player.Player) []player.ID {
	out := make([]player.ID, 0, len(players))
	for _, p := range players {
		out = append(out, p.ID)
	}
	return out
}

func TestMirrorsConverge(t *testing.T) {
	f := newFakeSender()
	s := NewServer(f, Dedicated, 0, log.Nop())
	clients := map[player.ID]*client{}

	steps := []struct {
		join  player.ID
		leave player.ID
	}{
		{join: 1}, {join: 2}, {join: 3}, {leave: 1}, {join: 4}, {leave: 3}, {join: 5}, {leave: 2},
	}
	for _, step := range steps {
		if step.join != 0 {
			clients[step.join] = newClient(t)
			f.join(s, player.New(step.join, "p"))
		} else {
			delete(clients, step.leave)
			f.leave(s, step.leave)
		}
		for id, c := range clients {
			c.pump(t, f.sent[id])
		}
		for id, c := range clients {
			assert.ElementsMatch(t, ids(f.players), ids(c.mirror.Players()), "client %d", id)
		}
	}
}

func TestMirrorEvents(t *testing.T) {
	c := newClient(t)
	var kinds []ChangeKind
	c.mirror.OnChange.Subscribe(func(ch Change) error {
		kinds = append(kinds, ch.Kind)
		return nil
	})

	c.pump(t, []protocol.Message{
		&messages.PlayerListSync{Players: []messages.PlayerEntry{{ID: 1, Name: "a"}}},
		&messages.PlayerConnect{ID: 2, Name: "b"},
		&messages.PlayerConnect{ID: 2, Name: "b2"},
		&messages.PlayerDisconnect{ID: 1},
		&messages.PlayerDisconnect{ID: 9},
	})
	assert.Equal(t, []ChangeKind{ChangeReplaced, ChangeJoined, ChangeJoined, ChangeLeft}, kinds)
	p, ok := c.mirror.Get(2)
	require.True(t, ok)
	assert.Equal(t, "b2", p.Name)
	assert.Equal(t, 1, c.mirror.Len())

	c.mirror.Clear()
	assert.Equal(t, 0, c.mirror.Len())
	assert.Equal(t, ChangeCleared, kinds[len(kinds)-1])
}

func TestMirrorToleratesOvertakenMessages(t *testing.T) {
	c := newClient(t)

	// Deltas that overtook the sync are applied on top of it.
	c.pump(t, []protocol.Message{
		&messages.PlayerConnect{ID: 3, Name: "c"},
		&messages.PlayerDisconnect{ID: 2},
	})
	assert.Zero(t, c.mirror.Len())
	c.pump(t, []protocol.Message{
		&messages.PlayerConnect{ID: 3, Name: "c"},
		&messages.PlayerDisconnect{ID: 2},
		&messages.PlayerListSync{Players: []messages.PlayerEntry{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}},
	})
	assert.ElementsMatch(t, []player.ID{1, 3}, ids(c.mirror.Players()))

	// A departure that overtook its arrival cancels it.
	c.pump(t, []protocol.Message{
		&messages.PlayerConnect{ID: 3, Name: "c"},
		&messages.PlayerDisconnect{ID: 2},
		&messages.PlayerListSync{Players: []messages.PlayerEntry{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}},
		&messages.PlayerDisconnect{ID: 4},
		&messages.PlayerConnect{ID: 4, Name: "d"},
	})
	assert.ElementsMatch(t, []player.ID{1, 3}, ids(c.mirror.Players()))

	// After a disconnect the mirror waits for a fresh sync.
	c.mirror.Clear()
	c.delivered = 0
	c.pump(t, []protocol.Message{&messages.PlayerConnect{ID: 4, Name: "d"}})
	assert.Zero(t, c.mirror.Len())
	c.pump(t, []protocol.Message{
		&messages.PlayerConnect{ID: 4, Name: "d"},
		&messages.PlayerListSync{Players: []messages.PlayerEntry{{ID: 5, Name: "e"}}},
	})
	assert.ElementsMatch(t, []player.ID{4, 5}, ids(c.mirror.Players()))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("host")
	require.NoError(t, err)
	assert.Equal(t, Host, m)
	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, Dedicated, m)
	_, err = ParseMode("p2p")
	assert.Error(t, err)
}
