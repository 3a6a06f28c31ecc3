package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/worldsync/internal/config"
	"github.com/zeusync/worldsync/internal/core/observability/log"
	"github.com/zeusync/worldsync/internal/core/transport/memory"
	"github.com/zeusync/worldsync/internal/game/messages"
	"github.com/zeusync/worldsync/internal/game/world"
	"github.com/zeusync/worldsync/internal/game/worldgen"
	"github.com/zeusync/worldsync/internal/server"
)

const testWorldSize = 16

type world3 struct {
	host    *server.Host
	network *memory.Network
	apps    []*App
}

func newWorld(t *testing.T, mutate func(*config.ServerConfig)) *world3 {
	t.Helper()
	cfg := config.Default().Server
	cfg.WorldSize = testWorldSize
	if mutate != nil {
		mutate(&cfg)
	}
	network := memory.NewNetwork()
	host, err := server.New(cfg, []server.Endpoint{{Transport: network, Addr: "127.0.0.1:7777"}},
		worldgen.New(cfg.Seed, testWorldSize), log.Nop())
	require.NoError(t, err)
	require.NoError(t, host.Start(context.Background()))
	t.Cleanup(func() { _ = host.Stop("test over") })
	return &world3{host: host, network: network}
}

func (w *world3) join(t *testing.T, name string) *App {
	t.Helper()
	app, err := New(w.network, Options{Name: name, WorldSize: testWorldSize}, log.Nop())
	require.NoError(t, err)
	require.NoError(t, app.Connect("127.0.0.1", 7777))
	w.apps = append(w.apps, app)
	return app
}

func (w *world3) tick() {
	w.host.Tick(0)
	for _, a := range w.apps {
		a.Tick(0)
	}
}

func (w *world3) until(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("never reached: %s", what)
		}
		w.tick()
		time.Sleep(time.Millisecond)
	}
}

func settled(a *App, players int) bool {
	return a.Connected() &&
		a.Roster().Len() == players &&
		a.Entities().Table().Len() == players &&
		a.Terrain().Cache().Len() == 21 &&
		a.Terrain().Interest().Pending() == 0
}

func TestTwoClientsConverge(t *testing.T) {
	w := newWorld(t, nil)
	ann := w.join(t, "ann")
	bob := w.join(t, "bob")
	w.until(t, "both clients settled", func() bool { return settled(ann, 2) && settled(bob, 2) })

	assert.ElementsMatch(t, ann.Roster().Players(), bob.Roster().Players())
	annChar, ok := ann.Entities().Local()
	require.True(t, ok)
	assert.Equal(t, ann.Session().PlayerID(), annChar.Owner)

	target := annChar.Position.Add(world.Vec2{X: 3, Y: -2})
	require.NoError(t, ann.Move(target, messages.Interpolate))
	w.until(t, "bob sees ann move", func() bool {
		e, ok := bob.Entities().Table().Get(annChar.ID)
		return ok && e.Position == target
	})
	serverCopy, ok := w.host.Entities().Table().Get(annChar.ID)
	require.True(t, ok)
	assert.Equal(t, target, serverCopy.Position)

	bobChar, _ := bob.Entities().Local()
	assert.Error(t, ann.Entities().MoveOwned(bobChar.ID, world.Vec2{}, messages.Teleport))

	require.NoError(t, ann.Disconnect("done"))
	assert.Zero(t, ann.Roster().Len())
	assert.Zero(t, ann.Entities().Table().Len())
	assert.Zero(t, ann.Terrain().Cache().Len())

	w.until(t, "bob sees ann leave", func() bool {
		return bob.Roster().Len() == 1 && bob.Entities().Table().Len() == 1
	})
	_, ok = bob.Roster().Get(ann.Session().PlayerID())
	assert.False(t, ok)
}

func TestWorldChangeReachesHolders(t *testing.T) {
	w := newWorld(t, nil)
	ann := w.join(t, "ann")
	w.until(t, "ann settled", func() bool { return settled(ann, 1) })

	local, _ := ann.Entities().Local()
	coord := world.ChunkOf(local.Position, testWorldSize)
	require.NoError(t, w.host.Terrain().SetCell(coord, 1, 2, 500, 7))

	w.until(t, "ann sees the new cell", func() bool {
		d, ok := ann.Terrain().Cache().Get(coord)
		return ok && d.Ground[2*world.ChunkEdge+1] == 500
	})
}

func TestHostModeIncludesLocalPlayer(t *testing.T) {
	w := newWorld(t, func(c *config.ServerConfig) {
		c.Mode = "host"
		c.LocalPlayerID = 99
		c.LocalPlayerName = "hostess"
	})
	ann := w.join(t, "ann")
	w.until(t, "ann settled", func() bool { return settled(ann, 2) })

	host, ok := ann.Roster().Get(99)
	require.True(t, ok)
	assert.Equal(t, "hostess", host.Name)
	_, ok = ann.Entities().Table().Get(99)
	assert.True(t, ok)
}
