package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/worldsync/internal/core/observability/log"
)

func TestEmptyPathGivesDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	require.NoError(t, c.Validate())
	assert.Equal(t, "0.0.0.0:7777", c.Server.ListenAddr())
	assert.Equal(t, time.Second/30, c.Server.TickInterval())
}

func TestParseOverridesOnlyGivenKeys(t *testing.T) {
	c, err := Parse([]byte(`
server:
  transport: both
  websocket_port: 9000
  mode: host
  local_player_id: 42
client:
  connect_timeout: 2s
  load_radius: 3
log:
  level: debug
`))
	require.NoError(t, err)
	assert.Equal(t, TransportBoth, c.Server.Transport)
	assert.Equal(t, "0.0.0.0:9000", c.Server.WebSocketAddr())
	assert.Equal(t, uint64(42), c.Server.LocalPlayerID)
	assert.Equal(t, 7777, c.Server.Port)
	assert.Equal(t, 2*time.Second, c.Client.ConnectTimeout)
	assert.Equal(t, int32(3), c.Client.LoadRadius)
	assert.Equal(t, "player", c.Client.Name)
	assert.Equal(t, log.LevelDebug, c.Log.Logger().Level)
}

func TestWebSocketOnlyListensOnItsPort(t *testing.T) {
	c, err := Parse([]byte("server:\n  transport: websocket\n  websocket_port: 8080\n"))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", c.Server.ListenAddr())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	_, err := Parse([]byte(`
server:
  port: 0
  transport: carrier-pigeon
  mode: host
  tick_rate: -1
client:
  transport: both
  load_radius: 0
`))
	require.Error(t, err)
	for _, want := range []string{
		"server.port", "server.transport", "server.local_player_id",
		"server.tick_rate", "client.transport", "client.load_radius",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestUnknownKeysRejected(t *testing.T) {
	_, err := Parse([]byte("server:\n  prot: 1\n"))
	assert.Error(t, err)
}

func TestLoadShippedConfig(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "configs", "worldsync.yaml"))
	require.NoError(t, err)
	assert.Equal(t, TransportBoth, c.Server.Transport)
	assert.Equal(t, 100*time.Millisecond, c.Server.Linger)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
