package log

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
	assert.Equal(t, "warn", LevelWarn.String())
}

func TestLoggerSetLevel(t *testing.T) {
	l := NewWithConfig(Config{Level: LevelInfo, File: filepath.Join(t.TempDir(), "a.log")})
	assert.Equal(t, LevelInfo, l.GetLevel())
	l.SetLevel(LevelError)
	assert.Equal(t, LevelError, l.GetLevel())

	child := l.With(String("component", "test"))
	assert.Equal(t, LevelError, child.GetLevel(), "children share the atomic level")
}

func TestLoggerWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	l := NewWithConfig(Config{Level: LevelDebug, File: path, MaxSizeMB: 1})

	l.Info("player connected",
		Uint64("player_id", 42),
		Uint16("message_id", 3),
		Uint8("sync_mode", 1),
		Error(errors.New("boom")),
		Error(nil),
	)
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"player_id":42`)
	assert.Contains(t, string(data), `"message_id":3`)
	assert.Contains(t, string(data), `"error":"boom"`)
}

func TestNopLogger(t *testing.T) {
	l := Nop()
	l.Info("ignored")
	l.With(Int("x", 1)).Warn("ignored")
	assert.NotNil(t, Provide())
}
