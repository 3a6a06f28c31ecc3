package player

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateIDIsNonZeroAndVaries(t *testing.T) {
	seen := make(map[ID]struct{})
	for range 64 {
		id := GenerateID()
		assert.NotZero(t, id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 64)
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, DefaultName, NormalizeName("   "))
	assert.Equal(t, "Ann", NormalizeName("  Ann "))
	long := strings.Repeat("é", 40)
	assert.Equal(t, strings.Repeat("é", MaxNameLength), NormalizeName(long))
}

func TestConnBackReference(t *testing.T) {
	var nilPlayer *Player
	assert.Nil(t, nilPlayer.Conn())
	assert.Nil(t, New(1, "a").Conn())
}
