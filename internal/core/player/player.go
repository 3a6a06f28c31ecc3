// Package player defines the roster entry shared by client and server.
package player

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/zeusync/worldsync/internal/core/transport"
)

// ID identifies a player for the lifetime of its connection. Zero is never a
// valid id.
type ID = uint64

const (
	DefaultName   = "Player"
	MaxNameLength = 32
)

// Player is one roster entry. On the server it also carries the connection it
// arrived on; that reference is never used for ownership.
type Player struct {
	ID   ID
	Name string

	conn transport.Conn
}

func New(id ID, name string) *Player {
	return &Player{ID: id, Name: name}
}

// NewRemote builds a server-side record bound to conn.
func NewRemote(id ID, name string, conn transport.Conn) *Player {
	return &Player{ID: id, Name: name, conn: conn}
}

// Conn returns the connection back-reference, or nil outside the server.
func (p *Player) Conn() transport.Conn {
	if p == nil {
		return nil
	}
	return p.conn
}

// GenerateID derives a random non-zero id from a UUIDv4.
func GenerateID() ID {
	for {
		u := uuid.New()
		var id ID
		for _, b := range u[:8] {
			id = id<<8 | ID(b)
		}
		if id != 0 {
			return id
		}
	}
}

// NormalizeName trims whitespace, substitutes DefaultName for empty names and
// truncates to MaxNameLength runes.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || !utf8.ValidString(name) {
		return DefaultName
	}
	if utf8.RuneCountInString(name) <= MaxNameLength {
		return name
	}
	runes := []rune(name)
	return string(runes[:MaxNameLength])
}
