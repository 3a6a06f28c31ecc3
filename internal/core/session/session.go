// Package session runs the connection lifecycle on top of a transport. Both
// variants are driven by Update once per tick: transport events queued since
// the previous tick are drained, status changes are raised as observer events
// and data frames are dispatched through the registry.
package session

import (
	"errors"
	"time"

	"github.com/zeusync/worldsync/internal/core/observability/log"
	"github.com/zeusync/worldsync/internal/core/player"
	"github.com/zeusync/worldsync/internal/core/protocol"
	"github.com/zeusync/worldsync/internal/core/transport"
)

var (
	ErrNotConnected      = errors.New("session: not connected")
	ErrAlreadyConnected  = errors.New("session: already connected or connecting")
	ErrConnectTimeout    = errors.New("session: connect timed out")
	ErrHandshakeRejected = errors.New("session: handshake rejected")
	ErrUnknownPlayer     = errors.New("session: unknown player")
	ErrClosed            = errors.New("session: closed")
)

// DefaultConnectTimeout is the tick time a client waits for Connected.
const DefaultConnectTimeout = 5 * time.Second

// State is the client connection state.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// send encodes msg and hands it to conn on the message's channel.
func send(registry *protocol.Registry, conn transport.Conn, msg protocol.Message) error {
	frame, err := registry.Encode(msg)
	if err != nil {
		return err
	}
	return conn.Send(msg.Delivery(), frame)
}

// dispatch logs what the registry reports. Protocol and registration errors
// are never fatal to the connection.
func dispatch(registry *protocol.Registry, logger log.Log, ev transport.Event, from *player.Player) {
	err := registry.DispatchFrame(ev.Data, from)
	if err == nil {
		return
	}
	fields := []log.Field{log.String("conn_id", ev.Conn.ID()), log.Error(err)}
	switch {
	case errors.Is(err, protocol.ErrNoHandler):
		logger.Warn("Protocol mismatch: message has no handler", fields...)
	case errors.Is(err, protocol.ErrHandlerFailed):
		// Already logged per handler.
	default:
		logger.Warn("Dropped inbound frame", fields...)
	}
}
