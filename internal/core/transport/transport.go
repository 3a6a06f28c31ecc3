// Package transport abstracts the network below the message layer. A transport
// moves opaque frames on three delivery channels and reports connection status
// changes as Events, which sessions drain once per tick.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Delivery is the guarantee a message type declares for its channel.
type Delivery uint8

const (
	ReliableOrdered Delivery = iota
	ReliableUnordered
	UnreliableSequenced
)

func (d Delivery) String() string {
	switch d {
	case ReliableOrdered:
		return "reliable-ordered"
	case ReliableUnordered:
		return "reliable-unordered"
	case UnreliableSequenced:
		return "unreliable-sequenced"
	default:
		return fmt.Sprintf("delivery(%d)", uint8(d))
	}
}

func (d Delivery) Valid() bool { return d <= UnreliableSequenced }

// EventKind identifies what an Event reports.
type EventKind uint8

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventData
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventData:
		return "data"
	default:
		return "unknown"
	}
}

// Event is a status change or an inbound frame on a connection.
type Event struct {
	Kind EventKind
	Conn Conn

	// Handshake is set on EventConnected for server-side connections.
	Handshake Handshake
	// Data holds the inbound frame for EventData.
	Data []byte
	// Reason and Err describe EventDisconnected.
	Reason string
	Err    error
}

// Conn is one established connection.
type Conn interface {
	ID() string
	RemoteAddr() net.Addr
	// Send queues data on the channel for d. It does not wait for delivery.
	Send(d Delivery, data []byte) error
	// Close sends reason to the peer, flushes pending ordered data, lingers
	// briefly and releases the connection.
	Close(reason string) error
}

// Link is the client side of a connection: a Conn with its own event stream.
type Link interface {
	Conn
	Events() <-chan Event
}

// Listener accepts connections and reports their events on one stream.
type Listener interface {
	Addr() net.Addr
	Events() <-chan Event
	Close() error
}

type Transport interface {
	Name() string
	Listen(ctx context.Context, addr string) (Listener, error)
	// Dial connects to addr and sends hs. The first event on the returned
	// link is EventConnected.
	Dial(ctx context.Context, addr string, hs Handshake) (Link, error)
}

var (
	ErrClosed          = errors.New("transport: connection closed")
	ErrInvalidDelivery = errors.New("transport: invalid delivery")
	ErrFrameTooLarge   = errors.New("transport: frame too large")
	ErrHandshake       = errors.New("transport: bad handshake")
	ErrShortFrame      = errors.New("transport: short frame")
)

// MaxFrameSize bounds a single inbound frame on every transport.
const MaxFrameSize = 1 << 20
