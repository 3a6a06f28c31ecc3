// Package memory is an in-process transport. Frames are handed straight to the
// peer's event queue, which makes it suitable for tests and for running a
// client and server in one process.
package memory

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/zeusync/worldsync/internal/core/transport"
)

var _ transport.Transport = (*Network)(nil)

// Network is a namespace of in-process listeners keyed by address.
type Network struct {
	mu        sync.Mutex
	listeners map[string]*Listener
	seq       atomic.Uint64
	inboxSize int
}

func NewNetwork() *Network {
	return &Network{listeners: make(map[string]*Listener)}
}

func (n *Network) Name() string { return "memory" }

func (n *Network) Listen(_ context.Context, addr string) (transport.Listener, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.listeners[addr]; exists {
		return nil, fmt.Errorf("memory: address %s already in use", addr)
	}
	l := &Listener{
		network: n,
		addr:    Addr(addr),
		inbox:   transport.NewInbox(n.inboxSize),
		conns:   make(map[string]*Conn),
	}
	n.listeners[addr] = l
	return l, nil
}

func (n *Network) Dial(ctx context.Context, addr string, hs transport.Handshake) (transport.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.mu.Lock()
	l, ok := n.listeners[addr]
	n.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("memory: dial %s: connection refused", addr)
	}

	id := n.seq.Add(1)
	client := &Conn{
		id:    fmt.Sprintf("mem-c%d", id),
		local: Addr(fmt.Sprintf("client-%d", id)),
		inbox: transport.NewInbox(n.inboxSize),
	}
	server := &Conn{
		id:       fmt.Sprintf("mem-s%d", id),
		local:    l.addr,
		inbox:    l.inbox,
		listener: l,
	}
	client.peer, server.peer = server, client

	l.track(server)
	client.inbox.Push(transport.Event{Kind: transport.EventConnected, Conn: client})
	l.inbox.Push(transport.Event{Kind: transport.EventConnected, Conn: server, Handshake: hs})
	return client, nil
}

func (n *Network) unregister(addr string) {
	n.mu.Lock()
	delete(n.listeners, addr)
	n.mu.Unlock()
}

type Listener struct {
	network *Network
	addr    Addr
	inbox   *transport.Inbox

	mu     sync.Mutex
	conns  map[string]*Conn
	closed bool
}

func (l *Listener) Addr() net.Addr                 { return l.addr }
func (l *Listener) Events() <-chan transport.Event { return l.inbox.Events() }

func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	conns := make([]*Conn, 0, len(l.conns))
	for _, c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	for _, c := range conns {
		_ = c.Close("listener closed")
	}
	l.network.unregister(string(l.addr))
	l.inbox.Close()
	return nil
}

func (l *Listener) track(c *Conn) {
	l.mu.Lock()
	l.conns[c.id] = c
	l.mu.Unlock()
}

func (l *Listener) untrack(c *Conn) {
	l.mu.Lock()
	delete(l.conns, c.id)
	l.mu.Unlock()
}

// Conn is one end of an in-process connection.
type Conn struct {
	id       string
	local    Addr
	inbox    *transport.Inbox
	peer     *Conn
	listener *Listener

	closed     atomic.Bool
	disconnect transport.DisconnectOnce
	seqOut     transport.Sequencer
	seqIn      transport.Sequencer
}

func (c *Conn) ID() string                     { return c.id }
func (c *Conn) RemoteAddr() net.Addr           { return c.peer.local }
func (c *Conn) Events() <-chan transport.Event { return c.inbox.Events() }

func (c *Conn) Send(d transport.Delivery, data []byte) error {
	if !d.Valid() {
		return transport.ErrInvalidDelivery
	}
	if c.closed.Load() || c.peer.closed.Load() {
		return transport.ErrClosed
	}
	frame := make([]byte, len(data))
	copy(frame, data)

	if d == transport.UnreliableSequenced {
		payload, ok, err := c.peer.seqIn.Accept(c.seqOut.Stamp(frame))
		if err != nil || !ok {
			return err
		}
		frame = payload
	}
	c.peer.inbox.Push(transport.Event{Kind: transport.EventData, Conn: c.peer, Data: frame})
	return nil
}

// Close tells the peer why the connection ended. The local side gets no event.
func (c *Conn) Close(reason string) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.disconnect.Silence()
	c.peer.closed.Store(true)
	c.peer.disconnect.Do(c.peer.inbox, c.peer, reason, nil)
	if c.listener != nil {
		c.listener.untrack(c)
	}
	if c.peer.listener != nil {
		c.peer.listener.untrack(c.peer)
	}
	if c.listener == nil {
		c.inbox.Close()
	}
	return nil
}

// Addr is a net.Addr for in-process endpoints.
type Addr string

func (a Addr) Network() string { return "memory" }
func (a Addr) String() string  { return string(a) }
