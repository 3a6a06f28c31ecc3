// Package websocket carries frames over a single WebSocket connection. Every
// binary message is one packet: a delivery byte, a sequence number for
// unreliable-sequenced packets, then the frame. TCP already orders everything,
// so the delivery byte only decides whether the sequence filter applies.
package websocket

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/worldsync/internal/core/observability/log"
	"github.com/zeusync/worldsync/internal/core/transport"
)

var _ transport.Transport = (*Transport)(nil)

const (
	// Path is the HTTP path the listener upgrades on.
	Path = "/ws"

	DefaultLinger           = 100 * time.Millisecond
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultBufferSize       = 4096

	// maxCloseReason is what fits in a close frame after the status code.
	maxCloseReason = 123
)

type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Linger           time.Duration
	BufferSize       int
	InboxSize        int
}

func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: DefaultHandshakeTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		Linger:           DefaultLinger,
		BufferSize:       DefaultBufferSize,
		InboxSize:        transport.DefaultInboxSize,
	}
}

type Transport struct {
	config   Config
	upgrader websocket.Upgrader
	dialer   websocket.Dialer
	logger   log.Log
}

func New(config Config, logger log.Log) *Transport {
	if logger == nil {
		logger = log.Provide()
	}
	defaults := DefaultConfig()
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.Linger < 0 {
		config.Linger = 0
	}
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	return &Transport{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.BufferSize,
			WriteBufferSize: config.BufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		dialer: websocket.Dialer{
			HandshakeTimeout: config.HandshakeTimeout,
			ReadBufferSize:   config.BufferSize,
			WriteBufferSize:  config.BufferSize,
		},
		logger: logger.With(log.String("transport", "websocket")),
	}
}

func (t *Transport) Name() string { return "websocket" }

func (t *Transport) Listen(_ context.Context, addr string) (transport.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start WebSocket listener")
	}

	l := &Listener{
		transport: t,
		ln:        ln,
		inbox:     transport.NewInbox(t.config.InboxSize),
		conns:     make(map[string]*Conn),
		logger:    t.logger.With(log.String("listener_addr", ln.Addr().String())),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(Path, l.handleUpgrade)
	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: t.config.HandshakeTimeout,
	}

	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("WebSocket server error", log.Error(err))
		}
	}()

	l.logger.Info("WebSocket listener started")
	return l, nil
}

func (t *Transport) Dial(ctx context.Context, addr string, hs transport.Handshake) (transport.Link, error) {
	payload, err := hs.MarshalBinary()
	if err != nil {
		return nil, err
	}

	ws, _, err := t.dialer.DialContext(ctx, "ws://"+addr+Path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial WebSocket connection")
	}
	_ = ws.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
	if err = ws.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		_ = ws.Close()
		return nil, errors.Wrap(err, "failed to send handshake")
	}

	c := t.newConn(ws, transport.NewInbox(t.config.InboxSize), nil)
	c.inbox.Push(transport.Event{Kind: transport.EventConnected, Conn: c})
	go c.readLoop()

	t.logger.Debug("WebSocket connection established", log.String("remote_addr", addr))
	return c, nil
}

// Listener serves WebSocket upgrades and reads the handshake message of
// each new connection.
type Listener struct {
	transport *Transport
	ln        net.Listener
	server    *http.Server
	inbox     *transport.Inbox
	logger    log.Log

	mu     sync.Mutex
	conns  map[string]*Conn
	closed atomic.Bool
}

func (l *Listener) Addr() net.Addr                 { return l.ln.Addr() }
func (l *Listener) Events() <-chan transport.Event { return l.inbox.Events() }

func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := l.transport.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn("WebSocket upgrade failed", log.Error(err))
		return
	}
	ws.SetReadLimit(transport.MaxFrameSize + 1 + transport.SequenceHeaderSize)

	_ = ws.SetReadDeadline(time.Now().Add(l.transport.config.HandshakeTimeout))
	kind, data, err := ws.ReadMessage()
	if err != nil {
		l.logger.Debug("No handshake", log.String("remote_addr", r.RemoteAddr), log.Error(err))
		_ = ws.Close()
		return
	}
	var hs transport.Handshake
	if kind != websocket.BinaryMessage {
		err = transport.ErrHandshake
	} else {
		err = hs.UnmarshalBinary(data)
	}
	if err != nil {
		l.logger.Warn("Malformed handshake", log.String("remote_addr", r.RemoteAddr), log.Error(err))
		closeWith(ws, websocket.ClosePolicyViolation, "malformed handshake", l.transport.config.WriteTimeout)
		_ = ws.Close()
		return
	}
	_ = ws.SetReadDeadline(time.Time{})

	c := l.transport.newConn(ws, l.inbox, l)
	if !l.track(c) {
		closeWith(ws, websocket.CloseGoingAway, "listener closed", l.transport.config.WriteTimeout)
		_ = ws.Close()
		return
	}
	l.inbox.Push(transport.Event{Kind: transport.EventConnected, Conn: c, Handshake: hs})
	go c.readLoop()
}

func (l *Listener) track(c *Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed.Load() {
		return false
	}
	l.conns[c.id] = c
	return true
}

func (l *Listener) untrack(c *Conn) {
	l.mu.Lock()
	delete(l.conns, c.id)
	l.mu.Unlock()
}

func (l *Listener) Close() error {
	l.mu.Lock()
	if !l.closed.CompareAndSwap(false, true) {
		l.mu.Unlock()
		return nil
	}
	conns := make([]*Conn, 0, len(l.conns))
	for _, c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	for _, c := range conns {
		_ = c.Close("server shutting down")
	}
	err := l.server.Close()
	l.inbox.Close()
	l.logger.Info("WebSocket listener closed")
	if err != nil {
		return errors.Wrap(err, "failed to close WebSocket listener")
	}
	return nil
}
