// Package quic carries frames over QUIC. Each connection uses one
// bidirectional control stream for reliable-ordered frames, a unidirectional
// stream per reliable-unordered frame and datagrams for unreliable-sequenced
// frames.
package quic

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/worldsync/internal/core/observability/log"
	"github.com/zeusync/worldsync/internal/core/transport"
)

var _ transport.Transport = (*Transport)(nil)

const (
	DefaultLinger           = 100 * time.Millisecond
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultIdleTimeout      = 30 * time.Second
	DefaultKeepAlive        = 10 * time.Second
	DefaultMaxUniStreams    = 1000
)

// Config holds QUIC transport settings.
type Config struct {
	MaxIdleTimeout   time.Duration
	KeepAlivePeriod  time.Duration
	HandshakeTimeout time.Duration

	// MaxIncomingUniStreams is the stream credit granted to the peer for
	// reliable-unordered frames.
	MaxIncomingUniStreams int64

	// Linger is how long Close waits for queued data before tearing down.
	Linger    time.Duration
	InboxSize int

	// TLSConfig is used by listeners. A self-signed certificate is generated
	// when it is nil.
	TLSConfig *tls.Config
}

func DefaultConfig() Config {
	return Config{
		MaxIdleTimeout:        DefaultIdleTimeout,
		KeepAlivePeriod:       DefaultKeepAlive,
		HandshakeTimeout:      DefaultHandshakeTimeout,
		MaxIncomingUniStreams: DefaultMaxUniStreams,
		Linger:                DefaultLinger,
		InboxSize:             transport.DefaultInboxSize,
	}
}

type Transport struct {
	config Config
	logger log.Log
}

func New(config Config, logger log.Log) *Transport {
	if logger == nil {
		logger = log.Provide()
	}
	defaults := DefaultConfig()
	if config.MaxIdleTimeout <= 0 {
		config.MaxIdleTimeout = defaults.MaxIdleTimeout
	}
	if config.KeepAlivePeriod <= 0 {
		config.KeepAlivePeriod = defaults.KeepAlivePeriod
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if config.MaxIncomingUniStreams <= 0 {
		config.MaxIncomingUniStreams = defaults.MaxIncomingUniStreams
	}
	if config.Linger < 0 {
		config.Linger = 0
	}
	return &Transport{
		config: config,
		logger: logger.With(log.String("transport", "quic")),
	}
}

func (t *Transport) Name() string { return "quic" }

func (t *Transport) quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:        t.config.MaxIdleTimeout,
		KeepAlivePeriod:       t.config.KeepAlivePeriod,
		HandshakeIdleTimeout:  t.config.HandshakeTimeout,
		MaxIncomingStreams:    16,
		MaxIncomingUniStreams: t.config.MaxIncomingUniStreams,
		EnableDatagrams:       true,
	}
}

func (t *Transport) Listen(ctx context.Context, addr string) (transport.Listener, error) {
	tlsConfig := t.config.TLSConfig
	if tlsConfig == nil {
		var err error
		if tlsConfig, err = GenerateSelfSignedTLS(); err != nil {
			return nil, err
		}
	}

	ln, err := quic.ListenAddr(addr, tlsConfig, t.quicConfig())
	if err != nil {
		return nil, errors.Wrap(err, "failed to start QUIC listener")
	}

	acceptCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l := &Listener{
		transport: t,
		listener:  ln,
		inbox:     transport.NewInbox(t.config.InboxSize),
		cancel:    cancel,
		conns:     make(map[string]*Conn),
		logger:    t.logger.With(log.String("listener_addr", ln.Addr().String())),
	}
	go l.acceptLoop(acceptCtx)

	l.logger.Info("QUIC listener started")
	return l, nil
}

func (t *Transport) Dial(ctx context.Context, addr string, hs transport.Handshake) (transport.Link, error) {
	payload, err := hs.MarshalBinary()
	if err != nil {
		return nil, err
	}

	qc, err := quic.DialAddr(ctx, addr, clientTLS(), t.quicConfig())
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial QUIC connection")
	}
	control, err := qc.OpenStreamSync(ctx)
	if err != nil {
		_ = qc.CloseWithError(codeProtocol, "no control stream")
		return nil, errors.Wrap(err, "failed to open control stream")
	}
	if err = transport.WriteFrame(control, payload); err != nil {
		_ = qc.CloseWithError(codeProtocol, "handshake failed")
		return nil, errors.Wrap(err, "failed to send handshake")
	}

	c := t.newConn(qc, control, transport.NewInbox(t.config.InboxSize), nil)
	c.inbox.Push(transport.Event{Kind: transport.EventConnected, Conn: c})
	c.start()

	t.logger.Debug("QUIC connection established", log.String("remote_addr", addr))
	return c, nil
}

// Listener accepts QUIC connections and reads their handshakes.
type Listener struct {
	transport *Transport
	listener  *quic.Listener
	inbox     *transport.Inbox
	cancel    context.CancelFunc
	logger    log.Log

	mu     sync.Mutex
	conns  map[string]*Conn
	closed atomic.Bool
}

func (l *Listener) Addr() net.Addr                 { return l.listener.Addr() }
func (l *Listener) Events() <-chan transport.Event { return l.inbox.Events() }

func (l *Listener) acceptLoop(ctx context.Context) {
	for {
		qc, err := l.listener.Accept(ctx)
		if err != nil {
			if !l.closed.Load() {
				l.logger.Error("Failed to accept QUIC connection", log.Error(err))
			}
			return
		}
		go l.handshake(ctx, qc)
	}
}

// handshake waits for the control stream and the handshake frame on it.
func (l *Listener) handshake(ctx context.Context, qc *quic.Conn) {
	timeout := l.transport.config.HandshakeTimeout
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	control, err := qc.AcceptStream(hctx)
	if err != nil {
		l.logger.Debug("No control stream", log.String("remote_addr", qc.RemoteAddr().String()), log.Error(err))
		_ = qc.CloseWithError(codeProtocol, "handshake timeout")
		return
	}
	_ = control.SetReadDeadline(time.Now().Add(timeout))
	frame, err := transport.ReadFrame(control)
	if err != nil {
		_ = qc.CloseWithError(codeProtocol, "handshake failed")
		return
	}
	_ = control.SetReadDeadline(time.Time{})

	var hs transport.Handshake
	if err = hs.UnmarshalBinary(frame); err != nil {
		l.logger.Warn("Malformed handshake", log.String("remote_addr", qc.RemoteAddr().String()), log.Error(err))
		_ = qc.CloseWithError(codeProtocol, "malformed handshake")
		return
	}

	c := l.transport.newConn(qc, control, l.inbox, l)
	if !l.track(c) {
		_ = qc.CloseWithError(codeNormal, "listener closed")
		return
	}
	l.inbox.Push(transport.Event{Kind: transport.EventConnected, Conn: c, Handshake: hs})
	c.start()
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

// Close closes every accepted connection and stops listening.
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

	l.cancel()
	for _, c := range conns {
		_ = c.Close("server shutting down")
	}
	err := l.listener.Close()
	l.inbox.Close()
	l.logger.Info("QUIC listener closed")
	if err != nil {
		return errors.Wrap(err, "failed to close QUIC listener")
	}
	return nil
}
