package websocket

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zeusync/worldsync/internal/core/observability/log"
	"github.com/zeusync/worldsync/internal/core/transport"
)

// Conn is one WebSocket connection, client or server side.
type Conn struct {
	id           string
	ws           *websocket.Conn
	inbox        *transport.Inbox
	listener     *Listener
	linger       time.Duration
	writeTimeout time.Duration
	logger       log.Log
	ownsInbox    bool

	writeMu    sync.Mutex
	closed     atomic.Bool
	disconnect transport.DisconnectOnce
	seqOut     transport.Sequencer
	seqIn      transport.Sequencer
}

func (t *Transport) newConn(ws *websocket.Conn, inbox *transport.Inbox, l *Listener) *Conn {
	id := uuid.NewString()
	ws.SetReadLimit(transport.MaxFrameSize + 1 + transport.SequenceHeaderSize)
	return &Conn{
		id:           id,
		ws:           ws,
		inbox:        inbox,
		listener:     l,
		linger:       t.config.Linger,
		writeTimeout: t.config.WriteTimeout,
		ownsInbox:    l == nil,
		logger: t.logger.With(
			log.String("conn_id", id),
			log.String("remote_addr", ws.RemoteAddr().String())),
	}
}

func (c *Conn) ID() string                     { return c.id }
func (c *Conn) RemoteAddr() net.Addr           { return c.ws.RemoteAddr() }
func (c *Conn) Events() <-chan transport.Event { return c.inbox.Events() }

func (c *Conn) readLoop() {
	for {
		kind, packet, err := c.ws.ReadMessage()
		if err != nil {
			c.lost(err)
			return
		}
		if kind != websocket.BinaryMessage || len(packet) == 0 {
			continue
		}
		frame, ok, err := c.decode(packet)
		if err != nil {
			c.logger.Debug("Dropped packet", log.Error(err))
			continue
		}
		if ok {
			c.inbox.Push(transport.Event{Kind: transport.EventData, Conn: c, Data: frame})
		}
	}
}

func (c *Conn) decode(packet []byte) ([]byte, bool, error) {
	d := transport.Delivery(packet[0])
	switch {
	case !d.Valid():
		return nil, false, transport.ErrInvalidDelivery
	case d == transport.UnreliableSequenced:
		return c.seqIn.Accept(packet[1:])
	default:
		return packet[1:], true, nil
	}
}

func (c *Conn) lost(err error) {
	c.closed.Store(true)
	reason := "connection lost"
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		reason = closeErr.Text
		if closeErr.Code == websocket.CloseNormalClosure {
			err = nil
		}
	}
	_ = c.ws.Close()
	if c.listener != nil {
		c.listener.untrack(c)
	}
	c.disconnect.Do(c.inbox, c, reason, err)
	if c.ownsInbox {
		c.inbox.Close()
	}
}

func (c *Conn) Send(d transport.Delivery, data []byte) error {
	if !d.Valid() {
		return transport.ErrInvalidDelivery
	}
	if c.closed.Load() {
		return transport.ErrClosed
	}
	if len(data) > transport.MaxFrameSize {
		return transport.ErrFrameTooLarge
	}

	var packet []byte
	if d == transport.UnreliableSequenced {
		stamped := c.seqOut.Stamp(data)
		packet = make([]byte, 0, 1+len(stamped))
		packet = append(packet, byte(d))
		packet = append(packet, stamped...)
	} else {
		packet = make([]byte, 0, 1+len(data))
		packet = append(packet, byte(d))
		packet = append(packet, data...)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteMessage(websocket.BinaryMessage, packet); err != nil {
		if c.closed.Load() {
			return transport.ErrClosed
		}
		return err
	}
	return nil
}

// Close sends a close frame carrying reason, lingers so the peer can read
// what was queued before it and closes the socket.
func (c *Conn) Close(reason string) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.disconnect.Silence()

	c.writeMu.Lock()
	closeWith(c.ws, websocket.CloseNormalClosure, reason, c.writeTimeout)
	c.writeMu.Unlock()
	if c.linger > 0 {
		time.Sleep(c.linger)
	}
	err := c.ws.Close()
	if errors.Is(err, net.ErrClosed) {
		// The peer echoed the close and the read loop tore the socket down.
		err = nil
	}
	if c.listener != nil {
		c.listener.untrack(c)
	}
	c.logger.Debug("WebSocket connection closed", log.String("reason", reason))
	return err
}

func closeWith(ws *websocket.Conn, code int, reason string, timeout time.Duration) {
	reason = truncateReason(reason)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
}

// truncateReason cuts reason to the close frame limit on a rune boundary.
func truncateReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	cut := maxCloseReason
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
