package quic

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/worldsync/internal/core/observability/log"
	"github.com/zeusync/worldsync/internal/core/transport"
)

const (
	codeNormal   quic.ApplicationErrorCode = 0
	codeProtocol quic.ApplicationErrorCode = 1
)

// Unidirectional stream payloads start with one of these.
const (
	uniUnordered byte = iota
	uniSequenced
)

// uniQueueSize bounds the reliable-unordered frames waiting for a stream.
const uniQueueSize = 1024

// ErrSendQueueFull is returned when the peer has not granted streams for
// uniQueueSize queued reliable-unordered frames.
var ErrSendQueueFull = errors.New("quic: unordered send queue full")

// Conn is one QUIC connection, client or server side.
type Conn struct {
	id        string
	qc        *quic.Conn
	control   *quic.Stream
	inbox     *transport.Inbox
	listener  *Listener
	linger    time.Duration
	logger    log.Log
	ownsInbox bool

	uni        chan []byte
	writeMu    sync.Mutex
	closed     atomic.Bool
	disconnect transport.DisconnectOnce
	seqOut     transport.Sequencer
	seqIn      transport.Sequencer
}

func (t *Transport) newConn(qc *quic.Conn, control *quic.Stream, inbox *transport.Inbox, l *Listener) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:        id,
		qc:        qc,
		control:   control,
		inbox:     inbox,
		listener:  l,
		uni:       make(chan []byte, uniQueueSize),
		linger:    t.config.Linger,
		ownsInbox: l == nil,
		logger: t.logger.With(
			log.String("conn_id", id),
			log.String("remote_addr", qc.RemoteAddr().String())),
	}
}

func (c *Conn) ID() string                     { return c.id }
func (c *Conn) RemoteAddr() net.Addr           { return c.qc.RemoteAddr() }
func (c *Conn) Events() <-chan transport.Event { return c.inbox.Events() }

func (c *Conn) start() {
	go c.readControl()
	go c.acceptUni()
	go c.readDatagrams()
	go c.writeUni()
	go c.watch()
}

func (c *Conn) push(frame []byte) {
	c.inbox.Push(transport.Event{Kind: transport.EventData, Conn: c, Data: frame})
}

func (c *Conn) readControl() {
	for {
		frame, err := transport.ReadFrame(c.control)
		if err != nil {
			if errors.Is(err, transport.ErrFrameTooLarge) {
				c.logger.Warn("Oversized frame on control stream", log.Error(err))
				_ = c.qc.CloseWithError(codeProtocol, "frame too large")
			}
			return
		}
		c.push(frame)
	}
}

func (c *Conn) acceptUni() {
	ctx := c.qc.Context()
	for {
		s, err := c.qc.AcceptUniStream(ctx)
		if err != nil {
			return
		}
		go func() {
			data, err := io.ReadAll(io.LimitReader(s, transport.MaxFrameSize+1+transport.SequenceHeaderSize))
			if err != nil || len(data) == 0 {
				return
			}
			switch data[0] {
			case uniUnordered:
				c.push(data[1:])
			case uniSequenced:
				c.acceptSequenced(data[1:])
			default:
				c.logger.Debug("Unknown unidirectional stream kind", log.Uint8("kind", data[0]))
			}
		}()
	}
}

func (c *Conn) readDatagrams() {
	ctx := c.qc.Context()
	for {
		packet, err := c.qc.ReceiveDatagram(ctx)
		if err != nil {
			return
		}
		c.acceptSequenced(packet)
	}
}

func (c *Conn) acceptSequenced(packet []byte) {
	frame, ok, err := c.seqIn.Accept(packet)
	if err != nil {
		c.logger.Debug("Dropped sequenced frame", log.Error(err))
		return
	}
	if ok {
		c.push(frame)
	}
}

// watch reports the end of the connection once.
func (c *Conn) watch() {
	ctx := c.qc.Context()
	<-ctx.Done()
	c.closed.Store(true)

	reason, err := "connection lost", context.Cause(ctx)
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) {
		reason = appErr.ErrorMessage
		if appErr.Remote && appErr.ErrorCode == codeNormal {
			err = nil
		}
	}
	var idleErr *quic.IdleTimeoutError
	if errors.As(err, &idleErr) {
		reason = "timeout"
	}

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

	switch d {
	case transport.ReliableOrdered:
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return c.wrap(transport.WriteFrame(c.control, data))
	case transport.ReliableUnordered:
		return c.sendUni(uniUnordered, data)
	default:
		packet := c.seqOut.Stamp(data)
		err := c.qc.SendDatagram(packet)
		var tooLarge *quic.DatagramTooLargeError
		if errors.As(err, &tooLarge) {
			return c.sendUni(uniSequenced, packet)
		}
		return c.wrap(err)
	}
}

// sendUni queues a frame for its own unidirectional stream. Opening the
// stream can wait for credit from the peer, so it happens on writeUni.
func (c *Conn) sendUni(kind byte, data []byte) error {
	buf := make([]byte, 0, 1+len(data))
	buf = append(buf, kind)
	buf = append(buf, data...)
	select {
	case c.uni <- buf:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *Conn) writeUni() {
	ctx := c.qc.Context()
	for {
		var buf []byte
		select {
		case <-ctx.Done():
			return
		case buf = <-c.uni:
		}
		s, err := c.qc.OpenUniStreamSync(ctx)
		if err != nil {
			return
		}
		if _, err = s.Write(buf); err != nil {
			s.CancelWrite(0)
			c.logger.Debug("Unidirectional stream write failed", log.Error(err))
			continue
		}
		_ = s.Close()
	}
}

func (c *Conn) wrap(err error) error {
	if err == nil {
		return nil
	}
	if c.qc.Context().Err() != nil {
		return transport.ErrClosed
	}
	return err
}

// Close finishes the control stream, waits for the linger period so queued
// frames reach the peer and closes the connection with reason.
func (c *Conn) Close(reason string) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.disconnect.Silence()

	c.writeMu.Lock()
	_ = c.control.Close()
	c.writeMu.Unlock()
	if c.linger > 0 {
		time.Sleep(c.linger)
	}

	err := c.qc.CloseWithError(codeNormal, reason)
	if c.listener != nil {
		c.listener.untrack(c)
	}
	c.logger.Debug("QUIC connection closed", log.String("reason", reason))
	return err
}
