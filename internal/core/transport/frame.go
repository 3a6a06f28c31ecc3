package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// WriteFrame writes a u32 length prefix and frame to w in one call.
func WriteFrame(w io.Writer, frame []byte) error {
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame))
	}
	buf := make([]byte, 4, 4+len(frame))
	binary.LittleEndian.PutUint32(buf, uint32(len(frame)))
	buf = append(buf, frame...)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(header[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// DefaultInboxSize is the event buffer of a listener or link.
const DefaultInboxSize = 1024

// Inbox is the event queue between transport goroutines and the tick. Push
// blocks while the buffer is full; once closed, pushes are discarded.
type Inbox struct {
	ch        chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &Inbox{
		ch:   make(chan Event, size),
		done: make(chan struct{}),
	}
}

func (i *Inbox) Events() <-chan Event { return i.ch }

// Push enqueues ev and reports whether it was accepted.
func (i *Inbox) Push(ev Event) bool {
	select {
	case <-i.done:
		return false
	default:
	}
	select {
	case i.ch <- ev:
		return true
	case <-i.done:
		return false
	}
}

// Close stops accepting events. Events already buffered stay readable.
func (i *Inbox) Close() {
	i.closeOnce.Do(func() { close(i.done) })
}

// DisconnectOnce guards the single EventDisconnected a connection may emit.
type DisconnectOnce struct {
	once sync.Once
}

func (d *DisconnectOnce) Do(inbox *Inbox, conn Conn, reason string, err error) {
	d.once.Do(func() {
		inbox.Push(Event{Kind: EventDisconnected, Conn: conn, Reason: reason, Err: err})
	})
}

// Silence uses up the guard without emitting, for locally initiated closes.
func (d *DisconnectOnce) Silence() {
	d.once.Do(func() {})
}
