package protocol

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/zeusync/worldsync/internal/core/observability/log"
	"github.com/zeusync/worldsync/internal/core/player"
	"github.com/zeusync/worldsync/internal/core/wire"
)

// Handler receives a decoded message. from is the originating player on the
// server and nil on the client.
type Handler[M any] func(msg *M, from *player.Player) error

// typeKey gives every message type a distinct comparable map key.
type typeKey[M any] struct{}

type entry struct {
	id       ID
	name     string
	decode   func(payload []byte) (Message, error)
	match    func(Message) bool
	handlers []func(Message, *player.Player) error
}

// Registry is the dispatch table: message ID to (decoder, ordered handlers).
// Both peers must register the same types with the same IDs before any
// traffic. Registration must finish before Seal; afterwards the table is
// read-only and safe for concurrent use.
type Registry struct {
	byID   map[ID]*entry
	byType map[any]*entry
	order  []*entry
	sealed atomic.Bool
	logger log.Log
}

func NewRegistry(logger log.Log) *Registry {
	if logger == nil {
		logger = log.Provide()
	}
	return &Registry{
		byID:   make(map[ID]*entry),
		byType: make(map[any]*entry),
		logger: logger.With(log.String("component", "registry")),
	}
}

// Register associates message type M with id.
func Register[M any, PM interface {
	*M
	Message
}](r *Registry, id ID) error {
	if r.sealed.Load() {
		return ErrRegistrySealed
	}
	key := typeKey[M]{}
	name := fmt.Sprintf("%T", new(M))
	if existing, ok := r.byID[id]; ok {
		return fmt.Errorf("%w: id %d already used by %s", ErrDuplicateRegistration, id, existing.name)
	}
	if existing, ok := r.byType[key]; ok {
		return fmt.Errorf("%w: %s already has id %d", ErrDuplicateRegistration, name, existing.id)
	}

	e := &entry{
		id:   id,
		name: name,
		decode: func(payload []byte) (Message, error) {
			msg := PM(new(M))
			rd := wire.NewReader(payload)
			if err := msg.Deserialize(rd); err != nil {
				return nil, err
			}
			if err := rd.Done(); err != nil {
				return nil, err
			}
			return msg, nil
		},
		match: func(m Message) bool {
			_, ok := m.(PM)
			return ok
		},
	}
	r.byID[id] = e
	r.byType[key] = e
	r.order = append(r.order, e)
	return nil
}

// Handle appends h to the handlers of message type M. Handlers run in the
// order they were added.
func Handle[M any, PM interface {
	*M
	Message
}](r *Registry, h Handler[M]) error {
	if r.sealed.Load() {
		return ErrRegistrySealed
	}
	e, ok := r.byType[typeKey[M]{}]
	if !ok {
		return fmt.Errorf("%w: %T", ErrNotRegistered, new(M))
	}
	e.handlers = append(e.handlers, func(m Message, from *player.Player) error {
		return h((*M)(m.(PM)), from)
	})
	return nil
}

// MustHandle is Handle for wiring code where a failure is a programming error.
func MustHandle[M any, PM interface {
	*M
	Message
}](r *Registry, h Handler[M]) {
	if err := Handle[M, PM](r, h); err != nil {
		panic(err)
	}
}

// Seal freezes the table. Later Register and Handle calls fail.
func (r *Registry) Seal() { r.sealed.Store(true) }

func (r *Registry) Sealed() bool { return r.sealed.Load() }

// Len returns the number of registered message types.
func (r *Registry) Len() int { return len(r.order) }

// IDOf returns the ID registered for the concrete type of msg.
func (r *Registry) IDOf(msg Message) (ID, bool) {
	for _, e := range r.order {
		if e.match(msg) {
			return e.id, true
		}
	}
	return 0, false
}

// Encode serializes msg into a frame: u16 message ID followed by the payload.
func (r *Registry) Encode(msg Message) ([]byte, error) {
	id, ok := r.IDOf(msg)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotRegistered, msg)
	}
	w := wire.NewWriter(64)
	w.U16(uint16(id))
	if err := msg.Serialize(w); err != nil {
		return nil, err
	}
	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("encode %T: %w", msg, err)
	}
	return w.Bytes(), nil
}

// DispatchFrame decodes the frame header and dispatches the payload.
func (r *Registry) DispatchFrame(frame []byte, from *player.Player) error {
	id, payload, err := DecodeFrame(frame)
	if err != nil {
		return err
	}
	return r.Dispatch(id, payload, from)
}

// Dispatch decodes payload as the type registered under id and runs every
// handler for it. A failing or panicking handler is logged and does not stop
// the remaining handlers. Dispatch never panics.
func (r *Registry) Dispatch(id ID, payload []byte, from *player.Player) error {
	e, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMessage, id)
	}
	if len(e.handlers) == 0 {
		return fmt.Errorf("%w: %s (id %d)", ErrNoHandler, e.name, id)
	}

	msg, err := safeDecode(e, payload)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMalformedPayload, e.name, err)
	}

	var errs []error
	for i, h := range e.handlers {
		if err = safeCall(h, msg, from); err != nil {
			r.logger.Warn("Message handler failed",
				log.String("message", e.name),
				log.Int("handler", i),
				log.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s: %w", ErrHandlerFailed, e.name, errors.Join(errs...))
	}
	return nil
}

func safeDecode(e *entry, payload []byte) (msg Message, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("decoder panic: %v", rec)
		}
	}()
	return e.decode(payload)
}

func safeCall(h func(Message, *player.Player) error, msg Message, from *player.Player) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(msg, from)
}
