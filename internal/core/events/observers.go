// Package events provides ordered observer lists used for connect, disconnect,
// spawn and despawn notifications.
//
// Delivery is synchronous, in subscription order, on the caller goroutine. A
// subscriber that returns an error or panics does not stop later subscribers;
// the failures are joined and returned from Emit.
package events

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Handler is a subscriber callback.
type Handler[T any] func(T) error

// Subscription is a registered handler. Cancel is safe to call more than once.
type Subscription interface {
	ID() string
	IsActive() bool
	Cancel()
}

type subscription[T any] struct {
	id      string
	handler Handler[T]
	owner   *Observers[T]
	active  bool
}

func (s *subscription[T]) ID() string { return s.id }

func (s *subscription[T]) IsActive() bool {
	s.owner.mu.RLock()
	defer s.owner.mu.RUnlock()
	return s.active
}

func (s *subscription[T]) Cancel() {
	s.owner.remove(s.id)
}

// Observers is an ordered list of subscribers for events of type T. The zero
// value is ready to use; an empty list is a valid state and Emit is a no-op.
type Observers[T any] struct {
	mu   sync.RWMutex
	subs []*subscription[T]
}

// Subscribe appends h and returns its subscription.
func (o *Observers[T]) Subscribe(h Handler[T]) Subscription {
	s := &subscription[T]{id: uuid.NewString(), handler: h, owner: o, active: true}
	o.mu.Lock()
	o.subs = append(o.subs, s)
	o.mu.Unlock()
	return s
}

// Len returns the number of active subscribers.
func (o *Observers[T]) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.subs)
}

// Emit calls every subscriber in order with ev.
func (o *Observers[T]) Emit(ev T) error {
	o.mu.RLock()
	snapshot := make([]*subscription[T], len(o.subs))
	copy(snapshot, o.subs)
	o.mu.RUnlock()

	var errs []error
	for _, s := range snapshot {
		if err := invoke(s.handler, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (o *Observers[T]) remove(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, s := range o.subs {
		if s.id == id {
			s.active = false
			o.subs = append(o.subs[:i:i], o.subs[i+1:]...)
			return
		}
	}
}

func invoke[T any](h Handler[T], ev T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return h(ev)
}
