package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/worldsync/internal/core/observability/log"
	"github.com/zeusync/worldsync/internal/core/player"
	"github.com/zeusync/worldsync/internal/core/transport"
	"github.com/zeusync/worldsync/internal/core/wire"
)

type ping struct{ Seq uint32 }

func (*ping) Delivery() transport.Delivery { return transport.ReliableOrdered }
func (p *ping) Serialize(w *wire.Writer) error {
	w.U32(p.Seq)
	return nil
}
func (p *ping) Deserialize(r *wire.Reader) error {
	p.Seq = r.U32()
	return r.Err()
}

type pong struct{ Text string }

func (*pong) Delivery() transport.Delivery { return transport.UnreliableSequenced }
func (p *pong) Serialize(w *wire.Writer) error {
	w.String(p.Text)
	return nil
}
func (p *pong) Deserialize(r *wire.Reader) error {
	p.Text = r.String()
	return r.Err()
}

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(log.Nop())
	require.NoError(t, Register[ping](r, 1))
	require.NoError(t, Register[pong](r, 2))
	return r
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := newRegistry(t)
	assert.ErrorIs(t, Register[pong](r, 1), ErrDuplicateRegistration)
	assert.ErrorIs(t, Register[ping](r, 9), ErrDuplicateRegistration)
	assert.Equal(t, 2, r.Len())
}

func TestHandleRequiresRegistration(t *testing.T) {
	r := NewRegistry(log.Nop())
	err := Handle[ping](r, func(*ping, *player.Player) error { return nil })
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestSealFreezesTable(t *testing.T) {
	r := newRegistry(t)
	r.Seal()
	assert.True(t, r.Sealed())
	assert.ErrorIs(t, Register[pong](r, 3), ErrRegistrySealed)
	assert.ErrorIs(t, Handle[ping](r, func(*ping, *player.Player) error { return nil }), ErrRegistrySealed)
}

func TestEncodeDispatchRoundTrip(t *testing.T) {
	r := newRegistry(t)
	sender := player.New(42, "ann")
	var got *ping
	var gotFrom *player.Player
	MustHandle[ping](r, func(m *ping, from *player.Player) error {
		got, gotFrom = m, from
		return nil
	})

	frame, err := r.Encode(&ping{Seq: 99})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 99, 0, 0, 0}, frame)

	require.NoError(t, r.DispatchFrame(frame, sender))
	require.NotNil(t, got)
	assert.Equal(t, uint32(99), got.Seq)
	assert.Same(t, sender, gotFrom)
}

func TestEncodeUnregistered(t *testing.T) {
	r := NewRegistry(log.Nop())
	_, err := r.Encode(&ping{})
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestDispatchUnknownIDInvokesNothing(t *testing.T) {
	r := newRegistry(t)
	called := false
	MustHandle[ping](r, func(*ping, *player.Player) error { called = true; return nil })

	assert.NotPanics(t, func() {
		err := r.Dispatch(77, []byte{1, 2, 3}, nil)
		assert.ErrorIs(t, err, ErrUnknownMessage)
	})
	assert.False(t, called)
}

func TestDispatchWithoutHandler(t *testing.T) {
	r := newRegistry(t)
	err := r.Dispatch(2, []byte{0, 0}, nil)
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestDispatchMalformedPayload(t *testing.T) {
	r := newRegistry(t)
	MustHandle[ping](r, func(*ping, *player.Player) error { return nil })

	assert.ErrorIs(t, r.Dispatch(1, []byte{1, 2}, nil), ErrMalformedPayload)
	assert.ErrorIs(t, r.Dispatch(1, []byte{1, 2, 3, 4, 5}, nil), ErrMalformedPayload, "trailing bytes")
	assert.ErrorIs(t, r.DispatchFrame([]byte{1}, nil), ErrMalformedPayload)
}

func TestDispatchIsolatesHandlerFailures(t *testing.T) {
	r := newRegistry(t)
	var order []int
	MustHandle[pong](r, func(*pong, *player.Player) error { order = append(order, 1); return errors.New("first") })
	MustHandle[pong](r, func(*pong, *player.Player) error { order = append(order, 2); panic("second") })
	MustHandle[pong](r, func(*pong, *player.Player) error { order = append(order, 3); return nil })

	frame, err := r.Encode(&pong{Text: "hi"})
	require.NoError(t, err)

	err = r.DispatchFrame(frame, nil)
	assert.ErrorIs(t, err, ErrHandlerFailed)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestIDOf(t *testing.T) {
	r := newRegistry(t)
	id, ok := r.IDOf(&pong{})
	assert.True(t, ok)
	assert.Equal(t, ID(2), id)
}
