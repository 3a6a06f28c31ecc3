package transport

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryString(t *testing.T) {
	assert.Equal(t, "reliable-ordered", ReliableOrdered.String())
	assert.Equal(t, "reliable-unordered", ReliableUnordered.String())
	assert.Equal(t, "unreliable-sequenced", UnreliableSequenced.String())
	assert.False(t, Delivery(9).Valid())
}

func TestHandshakeRoundTrip(t *testing.T) {
	in := Handshake{PlayerID: math.MaxUint64, PlayerName: "Ferris"}
	data, err := in.MarshalBinary()
	require.NoError(t, err)

	var out Handshake
	require.NoError(t, out.UnmarshalBinary(data))
	assert.Equal(t, in, out)

	assert.ErrorIs(t, out.UnmarshalBinary(data[:5]), ErrHandshake)
}

func TestSequencerDropsStaleAndDuplicate(t *testing.T) {
	var tx, rx Sequencer
	first := tx.Stamp([]byte("a"))
	second := tx.Stamp([]byte("b"))

	payload, ok, err := rx.Accept(second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("b"), payload)

	_, ok, err = rx.Accept(first)
	require.NoError(t, err)
	assert.False(t, ok, "older frame is discarded")

	_, ok, _ = rx.Accept(second)
	assert.False(t, ok, "duplicate frame is discarded")
}

func TestSequencerWraparound(t *testing.T) {
	tx := Sequencer{next: math.MaxUint32}
	var rx Sequencer
	last := tx.Stamp(nil)
	wrapped := tx.Stamp(nil)

	_, ok, _ := rx.Accept(last)
	assert.True(t, ok)
	_, ok, _ = rx.Accept(wrapped)
	assert.True(t, ok, "sequence 0 follows MaxUint32")
}

func TestSequencerShortFrame(t *testing.T) {
	var rx Sequencer
	_, _, err := rx.Accept([]byte{1})
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello")))
	require.NoError(t, WriteFrame(&buf, nil))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	got, err = ReadFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadFrameRejectsOversize(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0x7f}))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestInboxClosedDiscards(t *testing.T) {
	in := NewInbox(1)
	assert.True(t, in.Push(Event{Kind: EventData}))
	in.Close()
	assert.False(t, in.Push(Event{Kind: EventData}))
	ev := <-in.Events()
	assert.Equal(t, EventData, ev.Kind)
}
