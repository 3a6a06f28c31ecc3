package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/zeusync/worldsync/internal/core/transport"
	"github.com/zeusync/worldsync/internal/core/wire"
)

// ID is the numeric message type identifier carried in every frame header.
type ID uint16

// HeaderSize is the length of the frame header holding the message ID.
const HeaderSize = 2

// Message is a typed payload with a fixed binary layout. Implementations are
// plain structs; the registry maps each concrete type to an ID.
type Message interface {
	// Delivery is fixed per message type and selects the outbound channel.
	Delivery() transport.Delivery
	Serialize(w *wire.Writer) error
	Deserialize(r *wire.Reader) error
}

// DecodeFrame splits a frame into its message ID and payload.
func DecodeFrame(frame []byte) (ID, []byte, error) {
	if len(frame) < HeaderSize {
		return 0, nil, fmt.Errorf("%w: frame of %d bytes has no header", ErrMalformedPayload, len(frame))
	}
	return ID(binary.LittleEndian.Uint16(frame)), frame[HeaderSize:], nil
}
