package transport

import (
	"fmt"

	"github.com/zeusync/worldsync/internal/core/wire"
)

// Handshake is the approval payload a client sends before anything else.
type Handshake struct {
	PlayerID   uint64
	PlayerName string
}

func (h Handshake) MarshalBinary() ([]byte, error) {
	w := wire.NewWriter(10 + len(h.PlayerName))
	w.U64(h.PlayerID)
	w.String(h.PlayerName)
	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	return w.Bytes(), nil
}

func (h *Handshake) UnmarshalBinary(data []byte) error {
	r := wire.NewReader(data)
	h.PlayerID = r.U64()
	h.PlayerName = r.String()
	if err := r.Done(); err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	return nil
}
