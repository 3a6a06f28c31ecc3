package transport

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// SequenceHeaderSize is the prefix every unreliable-sequenced frame carries.
const SequenceHeaderSize = 4

// Sequencer numbers outbound sequenced frames and filters inbound ones so that
// only frames newer than the last accepted one get through. Comparison uses
// serial number arithmetic, so the counter may wrap.
type Sequencer struct {
	mu       sync.Mutex
	next     uint32
	last     uint32
	received bool
}

// Stamp prefixes frame with the next outbound sequence number.
func (s *Sequencer) Stamp(frame []byte) []byte {
	s.mu.Lock()
	seq := s.next
	s.next++
	s.mu.Unlock()

	out := make([]byte, SequenceHeaderSize, SequenceHeaderSize+len(frame))
	binary.LittleEndian.PutUint32(out, seq)
	return append(out, frame...)
}

// Accept strips the header and reports whether the frame is newer than every
// frame accepted so far.
func (s *Sequencer) Accept(packet []byte) ([]byte, bool, error) {
	if len(packet) < SequenceHeaderSize {
		return nil, false, fmt.Errorf("%w: sequenced frame of %d bytes", ErrShortFrame, len(packet))
	}
	seq := binary.LittleEndian.Uint32(packet)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.received && !newer(seq, s.last) {
		return nil, false, nil
	}
	s.last = seq
	s.received = true
	return packet[SequenceHeaderSize:], true, nil
}

func newer(a, b uint32) bool {
	return a != b && a-b < 1<<31
}
