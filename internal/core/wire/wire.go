// Package wire implements the little-endian binary layout shared by every
// message on the network. Writer and Reader carry a sticky error so message
// codecs can chain field operations and check once at the end.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

var (
	ErrShortBuffer     = errors.New("wire: short buffer")
	ErrNegativeLength  = errors.New("wire: negative length")
	ErrStringTooLong   = errors.New("wire: string too long")
	ErrInvalidUTF8     = errors.New("wire: invalid utf-8 string")
	ErrTrailingBytes   = errors.New("wire: trailing bytes")
	ErrLengthOverflows = errors.New("wire: length exceeds remaining payload")
)

// MaxString is the largest string payload a u16 length prefix can describe.
const MaxString = math.MaxUint16

type Writer struct {
	buf []byte
	err error
}

func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

func (w *Writer) Bytes() []byte { return w.buf }
func (w *Writer) Len() int      { return len(w.buf) }
func (w *Writer) Err() error    { return w.err }

// Reset empties the buffer and clears the error, keeping the capacity.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.err = nil
}

// Fail records err unless an earlier error is already stored.
func (w *Writer) Fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *Writer) U8(v uint8) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, v)
}

func (w *Writer) U16(v uint16) {
	if w.err != nil {
		return
	}
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) U32(v uint32) {
	if w.err != nil {
		return
	}
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) U64(v uint64) {
	if w.err != nil {
		return
	}
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) I32(v int32) { w.U32(uint32(v)) }

func (w *Writer) F32(v float32) { w.U32(math.Float32bits(v)) }

// String writes a u16 byte length followed by the UTF-8 bytes.
func (w *Writer) String(s string) {
	if w.err != nil {
		return
	}
	if len(s) > MaxString {
		w.err = fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(s))
		return
	}
	w.U16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// Raw appends b without a length prefix.
func (w *Writer) Raw(b []byte) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, b...)
}

type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) Err() error { return r.err }

// Remaining is the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Done reports the sticky error, or ErrTrailingBytes if unread input remains.
func (r *Reader) Done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.buf) {
		return fmt.Errorf("%w: %d", ErrTrailingBytes, len(r.buf)-r.off)
	}
	return nil
}

func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n > len(r.buf)-r.off {
		r.err = fmt.Errorf("%w: need %d, have %d", ErrShortBuffer, n, len(r.buf)-r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) U16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) U64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *Reader) I32() int32 { return int32(r.U32()) }

func (r *Reader) F32() float32 { return math.Float32frombits(r.U32()) }

func (r *Reader) String() string {
	n := int(r.U16())
	b := r.take(n)
	if b == nil {
		return ""
	}
	if !utf8.Valid(b) {
		r.Fail(ErrInvalidUTF8)
		return ""
	}
	return string(b)
}

// Bytes returns a copy of the next n bytes.
func (r *Reader) Bytes(n int) []byte {
	if n < 0 {
		r.Fail(ErrNegativeLength)
		return nil
	}
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// Count reads an i32 element count and checks that count*elemSize bytes can
// still follow, so a corrupt header cannot trigger a huge allocation.
func (r *Reader) Count(elemSize int) int {
	n := r.I32()
	if r.err != nil {
		return 0
	}
	if n < 0 {
		r.Fail(fmt.Errorf("%w: %d", ErrNegativeLength, n))
		return 0
	}
	if elemSize > 0 && int64(n)*int64(elemSize) > int64(r.Remaining()) {
		r.Fail(fmt.Errorf("%w: %d elements of %d bytes", ErrLengthOverflows, n, elemSize))
		return 0
	}
	return int(n)
}

// Rest returns the unread bytes without copying and consumes them.
func (r *Reader) Rest() []byte {
	if r.err != nil {
		return nil
	}
	b := r.buf[r.off:]
	r.off = len(r.buf)
	return b
}
