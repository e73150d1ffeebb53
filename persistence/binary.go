package persistence

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrShortBuffer is returned when a payload ends before a value was read.
var ErrShortBuffer = errors.New("persistence: unexpected end of payload")

// BinaryWriter writes little-endian primitives to an io.Writer.
// The first write error is sticky; check Err once at the end.
type BinaryWriter struct {
	w       io.Writer
	scratch [8]byte
	n       int64
	err     error
}

// NewBinaryWriter creates a new binary writer.
func NewBinaryWriter(w io.Writer) *BinaryWriter {
	return &BinaryWriter{w: w}
}

// Err returns the first error encountered.
func (bw *BinaryWriter) Err() error { return bw.err }

// BytesWritten returns the number of bytes written so far.
func (bw *BinaryWriter) BytesWritten() int64 { return bw.n }

func (bw *BinaryWriter) write(p []byte) {
	if bw.err != nil {
		return
	}
	n, err := bw.w.Write(p)
	bw.n += int64(n)
	bw.err = err
}

// Uint8 writes v.
func (bw *BinaryWriter) Uint8(v uint8) {
	bw.scratch[0] = v
	bw.write(bw.scratch[:1])
}

// Uint32 writes v.
func (bw *BinaryWriter) Uint32(v uint32) {
	binary.LittleEndian.PutUint32(bw.scratch[:4], v)
	bw.write(bw.scratch[:4])
}

// Uint64 writes v.
func (bw *BinaryWriter) Uint64(v uint64) {
	binary.LittleEndian.PutUint64(bw.scratch[:8], v)
	bw.write(bw.scratch[:8])
}

// Float32 writes v.
func (bw *BinaryWriter) Float32(v float32) {
	bw.Uint32(math.Float32bits(v))
}

// Bytes writes a length-prefixed byte slice.
func (bw *BinaryWriter) Bytes(p []byte) {
	bw.Uint32(uint32(len(p)))
	bw.write(p)
}

// String writes a length-prefixed string.
func (bw *BinaryWriter) String(s string) {
	bw.Bytes([]byte(s))
}

// Raw writes p without a length prefix.
func (bw *BinaryWriter) Raw(p []byte) {
	bw.write(p)
}

// Float32s writes the elements of vec without a length prefix.
func (bw *BinaryWriter) Float32s(vec []float32) {
	if bw.err != nil || len(vec) == 0 {
		return
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	bw.write(buf)
}

// Uint32s writes the elements of s without a length prefix.
func (bw *BinaryWriter) Uint32s(s []uint32) {
	if bw.err != nil || len(s) == 0 {
		return
	}
	buf := make([]byte, 4*len(s))
	for i, v := range s {
		binary.LittleEndian.PutUint32(buf[4*i:], v)
	}
	bw.write(buf)
}

// BinaryReader reads little-endian primitives from an in-memory payload.
// Reads past the end set a sticky ErrShortBuffer and return zero values.
type BinaryReader struct {
	buf []byte
	off int
	err error
}

// NewBinaryReader creates a new binary reader over buf.
func NewBinaryReader(buf []byte) *BinaryReader {
	return &BinaryReader{buf: buf}
}

// Err returns the first error encountered.
func (br *BinaryReader) Err() error { return br.err }

// Remaining returns the number of unread bytes.
func (br *BinaryReader) Remaining() int { return len(br.buf) - br.off }

// Fail records err unless an earlier error is already recorded.
func (br *BinaryReader) Fail(err error) {
	if br.err == nil {
		br.err = err
	}
}

func (br *BinaryReader) next(n int) []byte {
	if br.err != nil {
		return nil
	}
	if n < 0 || n > br.Remaining() {
		br.err = fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, n, br.Remaining())
		return nil
	}
	p := br.buf[br.off : br.off+n]
	br.off += n
	return p
}

// Uint8 reads a byte.
func (br *BinaryReader) Uint8() uint8 {
	p := br.next(1)
	if p == nil {
		return 0
	}
	return p[0]
}

// Uint32 reads a uint32.
func (br *BinaryReader) Uint32() uint32 {
	p := br.next(4)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(p)
}

// Uint64 reads a uint64.
func (br *BinaryReader) Uint64() uint64 {
	p := br.next(8)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(p)
}

// Float32 reads a float32.
func (br *BinaryReader) Float32() float32 {
	return math.Float32frombits(br.Uint32())
}

// Bytes reads a length-prefixed byte slice. The result aliases the payload.
func (br *BinaryReader) Bytes() []byte {
	n := br.Uint32()
	return br.next(int(n))
}

// String reads a length-prefixed string.
func (br *BinaryReader) String() string {
	return string(br.Bytes())
}

// Raw reads n bytes without a length prefix. The result aliases the payload.
func (br *BinaryReader) Raw(n int) []byte {
	return br.next(n)
}

// Float32s reads count float32 values.
func (br *BinaryReader) Float32s(count int) []float32 {
	if count < 0 || count > br.Remaining()/4 {
		br.Fail(fmt.Errorf("%w: %d float32 values", ErrShortBuffer, count))
		return nil
	}
	p := br.next(4 * count)
	if p == nil {
		return nil
	}
	out := make([]float32, count)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(p[4*i:]))
	}
	return out
}

// Uint32s reads count uint32 values.
func (br *BinaryReader) Uint32s(count int) []uint32 {
	if count < 0 || count > br.Remaining()/4 {
		br.Fail(fmt.Errorf("%w: %d uint32 values", ErrShortBuffer, count))
		return nil
	}
	p := br.next(4 * count)
	if p == nil {
		return nil
	}
	out := make([]uint32, count)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(p[4*i:])
	}
	return out
}
