package persistence

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// Magic identifies persisted index blobs (ASCII: "VBX1").
	Magic uint32 = 0x56425831
	// Version is the current blob format version.
	Version uint32 = 1

	trailerSize = 4
)

var (
	ErrInvalidMagic   = errors.New("invalid magic number")
	ErrInvalidVersion = errors.New("unsupported version")
	ErrChecksum       = errors.New("checksum mismatch")
)

// Header describes a persisted index blob.
//
// Layout (little-endian):
//
//	magic u32 | version u32 | compression u8 | config (u32 len + bytes) |
//	count u64 | raw size u64 | stored size u64 | payload | crc32 u32
//
// A stored size of zero means the payload is not compressed.
type Header struct {
	Version     uint32
	Compression Compression
	Config      []byte
	Count       uint64
	PayloadSize uint64
}

// Options configures Encode.
type Options struct {
	Compression Compression
}

// DefaultOptions stores payloads uncompressed.
var DefaultOptions = Options{Compression: CompressionNone}

// WithCompression selects the payload compression.
func WithCompression(c Compression) func(*Options) {
	return func(o *Options) { o.Compression = c }
}

// Encode writes one blob containing config, count and payload to w and
// returns the number of bytes written.
func Encode(w io.Writer, config []byte, count uint64, payload []byte, optFns ...func(*Options)) (int64, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	stored, err := compress(payload, opts.Compression)
	if err != nil {
		return 0, fmt.Errorf("persistence: compress payload: %w", err)
	}
	compression := opts.Compression
	if stored == nil {
		compression = CompressionNone
	}

	cw := NewChecksumWriter(w)
	bw := NewBinaryWriter(cw)
	bw.Uint32(Magic)
	bw.Uint32(Version)
	bw.Uint8(uint8(compression))
	bw.Bytes(config)
	bw.Uint64(count)
	bw.Uint64(uint64(len(payload)))
	bw.Uint64(uint64(len(stored)))
	if stored != nil {
		bw.Raw(stored)
	} else {
		bw.Raw(payload)
	}
	if err := bw.Err(); err != nil {
		return bw.BytesWritten(), err
	}

	var trailer [trailerSize]byte
	binary.LittleEndian.PutUint32(trailer[:], cw.Sum())
	n, err := w.Write(trailer[:])
	return bw.BytesWritten() + int64(n), err
}

// EncodeBytes is Encode into a fresh buffer.
func EncodeBytes(config []byte, count uint64, payload []byte, optFns ...func(*Options)) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := Encode(&buf, config, count, payload, optFns...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode validates a blob and returns its header and uncompressed payload.
func Decode(data []byte) (*Header, []byte, error) {
	if len(data) < 8+trailerSize {
		return nil, nil, fmt.Errorf("%w: blob of %d bytes", ErrShortBuffer, len(data))
	}

	br := NewBinaryReader(data[:len(data)-trailerSize])
	magic := br.Uint32()
	if magic != Magic {
		return nil, nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidMagic, magic)
	}
	version := br.Uint32()
	if version != Version {
		return nil, nil, fmt.Errorf("%w: got %d", ErrInvalidVersion, version)
	}

	want := binary.LittleEndian.Uint32(data[len(data)-trailerSize:])
	if got := Checksum(data[:len(data)-trailerSize]); got != want {
		return nil, nil, fmt.Errorf("%w: got 0x%08x, want 0x%08x", ErrChecksum, got, want)
	}

	h := &Header{Version: version}
	h.Compression = Compression(br.Uint8())
	h.Config = bytes.Clone(br.Bytes())
	h.Count = br.Uint64()
	h.PayloadSize = br.Uint64()
	storedSize := br.Uint64()
	if err := br.Err(); err != nil {
		return nil, nil, err
	}

	if storedSize == 0 {
		if h.PayloadSize != uint64(br.Remaining()) {
			return nil, nil, fmt.Errorf("%w: payload size %d, have %d", ErrShortBuffer, h.PayloadSize, br.Remaining())
		}
		return h, br.Raw(int(h.PayloadSize)), nil
	}

	if storedSize != uint64(br.Remaining()) {
		return nil, nil, fmt.Errorf("%w: stored size %d, have %d", ErrShortBuffer, storedSize, br.Remaining())
	}
	payload, err := decompress(br.Raw(int(storedSize)), h.PayloadSize, h.Compression)
	if err != nil {
		return nil, nil, fmt.Errorf("persistence: decompress payload: %w", err)
	}
	return h, payload, nil
}
