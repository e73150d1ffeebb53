package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

// ErrNotFound is returned when a blob does not exist. It maps to
// os.ErrNotExist so filesystem errors match without translation.
var ErrNotFound = os.ErrNotExist

// ErrInvalidName is returned for names that are empty, absolute or escape
// the store root.
var ErrInvalidName = errors.New("blobstore: invalid blob name")

var errClosed = errors.New("blobstore: write after close")

// Store is a namespace of immutable blobs. Implementations are safe for
// concurrent use.
type Store interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)

	// Create starts a streaming write. The blob becomes visible when the
	// returned writer is closed without error.
	Create(ctx context.Context, name string) (WritableBlob, error)

	// Put writes a blob atomically.
	Put(ctx context.Context, name string, data []byte) error

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the names starting with prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a stored blob.
type Blob interface {
	io.ReaderAt
	io.Closer
	// Size returns the size of the blob in bytes.
	Size() int64
}

// Mappable is implemented by blobs whose contents are already resident.
type Mappable interface {
	// Bytes returns the contents without copying. The slice is valid until
	// the Blob is closed.
	Bytes() ([]byte, error)
}

// WritableBlob is a pending blob write.
type WritableBlob interface {
	io.WriteCloser
	// Abort discards the write. Calling Close after Abort is a no-op.
	Abort() error
}

// CleanName validates name and returns it in canonical slash form.
func CleanName(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") || strings.ContainsRune(name, '\\') {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	clean := path.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return clean, nil
}

// View opens name and calls fn with its full contents. For mappable blobs
// the slice aliases the mapping and must not be retained after fn returns.
func View(ctx context.Context, s Store, name string, fn func(data []byte) error) (err error) {
	b, err := s.Open(ctx, name)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := b.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	data, err := ReadAll(b)
	if err != nil {
		return err
	}
	return fn(data)
}

// Get returns a copy of the contents of name.
func Get(ctx context.Context, s Store, name string) ([]byte, error) {
	var out []byte
	err := View(ctx, s, name, func(data []byte) error {
		out = bytes.Clone(data)
		if out == nil {
			out = []byte{}
		}
		return nil
	})
	return out, err
}

// ReadAll returns the contents of b. Mappable blobs are returned without
// copying.
func ReadAll(b Blob) ([]byte, error) {
	if m, ok := b.(Mappable); ok {
		return m.Bytes()
	}
	buf := make([]byte, b.Size())
	if len(buf) == 0 {
		return buf, nil
	}
	n, err := b.ReadAt(buf, 0)
	if n == len(buf) && (err == nil || errors.Is(err, io.EOF)) {
		return buf, nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return nil, err
}

// Exists reports whether name can be opened.
func Exists(ctx context.Context, s Store, name string) (bool, error) {
	b, err := s.Open(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, b.Close()
}

// bytesBlob is a Blob backed by a heap slice.
type bytesBlob struct {
	data []byte
}

// NewBytesBlob returns a Blob reading from data.
func NewBytesBlob(data []byte) Blob { return &bytesBlob{data: data} }

func (b *bytesBlob) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("blobstore: negative offset %d", off)
	}
	if off >= int64(len(b.data)) {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *bytesBlob) Size() int64            { return int64(len(b.data)) }
func (b *bytesBlob) Close() error           { return nil }
func (b *bytesBlob) Bytes() ([]byte, error) { return b.data, nil }
