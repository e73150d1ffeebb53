package index

import (
	"context"
	"errors"
	"io"

	"github.com/hupe1980/vecbench"
)

// ErrDuplicateID is returned when a vector id is already present in the
// index or repeated within one batch.
var ErrDuplicateID = errors.New("duplicate vector id")

// Vector is an embedding keyed by the chunk it was computed from.
type Vector struct {
	ID     string
	Values []float32
}

// Result is one search hit. Score is a squared distance for l2 (ascending)
// and a similarity for cosine and dot (descending).
type Result struct {
	ID    string  `json:"chunk_id"`
	Score float32 `json:"score"`
}

// Index is the capability set every backend implements.
type Index interface {
	// Config returns the immutable configuration the index was created with.
	Config() Config

	// Build replaces the contents of the index with vectors.
	Build(ctx context.Context, vectors []Vector) error

	// Add inserts vectors incrementally. Backends that cannot insert after
	// build return a vecbench.UnsupportedOperationError.
	Add(ctx context.Context, vectors []Vector) error

	// Search returns up to k results ordered best-first. It never returns
	// fewer than min(k, Len()) results and never fails on an empty index.
	Search(ctx context.Context, query []float32, k int) ([]Result, error)

	// Len returns the number of stored vectors.
	Len() int

	// EstimateMemory returns the approximate resident size in bytes.
	EstimateMemory() int64

	// MarshalPayload writes the backend-specific binary payload.
	MarshalPayload(w io.Writer) error

	// UnmarshalPayload restores the index from a payload produced by
	// MarshalPayload on an index with the same configuration.
	UnmarshalPayload(data []byte) error
}

// CheckQuery validates a search request against cfg.
func CheckQuery(cfg Config, query []float32, k int) error {
	if k <= 0 {
		return vecbench.NewConfigError("top_k", "must be positive")
	}
	if len(query) != cfg.Dim {
		return &vecbench.DimensionMismatchError{Expected: cfg.Dim, Actual: len(query)}
	}
	return nil
}

// Unsupported returns the error reported when backend cannot perform op.
func Unsupported(kind Kind, op string) error {
	return &vecbench.UnsupportedOperationError{
		Backend: string(kind),
		Op:      op,
		Hint:    "rebuild the index with the new vectors included",
	}
}
