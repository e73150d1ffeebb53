package index

import (
	"fmt"

	"github.com/hupe1980/vecbench"
	"github.com/hupe1980/vecbench/distance"
	"github.com/hupe1980/vecbench/internal/queue"
	"github.com/hupe1980/vecbench/persistence"
)

// Store is the dense, ordinal-addressed storage shared by the backends.
// Ordinals are assigned in insertion order starting at zero.
type Store struct {
	dim         int
	keepVectors bool
	ids         []string
	ordinals    map[string]uint32
	data        []float32
}

// NewStore creates a store for dim-dimensional vectors. When keepVectors is
// false only ids are retained (for backends that keep compressed codes).
func NewStore(dim int, keepVectors bool) *Store {
	return &Store{
		dim:         dim,
		keepVectors: keepVectors,
		ordinals:    make(map[string]uint32),
	}
}

// Len returns the number of stored entries.
func (s *Store) Len() int { return len(s.ids) }

// Dim returns the vector dimensionality.
func (s *Store) Dim() int { return s.dim }

// ID returns the id stored at ordinal ord.
func (s *Store) ID(ord uint32) string { return s.ids[ord] }

// Vector returns the stored vector at ordinal ord. The slice aliases the
// store and must not be modified.
func (s *Store) Vector(ord uint32) []float32 {
	i := int(ord) * s.dim
	return s.data[i : i+s.dim]
}

// Data returns all stored vectors, flattened.
func (s *Store) Data() []float32 { return s.data }

// Ordinal returns the ordinal of id.
func (s *Store) Ordinal(id string) (uint32, bool) {
	ord, ok := s.ordinals[id]
	return ord, ok
}

// Check validates a batch before any of it is applied: every vector must
// have the store's dimensionality and a non-empty id not already present.
func (s *Store) Check(vectors []Vector) error {
	seen := make(map[string]struct{}, len(vectors))
	for _, v := range vectors {
		if len(v.Values) != s.dim {
			return &vecbench.DimensionMismatchError{Expected: s.dim, Actual: len(v.Values)}
		}
		if v.ID == "" {
			return vecbench.NewConfigError("id", "vector id must not be empty")
		}
		if _, ok := s.ordinals[v.ID]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateID, v.ID)
		}
		if _, ok := seen[v.ID]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateID, v.ID)
		}
		seen[v.ID] = struct{}{}
	}
	return nil
}

// Append stores a prepared vector and returns its ordinal. The values are
// copied. Callers validate with Check first.
func (s *Store) Append(id string, values []float32) uint32 {
	ord := uint32(len(s.ids))
	s.ids = append(s.ids, id)
	s.ordinals[id] = ord
	if s.keepVectors {
		s.data = append(s.data, values...)
	}
	return ord
}

// Reset removes every entry.
func (s *Store) Reset() {
	s.ids = nil
	s.data = nil
	s.ordinals = make(map[string]uint32)
}

// Result converts an ordinal and internal distance into a Result.
func (s *Store) Result(ord uint32, dist float32, m distance.Metric) Result {
	return Result{ID: s.ids[ord], Score: m.Score(dist)}
}

// Results converts queue items (closest first) into Results.
func (s *Store) Results(items []queue.Item, m distance.Metric) []Result {
	out := make([]Result, len(items))
	for i, it := range items {
		out[i] = s.Result(it.Node, it.Distance, m)
	}
	return out
}

// EstimateMemory approximates the resident size of ids, the id map and vectors.
func (s *Store) EstimateMemory() int64 {
	var b int64
	for _, id := range s.ids {
		// string header + bytes in the slice, plus map key/value and bucket overhead.
		b += 16 + int64(len(id))
		b += 16 + 4 + 12
	}
	b += int64(len(s.data)) * 4
	return b
}

// Encode writes ids and, when kept, vectors.
func (s *Store) Encode(bw *persistence.BinaryWriter) {
	bw.Uint64(uint64(len(s.ids)))
	for _, id := range s.ids {
		bw.String(id)
	}
	if s.keepVectors {
		bw.Float32s(s.data)
	}
}

// Decode replaces the store contents with data written by Encode.
func (s *Store) Decode(br *persistence.BinaryReader) error {
	n := br.Uint64()
	// Each id needs at least its 4-byte length prefix.
	if n > uint64(br.Remaining()/4) {
		return fmt.Errorf("store: id count %d exceeds payload", n)
	}
	s.Reset()
	s.ids = make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		id := br.String()
		if br.Err() != nil {
			return br.Err()
		}
		if _, dup := s.ordinals[id]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateID, id)
		}
		s.ordinals[id] = uint32(i)
		s.ids = append(s.ids, id)
	}
	if s.keepVectors {
		s.data = br.Float32s(int(n) * s.dim)
	}
	return br.Err()
}
