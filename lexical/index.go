package lexical

import "slices"

// DefaultRRFK is the rank offset of reciprocal rank fusion.
const DefaultRRFK = 60

// Candidate is one keyword search result.
type Candidate struct {
	ID    string
	Score float32
}

// Index is the interface for a lexical search index.
type Index interface {
	// Add indexes text under id, replacing any previous text.
	Add(id string, text string) error
	// Delete removes id from the index.
	Delete(id string) error
	// Search returns at most k candidates for text, best first.
	Search(text string, k int) ([]Candidate, error)
	// Len returns the number of indexed documents.
	Len() int
}

// Fused is one entry of a fused ranking.
type Fused struct {
	ID    string
	Score float64
}

// Fuse merges ranked id lists with reciprocal rank fusion: an id at 0-based
// rank r of a list contributes 1/(rrfK+r+1). The result holds at most k
// entries ordered by fused score; equal scores keep first-seen order.
func Fuse(rrfK, k int, lists ...[]string) []Fused {
	pos := make(map[string]int)
	var out []Fused
	for _, list := range lists {
		for rank, id := range list {
			s := 1.0 / float64(rrfK+rank+1)
			if i, ok := pos[id]; ok {
				out[i].Score += s
				continue
			}
			pos[id] = len(out)
			out = append(out, Fused{ID: id, Score: s})
		}
	}

	slices.SortStableFunc(out, func(a, b Fused) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if k >= 0 && len(out) > k {
		out = out[:k]
	}
	return out
}
