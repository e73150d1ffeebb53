// Package bm25 implements an in-memory Okapi BM25 index over short texts.
package bm25

import (
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/hupe1980/vecbench/internal/queue"
	"github.com/hupe1980/vecbench/lexical"
)

const (
	k1 = 1.2
	b  = 0.75
)

type posting struct {
	doc   uint32
	count int
}

// MemoryIndex is a simple in-memory BM25 index.
// It is safe for concurrent use.
type MemoryIndex struct {
	mu          sync.RWMutex
	inverted    map[string][]posting
	ordinals    map[string]uint32
	ids         []string
	docLengths  []int
	totalLength int64
	docCount    int
}

// New creates a new MemoryIndex.
func New() *MemoryIndex {
	return &MemoryIndex{
		inverted: make(map[string][]posting),
		ordinals: make(map[string]uint32),
	}
}

var _ lexical.Index = (*MemoryIndex)(nil)

// Tokenize lowercases text and splits it on anything that is not a letter
// or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Add indexes text under id. Re-adding an id replaces its text.
func (idx *MemoryIndex) Add(id string, text string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.ordinals[id]; ok {
		idx.deleteLocked(id)
	}

	tokens := Tokenize(text)
	doc := uint32(len(idx.ids))
	idx.ordinals[id] = doc
	idx.ids = append(idx.ids, id)
	idx.docLengths = append(idx.docLengths, len(tokens))
	idx.totalLength += int64(len(tokens))
	idx.docCount++

	tf := make(map[string]int)
	for _, t := range tokens {
		tf[t]++
	}
	for t, count := range tf {
		idx.inverted[t] = append(idx.inverted[t], posting{doc: doc, count: count})
	}
	return nil
}

// Delete removes id. Deleting an unknown id is a no-op.
func (idx *MemoryIndex) Delete(id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.deleteLocked(id)
	return nil
}

func (idx *MemoryIndex) deleteLocked(id string) {
	doc, ok := idx.ordinals[id]
	if !ok {
		return
	}
	delete(idx.ordinals, id)
	idx.ids[doc] = ""
	idx.totalLength -= int64(idx.docLengths[doc])
	idx.docLengths[doc] = 0
	idx.docCount--

	for t, list := range idx.inverted {
		for i, p := range list {
			if p.doc == doc {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(idx.inverted, t)
		} else {
			idx.inverted[t] = list
		}
	}
}

// Len returns the number of indexed documents.
func (idx *MemoryIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.docCount
}

// Search scores every document sharing a term with text and returns the
// best k, highest score first. Equal scores keep insertion order.
func (idx *MemoryIndex) Search(text string, k int) ([]lexical.Candidate, error) {
	if k <= 0 {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.docCount == 0 {
		return nil, nil
	}

	avgdl := float64(idx.totalLength) / float64(idx.docCount)
	scores := make(map[uint32]float64)
	for _, t := range Tokenize(text) {
		list := idx.inverted[t]
		if len(list) == 0 {
			continue
		}
		idf := idx.computeIDF(len(list))
		for _, p := range list {
			tf := float64(p.count)
			dl := float64(idx.docLengths[p.doc])
			scores[p.doc] += idf * (tf * (k1 + 1)) / (tf + k1*(1-b+b*dl/avgdl))
		}
	}

	top := queue.NewMax(k + 1)
	for doc, s := range scores {
		top.PushBounded(queue.Item{Node: doc, Distance: float32(-s)}, k)
	}

	sorted := top.Sorted()
	out := make([]lexical.Candidate, len(sorted))
	for i, it := range sorted {
		out[i] = lexical.Candidate{ID: idx.ids[it.Node], Score: -it.Distance}
	}
	return out, nil
}

func (idx *MemoryIndex) computeIDF(df int) float64 {
	n := float64(idx.docCount)
	return math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
}
