package docstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/hupe1980/vecbench/chunker"
)

// MemoryStore keeps documents in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	docs      map[string]Document
	chunks    map[string]chunker.Chunk
	docChunks map[string][]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:      make(map[string]Document),
		chunks:    make(map[string]chunker.Chunk),
		docChunks: make(map[string][]string),
	}
}

func (s *MemoryStore) Put(ctx context.Context, doc Document, chunks []chunker.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkPut(doc, chunks); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteLocked(doc.ID)
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		s.chunks[c.ID] = c
		ids[i] = c.ID
	}
	doc.ChunkCount = len(chunks)
	s.docs[doc.ID] = doc
	s.docChunks[doc.ID] = ids
	return nil
}

func (s *MemoryStore) Document(_ context.Context, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return Document{}, fmt.Errorf("%w: document %q", ErrNotFound, id)
	}
	return d, nil
}

func (s *MemoryStore) Documents(_ context.Context) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Document, 0, len(s.docs))
	for _, id := range slices.Sorted(maps.Keys(s.docs)) {
		out = append(out, s.docs[id])
	}
	return out, nil
}

func (s *MemoryStore) FindByPath(_ context.Context, path string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.docs {
		if d.Path == path {
			return d, nil
		}
	}
	return Document{}, fmt.Errorf("%w: path %q", ErrNotFound, path)
}

func (s *MemoryStore) Chunks(_ context.Context, ids []string) (map[string]chunker.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]chunker.Chunk, len(ids))
	for _, id := range ids {
		if c, ok := s.chunks[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (s *MemoryStore) DocumentChunks(_ context.Context, docID string) ([]chunker.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids, ok := s.docChunks[docID]
	if !ok {
		return nil, fmt.Errorf("%w: document %q", ErrNotFound, docID)
	}
	out := make([]chunker.Chunk, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.chunks[id])
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(docID)
	return nil
}

func (s *MemoryStore) deleteLocked(docID string) {
	for _, id := range s.docChunks[docID] {
		delete(s.chunks, id)
	}
	delete(s.docChunks, docID)
	delete(s.docs, docID)
}
