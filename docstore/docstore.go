// Package docstore records source documents and the chunks derived from
// them. Indexes reference chunks by id only; the document store is where
// those ids are resolved back to text.
package docstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/vecbench/chunker"
)

// ErrNotFound is returned for unknown document or chunk ids.
var ErrNotFound = errors.New("docstore: not found")

// Document is the durable record of one ingested source.
type Document struct {
	ID           string       `json:"id"`
	Path         string       `json:"path"`
	SHA256       string       `json:"sha256"`
	Bytes        int          `json:"bytes"`
	ChunkMode    chunker.Mode `json:"chunk_mode"`
	ChunkSize    int          `json:"chunk_size"`
	ChunkOverlap int          `json:"chunk_overlap"`
	ChunkCount   int          `json:"chunk_count"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Store is a document store. Implementations are safe for concurrent use.
type Store interface {
	// Put records doc with its chunks, replacing any chunks previously
	// recorded for the same document id.
	Put(ctx context.Context, doc Document, chunks []chunker.Chunk) error

	// Document returns one document.
	Document(ctx context.Context, id string) (Document, error)

	// Documents returns every document ordered by id.
	Documents(ctx context.Context) ([]Document, error)

	// FindByPath returns the document recorded for path.
	FindByPath(ctx context.Context, path string) (Document, error)

	// Chunks resolves chunk ids. Unknown ids are absent from the result.
	Chunks(ctx context.Context, ids []string) (map[string]chunker.Chunk, error)

	// DocumentChunks returns the chunks of one document in sequence order.
	DocumentChunks(ctx context.Context, docID string) ([]chunker.Chunk, error)

	// Delete removes a document and its chunks.
	Delete(ctx context.Context, docID string) error
}

// NewDocumentID returns a fresh random document id.
func NewDocumentID() string {
	return uuid.NewString()
}

// AllChunks returns the chunks of every document, grouped by document.
func AllChunks(ctx context.Context, s Store) ([]chunker.Chunk, error) {
	docs, err := s.Documents(ctx)
	if err != nil {
		return nil, err
	}
	var out []chunker.Chunk
	for _, d := range docs {
		chunks, err := s.DocumentChunks(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, chunks...)
	}
	return out, nil
}
