package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/hupe1980/vecbench/chunker"
)

var (
	bucketDocs      = []byte("docs")
	bucketChunks    = []byte("chunks")
	bucketDocChunks = []byte("doc_chunks")
)

// BoltStore is a Store backed by bbolt. Documents and chunks live in
// separate buckets; doc_chunks maps a document id to its chunk id list.
type BoltStore struct {
	db    *bbolt.DB
	owned bool
}

// OpenBolt opens (or creates) a document database at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("docstore: open bolt db: %w", err)
	}
	s, err := NewBolt(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewBolt uses an already open database. Close does not close db.
func NewBolt(db *bbolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketDocs, bucketChunks, bucketDocChunks} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("docstore: create buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close closes the database if it was opened by OpenBolt.
func (s *BoltStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *BoltStore) Put(ctx context.Context, doc Document, chunks []chunker.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkPut(doc, chunks); err != nil {
		return err
	}
	doc.ChunkCount = len(chunks)

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := deleteDoc(tx, doc.ID); err != nil {
			return err
		}

		cb := tx.Bucket(bucketChunks)
		ids := make([]string, len(chunks))
		for i, c := range chunks {
			data, err := json.Marshal(c)
			if err != nil {
				return err
			}
			if err := cb.Put([]byte(c.ID), data); err != nil {
				return err
			}
			ids[i] = c.ID
		}

		idData, err := json.Marshal(ids)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketDocChunks).Put([]byte(doc.ID), idData); err != nil {
			return err
		}

		docData, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketDocs).Put([]byte(doc.ID), docData)
	})
}

func (s *BoltStore) Document(ctx context.Context, id string) (Document, error) {
	var doc Document
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketDocs).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("%w: document %q", ErrNotFound, id)
		}
		return json.Unmarshal(v, &doc)
	})
	return doc, err
}

func (s *BoltStore) Documents(ctx context.Context) ([]Document, error) {
	docs := []Document{}
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocs).ForEach(func(_, v []byte) error {
			var d Document
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			docs = append(docs, d)
			return nil
		})
	})
	return docs, err
}

func (s *BoltStore) FindByPath(ctx context.Context, path string) (Document, error) {
	var (
		doc   Document
		found bool
	)
	needle, err := json.Marshal(path)
	if err != nil {
		return doc, err
	}
	err = s.view(ctx, func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketDocs).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if !bytes.Contains(v, needle) {
				continue
			}
			var d Document
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if d.Path == path {
				doc, found = d, true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	if !found {
		return Document{}, fmt.Errorf("%w: path %q", ErrNotFound, path)
	}
	return doc, nil
}

func (s *BoltStore) Chunks(ctx context.Context, ids []string) (map[string]chunker.Chunk, error) {
	out := make(map[string]chunker.Chunk, len(ids))
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		for _, id := range ids {
			v := b.Get([]byte(id))
			if v == nil {
				continue
			}
			var c chunker.Chunk
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			out[id] = c
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) DocumentChunks(ctx context.Context, docID string) ([]chunker.Chunk, error) {
	var out []chunker.Chunk
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		ids, err := chunkIDs(tx, docID)
		if err != nil {
			return err
		}
		if ids == nil {
			return fmt.Errorf("%w: document %q", ErrNotFound, docID)
		}
		b := tx.Bucket(bucketChunks)
		out = make([]chunker.Chunk, 0, len(ids))
		for _, id := range ids {
			v := b.Get([]byte(id))
			if v == nil {
				return fmt.Errorf("docstore: chunk %q of document %q is missing", id, docID)
			}
			var c chunker.Chunk
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			out = append(out, c)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) Delete(ctx context.Context, docID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return deleteDoc(tx, docID)
	})
}

func (s *BoltStore) view(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

// chunkIDs returns nil, nil when the document has no chunk list.
func chunkIDs(tx *bbolt.Tx, docID string) ([]string, error) {
	v := tx.Bucket(bucketDocChunks).Get([]byte(docID))
	if v == nil {
		return nil, nil
	}
	ids := []string{}
	if err := json.Unmarshal(v, &ids); err != nil {
		return nil, fmt.Errorf("docstore: chunk list of %q: %w", docID, err)
	}
	return ids, nil
}

func deleteDoc(tx *bbolt.Tx, docID string) error {
	ids, err := chunkIDs(tx, docID)
	if err != nil {
		return err
	}
	cb := tx.Bucket(bucketChunks)
	for _, id := range ids {
		if err := cb.Delete([]byte(id)); err != nil {
			return err
		}
	}
	if err := tx.Bucket(bucketDocChunks).Delete([]byte(docID)); err != nil {
		return err
	}
	return tx.Bucket(bucketDocs).Delete([]byte(docID))
}
