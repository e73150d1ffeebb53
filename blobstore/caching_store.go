package blobstore

import (
	"bytes"
	"context"

	"github.com/hupe1980/vecbench/cache"
	"golang.org/x/sync/singleflight"
)

// CachingStore keeps recently opened blobs in memory in front of a slower
// store. Blobs are cached whole since index loads always read them whole.
// Concurrent opens of the same uncached blob share one fetch.
type CachingStore struct {
	inner Store
	cache *cache.LRU[string, []byte]
	group singleflight.Group
}

// NewCachingStore wraps inner with an LRU of at most capacity blobs.
func NewCachingStore(inner Store, capacity int, optFns ...cache.Option[string, []byte]) *CachingStore {
	return &CachingStore{
		inner: inner,
		cache: cache.New(capacity, optFns...),
	}
}

// Stats returns the cache counters.
func (s *CachingStore) Stats() cache.Stats { return s.cache.Stats() }

// Open returns the cached contents, fetching them from the inner store on a
// miss. The returned blob must not be modified.
func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	if data, ok := s.cache.Get(name); ok {
		return NewBytesBlob(data), nil
	}

	v, err, _ := s.group.Do(name, func() (any, error) {
		data, err := Get(ctx, s.inner, name)
		if err != nil {
			return nil, err
		}
		s.cache.Set(name, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return NewBytesBlob(v.([]byte)), nil
}

func (s *CachingStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	w, err := s.inner.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	return &invalidatingWriter{WritableBlob: w, onClose: func() { s.cache.Remove(name) }}, nil
}

func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.cache.Remove(name)
	if err := s.inner.Put(ctx, name, data); err != nil {
		return err
	}
	s.cache.Set(name, bytes.Clone(data))
	return nil
}

func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.cache.Remove(name)
	return s.inner.Delete(ctx, name)
}

func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

type invalidatingWriter struct {
	WritableBlob
	onClose func()
}

func (w *invalidatingWriter) Close() error {
	defer w.onClose()
	return w.WritableBlob.Close()
}
