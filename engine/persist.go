package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/vecbench"
	"github.com/hupe1980/vecbench/blobstore"
	"github.com/hupe1980/vecbench/catalog"
	"github.com/hupe1980/vecbench/index"
	"github.com/hupe1980/vecbench/persistence"
	"github.com/hupe1980/vecbench/resource"
)

// Persist writes the current generation to store under name and returns
// the number of bytes written. The blob becomes visible atomically.
func (h *Handle) Persist(ctx context.Context, store blobstore.Store, name string) (n int64, err error) {
	defer func() { h.opts.Logger.LogPersist(ctx, name, n, err) }()

	w, err := store.Create(ctx, name)
	if err != nil {
		return 0, err
	}

	var out io.Writer = w
	if h.opts.Resources != nil {
		out = resource.NewRateLimitedWriter(ctx, w, h.opts.Resources)
	}

	g := h.current.Load()
	g.mu.RLock()
	n, err = Encode(out, g.idx, persistence.WithCompression(h.opts.Compression))
	g.mu.RUnlock()
	if err != nil {
		_ = w.Abort()
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return n, nil
}

// Load reconstructs a Handle from the blob name in store.
func Load(ctx context.Context, reg *index.Registry, store blobstore.Store, name string, optFns ...Option) (*Handle, error) {
	opts := newOptions(optFns)

	idx, err := loadIndex(ctx, reg, store, name, opts.Resources)
	if err != nil {
		return nil, err
	}

	cfg := idx.Config()
	if opts.ExpectedDim > 0 && cfg.Dim != opts.ExpectedDim {
		return nil, vecbench.NewCorruptIndexError(name,
			&vecbench.DimensionMismatchError{Expected: opts.ExpectedDim, Actual: cfg.Dim})
	}

	ctor, err := reg.Resolve(cfg.Kind, cfg.Params)
	if err != nil {
		return nil, err
	}
	h := &Handle{cfg: cfg, ctor: ctor, opts: opts}
	h.opts.Logger = h.opts.Logger.WithBackend(string(cfg.Kind))
	h.current.Store(&generation{idx: idx, seq: 1, builtAt: time.Now(), source: name})

	h.opts.Logger.InfoContext(ctx, "index loaded", "blob", name, "count", idx.Len())
	return h, nil
}

func loadIndex(ctx context.Context, reg *index.Registry, store blobstore.Store, name string, rc *resource.Controller) (idx index.Index, err error) {
	if !rc.IOLimited() {
		err = blobstore.View(ctx, store, name, func(data []byte) error {
			var derr error
			idx, derr = Decode(reg, data)
			return derr
		})
		return idx, err
	}

	// Throttled loads stream through the IO limiter instead of mapping.
	b, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := b.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	data, err := io.ReadAll(resource.NewRateLimitedReader(ctx, io.NewSectionReader(b, 0, b.Size()), rc))
	if err != nil {
		return nil, err
	}
	return Decode(reg, data)
}

// Publish persists the current generation as the next version of name and
// commits it to cat. If another writer commits the same version first the
// blob is removed and catalog.ErrConcurrentModification is returned.
func (h *Handle) Publish(ctx context.Context, store blobstore.Store, cat catalog.Catalog, name string) (catalog.Record, error) {
	if err := catalog.ValidateName(name); err != nil {
		return catalog.Record{}, err
	}
	version, err := catalog.Next(ctx, cat, name)
	if err != nil {
		return catalog.Record{}, err
	}

	info := h.Info()
	blob := catalog.BlobName(name, version, uuid.NewString()[:8])
	n, err := h.Persist(ctx, store, blob)
	if err != nil {
		return catalog.Record{}, err
	}

	rec := catalog.Record{
		Name:        name,
		Version:     version,
		Blob:        blob,
		Config:      h.cfg,
		VectorCount: info.VectorCount,
		Bytes:       n,
		CreatedAt:   time.Now().UTC(),
		BuildMillis: info.BuildDuration.Milliseconds(),
	}
	if err := cat.Commit(ctx, rec); err != nil {
		_ = store.Delete(ctx, blob)
		return catalog.Record{}, err
	}
	return rec, nil
}

// LoadVersion loads one catalogued version of name. Version 0 selects the
// latest. The blob must match the catalogued configuration and count.
func LoadVersion(ctx context.Context, reg *index.Registry, store blobstore.Store, cat catalog.Catalog, name string, version uint64, optFns ...Option) (*Handle, catalog.Record, error) {
	var (
		rec catalog.Record
		err error
	)
	if version == 0 {
		rec, err = cat.Latest(ctx, name)
	} else {
		rec, err = cat.Get(ctx, name, version)
	}
	if err != nil {
		return nil, catalog.Record{}, err
	}

	h, err := Load(ctx, reg, store, rec.Blob, optFns...)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, rec, vecbench.NewCorruptIndexError(fmt.Sprintf("catalogued blob %s is missing", rec.Blob), err)
		}
		return nil, rec, err
	}

	cfg := h.Config()
	if cfg.Kind != rec.Config.Kind || cfg.Metric != rec.Config.Metric {
		return nil, rec, vecbench.NewCorruptIndexError(fmt.Sprintf("blob %s holds a %s/%s index, catalog records %s/%s",
			rec.Blob, cfg.Kind, cfg.Metric, rec.Config.Kind, rec.Config.Metric), nil)
	}
	if cfg.Dim != rec.Config.Dim {
		return nil, rec, vecbench.NewCorruptIndexError(rec.Blob,
			&vecbench.DimensionMismatchError{Expected: rec.Config.Dim, Actual: cfg.Dim})
	}
	if h.Size() != rec.VectorCount {
		return nil, rec, vecbench.NewCorruptIndexError(fmt.Sprintf("blob %s holds %d vectors, catalog records %d",
			rec.Blob, h.Size(), rec.VectorCount), nil)
	}
	return h, rec, nil
}
