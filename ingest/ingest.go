// Package ingest turns a directory of text files into documents, chunks and
// embedding vectors.
//
// Discovery uses doublestar include and exclude patterns. Each file is
// chunked with the configured chunker and recorded in a docstore.Store
// together with its chunking parameters and content hash; unchanged files
// are skipped on re-ingest and keep their document id.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hupe1980/vecbench"
	"github.com/hupe1980/vecbench/chunker"
	"github.com/hupe1980/vecbench/docstore"
	"github.com/hupe1980/vecbench/embedding"
	"github.com/hupe1980/vecbench/index"
	"github.com/hupe1980/vecbench/resource"
)

// DefaultMaxFileBytes bounds the size of a single ingested file.
const DefaultMaxFileBytes = 16 << 20

// ErrNotText is recorded for files that are not valid UTF-8.
var ErrNotText = errors.New("ingest: file is not valid UTF-8 text")

// PatternError reports a malformed include or exclude pattern.
type PatternError struct {
	Pattern string
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("ingest: invalid glob pattern %q", e.Pattern)
}

func (e *PatternError) Unwrap() error { return vecbench.ErrConfig }

// Options configures a Pipeline.
type Options struct {
	Includes []string
	Excludes []string
	Chunking chunker.Options

	// Workers bounds concurrent file reads. Defaults to 4.
	Workers int

	// MaxFileBytes skips larger files with an error entry.
	MaxFileBytes int64

	// Prune deletes stored documents whose file was not discovered.
	Prune bool

	// Progress is called after each file with the processed and total counts.
	Progress func(done, total int, path string)

	Logger *vecbench.Logger
}

// Option configures a Pipeline.
type Option func(o *Options)

// WithPatterns sets the include and exclude globs.
func WithPatterns(includes, excludes []string) Option {
	return func(o *Options) {
		o.Includes = includes
		o.Excludes = excludes
	}
}

// WithChunking sets the chunker options.
func WithChunking(c chunker.Options) Option {
	return func(o *Options) { o.Chunking = c }
}

// WithWorkers sets the number of concurrent file readers.
func WithWorkers(n int) Option {
	return func(o *Options) { o.Workers = n }
}

// WithMaxFileBytes sets the per-file size limit.
func WithMaxFileBytes(n int64) Option {
	return func(o *Options) { o.MaxFileBytes = n }
}

// WithPrune enables deletion of documents whose files disappeared.
func WithPrune(prune bool) Option {
	return func(o *Options) { o.Prune = prune }
}

// WithProgress sets the progress callback.
func WithProgress(fn func(done, total int, path string)) Option {
	return func(o *Options) { o.Progress = fn }
}

// WithLogger sets the logger.
func WithLogger(l *vecbench.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// FileError records a file that could not be ingested.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string { return e.Path + ": " + e.Err.Error() }

// Result summarizes one ingest run.
type Result struct {
	Documents []docstore.Document // ingested or refreshed
	Skipped   []docstore.Document // unchanged since the last run
	Pruned    []string            // ids of deleted documents
	Chunks    int                 // chunks written this run
	Errors    []FileError
}

// Pipeline ingests files into a document store.
type Pipeline struct {
	docs    docstore.Store
	gateway *embedding.Gateway
	chunker *chunker.Chunker
	matcher *Matcher
	opts    Options
	logger  *vecbench.Logger
}

// New creates a Pipeline. Chunking options and glob patterns are validated
// here so that a bad configuration fails before any file is read.
func New(docs docstore.Store, gateway *embedding.Gateway, optFns ...Option) (*Pipeline, error) {
	opts := Options{
		Includes:     DefaultIncludes,
		Excludes:     DefaultExcludes,
		Chunking:     chunker.DefaultOptions(),
		Workers:      4,
		MaxFileBytes: DefaultMaxFileBytes,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = vecbench.NoopLogger()
	}

	c, err := chunker.New(opts.Chunking)
	if err != nil {
		return nil, err
	}
	m, err := NewMatcher(opts.Includes, opts.Excludes)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		docs:    docs,
		gateway: gateway,
		chunker: c,
		matcher: m,
		opts:    opts,
		logger:  opts.Logger.WithComponent("ingest"),
	}, nil
}

type fileOutcome struct {
	doc     docstore.Document
	chunks  []chunker.Chunk
	skipped bool
	err     error
}

// Ingest discovers files below root and records their documents and chunks.
// Unreadable files are reported in Result.Errors; store failures abort.
func (p *Pipeline) Ingest(ctx context.Context, root string) (*Result, error) {
	files, err := p.matcher.Discover(root)
	if err != nil {
		return nil, fmt.Errorf("ingest: discover %s: %w", root, err)
	}
	p.logger.InfoContext(ctx, "discovered files", "root", root, "files", len(files))

	outcomes := make([]fileOutcome, len(files))
	var (
		mu   sync.Mutex
		done int
	)
	err = resource.ForEach(ctx, len(files), p.opts.Workers, func(ctx context.Context, i int) error {
		outcomes[i] = p.prepare(ctx, files[i])
		if outcomes[i].err == nil && !outcomes[i].skipped {
			if err := p.docs.Put(ctx, outcomes[i].doc, outcomes[i].chunks); err != nil {
				return fmt.Errorf("ingest: store %s: %w", files[i].Path, err)
			}
		}
		if p.opts.Progress != nil {
			mu.Lock()
			done++
			p.opts.Progress(done, len(files), files[i].Path)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &Result{}
	seen := make(map[string]struct{}, len(files))
	for i, o := range outcomes {
		seen[files[i].Path] = struct{}{}
		switch {
		case o.err != nil:
			p.logger.WarnContext(ctx, "skipping file", "path", files[i].Path, "error", o.err)
			res.Errors = append(res.Errors, FileError{Path: files[i].Path, Err: o.err})
		case o.skipped:
			res.Skipped = append(res.Skipped, o.doc)
		default:
			res.Documents = append(res.Documents, o.doc)
			res.Chunks += len(o.chunks)
		}
	}

	if p.opts.Prune {
		pruned, err := p.prune(ctx, seen)
		if err != nil {
			return nil, err
		}
		res.Pruned = pruned
	}

	p.logger.InfoContext(ctx, "ingest complete",
		"documents", len(res.Documents),
		"skipped", len(res.Skipped),
		"pruned", len(res.Pruned),
		"chunks", res.Chunks,
		"errors", len(res.Errors),
	)
	return res, nil
}

// prepare reads and chunks one file. An unchanged file (same content hash
// and chunking parameters) is reported as skipped with its stored document.
func (p *Pipeline) prepare(ctx context.Context, f File) fileOutcome {
	if p.opts.MaxFileBytes > 0 && f.Size > p.opts.MaxFileBytes {
		return fileOutcome{err: fmt.Errorf("ingest: %d bytes exceeds limit of %d", f.Size, p.opts.MaxFileBytes)}
	}
	data, err := os.ReadFile(f.Abs)
	if err != nil {
		return fileOutcome{err: err}
	}
	if !utf8.Valid(data) {
		return fileOutcome{err: ErrNotText}
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	copts := p.chunker.Options()

	id := docstore.NewDocumentID()
	prev, err := p.docs.FindByPath(ctx, f.Path)
	switch {
	case err == nil:
		if prev.SHA256 == hash && prev.ChunkMode == copts.Mode &&
			prev.ChunkSize == copts.Size && prev.ChunkOverlap == copts.Overlap {
			return fileOutcome{doc: prev, skipped: true}
		}
		id = prev.ID
	case !errors.Is(err, docstore.ErrNotFound):
		return fileOutcome{err: err}
	}

	doc := docstore.Document{
		ID:           id,
		Path:         f.Path,
		SHA256:       hash,
		Bytes:        len(data),
		ChunkMode:    copts.Mode,
		ChunkSize:    copts.Size,
		ChunkOverlap: copts.Overlap,
		CreatedAt:    time.Now().UTC(),
	}
	chunks := slices.Collect(p.chunker.Chunk(id, string(data)))
	doc.ChunkCount = len(chunks)
	return fileOutcome{doc: doc, chunks: chunks}
}

func (p *Pipeline) prune(ctx context.Context, seen map[string]struct{}) ([]string, error) {
	docs, err := p.docs.Documents(ctx)
	if err != nil {
		return nil, err
	}
	var pruned []string
	for _, d := range docs {
		if _, ok := seen[d.Path]; ok {
			continue
		}
		if err := p.docs.Delete(ctx, d.ID); err != nil {
			return pruned, fmt.Errorf("ingest: prune %s: %w", d.Path, err)
		}
		p.logger.InfoContext(ctx, "pruned document", "path", d.Path, "doc_id", d.ID)
		pruned = append(pruned, d.ID)
	}
	return pruned, nil
}

// Vectors embeds every chunk in the document store with model. The result
// is ordered by document id, then chunk sequence.
func (p *Pipeline) Vectors(ctx context.Context, model string) ([]index.Vector, error) {
	if err := p.gateway.CheckModel(model); err != nil {
		return nil, err
	}
	chunks, err := docstore.AllChunks(ctx, p.docs)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}
	return p.gateway.EmbedChunks(ctx, chunks, model)
}
