package embedding

import (
	"context"
	"crypto/sha256"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/vecbench"
	"github.com/hupe1980/vecbench/cache"
	"github.com/hupe1980/vecbench/chunker"
	"github.com/hupe1980/vecbench/distance"
	"github.com/hupe1980/vecbench/index"
	"github.com/hupe1980/vecbench/resource"
)

const (
	// DefaultBatchSize is the maximum number of texts per provider call.
	DefaultBatchSize = 64

	// DefaultCacheSize is the number of cached vectors.
	DefaultCacheSize = 10000

	// DefaultMaxRetries is the number of retries after a failed provider call.
	DefaultMaxRetries = 3

	// DefaultBackoff is the delay before the first retry. It doubles per retry.
	DefaultBackoff = 100 * time.Millisecond
)

// Embedding is one vector returned by the Gateway.
type Embedding struct {
	Values []float32 `json:"values"`
	Dim    int       `json:"dim"`
}

type cacheKey [sha256.Size]byte

func keyFor(model, text string) cacheKey {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	var k cacheKey
	h.Sum(k[:0])
	return k
}

// Options configures a Gateway.
type Options struct {
	// Models is the allow-list of model ids. Defaults to Provider.Models().
	Models []string

	// BatchSize caps the number of texts per provider call.
	BatchSize int

	// CacheSize is the LRU capacity in vectors. Zero disables caching.
	CacheSize int

	// MaxRetries is the number of retries on transient provider failures.
	MaxRetries int

	// Backoff is the base delay between retries.
	Backoff time.Duration

	// Normalize L2-normalizes every returned vector.
	Normalize bool

	// Resources bounds in-flight batches and request rate.
	// Defaults to resource.DefaultMaxInFlight slots and no rate limit.
	Resources *resource.Controller

	Logger  *vecbench.Logger
	Metrics vecbench.MetricsCollector
}

// Option configures a Gateway.
type Option func(o *Options)

// WithModels sets the allowed model ids.
func WithModels(models ...string) Option {
	return func(o *Options) { o.Models = append([]string{}, models...) }
}

// WithBatchSize sets the maximum batch size.
func WithBatchSize(n int) Option {
	return func(o *Options) { o.BatchSize = n }
}

// WithCacheSize sets the cache capacity.
func WithCacheSize(n int) Option {
	return func(o *Options) { o.CacheSize = n }
}

// WithRetry sets the retry count and base backoff.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(o *Options) {
		o.MaxRetries = maxRetries
		o.Backoff = backoff
	}
}

// WithNormalize enables L2 normalization of returned vectors.
func WithNormalize(normalize bool) Option {
	return func(o *Options) { o.Normalize = normalize }
}

// WithResources sets the controller bounding in-flight batches.
func WithResources(rc *resource.Controller) Option {
	return func(o *Options) { o.Resources = rc }
}

// WithLogger sets the logger.
func WithLogger(l *vecbench.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m vecbench.MetricsCollector) Option {
	return func(o *Options) { o.Metrics = m }
}

// Gateway batches, caches and validates provider calls.
// It is safe for concurrent use.
type Gateway struct {
	provider Provider
	opts     Options
	allowed  map[string]struct{}
	cache    *cache.LRU[cacheKey, []float32]
	logger   *vecbench.Logger

	mu   sync.Mutex
	dims map[string]int // observed dimension per model
}

// NewGateway creates a Gateway in front of provider.
func NewGateway(provider Provider, optFns ...Option) (*Gateway, error) {
	if provider == nil {
		return nil, vecbench.NewConfigError("embedding_provider", "must be set")
	}

	opts := Options{
		BatchSize:  DefaultBatchSize,
		CacheSize:  DefaultCacheSize,
		MaxRetries: DefaultMaxRetries,
		Backoff:    DefaultBackoff,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.BatchSize <= 0 {
		return nil, vecbench.NewConfigError("batch_size", fmt.Sprintf("must be positive, got %d", opts.BatchSize))
	}
	if opts.MaxRetries < 0 {
		return nil, vecbench.NewConfigError("max_retries", "must not be negative")
	}
	if opts.Models == nil {
		opts.Models = provider.Models()
	}
	if len(opts.Models) == 0 {
		return nil, vecbench.NewConfigError("embedding_model", "no models allowed")
	}
	if opts.Resources == nil {
		opts.Resources = resource.NewController(resource.Config{})
	}
	if opts.Logger == nil {
		opts.Logger = vecbench.NoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = vecbench.NoopMetricsCollector{}
	}

	allowed := make(map[string]struct{}, len(opts.Models))
	for _, m := range opts.Models {
		allowed[m] = struct{}{}
	}

	return &Gateway{
		provider: provider,
		opts:     opts,
		allowed:  allowed,
		cache:    cache.New[cacheKey, []float32](opts.CacheSize),
		logger:   opts.Logger.WithComponent("embedding"),
		dims:     make(map[string]int),
	}, nil
}

// Models returns the allowed model ids in sorted order.
func (g *Gateway) Models() []string {
	return slices.Sorted(maps.Keys(g.allowed))
}

// CheckModel returns a ConfigError when model is not allowed.
func (g *Gateway) CheckModel(model string) error {
	if _, ok := g.allowed[model]; !ok {
		return vecbench.NewConfigError("embedding_model", fmt.Sprintf("model %q is not allowed (allowed: %v)", model, g.Models()))
	}
	return nil
}

// Dimension returns the dimension observed for model, or 0 before the first call.
func (g *Gateway) Dimension(model string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dims[model]
}

// CacheStats returns cache counters.
func (g *Gateway) CacheStats() cache.Stats { return g.cache.Stats() }

// Embed returns one embedding per text, index-aligned with texts.
//
// Unknown models fail with a ConfigError before any provider call. Provider
// failures are retried with exponential backoff and then surface as an
// EmbeddingError. When any vector in the call has a different dimension the
// whole call fails and nothing is cached.
func (g *Gateway) Embed(ctx context.Context, texts []string, model string) (_ []Embedding, err error) {
	if err := g.CheckModel(model); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return []Embedding{}, nil
	}

	start := time.Now()
	hits := 0
	defer func() {
		g.opts.Metrics.RecordEmbed(len(texts), hits, time.Since(start), err)
		g.logger.LogEmbed(ctx, model, len(texts), hits, err)
	}()

	vectors := make([][]float32, len(texts))
	var missing []string
	pending := make(map[string][]int)
	for i, t := range texts {
		if v, ok := g.cache.Get(keyFor(model, t)); ok {
			vectors[i] = v
			hits++
			continue
		}
		if _, seen := pending[t]; !seen {
			missing = append(missing, t)
		}
		pending[t] = append(pending[t], i)
	}

	fetched, err := g.fetch(ctx, missing, model)
	if err != nil {
		return nil, err
	}
	for j, t := range missing {
		for _, i := range pending[t] {
			vectors[i] = fetched[j]
		}
	}

	if err := g.checkDims(model, vectors); err != nil {
		return nil, err
	}
	for j, t := range missing {
		g.cache.Set(keyFor(model, t), fetched[j])
	}

	out := make([]Embedding, len(vectors))
	for i, v := range vectors {
		out[i] = Embedding{Values: slices.Clone(v), Dim: len(v)}
	}
	return out, nil
}

// EmbedChunks embeds chunk texts and pairs the vectors with chunk ids.
func (g *Gateway) EmbedChunks(ctx context.Context, chunks []chunker.Chunk, model string) ([]index.Vector, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embs, err := g.Embed(ctx, texts, model)
	if err != nil {
		return nil, err
	}
	out := make([]index.Vector, len(chunks))
	for i, c := range chunks {
		out[i] = index.Vector{ID: c.ID, Values: embs[i].Values}
	}
	return out, nil
}

// fetch calls the provider for texts in batches, with at most the
// controller's slot count in flight.
func (g *Gateway) fetch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	size := g.opts.BatchSize
	batches := (len(texts) + size - 1) / size
	out := make([][]float32, len(texts))

	err := resource.ForEach(ctx, batches, int(g.opts.Resources.MaxInFlight()), func(ctx context.Context, b int) error {
		lo := b * size
		hi := min(lo+size, len(texts))
		vecs, err := g.call(ctx, texts[lo:hi], model)
		if err != nil {
			return err
		}
		copy(out[lo:hi], vecs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// call runs one provider batch with retries.
func (g *Gateway) call(ctx context.Context, batch []string, model string) ([][]float32, error) {
	rc := g.opts.Resources
	attempts := g.opts.MaxRetries + 1

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := g.opts.Backoff << (attempt - 1)
			g.logger.WarnContext(ctx, "retrying embedding batch",
				"model", model, "attempt", attempt+1, "delay", delay, "error", lastErr)
			if err := sleep(ctx, delay); err != nil {
				return nil, vecbench.NewEmbeddingError(model, attempt, "cancelled while retrying", lastErr)
			}
		}

		vecs, err := g.attempt(ctx, batch, model, rc)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, vecbench.NewEmbeddingError(model, attempt+1, "provider call failed", err)
		}
	}
	return nil, vecbench.NewEmbeddingError(model, attempts, "provider call failed", lastErr)
}

func (g *Gateway) attempt(ctx context.Context, batch []string, model string, rc *resource.Controller) ([][]float32, error) {
	if err := rc.AcquireSlot(ctx); err != nil {
		return nil, err
	}
	defer rc.ReleaseSlot()
	if err := rc.WaitRequest(ctx); err != nil {
		return nil, err
	}

	vecs, err := g.provider.Embed(ctx, batch, model)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(batch) {
		return nil, Permanent(fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(batch)))
	}
	if g.opts.Normalize {
		for i, v := range vecs {
			vecs[i], _ = distance.NormalizeL2Copy(v)
		}
	}
	return vecs, nil
}

// checkDims requires every vector to share one non-zero dimension that
// matches what earlier calls for model returned.
func (g *Gateway) checkDims(model string, vectors [][]float32) error {
	dim := len(vectors[0])
	for _, v := range vectors {
		if len(v) != dim || dim == 0 {
			return vecbench.NewEmbeddingError(model, 1,
				fmt.Sprintf("inconsistent dimensionality: got %d and %d", dim, len(v)), nil)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if prev, ok := g.dims[model]; ok && prev != dim {
		return vecbench.NewEmbeddingError(model, 1,
			fmt.Sprintf("dimensionality changed from %d to %d", prev, dim), nil)
	}
	g.dims[model] = dim
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
