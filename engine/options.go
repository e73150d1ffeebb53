package engine

import (
	"github.com/hupe1980/vecbench"
	"github.com/hupe1980/vecbench/persistence"
	"github.com/hupe1980/vecbench/resource"
)

// Options configures a Handle.
type Options struct {
	Logger  *vecbench.Logger
	Metrics vecbench.MetricsCollector
	// Compression is applied to payloads written by Persist.
	Compression persistence.Compression
	// Resources throttles persist and load IO when set.
	Resources *resource.Controller
	// ExpectedDim makes Load reject blobs of a different dimensionality.
	ExpectedDim int
}

// Option configures Options.
type Option func(o *Options)

// WithLogger sets the logger.
func WithLogger(l *vecbench.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m vecbench.MetricsCollector) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithCompression selects the payload compression used by Persist.
func WithCompression(c persistence.Compression) Option {
	return func(o *Options) { o.Compression = c }
}

// WithResources throttles persist and load IO through rc.
func WithResources(rc *resource.Controller) Option {
	return func(o *Options) { o.Resources = rc }
}

// WithExpectedDim makes Load fail with a CorruptIndexError when the stored
// index does not have dimensionality dim.
func WithExpectedDim(dim int) Option {
	return func(o *Options) { o.ExpectedDim = dim }
}

func newOptions(optFns []Option) Options {
	opts := Options{
		Logger:      vecbench.NoopLogger(),
		Metrics:     vecbench.NoopMetricsCollector{},
		Compression: persistence.CompressionNone,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = vecbench.NoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = vecbench.NoopMetricsCollector{}
	}
	return opts
}
