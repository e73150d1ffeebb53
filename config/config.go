// Package config loads the vecbench YAML configuration.
//
// A missing file yields Default(). Selected fields can be overridden from
// the environment (see ApplyEnv); API keys are only ever read from the
// environment variable named by embedding.api_key_env.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/vecbench"
	"github.com/hupe1980/vecbench/chunker"
	"github.com/hupe1980/vecbench/distance"
	"github.com/hupe1980/vecbench/embedding"
	"github.com/hupe1980/vecbench/index"
	"github.com/hupe1980/vecbench/persistence"
	"github.com/hupe1980/vecbench/resource"
)

// Config is the full configuration surface.
type Config struct {
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  chunker.Options `yaml:"chunking"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Index     IndexConfig     `yaml:"index"`
	Query     QueryConfig     `yaml:"query"`
	Benchmark BenchmarkConfig `yaml:"benchmark"`
	Storage   StorageConfig   `yaml:"storage"`
	Resources ResourceConfig  `yaml:"resources"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider      string        `yaml:"provider"` // "openai" or "hash"
	Model         string        `yaml:"model"`
	AllowedModels []string      `yaml:"allowed_models,omitempty"`
	APIKeyEnv     string        `yaml:"api_key_env"`
	BaseURL       string        `yaml:"base_url,omitempty"`
	Dimension     int           `yaml:"dimension"`
	BatchSize     int           `yaml:"batch_size"`
	CacheSize     int           `yaml:"cache_size"`
	MaxRetries    int           `yaml:"max_retries"`
	Backoff       time.Duration `yaml:"backoff"`
	Normalize     bool          `yaml:"normalize"`
}

// IngestConfig controls file discovery.
type IngestConfig struct {
	Includes     []string `yaml:"includes"`
	Excludes     []string `yaml:"excludes"`
	Workers      int      `yaml:"workers"`
	MaxFileBytes int64    `yaml:"max_file_bytes"`
	Prune        bool     `yaml:"prune"`
}

// IndexConfig describes the index built by the CLI.
type IndexConfig struct {
	Name        string       `yaml:"name"`
	Kind        string       `yaml:"backend_kind"`
	Metric      string       `yaml:"metric"`
	Params      index.Params `yaml:"backend_params,omitempty"`
	Compression string       `yaml:"compression"`
}

// QueryConfig holds query defaults.
type QueryConfig struct {
	TopK int `yaml:"top_k"`

	// Hybrid fuses vector and BM25 rankings; BM25K is the keyword depth.
	Hybrid bool `yaml:"hybrid"`
	BM25K  int  `yaml:"bm25_k"`
}

// GridEntry is one benchmark configuration. Dim is taken from the dataset.
type GridEntry struct {
	Kind   string       `yaml:"backend_kind"`
	Metric string       `yaml:"metric"`
	Params index.Params `yaml:"backend_params,omitempty"`
}

// BenchmarkConfig controls benchmark runs.
type BenchmarkConfig struct {
	K           int         `yaml:"k"`
	Queries     int         `yaml:"queries"`
	Parallelism int         `yaml:"parallelism"`
	Warmup      int         `yaml:"warmup"`
	Seed        int64       `yaml:"seed"`
	Grid        []GridEntry `yaml:"grid"`
	LogPath     string      `yaml:"log_path,omitempty"`
}

// StorageConfig selects where indexes, the catalog and documents live.
type StorageConfig struct {
	Backend      string `yaml:"backend"` // local, memory, s3, minio
	Dir          string `yaml:"dir"`
	Bucket       string `yaml:"bucket,omitempty"`
	Prefix       string `yaml:"prefix,omitempty"`
	Region       string `yaml:"region,omitempty"`
	Endpoint     string `yaml:"endpoint,omitempty"`
	UseSSL       bool   `yaml:"use_ssl"`
	CacheEntries int    `yaml:"cache_entries"`
	Catalog      string `yaml:"catalog"` // bolt or dynamodb
	DynamoTable  string `yaml:"dynamodb_table,omitempty"`
	MetadataPath string `yaml:"metadata_path"`
}

// ResourceConfig mirrors resource.Config.
type ResourceConfig struct {
	MaxInFlight        int64   `yaml:"max_in_flight"`
	RequestsPerSecond  float64 `yaml:"requests_per_second"`
	Burst              int     `yaml:"burst"`
	IOLimitBytesPerSec int64   `yaml:"io_limit_bytes_per_sec"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:   "openai",
			Model:      embedding.DefaultOpenAIModels[0],
			APIKeyEnv:  "OPENAI_API_KEY",
			BatchSize:  embedding.DefaultBatchSize,
			CacheSize:  embedding.DefaultCacheSize,
			MaxRetries: embedding.DefaultMaxRetries,
			Backoff:    embedding.DefaultBackoff,
			Normalize:  true,
		},
		Chunking: chunker.Options{Mode: chunker.ModeFixed, Size: 1000, Overlap: 150},
		Ingest: IngestConfig{
			Includes:     []string{"**/*.md", "**/*.txt", "**/*.rst", "**/*.html"},
			Excludes:     []string{"**/.git/**", "**/node_modules/**", "**/vendor/**"},
			Workers:      4,
			MaxFileBytes: 16 << 20,
		},
		Index: IndexConfig{
			Name:        "default",
			Kind:        string(index.KindHNSW),
			Metric:      "cosine",
			Compression: "zstd",
		},
		Query: QueryConfig{TopK: 5, BM25K: 50},
		Benchmark: BenchmarkConfig{
			K:           10,
			Queries:     100,
			Parallelism: 1,
			Warmup:      10,
			Seed:        42,
			Grid: []GridEntry{
				{Kind: "flat", Metric: "cosine"},
				{Kind: "ivf", Metric: "cosine", Params: index.Params{"nlist": 100, "nprobe": 10}},
				{Kind: "hnsw", Metric: "cosine", Params: index.Params{"M": 16, "ef_construction": 200, "ef_search": 64}},
				{Kind: "pq", Metric: "cosine", Params: index.Params{"m": 8, "ksub": 256}},
			},
		},
		Storage: StorageConfig{
			Backend:      "local",
			Dir:          ".vecbench/indexes",
			CacheEntries: 16,
			Catalog:      "bolt",
			MetadataPath: ".vecbench/meta.db",
		},
		Resources: ResourceConfig{MaxInFlight: resource.DefaultMaxInFlight},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. A missing file returns Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv overrides fields from VECBENCH_* variables returned by lookup
// (usually os.LookupEnv).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("VECBENCH_EMBEDDING_PROVIDER", &c.Embedding.Provider)
	str("VECBENCH_EMBEDDING_MODEL", &c.Embedding.Model)
	str("VECBENCH_EMBEDDING_BASE_URL", &c.Embedding.BaseURL)
	str("VECBENCH_INDEX_NAME", &c.Index.Name)
	str("VECBENCH_STORAGE_BACKEND", &c.Storage.Backend)
	str("VECBENCH_STORAGE_BUCKET", &c.Storage.Bucket)
	str("VECBENCH_STORAGE_ENDPOINT", &c.Storage.Endpoint)
	str("VECBENCH_STORAGE_REGION", &c.Storage.Region)
	str("VECBENCH_DYNAMODB_TABLE", &c.Storage.DynamoTable)
	str("VECBENCH_LOG_LEVEL", &c.Logging.Level)
	str("VECBENCH_LOG_FORMAT", &c.Logging.Format)

	if v, ok := lookup("VECBENCH_QUERY_TOP_K"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return vecbench.WrapConfigError("top_k", err)
		}
		c.Query.TopK = n
	}
	return nil
}

// Models returns the allow-listed embedding models.
func (e EmbeddingConfig) Models() []string {
	if len(e.AllowedModels) > 0 {
		return e.AllowedModels
	}
	if e.Provider == "hash" {
		return []string{embedding.HashModel}
	}
	return embedding.DefaultOpenAIModels
}

// Validate checks the configuration surface and returns a ConfigError for
// the first invalid field.
func (c *Config) Validate() error {
	if _, err := c.IndexConfig(1); err != nil {
		return err
	}
	if err := c.Chunking.Validate(); err != nil {
		return err
	}
	if c.Query.TopK <= 0 {
		return vecbench.NewConfigError("top_k", fmt.Sprintf("must be positive, got %d", c.Query.TopK))
	}
	if c.Query.Hybrid && c.Query.BM25K <= 0 {
		return vecbench.NewConfigError("bm25_k", fmt.Sprintf("must be positive, got %d", c.Query.BM25K))
	}
	switch c.Embedding.Provider {
	case "openai", "hash":
	default:
		return vecbench.NewConfigError("embedding.provider", fmt.Sprintf("unknown provider %q", c.Embedding.Provider))
	}
	if !slices.Contains(c.Embedding.Models(), c.Embedding.Model) {
		return vecbench.NewConfigError("embedding_model", fmt.Sprintf("%q is not one of %v", c.Embedding.Model, c.Embedding.Models()))
	}
	if c.Embedding.BatchSize <= 0 {
		return vecbench.NewConfigError("embedding.batch_size", "must be positive")
	}
	if _, err := persistence.ParseCompression(c.Index.Compression); err != nil {
		return vecbench.WrapConfigError("index.compression", err)
	}
	if err := catalogName(c.Index.Name); err != nil {
		return err
	}
	if _, err := c.BenchmarkConfigs(1); err != nil {
		return err
	}
	if c.Benchmark.K <= 0 {
		return vecbench.NewConfigError("benchmark.k", "must be positive")
	}
	switch c.Storage.Backend {
	case "local", "memory":
	case "s3", "minio":
		if c.Storage.Bucket == "" {
			return vecbench.NewConfigError("storage.bucket", "required for "+c.Storage.Backend)
		}
	default:
		return vecbench.NewConfigError("storage.backend", fmt.Sprintf("unknown backend %q", c.Storage.Backend))
	}
	switch c.Storage.Catalog {
	case "bolt":
	case "dynamodb":
		if c.Storage.DynamoTable == "" {
			return vecbench.NewConfigError("storage.dynamodb_table", "required for the dynamodb catalog")
		}
	default:
		return vecbench.NewConfigError("storage.catalog", fmt.Sprintf("unknown catalog %q", c.Storage.Catalog))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return vecbench.NewConfigError("logging.format", fmt.Sprintf("unknown format %q", c.Logging.Format))
	}
	return nil
}

func catalogName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return vecbench.NewConfigError("index.name", fmt.Sprintf("invalid index name %q", name))
	}
	return nil
}

// IndexConfig returns the index configuration for vectors of size dim.
func (c *Config) IndexConfig(dim int) (index.Config, error) {
	return toIndexConfig(c.Index.Kind, c.Index.Metric, c.Index.Params, dim, "index")
}

// BenchmarkConfigs returns the benchmark grid for vectors of size dim.
func (c *Config) BenchmarkConfigs(dim int) ([]index.Config, error) {
	out := make([]index.Config, len(c.Benchmark.Grid))
	for i, g := range c.Benchmark.Grid {
		cfg, err := toIndexConfig(g.Kind, g.Metric, g.Params, dim, fmt.Sprintf("benchmark.grid[%d]", i))
		if err != nil {
			return nil, err
		}
		out[i] = cfg
	}
	return out, nil
}

func toIndexConfig(kind, metric string, params index.Params, dim int, field string) (index.Config, error) {
	k := index.ParseKind(kind)
	switch k {
	case index.KindFlat, index.KindIVF, index.KindHNSW, index.KindPQ:
	default:
		return index.Config{}, vecbench.NewConfigError(field+".backend_kind", fmt.Sprintf("unknown backend %q", kind))
	}
	m, err := distance.ParseMetric(metric)
	if err != nil {
		return index.Config{}, vecbench.WrapConfigError(field+".metric", err)
	}
	return index.Config{Kind: k, Dim: dim, Metric: m, Params: params}, nil
}

// Compression returns the parsed payload compression.
func (c *Config) Compression() persistence.Compression {
	comp, _ := persistence.ParseCompression(c.Index.Compression)
	return comp
}

// ResourceConfig returns the resource controller configuration.
func (c *Config) ResourceConfig() resource.Config {
	return resource.Config{
		MaxInFlight:        c.Resources.MaxInFlight,
		RequestsPerSecond:  c.Resources.RequestsPerSecond,
		Burst:              c.Resources.Burst,
		IOLimitBytesPerSec: c.Resources.IOLimitBytesPerSec,
	}
}
