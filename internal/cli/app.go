package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.etcd.io/bbolt"

	"github.com/hupe1980/vecbench"
	"github.com/hupe1980/vecbench/blobstore"
	vbminio "github.com/hupe1980/vecbench/blobstore/minio"
	vbs3 "github.com/hupe1980/vecbench/blobstore/s3"
	"github.com/hupe1980/vecbench/catalog"
	"github.com/hupe1980/vecbench/catalog/dynamo"
	"github.com/hupe1980/vecbench/config"
	"github.com/hupe1980/vecbench/docstore"
	"github.com/hupe1980/vecbench/embedding"
	"github.com/hupe1980/vecbench/engine"
	"github.com/hupe1980/vecbench/index"
	"github.com/hupe1980/vecbench/index/backends"
	"github.com/hupe1980/vecbench/ingest"
	"github.com/hupe1980/vecbench/resource"
)

// app holds the components shared by all commands.
type app struct {
	cfg     *config.Config
	logger  *vecbench.Logger
	metrics *vecbench.BasicMetricsCollector
	rc      *resource.Controller
	reg     *index.Registry

	db      *bbolt.DB
	docs    *docstore.BoltStore
	blobs   blobstore.Store
	catalog catalog.Catalog
	gateway *embedding.Gateway
}

func newApp(ctx context.Context, cfg *config.Config, logger *vecbench.Logger) (_ *app, err error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: &vecbench.BasicMetricsCollector{},
		rc:      resource.NewController(cfg.ResourceConfig()),
		reg:     backends.NewRegistry(),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.MetadataPath), 0o755); err != nil {
		return nil, err
	}
	a.db, err = bbolt.Open(cfg.Storage.MetadataPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	if a.docs, err = docstore.NewBolt(a.db); err != nil {
		return nil, err
	}
	if a.blobs, err = openBlobStore(ctx, cfg.Storage); err != nil {
		return nil, err
	}
	if a.catalog, err = a.openCatalog(ctx); err != nil {
		return nil, err
	}
	if a.gateway, err = a.newGateway(); err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases the metadata database.
func (a *app) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func openBlobStore(ctx context.Context, sc config.StorageConfig) (blobstore.Store, error) {
	var remote blobstore.Store
	switch sc.Backend {
	case "local":
		return blobstore.NewLocalStore(sc.Dir)
	case "memory":
		return blobstore.NewMemoryStore(), nil
	case "s3":
		s, err := vbs3.New(ctx, sc.Bucket,
			vbs3.WithPrefix(sc.Prefix),
			vbs3.WithRegion(sc.Region),
			vbs3.WithEndpoint(sc.Endpoint),
		)
		if err != nil {
			return nil, err
		}
		remote = s
	case "minio":
		client, err := minio.New(sc.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(os.Getenv("MINIO_ACCESS_KEY"), os.Getenv("MINIO_SECRET_KEY"), ""),
			Secure: sc.UseSSL,
			Region: sc.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		remote = vbminio.NewStore(client, sc.Bucket, sc.Prefix)
	default:
		return nil, vecbench.NewConfigError("storage.backend", fmt.Sprintf("unknown backend %q", sc.Backend))
	}
	if sc.CacheEntries > 0 {
		return blobstore.NewCachingStore(remote, sc.CacheEntries), nil
	}
	return remote, nil
}

func (a *app) openCatalog(ctx context.Context) (catalog.Catalog, error) {
	switch a.cfg.Storage.Catalog {
	case "bolt":
		return catalog.NewBolt(a.db)
	case "dynamodb":
		return dynamo.NewFromEnv(ctx, a.cfg.Storage.DynamoTable)
	default:
		return nil, vecbench.NewConfigError("storage.catalog", fmt.Sprintf("unknown catalog %q", a.cfg.Storage.Catalog))
	}
}

func (a *app) newGateway() (*embedding.Gateway, error) {
	ec := a.cfg.Embedding

	var provider embedding.Provider
	switch ec.Provider {
	case "hash":
		provider = embedding.NewHashProvider(ec.Dimension)
	case "openai":
		p, err := embedding.NewOpenAIProvider(os.Getenv(ec.APIKeyEnv), func(o *embedding.OpenAIOptions) {
			o.BaseURL = ec.BaseURL
			o.Models = ec.Models()
			o.Dimensions = ec.Dimension
		})
		if err != nil {
			return nil, vecbench.WrapConfigError("embedding", err)
		}
		provider = p
	default:
		return nil, vecbench.NewConfigError("embedding.provider", fmt.Sprintf("unknown provider %q", ec.Provider))
	}

	return embedding.NewGateway(provider,
		embedding.WithModels(ec.Models()...),
		embedding.WithBatchSize(ec.BatchSize),
		embedding.WithCacheSize(ec.CacheSize),
		embedding.WithRetry(ec.MaxRetries, ec.Backoff),
		embedding.WithNormalize(ec.Normalize),
		embedding.WithResources(a.rc),
		embedding.WithLogger(a.logger),
		embedding.WithMetrics(a.metrics),
	)
}

func (a *app) pipeline(optFns ...ingest.Option) (*ingest.Pipeline, error) {
	ic := a.cfg.Ingest
	opts := append([]ingest.Option{
		ingest.WithPatterns(ic.Includes, ic.Excludes),
		ingest.WithChunking(a.cfg.Chunking),
		ingest.WithWorkers(ic.Workers),
		ingest.WithMaxFileBytes(ic.MaxFileBytes),
		ingest.WithPrune(ic.Prune),
		ingest.WithLogger(a.logger),
	}, optFns...)
	return ingest.New(a.docs, a.gateway, opts...)
}

func (a *app) engineOptions() []engine.Option {
	return []engine.Option{
		engine.WithLogger(a.logger),
		engine.WithMetrics(a.metrics),
		engine.WithCompression(a.cfg.Compression()),
		engine.WithResources(a.rc),
	}
}

// loadIndex loads the given catalog version of the configured index
// (0 selects the latest).
func (a *app) loadIndex(ctx context.Context, version uint64) (*engine.Handle, catalog.Record, error) {
	h, rec, err := engine.LoadVersion(ctx, a.reg, a.blobs, a.catalog, a.cfg.Index.Name, version, a.engineOptions()...)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, rec, fmt.Errorf("index %q has no published version; run 'vecbench build' first: %w", a.cfg.Index.Name, err)
	}
	return h, rec, err
}
