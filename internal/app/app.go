// Package app wires configuration into the shared components used by the
// server, the worker and the CLI.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/knowledge-pipeline/config"
	"github.com/feichai0017/knowledge-pipeline/internal/chunker"
	"github.com/feichai0017/knowledge-pipeline/internal/database"
	"github.com/feichai0017/knowledge-pipeline/internal/embedding"
	"github.com/feichai0017/knowledge-pipeline/internal/extractor/ocr"
	"github.com/feichai0017/knowledge-pipeline/internal/extractor/registry"
	"github.com/feichai0017/knowledge-pipeline/internal/extractor/web"
	"github.com/feichai0017/knowledge-pipeline/internal/models"
	"github.com/feichai0017/knowledge-pipeline/internal/ollama"
	"github.com/feichai0017/knowledge-pipeline/internal/service/document"
	"github.com/feichai0017/knowledge-pipeline/internal/service/rag"
	"github.com/feichai0017/knowledge-pipeline/internal/utils/validator"
	"github.com/feichai0017/knowledge-pipeline/internal/vectorstore"
	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
	"github.com/feichai0017/knowledge-pipeline/pkg/queue"
	"github.com/feichai0017/knowledge-pipeline/pkg/settings"
	"github.com/feichai0017/knowledge-pipeline/pkg/storage"
	"github.com/feichai0017/knowledge-pipeline/pkg/worker"
)

// App holds the long-lived clients of one process.
type App struct {
	Config    *config.Config
	Logger    logger.Logger
	Redis     redis.UniversalClient
	DB        *sql.DB
	Store     database.Store
	Index     vectorstore.Index
	Storage   storage.Storage
	Queue     *queue.RedisQueue
	Models    *settings.RedisStore
	Ollama    *ollama.Client
	Embedder  embedding.Embedder
	Resolver  *rag.ModelResolver
	Embedding *embedding.Service // innermost embedder, keeps the cache counters

	registry *registry.Registry
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg config.LogConfig) (logger.Logger, error) {
	return logger.NewLogger(
		logger.WithLevel(cfg.Level),
		logger.WithEncoding(cfg.Encoding),
		logger.WithOutputPaths(cfg.OutputPaths),
	)
}

// New connects every backend named by cfg. On error everything opened so
// far is closed again.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Logger: log}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		return nil, models.Unavailable("redis", "ping", err)
	}
	a.Queue = queue.NewRedisQueue(a.Redis, queue.QueueConfig{Name: cfg.Redis.QueueName, ResultTTL: cfg.Redis.ResultTTL})
	a.Models = settings.NewRedisStore(a.Redis, cfg.Redis.ActiveModelKey)

	if cfg.Store.Type == "postgres" || cfg.VectorStore.Type == "pgvector" {
		if a.DB, err = database.Open(ctx, cfg.Postgres); err != nil {
			return nil, err
		}
	}
	if cfg.Store.Type == "postgres" {
		a.Store = database.NewPostgresStore(a.DB)
	} else {
		log.Warn("Using in-memory document store, records are lost on exit")
		a.Store = database.NewMemoryStore()
	}

	if cfg.VectorStore.Type == "pgvector" {
		a.Index, err = vectorstore.NewPGVectorIndex(ctx, a.DB, cfg.VectorStore.Collection, cfg.Embedding.Dimension)
		if err != nil {
			return nil, err
		}
	} else {
		a.Index = vectorstore.NewMemoryIndex(cfg.VectorStore.Collection, cfg.Embedding.Dimension)
	}

	if a.Storage, err = storage.NewStorage(storage.StorageType(cfg.Storage.Type), log); err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	a.Ollama = ollama.NewClient(ollama.Config{
		BaseURL:        cfg.Ollama.BaseURL,
		EmbeddingModel: cfg.Embedding.Model,
		Timeout:        cfg.Ollama.Timeout,
		MaxIdleConns:   cfg.Ollama.MaxIdleConns,
		Temperature:    cfg.Ollama.Temperature,
		TopP:           cfg.Ollama.TopP,
	})
	if a.Embedder, err = a.newEmbedder(ctx); err != nil {
		return nil, err
	}
	a.Resolver = rag.NewModelResolver(a.Models, cfg.Ollama.DefaultModel, log)

	log.Info("Application initialized",
		logger.String("store", cfg.Store.Type),
		logger.String("vectorStore", cfg.VectorStore.Type),
		logger.String("storage", cfg.Storage.Type),
		logger.String("embeddingProvider", cfg.Embedding.Provider),
		logger.Int("dimension", cfg.Embedding.Dimension),
	)
	return a, nil
}

func (a *App) newEmbedder(ctx context.Context) (embedding.Embedder, error) {
	cfg := a.Config.Embedding

	var backend embedding.Backend
	switch cfg.Provider {
	case "openai":
		b, err := embedding.NewLangchainBackend(cfg.BaseURL, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		backend = embedding.BackendFunc(a.Ollama.Embed)
	}

	svc, err := embedding.NewService(backend, embedding.NewMemoryCache(cfg.CacheSize), embedding.Config{
		Dimension:     cfg.Dimension,
		MaxConcurrent: cfg.MaxConcurrent,
	}, a.Logger)
	if err != nil {
		return nil, err
	}
	a.Embedding = svc

	var e embedding.Embedder = svc
	if cfg.Adaptive.Enabled {
		e = embedding.NewAdaptiveBatcher(e, embedding.AdaptiveConfig{
			MinBatchSize:  cfg.Adaptive.MinBatchSize,
			MaxBatchSize:  cfg.Adaptive.MaxBatchSize,
			TargetLatency: cfg.Adaptive.TargetLatency,
		}, a.Logger)
	}
	if cfg.Warmup {
		w := embedding.NewWarmer(e, a.Logger)
		if err := w.Warm(ctx); err != nil {
			a.Logger.Warn("Embedding warmup failed", logger.Error(err))
		}
		e = w
	}
	return e, nil
}

// Registry builds the extractor registry once.
func (a *App) Registry(ctx context.Context) (*registry.Registry, error) {
	if a.registry != nil {
		return a.registry, nil
	}
	opts := registry.Options{
		Textract:    config.GetTextractConfig(),
		VisionModel: a.Config.Ollama.VisionModel,
	}
	if opts.VisionModel != "" {
		opts.Vision = a.Ollama
	}
	if o := a.Config.OCR; o.Enabled {
		opts.OCR = ocr.NewTesseract(ocr.Config{
			Languages:  o.Languages,
			Preprocess: o.Preprocess,
		}, a.Logger.Named("ocr"))
		opts.Rasterizer = ocr.NewPoppler(o.Pdftoppm, o.DPI)
	}
	r, err := registry.NewDefault(ctx, opts, a.Logger)
	if err != nil {
		return nil, err
	}
	a.registry = r
	return r, nil
}

// IngestService accepts uploads for the formats the registry can read.
func (a *App) IngestService(ctx context.Context) (*document.DocumentService, error) {
	r, err := a.Registry(ctx)
	if err != nil {
		return nil, err
	}
	v := validator.NewDocumentValidator(a.Logger, &validator.ValidatorConfig{
		MaxFileSize:  a.Config.Upload.MaxFileSize,
		AllowedTypes: validator.AllowedFor(r.Extensions()),
	})
	return document.NewService(a.Store, a.Storage, a.Queue, a.Index, v, a.Logger), nil
}

func (a *App) Chunker() *chunker.Chunker {
	c := a.Config.Chunking
	return chunker.New(
		chunker.WithChunkSize(c.ChunkSize),
		chunker.WithOverlap(c.ChunkOverlap),
		chunker.WithMinChunkSize(c.MinChunkSize),
		chunker.WithMinAlnumRatio(c.MinAlnumRatio),
		chunker.WithMinWords(c.MinWords),
	)
}

func (a *App) Processor(ctx context.Context) (*document.Processor, error) {
	r, err := a.Registry(ctx)
	if err != nil {
		return nil, err
	}
	w := a.Config.Worker
	return document.NewProcessor(a.Store, a.Storage, r, a.Chunker(), a.Embedder, a.Index, document.ProcessorConfig{
		TempDir:          w.TempDir,
		EmbedBatchSize:   w.EmbedBatchSize,
		EmbedConcurrency: w.EmbedConcurrency,
	}, a.Logger, document.WithCrawler(a.Crawler())), nil
}

// Crawler fetches web documents for the processor.
func (a *App) Crawler() *web.Crawler {
	c := a.Config.Crawler
	return web.NewCrawler(web.Config{
		MaxPages:     c.MaxPages,
		MaxDepth:     c.MaxDepth,
		LinksPerPage: c.LinksPerPage,
		Timeout:      c.Timeout,
		UserAgent:    c.UserAgent,
		MaxPageBytes: c.MaxPageBytes,
	}, a.Logger)
}

// DocumentWorker builds the queue consumer pool around the processor. The
// server runs it in-process when server.embeddedWorker is set.
func (a *App) DocumentWorker(ctx context.Context) (*worker.DocumentWorker, error) {
	proc, err := a.Processor(ctx)
	if err != nil {
		return nil, err
	}
	return worker.NewDocumentWorker(worker.Config{
		Workers:        a.Config.Worker.Workers,
		DequeueTimeout: a.Config.Worker.DequeueTimeout,
	}, a.Queue, proc, a.Logger)
}

func (a *App) Pipeline() *rag.Pipeline {
	c := a.Config.RAG
	return rag.NewPipeline(a.Embedder, a.Index, a.Ollama, a.Store, rag.Config{
		DefaultModel:  a.Config.Ollama.DefaultModel,
		TopK:          c.TopK,
		ChatTopK:      c.ChatTopK,
		SourceExcerpt: c.SourceExcerpt,
	}, a.Logger)
}

// HealthChecks lists one check per external dependency.
func (a *App) HealthChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"redis":   func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() },
		"ollama":  a.Ollama.Ping,
		"storage": a.Storage.Health,
	}
	if a.DB != nil {
		checks["postgres"] = a.DB.PingContext
	}
	return checks
}

func (a *App) Close() error {
	var errs []error
	if a.Ollama != nil {
		errs = append(errs, a.Ollama.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	return errors.Join(errs...)
}
