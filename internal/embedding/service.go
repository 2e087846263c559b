package embedding

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/feichai0017/knowledge-pipeline/internal/models"
	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
)

// ProgressFunc is called after each internal round trip with the number of
// inputs resolved so far and the total.
type ProgressFunc func(processed, total int) error

// Options control one EmbedMany call.
type Options struct {
	// UseCache false bypasses the cache for both lookup and store.
	UseCache bool
	// BatchSize is the number of distinct uncached texts per round trip.
	BatchSize int
	// Concurrency bounds this call's in-flight items, below the service-wide gate.
	Concurrency int
	Progress    ProgressFunc
}

func DefaultOptions() Options {
	return Options{UseCache: true, BatchSize: 50, Concurrency: 20}
}

// Embedder is the capability shared by Service and its decorators.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string, opts Options) ([][]float32, error)
	Dimension() int
}

type Config struct {
	Dimension     int
	MaxConcurrent int
}

// Stats are cumulative counters since the service was created.
type Stats struct {
	CacheSize   int   `json:"cache_size"`
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
	Failures    int64 `json:"failures"`
}

// Service bounds outbound embedding calls with a gate shared by every caller
// and fronts the backend with a cache.
type Service struct {
	backend   Backend
	cache     Cache
	gate      *semaphore.Weighted
	dimension int
	logger    logger.Logger

	hits     atomic.Int64
	misses   atomic.Int64
	failures atomic.Int64
}

func NewService(backend Backend, cache Cache, cfg Config, log logger.Logger) (*Service, error) {
	if backend == nil {
		return nil, fmt.Errorf("embedding backend is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", cfg.Dimension)
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 20
	}
	if cache == nil {
		cache = NewMemoryCache(0)
	}
	return &Service{
		backend:   backend,
		cache:     cache,
		gate:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		dimension: cfg.Dimension,
		logger:    log.Named("embedding"),
	}, nil
}

func (s *Service) Dimension() int { return s.dimension }

func (s *Service) Stats() Stats {
	return Stats{
		CacheSize:   s.cache.Len(),
		CacheHits:   s.hits.Load(),
		CacheMisses: s.misses.Load(),
		Failures:    s.failures.Load(),
	}
}

// EmbedOne returns the embedding of text, from cache when possible. Backend
// failures are returned to the caller.
func (s *Service) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if v, ok := s.cache.Get(text); ok {
		s.hits.Add(1)
		return v, nil
	}
	s.misses.Add(1)

	v, err := s.call(ctx, text)
	if err != nil {
		s.failures.Add(1)
		return nil, err
	}
	s.cache.Put(text, v)
	return v, nil
}

// EmbedMany returns one vector per input, in input order. An item whose
// backend call fails gets a zero vector instead of failing the whole call.
// The returned error is only non-nil when ctx is done.
func (s *Service) EmbedMany(ctx context.Context, texts []string, opts Options) ([][]float32, error) {
	total := len(texts)
	results := make([][]float32, total)
	if total == 0 {
		return results, nil
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultOptions().Concurrency
	}

	// positions of each distinct uncached text, in first-seen order
	pending := make(map[string][]int)
	var unique []string
	processed := 0
	for i, t := range texts {
		if opts.UseCache {
			if v, ok := s.cache.Get(t); ok {
				s.hits.Add(1)
				results[i] = v
				processed++
				continue
			}
		}
		if _, seen := pending[t]; !seen {
			unique = append(unique, t)
			s.misses.Add(1)
		}
		pending[t] = append(pending[t], i)
	}

	if len(unique) == 0 {
		s.report(opts.Progress, total, total)
		return results, nil
	}

	for start := 0; start < len(unique); start += opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+opts.BatchSize, len(unique))
		batch := unique[start:end]

		vecs := s.embedBatch(ctx, batch, opts.Concurrency)
		for j, t := range batch {
			v := vecs[j]
			if v == nil {
				v = make([]float32, s.dimension)
			} else if opts.UseCache {
				s.cache.Put(t, v)
			}
			for _, idx := range pending[t] {
				results[idx] = v
			}
			processed += len(pending[t])
		}
		s.report(opts.Progress, processed, total)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// embedBatch returns nil at positions whose embedding failed.
func (s *Service) embedBatch(ctx context.Context, batch []string, concurrency int) [][]float32 {
	out := make([][]float32, len(batch))

	if bb, ok := s.backend.(BatchBackend); ok && len(batch) > 1 {
		vecs, err := s.callBatch(ctx, bb, batch)
		if err == nil {
			copy(out, vecs)
			return out
		}
		s.logger.Warn("Batch embedding failed, retrying items individually",
			logger.Int("batch_size", len(batch)),
			logger.Error(err),
		)
	}

	g := new(errgroup.Group)
	g.SetLimit(concurrency)
	for i, t := range batch {
		g.Go(func() error {
			v, err := s.call(ctx, t)
			if err != nil {
				s.failures.Add(1)
				s.logger.Warn("Embedding failed, using zero vector",
					logger.Int("text_length", len(t)),
					logger.Error(err),
				)
				return nil
			}
			out[i] = v
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *Service) call(ctx context.Context, text string) ([]float32, error) {
	if err := s.gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.gate.Release(1)

	v, err := s.backend.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(v) != s.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", models.ErrDimensionMismatch, len(v), s.dimension)
	}
	return v, nil
}

func (s *Service) callBatch(ctx context.Context, bb BatchBackend, batch []string) ([][]float32, error) {
	if err := s.gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.gate.Release(1)

	vecs, err := bb.EmbedBatch(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(batch) {
		return nil, fmt.Errorf("backend returned %d embeddings for %d texts", len(vecs), len(batch))
	}
	for _, v := range vecs {
		if len(v) != s.dimension {
			return nil, fmt.Errorf("%w: got %d, want %d", models.ErrDimensionMismatch, len(v), s.dimension)
		}
	}
	return vecs, nil
}

func (s *Service) report(fn ProgressFunc, processed, total int) {
	if fn == nil {
		return
	}
	bestEffort(s.logger, "embedding progress callback", func() error {
		return fn(processed, total)
	})
}

// bestEffort runs fn and logs, never propagates, its error or panic.
func bestEffort(log logger.Logger, what string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("Best-effort call panicked", logger.String("call", what), logger.Any("panic", r))
		}
	}()
	if err := fn(); err != nil {
		log.Warn("Best-effort call failed", logger.String("call", what), logger.Error(err))
	}
}

// IsZero reports whether v is the zero-vector placeholder of a failed item.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
