package embedding

import (
	"context"
	"sync"
	"time"

	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
)

type AdaptiveConfig struct {
	MinBatchSize  int
	MaxBatchSize  int
	TargetLatency time.Duration
}

// AdaptiveBatcher wraps an Embedder and resizes round trips from observed
// latency: it grows by half while under target and halves when over.
type AdaptiveBatcher struct {
	base   Embedder
	cfg    AdaptiveConfig
	logger logger.Logger

	mu   sync.Mutex
	size int
	now  func() time.Time
}

func NewAdaptiveBatcher(base Embedder, cfg AdaptiveConfig, log logger.Logger) *AdaptiveBatcher {
	if cfg.MinBatchSize <= 0 {
		cfg.MinBatchSize = 10
	}
	if cfg.MaxBatchSize < cfg.MinBatchSize {
		cfg.MaxBatchSize = cfg.MinBatchSize
	}
	if cfg.TargetLatency <= 0 {
		cfg.TargetLatency = 2 * time.Second
	}
	return &AdaptiveBatcher{
		base:   base,
		cfg:    cfg,
		logger: log.Named("adaptive_batcher"),
		size:   cfg.MinBatchSize,
		now:    time.Now,
	}
}

func (a *AdaptiveBatcher) Dimension() int { return a.base.Dimension() }

func (a *AdaptiveBatcher) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return a.base.EmbedOne(ctx, text)
}

// BatchSize is the size the next round trip will use.
func (a *AdaptiveBatcher) BatchSize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// EmbedMany ignores opts.BatchSize and sizes each window itself.
func (a *AdaptiveBatcher) EmbedMany(ctx context.Context, texts []string, opts Options) ([][]float32, error) {
	total := len(texts)
	results := make([][]float32, 0, total)

	inner := opts
	inner.Progress = nil

	for start := 0; start < total; {
		size := a.BatchSize()
		end := min(start+size, total)
		window := texts[start:end]
		inner.BatchSize = len(window)

		began := a.now()
		vecs, err := a.base.EmbedMany(ctx, window, inner)
		if err != nil {
			return nil, err
		}
		a.observe(a.now().Sub(began))

		results = append(results, vecs...)
		start = end
		if opts.Progress != nil {
			bestEffort(a.logger, "embedding progress callback", func() error {
				return opts.Progress(start, total)
			})
		}
	}
	return results, nil
}

func (a *AdaptiveBatcher) observe(latency time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev := a.size
	switch {
	case latency < a.cfg.TargetLatency:
		a.size = int(float64(a.size) * 1.5)
		if a.size == prev {
			a.size++
		}
	case latency > a.cfg.TargetLatency:
		a.size /= 2
	}
	a.size = max(a.cfg.MinBatchSize, min(a.cfg.MaxBatchSize, a.size))

	if a.size != prev {
		a.logger.Debug("Adjusted embedding batch size",
			logger.Int("from", prev),
			logger.Int("to", a.size),
			logger.Duration("latency", latency),
		)
	}
}
