package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
)

var warmupTexts = []string{
	"warm up the embedding model",
	"This is a short sentence used to load the model into memory.",
}

// Warmer wraps an Embedder and issues a few throwaway calls once, so the
// first real request does not pay the model load time.
type Warmer struct {
	Embedder
	logger logger.Logger

	once sync.Once
	err  error
}

func NewWarmer(base Embedder, log logger.Logger) *Warmer {
	return &Warmer{Embedder: base, logger: log.Named("embedding_warmer")}
}

// Warm runs at most once; later calls return the first result.
func (w *Warmer) Warm(ctx context.Context) error {
	w.once.Do(func() {
		start := time.Now()
		vecs, err := w.Embedder.EmbedMany(ctx, warmupTexts, Options{UseCache: false, BatchSize: len(warmupTexts), Concurrency: 1})
		if err != nil {
			w.err = fmt.Errorf("failed to warm up embedding model: %w", err)
			return
		}
		for _, v := range vecs {
			if IsZero(v) {
				w.err = fmt.Errorf("failed to warm up embedding model: backend returned no embedding")
				return
			}
		}
		w.logger.Info("Embedding model warmed up", logger.Duration("elapsed", time.Since(start)))
	})
	return w.err
}
