package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/knowledge-pipeline/internal/embedding"
	"github.com/feichai0017/knowledge-pipeline/internal/models"
	"github.com/feichai0017/knowledge-pipeline/internal/vectorstore"
	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
)

const healthTimeout = 3 * time.Second

type SystemHandler struct {
	queue  QueueStats
	index  IndexStats
	embed  EmbeddingStats
	docs   DocumentReader
	checks map[string]HealthCheck
	logger logger.Logger
}

func NewSystemHandler(q QueueStats, index IndexStats, embed EmbeddingStats, docs DocumentReader, checks map[string]HealthCheck, log logger.Logger) *SystemHandler {
	return &SystemHandler{queue: q, index: index, embed: embed, docs: docs, checks: checks, logger: log}
}

type StatsResponse struct {
	Queue struct {
		Pending    int64 `json:"pending"`
		Processing int64 `json:"processing"`
	} `json:"queue"`
	Vectors   *vectorstore.Stats      `json:"vectors"`
	Documents *models.DocumentSummary `json:"documents"`

	// only in processes that embed
	Embedding *embedding.Stats `json:"embedding,omitempty"`
}

// Stats collects queue depth, in-flight tasks, index size, document totals
// and the embedding cache counters.
func (h *SystemHandler) Stats(c *gin.Context) {
	var resp StatsResponse
	if h.embed != nil {
		s := h.embed.Stats()
		resp.Embedding = &s
	}
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() (err error) {
		resp.Queue.Pending, err = h.queue.QueueLength(ctx)
		return err
	})
	g.Go(func() (err error) {
		resp.Queue.Processing, err = h.queue.ProcessingCount(ctx)
		return err
	})
	g.Go(func() (err error) {
		resp.Vectors, err = h.index.GetStats(ctx)
		return err
	})
	g.Go(func() (err error) {
		resp.Documents, err = h.docs.GetDocumentsSummary(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		handleError(c, h.logger, "Failed to collect stats", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Health runs every dependency check; any failure makes the service degraded.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]string, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			if err := h.checks[name](ctx); err != nil {
				h.logger.Warn("Health check failed", logger.String("dependency", name), logger.Error(err))
				results[i] = err.Error()
				return nil
			}
			results[i] = "ok"
			return nil
		})
	}
	_ = g.Wait()

	status, code := "ok", http.StatusOK
	deps := make(map[string]string, len(names))
	for i, name := range names {
		deps[name] = results[i]
		if results[i] != "ok" {
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}
	c.JSON(code, gin.H{"status": status, "dependencies": deps})
}
