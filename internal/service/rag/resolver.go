package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/feichai0017/knowledge-pipeline/internal/models"
	"github.com/feichai0017/knowledge-pipeline/internal/ollama"
	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
)

type activeModelReader interface {
	ActiveModel(ctx context.Context) (string, error)
}

// ModelResolver picks the generation model for a request: an explicit model
// wins, then the shared override, then the configured default.
type ModelResolver struct {
	store    activeModelReader
	fallback string
	logger   logger.Logger
}

// NewModelResolver accepts a nil store, in which case only explicit and
// default models are used.
func NewModelResolver(store activeModelReader, fallback string, log logger.Logger) *ModelResolver {
	return &ModelResolver{store: store, fallback: fallback, logger: log.Named("model-resolver")}
}

func (r *ModelResolver) Resolve(ctx context.Context, explicit string) string {
	if m := strings.TrimSpace(explicit); m != "" {
		return m
	}
	if r.store != nil {
		m, err := r.store.ActiveModel(ctx)
		if err != nil {
			r.logger.Warn("Failed to read active model override, using default",
				logger.String("default", r.fallback), logger.Error(err))
		} else if m != "" {
			return m
		}
	}
	return r.fallback
}

func (r *ModelResolver) Default() string {
	return r.fallback
}

// ModelLister is implemented by *ollama.Client.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
}

// InstalledModel returns the installed name of model. An untagged name
// matches its ":latest" tag. A model the backend does not have wraps
// models.ErrNotFound, and lister failures are returned as is.
func InstalledModel(ctx context.Context, lister ModelLister, model string) (string, error) {
	list, err := lister.ListModels(ctx)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(list))
	for _, m := range list {
		if m.Name == model || m.Name == model+":latest" {
			return m.Name, nil
		}
		names = append(names, m.Name)
	}
	return "", fmt.Errorf("model %q is not installed (available: %s): %w",
		model, strings.Join(names, ", "), models.ErrNotFound)
}
