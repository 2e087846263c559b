package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/feichai0017/knowledge-pipeline/internal/models"
)

// LangchainBackend embeds through any OpenAI-compatible endpoint.
type LangchainBackend struct {
	embedder embeddings.Embedder
}

func NewLangchainBackend(baseURL, apiKey, model string) (*LangchainBackend, error) {
	// local OpenAI-compatible servers accept any token
	if apiKey == "" {
		apiKey = "none"
	}
	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithEmbeddingModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return &LangchainBackend{embedder: embedder}, nil
}

func (b *LangchainBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := b.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, wrapBackendError("embed", err)
	}
	return v, nil
}

func (b *LangchainBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := b.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, wrapBackendError("embed_batch", err)
	}
	return vecs, nil
}

func wrapBackendError(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return models.Unavailable("openai", op, err)
	}
	return &models.BackendError{Backend: "openai", Op: op, Message: err.Error(), Err: err}
}
