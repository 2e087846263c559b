package embedding

import (
	"context"
)

// Backend computes one embedding per call.
type Backend interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchBackend is implemented by backends that accept many texts in one round trip.
type BatchBackend interface {
	Backend
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, text string) ([]float32, error)

func (f BackendFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}
