// Package vectorstore holds chunk embeddings for similarity search.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/feichai0017/knowledge-pipeline/internal/models"
)

// MetadataDocID is the metadata key linking a vector to its source document.
const MetadataDocID = "doc_id"

// Index is one logical collection with a fixed vector dimension.
type Index interface {
	// AddDocuments stores parallel slices and returns one id per entry.
	AddDocuments(ctx context.Context, texts []string, embeddings [][]float32, metadatas []map[string]interface{}) ([]string, error)
	// Search returns up to topK hits by cosine similarity. A non-empty filter
	// keeps only entries whose metadata contains every filter pair.
	Search(ctx context.Context, query []float32, topK int, filter map[string]interface{}) ([]models.RetrievedResult, error)
	DeleteByDocID(ctx context.Context, docID string) (int64, error)
	GetStats(ctx context.Context) (*Stats, error)
}

type Stats struct {
	Collection string `json:"collection"`
	Dimension  int    `json:"dimension"`
	Vectors    int64  `json:"vectors"`
	Documents  int64  `json:"documents"`
}

func validateBatch(dim int, texts []string, embeddings [][]float32, metadatas []map[string]interface{}) error {
	if len(texts) != len(embeddings) {
		return fmt.Errorf("got %d texts and %d embeddings", len(texts), len(embeddings))
	}
	if metadatas != nil && len(metadatas) != len(texts) {
		return fmt.Errorf("got %d texts and %d metadatas", len(texts), len(metadatas))
	}
	for i, e := range embeddings {
		if len(e) != dim {
			return fmt.Errorf("entry %d: %w: got %d, want %d", i, models.ErrDimensionMismatch, len(e), dim)
		}
	}
	return nil
}
