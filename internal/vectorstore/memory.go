package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/feichai0017/knowledge-pipeline/internal/models"
)

type memEntry struct {
	id       string
	text     string
	vec      []float32
	norm     float64
	metadata map[string]interface{}
}

// MemoryIndex is a brute-force cosine index for tests and single-process runs.
type MemoryIndex struct {
	mu      sync.RWMutex
	name    string
	dim     int
	entries []memEntry
}

func NewMemoryIndex(name string, dim int) *MemoryIndex {
	return &MemoryIndex{name: name, dim: dim}
}

func (m *MemoryIndex) AddDocuments(_ context.Context, texts []string, embeddings [][]float32, metadatas []map[string]interface{}) ([]string, error) {
	if err := validateBatch(m.dim, texts, embeddings, metadatas); err != nil {
		return nil, err
	}

	ids := make([]string, len(texts))
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, text := range texts {
		var meta map[string]interface{}
		if metadatas != nil {
			meta = metadatas[i]
		}
		ids[i] = uuid.NewString()
		m.entries = append(m.entries, memEntry{
			id:       ids[i],
			text:     text,
			vec:      embeddings[i],
			norm:     norm(embeddings[i]),
			metadata: meta,
		})
	}
	return ids, nil
}

func (m *MemoryIndex) Search(_ context.Context, query []float32, topK int, filter map[string]interface{}) ([]models.RetrievedResult, error) {
	if len(query) != m.dim {
		return nil, fmt.Errorf("query: %w: got %d, want %d", models.ErrDimensionMismatch, len(query), m.dim)
	}
	if topK <= 0 {
		return nil, nil
	}
	qn := norm(query)

	m.mu.RLock()
	results := make([]models.RetrievedResult, 0, len(m.entries))
	for _, e := range m.entries {
		if !matches(e.metadata, filter) {
			continue
		}
		results = append(results, models.RetrievedResult{
			Text:     e.text,
			Score:    cosine(query, e.vec, qn, e.norm),
			Metadata: e.metadata,
		})
	}
	m.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *MemoryIndex) DeleteByDocID(_ context.Context, docID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	var removed int64
	for _, e := range m.entries {
		if fmt.Sprint(e.metadata[MetadataDocID]) == docID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return removed, nil
}

func (m *MemoryIndex) GetStats(context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := make(map[interface{}]struct{})
	for _, e := range m.entries {
		docs[e.metadata[MetadataDocID]] = struct{}{}
	}
	return &Stats{
		Collection: m.name,
		Dimension:  m.dim,
		Vectors:    int64(len(m.entries)),
		Documents:  int64(len(docs)),
	}, nil
}

// matches compares values by their JSON form, the way a jsonb containment
// filter sees them: 2, int64(2) and 2.0 are the same number.
func matches(meta, filter map[string]interface{}) bool {
	for k, want := range filter {
		got, ok := meta[k]
		if !ok || !reflect.DeepEqual(jsonValue(got), jsonValue(want)) {
			return false
		}
	}
	return true
}

func jsonValue(v interface{}) interface{} {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func cosine(a, b []float32, na, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (na * nb)
}
