package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/feichai0017/knowledge-pipeline/internal/models"
)

// MemoryStore keeps documents in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]*models.Document
	chunks map[string][]models.Chunk
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:   make(map[string]*models.Document),
		chunks: make(map[string][]models.Chunk),
		now:    time.Now,
	}
}

func (s *MemoryStore) CreateDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.ID]; ok {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	if doc.Status == "" {
		doc.Status = models.StatusPending
	}
	doc.CreatedAt = s.now()
	doc.UpdatedAt = doc.CreatedAt
	cp := *doc
	s.docs[doc.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateDocument(_ context.Context, id string, u models.DocumentUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	applyUpdate(d, u)
	d.UpdatedAt = s.now()
	return nil
}

func applyUpdate(d *models.Document, u models.DocumentUpdate) {
	if u.Name != nil {
		d.Name = *u.Name
	}
	if u.Status != nil {
		d.Status = *u.Status
	}
	if u.Progress != nil {
		d.Progress = *u.Progress
	}
	if u.Content != nil {
		d.Content = *u.Content
	}
	if u.ChunksCount != nil {
		d.ChunksCount = *u.ChunksCount
	}
	if u.PageCount != nil {
		d.PageCount = *u.PageCount
	}
	if u.WordCount != nil {
		d.WordCount = *u.WordCount
	}
	if u.Language != nil {
		d.Language = *u.Language
	}
	if u.ErrorMessage != nil {
		d.ErrorMessage = *u.ErrorMessage
	}
	if u.Tags != nil {
		d.Tags = u.Tags
	}
	if u.Metadata != nil {
		d.Metadata = u.Metadata
	}
}

func (s *MemoryStore) GetDocument(_ context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) sorted() []*models.Document {
	out := make([]*models.Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *MemoryStore) ListDocuments(_ context.Context, f ListFilter) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if f.Limit <= 0 {
		f.Limit = 50
	}
	var out []models.Document
	skipped := 0
	for _, d := range s.sorted() {
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		cp := *d
		cp.Content = ""
		out = append(out, cp)
		if len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	delete(s.docs, id)
	delete(s.chunks, id)
	return nil
}

func (s *MemoryStore) CreateChunksBatch(_ context.Context, docID string, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[docID] = append(s.chunks[docID], chunks...)
	return nil
}

func (s *MemoryStore) DeleteChunks(_ context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, docID)
	return nil
}

// Chunks returns the stored chunk rows of docID.
func (s *MemoryStore) Chunks(docID string) []models.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Chunk(nil), s.chunks[docID]...)
}

func (s *MemoryStore) GetChunks(_ context.Context, docID string) ([]models.Chunk, error) {
	out := s.Chunks(docID)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *MemoryStore) GetDocumentsSummary(context.Context) (*models.DocumentSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum models.DocumentSummary
	for _, d := range s.docs {
		sum.Total++
		switch d.Status {
		case models.StatusCompleted:
			sum.Completed++
		case models.StatusProcessing:
			sum.Processing++
		case models.StatusFailed:
			sum.Failed++
		}
		sum.TotalChunks += int64(d.ChunksCount)
		sum.TotalWords += int64(d.WordCount)
		sum.TotalSize += d.FileSize
	}
	return &sum, nil
}

func (s *MemoryStore) GetDocumentNames(_ context.Context, limit int) ([]models.DocumentName, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	var out []models.DocumentName
	for _, d := range s.sorted() {
		if d.Status != models.StatusCompleted {
			continue
		}
		out = append(out, models.DocumentName{
			ID: d.ID, Name: d.Name, FileType: d.FileType, FileSize: d.FileSize,
			PageCount: d.PageCount, WordCount: d.WordCount, CreatedAt: d.CreatedAt,
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
