package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/knowledge-pipeline/internal/models"
)

func TestBuildUpdateOnlySetFields(t *testing.T) {
	progress := 40
	status := models.StatusProcessing

	set, args, err := buildUpdate(models.DocumentUpdate{Status: &status, Progress: &progress})
	require.NoError(t, err)
	assert.Equal(t, []string{"status = $1", "progress = $2"}, set)
	assert.Equal(t, []interface{}{"processing", 40}, args)
}

func TestBuildUpdateEmpty(t *testing.T) {
	set, args, err := buildUpdate(models.DocumentUpdate{})
	require.NoError(t, err)
	assert.Empty(t, set)
	assert.Empty(t, args)
}

func TestBuildUpdateAllFields(t *testing.T) {
	s, n := "x", 1
	st := models.StatusCompleted
	u := models.DocumentUpdate{
		Name: &s, Status: &st, Progress: &n, Content: &s, ChunksCount: &n, PageCount: &n,
		WordCount: &n, Language: &s, ErrorMessage: &s,
		Tags:     []string{"a"},
		Metadata: map[string]interface{}{"k": "v"},
	}
	set, args, err := buildUpdate(u)
	require.NoError(t, err)
	require.Len(t, set, 11)
	assert.Equal(t, "metadata = $11", set[10])
	assert.Equal(t, []byte(`["a"]`), args[9])
	assert.Equal(t, []byte(`{"k":"v"}`), args[10])
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := t.Context()
	s := NewMemoryStore()

	require.NoError(t, s.CreateDocument(ctx, &models.Document{ID: "a", Name: "a.pdf", FileSize: 10}))
	require.NoError(t, s.CreateDocument(ctx, &models.Document{ID: "b", Name: "b.txt", FileSize: 5}))
	assert.Error(t, s.CreateDocument(ctx, &models.Document{ID: "a"}))

	done := models.StatusCompleted
	words, chunks := 120, 3
	require.NoError(t, s.UpdateDocument(ctx, "a", models.DocumentUpdate{Status: &done, WordCount: &words, ChunksCount: &chunks}))
	assert.ErrorIs(t, s.UpdateDocument(ctx, "zzz", models.ProgressUpdate(5)), models.ErrNotFound)

	doc, err := s.GetDocument(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, doc.Status)

	sum, err := s.GetDocumentsSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.Completed)
	assert.EqualValues(t, 120, sum.TotalWords)
	assert.EqualValues(t, 15, sum.TotalSize)

	names, err := s.GetDocumentNames(ctx, 10)
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.Equal(t, "a.pdf", names[0].Name)

	pending, err := s.ListDocuments(ctx, ListFilter{Status: models.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].ID)

	require.NoError(t, s.CreateChunksBatch(ctx, "a", []models.Chunk{{Index: 0, Content: "x"}}))
	assert.Len(t, s.Chunks("a"), 1)
	require.NoError(t, s.DeleteDocument(ctx, "a"))
	assert.Empty(t, s.Chunks("a"))
	_, err = s.GetDocument(ctx, "a")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
