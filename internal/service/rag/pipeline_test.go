package rag

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/knowledge-pipeline/internal/database"
	"github.com/feichai0017/knowledge-pipeline/internal/models"
	"github.com/feichai0017/knowledge-pipeline/internal/ollama"
	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
	"github.com/feichai0017/knowledge-pipeline/pkg/settings"
)

type fakeEmbedder struct{ err error }

func (f fakeEmbedder) EmbedOne(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, f.err
}

type fakeRetriever struct {
	calls   int
	topK    int
	filter  map[string]interface{}
	results []models.RetrievedResult
	err     error
}

func (f *fakeRetriever) Search(_ context.Context, _ []float32, topK int, filter map[string]interface{}) ([]models.RetrievedResult, error) {
	f.calls++
	f.topK = topK
	f.filter = filter
	return f.results, f.err
}

type fakeGenerator struct {
	model    string
	prompt   string
	messages []models.ChatMessage
	answer   string
	err      error
}

func (f *fakeGenerator) Generate(_ context.Context, model, prompt string) (string, error) {
	f.model, f.prompt = model, prompt
	return f.answer, f.err
}

func (f *fakeGenerator) GenerateStream(_ context.Context, model, prompt string) iter.Seq2[string, error] {
	f.model, f.prompt = model, prompt
	return func(yield func(string, error) bool) {
		for _, part := range strings.SplitAfter(f.answer, " ") {
			if !yield(part, nil) {
				return
			}
		}
	}
}

func (f *fakeGenerator) Chat(_ context.Context, model string, messages []models.ChatMessage) (string, error) {
	f.model, f.messages = model, messages
	return f.answer, f.err
}

func newPipeline(r *fakeRetriever, g *fakeGenerator, catalog Catalog) *Pipeline {
	return NewPipeline(fakeEmbedder{}, r, g, catalog, Config{DefaultModel: "llama3"}, logger.NewNop())
}

func TestQueryBuildsPromptAndTruncatesSources(t *testing.T) {
	long := strings.Repeat("ก", 250)
	r := &fakeRetriever{results: []models.RetrievedResult{
		{Text: "Refunds are issued within 14 days.", Score: 0.91, Metadata: map[string]interface{}{"doc_id": "d1"}},
		{Text: long, Score: 0.5},
	}}
	g := &fakeGenerator{answer: "Within 14 days."}
	p := newPipeline(r, g, nil)

	resp, err := p.Query(t.Context(), QueryRequest{Question: "How long do refunds take?", Filter: map[string]interface{}{"lang": "en"}})
	require.NoError(t, err)

	assert.Equal(t, 5, r.topK)
	assert.Equal(t, "en", r.filter["lang"])
	assert.Equal(t, "llama3", resp.Model)
	assert.Equal(t, "Within 14 days.", resp.Answer)
	assert.Contains(t, g.prompt, "Context:\n[Document 1]\nRefunds are issued within 14 days.\n\n[Document 2]\n")
	assert.True(t, strings.HasSuffix(g.prompt, "Question: How long do refunds take?\n\nAnswer:"))

	require.Len(t, resp.Sources, 2)
	assert.Equal(t, "Refunds are issued within 14 days.", resp.Sources[0].Text)
	assert.Equal(t, "d1", resp.Sources[0].Metadata["doc_id"])
	assert.Equal(t, strings.Repeat("ก", 200)+"...", resp.Sources[1].Text)
}

func TestQueryWithoutResultsUsesPlaceholderContext(t *testing.T) {
	g := &fakeGenerator{answer: "I don't know."}
	p := newPipeline(&fakeRetriever{}, g, nil)

	resp, err := p.Query(t.Context(), QueryRequest{Question: "anything?", TopK: 2, Model: "mistral"})
	require.NoError(t, err)
	assert.Contains(t, g.prompt, "Context:\nNo relevant context found.\n")
	assert.Equal(t, "mistral", g.model)
	assert.Empty(t, resp.Sources)
}

func TestQueryPropagatesBackendErrors(t *testing.T) {
	boom := models.Unavailable("ollama", "generate", errors.New("connection refused"))
	p := newPipeline(&fakeRetriever{}, &fakeGenerator{err: boom}, nil)

	_, err := p.Query(t.Context(), QueryRequest{Question: "q"})
	assert.ErrorIs(t, err, boom)

	p = NewPipeline(fakeEmbedder{err: boom}, &fakeRetriever{}, &fakeGenerator{}, nil, Config{}, logger.NewNop())
	_, err = p.Query(t.Context(), QueryRequest{Question: "q"})
	assert.ErrorIs(t, err, boom)

	_, err = p.Query(t.Context(), QueryRequest{Question: "   "})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestQueryStreamRetrievesEagerly(t *testing.T) {
	r := &fakeRetriever{results: []models.RetrievedResult{{Text: "ctx", Score: 0.7}}}
	g := &fakeGenerator{answer: "one two three"}
	p := newPipeline(r, g, nil)

	s, err := p.QueryStream(t.Context(), QueryRequest{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, 1, r.calls)
	require.Len(t, s.Sources, 1)

	var got []string
	for frag, err := range s.Fragments {
		require.NoError(t, err)
		got = append(got, frag)
	}
	assert.Equal(t, "one two three", strings.Join(got, ""))
}

func TestChatDocumentQueryShortCircuitsRetrieval(t *testing.T) {
	store := database.NewMemoryStore()
	ctx := t.Context()
	done := models.StatusCompleted
	pages, words := 12, 3400
	require.NoError(t, store.CreateDocument(ctx, &models.Document{ID: "a", Name: "handbook.pdf", FileType: "pdf", FileSize: 2048}))
	require.NoError(t, store.UpdateDocument(ctx, "a", models.DocumentUpdate{Status: &done, PageCount: &pages, WordCount: &words}))

	r := &fakeRetriever{}
	g := &fakeGenerator{answer: "You have one document."}
	p := newPipeline(r, g, store)

	resp, err := p.Chat(ctx, ChatRequest{
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "Which documents do you have?"}},
		UseRAG:   true,
	})
	require.NoError(t, err)
	assert.Zero(t, r.calls)
	assert.Empty(t, resp.Sources)

	require.Len(t, g.messages, 2)
	sys := g.messages[0]
	assert.Equal(t, models.RoleSystem, sys.Role)
	assert.True(t, strings.HasPrefix(sys.Content, "You are a helpful AI assistant.\n\nRelevant context:\n"))
	assert.Contains(t, sys.Content, "- Total documents: 1 (completed 1, processing 0, failed 0)")
	assert.Contains(t, sys.Content, "1. handbook.pdf (pdf, 12 pages, 3400 words, 2.0 KB)")
	assert.Equal(t, "Which documents do you have?", g.messages[1].Content)
}

func TestChatUsesRetrievalWhenEnabled(t *testing.T) {
	r := &fakeRetriever{results: []models.RetrievedResult{{Text: "Office hours are 9 to 5.", Score: 0.8}}}
	g := &fakeGenerator{answer: "9 to 5."}
	p := newPipeline(r, g, database.NewMemoryStore())

	msgs := []models.ChatMessage{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello"},
		{Role: models.RoleUser, Content: "When is the office open?"},
	}
	resp, err := p.Chat(t.Context(), ChatRequest{Messages: msgs, UseRAG: true, Model: "qwen2.5"})
	require.NoError(t, err)
	assert.Equal(t, 3, r.topK)
	assert.Equal(t, "qwen2.5", resp.Model)
	require.Len(t, resp.Sources, 1)
	require.Len(t, g.messages, 4)
	assert.Contains(t, g.messages[0].Content, "[Document 1]\nOffice hours are 9 to 5.")

	r2 := &fakeRetriever{}
	g2 := &fakeGenerator{answer: "hi"}
	p = newPipeline(r2, g2, nil)
	_, err = p.Chat(t.Context(), ChatRequest{Messages: msgs})
	require.NoError(t, err)
	assert.Zero(t, r2.calls)
	assert.Equal(t, "You are a helpful AI assistant.", g2.messages[0].Content)
}

func TestIsDocumentQuery(t *testing.T) {
	for _, q := range []string{
		"list all documents",
		"How many files do you have?",
		"What documents are available?",
		"show me the uploaded docs",
		"มีเอกสารอะไรบ้าง",
		"แสดงรายการไฟล์ทั้งหมด",
	} {
		assert.True(t, IsDocumentQuery(q), q)
	}
	for _, q := range []string{
		"What does the document say about refunds?",
		"Summarize the refund policy",
		"สรุปนโยบายการคืนเงิน",
	} {
		assert.False(t, IsDocumentQuery(q), q)
	}
}

type brokenStore struct{}

func (brokenStore) ActiveModel(context.Context) (string, error) {
	return "", errors.New("redis down")
}

func TestModelResolverPrecedence(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := settings.NewRedisStore(client, "")
	ctx := t.Context()

	r := NewModelResolver(store, "llama3", logger.NewNop())
	assert.Equal(t, "llama3", r.Resolve(ctx, ""))

	require.NoError(t, store.SetActiveModel(ctx, "qwen2.5"))
	assert.Equal(t, "qwen2.5", r.Resolve(ctx, ""))
	assert.Equal(t, "mistral", r.Resolve(ctx, " mistral "))

	log := logger.NewTestLogger()
	r = NewModelResolver(brokenStore{}, "llama3", log)
	assert.Equal(t, "llama3", r.Resolve(ctx, ""))
	assert.Equal(t, 1, log.CountLevel("WARN"))

	assert.Equal(t, "llama3", NewModelResolver(nil, "llama3", logger.NewNop()).Resolve(ctx, ""))
}

type listerFunc func(context.Context) ([]ollama.ModelInfo, error)

func (f listerFunc) ListModels(ctx context.Context) ([]ollama.ModelInfo, error) { return f(ctx) }

func TestInstalledModel(t *testing.T) {
	installed := listerFunc(func(context.Context) ([]ollama.ModelInfo, error) {
		return []ollama.ModelInfo{{Name: "llama3:latest"}, {Name: "qwen2.5:7b"}}, nil
	})
	ctx := t.Context()

	name, err := InstalledModel(ctx, installed, "qwen2.5:7b")
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5:7b", name)

	name, err = InstalledModel(ctx, installed, "llama3")
	require.NoError(t, err)
	assert.Equal(t, "llama3:latest", name)

	_, err = InstalledModel(ctx, installed, "qwen2.5")
	require.ErrorIs(t, err, models.ErrNotFound)
	assert.Contains(t, err.Error(), "qwen2.5:7b")

	down := listerFunc(func(context.Context) ([]ollama.ModelInfo, error) {
		return nil, models.Unavailable("ollama", "list_models", errors.New("connection refused"))
	})
	_, err = InstalledModel(ctx, down, "llama3")
	assert.True(t, models.IsTransient(err))
	assert.NotErrorIs(t, err, models.ErrNotFound)
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "512 B", humanSize(512))
	assert.Equal(t, "1.5 KB", humanSize(1536))
	assert.Equal(t, "3.0 MB", humanSize(3*1024*1024))
}
