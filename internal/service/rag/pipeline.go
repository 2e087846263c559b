// Package rag answers questions against the indexed documents: embed the
// question, retrieve the nearest chunks, and ground the generation on them.
package rag

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/feichai0017/knowledge-pipeline/internal/models"
	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
)

const (
	systemPrompt = "You are a helpful AI assistant."
	noContext    = "No relevant context found."

	promptTemplate = `You are a helpful AI assistant. Answer the question based on the provided context.
If the context doesn't contain relevant information, say so and provide a general answer.

Context:
%s

Question: %s

Answer:`
)

// Generator is the text generation backend. ollama.Client implements it.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
	GenerateStream(ctx context.Context, model, prompt string) iter.Seq2[string, error]
	Chat(ctx context.Context, model string, messages []models.ChatMessage) (string, error)
}

// Retriever finds the chunks nearest to a query vector. vectorstore.Index implements it.
type Retriever interface {
	Search(ctx context.Context, query []float32, topK int, filter map[string]interface{}) ([]models.RetrievedResult, error)
}

type QueryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Catalog describes the stored documents for listing questions.
type Catalog interface {
	GetDocumentsSummary(ctx context.Context) (*models.DocumentSummary, error)
	GetDocumentNames(ctx context.Context, limit int) ([]models.DocumentName, error)
}

type Config struct {
	DefaultModel  string
	TopK          int
	ChatTopK      int
	SourceExcerpt int
	// CatalogLimit caps how many document names go into a listing answer.
	CatalogLimit int
}

type Pipeline struct {
	embedder  QueryEmbedder
	retriever Retriever
	generator Generator
	catalog   Catalog
	cfg       Config
	logger    logger.Logger
}

func NewPipeline(embedder QueryEmbedder, retriever Retriever, generator Generator, catalog Catalog, cfg Config, log logger.Logger) *Pipeline {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.ChatTopK <= 0 {
		cfg.ChatTopK = 3
	}
	if cfg.SourceExcerpt <= 0 {
		cfg.SourceExcerpt = 200
	}
	if cfg.CatalogLimit <= 0 {
		cfg.CatalogLimit = 100
	}
	return &Pipeline{
		embedder:  embedder,
		retriever: retriever,
		generator: generator,
		catalog:   catalog,
		cfg:       cfg,
		logger:    log.Named("rag"),
	}
}

// QueryRequest carries an already resolved model; an empty Model means the
// configured default.
type QueryRequest struct {
	Question string                 `json:"question"`
	TopK     int                    `json:"top_k"`
	Model    string                 `json:"model,omitempty"`
	Filter   map[string]interface{} `json:"filter,omitempty"`
}

type Source struct {
	Text     string                 `json:"text"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type QueryResponse struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Sources  []Source `json:"sources"`
	Model    string   `json:"model"`
}

// Query retrieves context for the question and generates a grounded answer.
func (p *Pipeline) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	model := p.model(req.Model)
	start := time.Now()

	docs, err := p.retrieve(ctx, req.Question, p.topK(req.TopK), req.Filter)
	if err != nil {
		return nil, err
	}

	answer, err := p.generator.Generate(ctx, model, buildPrompt(req.Question, buildContext(docs)))
	if err != nil {
		p.logger.Error("Failed to generate answer", logger.String("model", model), logger.Error(err))
		return nil, err
	}

	p.logger.Info("Answered query",
		logger.String("model", model),
		logger.Int("sources", len(docs)),
		logger.Duration("elapsed", time.Since(start)),
	)
	return &QueryResponse{
		Question: req.Question,
		Answer:   answer,
		Sources:  p.sources(docs),
		Model:    model,
	}, nil
}

// Stream is a streamed answer. Retrieval has already happened when it is
// returned; Fragments runs the generation and yields text in order.
type Stream struct {
	Model     string
	Sources   []Source
	Fragments iter.Seq2[string, error]
}

func (p *Pipeline) QueryStream(ctx context.Context, req QueryRequest) (*Stream, error) {
	model := p.model(req.Model)
	docs, err := p.retrieve(ctx, req.Question, p.topK(req.TopK), req.Filter)
	if err != nil {
		return nil, err
	}
	return &Stream{
		Model:     model,
		Sources:   p.sources(docs),
		Fragments: p.generator.GenerateStream(ctx, model, buildPrompt(req.Question, buildContext(docs))),
	}, nil
}

type ChatRequest struct {
	Messages []models.ChatMessage `json:"messages"`
	UseRAG   bool                 `json:"use_rag"`
	Model    string               `json:"model,omitempty"`
}

type ChatResponse struct {
	Message string   `json:"message"`
	Sources []Source `json:"sources"`
	Model   string   `json:"model"`
}

// Chat answers the conversation. Questions about the document collection
// itself are answered from the catalog without retrieval.
func (p *Pipeline) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := p.model(req.Model)
	question := lastUserMessage(req.Messages)

	var (
		grounding string
		docs      []models.RetrievedResult
	)
	switch {
	case question != "" && p.catalog != nil && IsDocumentQuery(question):
		c, err := p.catalogContext(ctx)
		if err != nil {
			return nil, err
		}
		grounding = c
	case question != "" && req.UseRAG:
		var err error
		docs, err = p.retrieve(ctx, question, p.cfg.ChatTopK, nil)
		if err != nil {
			return nil, err
		}
		if len(docs) > 0 {
			grounding = buildContext(docs)
		}
	}

	system := systemPrompt
	if grounding != "" {
		system += "\n\nRelevant context:\n" + grounding
	}
	messages := make([]models.ChatMessage, 0, len(req.Messages)+1)
	messages = append(messages, models.ChatMessage{Role: models.RoleSystem, Content: system})
	messages = append(messages, req.Messages...)

	reply, err := p.generator.Chat(ctx, model, messages)
	if err != nil {
		p.logger.Error("Chat failed", logger.String("model", model), logger.Error(err))
		return nil, err
	}
	return &ChatResponse{Message: reply, Sources: p.sources(docs), Model: model}, nil
}

func (p *Pipeline) retrieve(ctx context.Context, question string, topK int, filter map[string]interface{}) ([]models.RetrievedResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, &models.ValidationError{Code: "EMPTY_QUESTION", Field: "question", Message: "question is required"}
	}
	vec, err := p.embedder.EmbedOne(ctx, question)
	if err != nil {
		p.logger.Error("Failed to embed question", logger.Error(err))
		return nil, err
	}
	docs, err := p.retriever.Search(ctx, vec, topK, filter)
	if err != nil {
		p.logger.Error("Vector search failed", logger.Error(err))
		return nil, err
	}
	return docs, nil
}

func (p *Pipeline) model(requested string) string {
	if requested != "" {
		return requested
	}
	return p.cfg.DefaultModel
}

func (p *Pipeline) topK(k int) int {
	if k <= 0 {
		return p.cfg.TopK
	}
	return k
}

func (p *Pipeline) sources(docs []models.RetrievedResult) []Source {
	out := make([]Source, len(docs))
	for i, d := range docs {
		out[i] = Source{Text: excerpt(d.Text, p.cfg.SourceExcerpt), Score: d.Score, Metadata: d.Metadata}
	}
	return out
}

func buildContext(docs []models.RetrievedResult) string {
	if len(docs) == 0 {
		return noContext
	}
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = fmt.Sprintf("[Document %d]\n%s", i+1, d.Text)
	}
	return strings.Join(parts, "\n\n")
}

func buildPrompt(question, contextText string) string {
	return fmt.Sprintf(promptTemplate, contextText, question)
}

// excerpt cuts text to n runes and marks the cut with "...".
func excerpt(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	r := []rune(text)
	return string(r[:n]) + "..."
}

func lastUserMessage(msgs []models.ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
