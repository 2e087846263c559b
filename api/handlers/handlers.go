package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/knowledge-pipeline/internal/database"
	"github.com/feichai0017/knowledge-pipeline/internal/embedding"
	"github.com/feichai0017/knowledge-pipeline/internal/models"
	"github.com/feichai0017/knowledge-pipeline/internal/ollama"
	"github.com/feichai0017/knowledge-pipeline/internal/service/document"
	"github.com/feichai0017/knowledge-pipeline/internal/service/rag"
	"github.com/feichai0017/knowledge-pipeline/internal/vectorstore"
	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
	"github.com/feichai0017/knowledge-pipeline/pkg/settings"
)

// DocumentReader is the read side of the document store.
type DocumentReader interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, filter database.ListFilter) ([]models.Document, error)
	GetChunks(ctx context.Context, docID string) ([]models.Chunk, error)
	GetDocumentsSummary(ctx context.Context) (*models.DocumentSummary, error)
}

// Answerer is implemented by *rag.Pipeline.
type Answerer interface {
	Query(ctx context.Context, req rag.QueryRequest) (*rag.QueryResponse, error)
	QueryStream(ctx context.Context, req rag.QueryRequest) (*rag.Stream, error)
	Chat(ctx context.Context, req rag.ChatRequest) (*rag.ChatResponse, error)
}

type ModelResolver interface {
	Resolve(ctx context.Context, explicit string) string
	Default() string
}

// ModelBackend manages the models installed on the generation backend.
// *ollama.Client implements it.
type ModelBackend interface {
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
	Pull(ctx context.Context, model string) error
	Delete(ctx context.Context, model string) error
}

type QueueStats interface {
	QueueLength(ctx context.Context) (int64, error)
	ProcessingCount(ctx context.Context) (int64, error)
}

type IndexStats interface {
	GetStats(ctx context.Context) (*vectorstore.Stats, error)
}

// EmbeddingStats is implemented by *embedding.Service.
type EmbeddingStats interface {
	Stats() embedding.Stats
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Deps struct {
	Ingester  document.Ingester
	Documents DocumentReader
	RAG       Answerer
	Resolver  ModelResolver
	Models    settings.ModelStore
	Backend   ModelBackend
	Queue     QueueStats
	Index     IndexStats
	Embedding EmbeddingStats
	Checks    map[string]HealthCheck
}

type Handlers struct {
	Document *DocumentHandler
	Query    *QueryHandler
	Model    *ModelHandler
	System   *SystemHandler
}

func NewHandlers(deps Deps, log logger.Logger) *Handlers {
	log = log.Named("api")
	return &Handlers{
		Document: NewDocumentHandler(deps.Ingester, deps.Documents, log),
		Query:    NewQueryHandler(deps.RAG, deps.Resolver, log),
		Model:    NewModelHandler(deps.Models, deps.Resolver, deps.Backend, log),
		System:   NewSystemHandler(deps.Queue, deps.Index, deps.Embedding, deps.Documents, deps.Checks, log),
	}
}

// ErrorResponse 定义错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var (
		ve *models.ValidationError
		be *models.BackendError
	)
	switch {
	case errors.As(err, &ve), errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case models.IsTransient(err):
		return http.StatusServiceUnavailable
	case errors.As(err, &be):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleError 统一错误处理
func handleError(c *gin.Context, log logger.Logger, message string, err error) {
	status := http.StatusBadRequest
	if err != nil {
		status = statusFor(err)
	}
	fields := []logger.Field{
		logger.String("path", c.Request.URL.Path),
		logger.Int("status", status),
		logger.Error(err),
	}
	if status >= http.StatusInternalServerError {
		log.Error(message, fields...)
	} else {
		log.Warn(message, fields...)
	}

	resp := ErrorResponse{Message: message}
	if err != nil {
		resp.Error = err.Error()
		var ve *models.ValidationError
		if errors.As(err, &ve) {
			resp.Code = ve.Code
		}
	}
	c.AbortWithStatusJSON(status, resp)
}
