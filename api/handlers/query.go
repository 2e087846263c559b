package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/knowledge-pipeline/internal/models"
	"github.com/feichai0017/knowledge-pipeline/internal/service/rag"
	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
)

type QueryHandler struct {
	rag      Answerer
	resolver ModelResolver
	logger   logger.Logger
}

func NewQueryHandler(answerer Answerer, resolver ModelResolver, log logger.Logger) *QueryHandler {
	return &QueryHandler{rag: answerer, resolver: resolver, logger: log}
}

type queryBody struct {
	Question string                 `json:"question"`
	TopK     int                    `json:"top_k"`
	Model    string                 `json:"model"`
	Filter   map[string]interface{} `json:"filter"`
	Stream   bool                   `json:"stream"`
}

type chatBody struct {
	Messages []models.ChatMessage `json:"messages"`
	UseRAG   *bool                `json:"use_rag"`
	Model    string               `json:"model"`
}

// Query answers one question. With stream=true (body or query string) the
// answer is sent as server-sent events.
func (h *QueryHandler) Query(c *gin.Context) {
	var body queryBody
	if err := c.ShouldBindJSON(&body); err != nil {
		handleError(c, h.logger, "Invalid request body",
			&models.ValidationError{Code: "INVALID_BODY", Message: err.Error()})
		return
	}
	if strings.TrimSpace(body.Question) == "" {
		handleError(c, h.logger, "Question is required",
			&models.ValidationError{Code: "EMPTY_QUESTION", Field: "question", Message: "question is required"})
		return
	}
	if body.TopK < 0 || body.TopK > 50 {
		handleError(c, h.logger, "Invalid top_k",
			&models.ValidationError{Code: "INVALID_TOP_K", Field: "top_k", Message: "top_k must be between 1 and 50"})
		return
	}

	ctx := c.Request.Context()
	req := rag.QueryRequest{
		Question: body.Question,
		TopK:     body.TopK,
		Model:    h.resolver.Resolve(ctx, body.Model),
		Filter:   body.Filter,
	}

	if body.Stream || c.Query("stream") == "true" {
		h.stream(c, req)
		return
	}

	resp, err := h.rag.Query(ctx, req)
	if err != nil {
		handleError(c, h.logger, "Failed to answer query", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *QueryHandler) stream(c *gin.Context, req rag.QueryRequest) {
	s, err := h.rag.QueryStream(c.Request.Context(), req)
	if err != nil {
		handleError(c, h.logger, "Failed to answer query", err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	if !writeEvent(c, gin.H{"sources": s.Sources, "model": s.Model}) {
		return
	}
	for frag, err := range s.Fragments {
		if err != nil {
			h.logger.Error("Stream generation failed", logger.String("model", s.Model), logger.Error(err))
			writeEvent(c, gin.H{"error": err.Error()})
			return
		}
		if !writeEvent(c, gin.H{"chunk": frag}) {
			return
		}
	}
	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()
}

// writeEvent reports false once the client has gone away.
func writeEvent(c *gin.Context, v interface{}) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", b); err != nil {
		return false
	}
	c.Writer.Flush()
	return c.Request.Context().Err() == nil
}

func (h *QueryHandler) Chat(c *gin.Context) {
	var body chatBody
	if err := c.ShouldBindJSON(&body); err != nil {
		handleError(c, h.logger, "Invalid request body",
			&models.ValidationError{Code: "INVALID_BODY", Message: err.Error()})
		return
	}
	if len(body.Messages) == 0 {
		handleError(c, h.logger, "Messages are required",
			&models.ValidationError{Code: "EMPTY_MESSAGES", Field: "messages", Message: "at least one message is required"})
		return
	}
	for _, m := range body.Messages {
		switch m.Role {
		case models.RoleSystem, models.RoleUser, models.RoleAssistant:
		default:
			handleError(c, h.logger, "Invalid message role",
				&models.ValidationError{Code: "INVALID_ROLE", Field: "messages", Message: fmt.Sprintf("unknown role %q", m.Role)})
			return
		}
	}
	useRAG := true
	if body.UseRAG != nil {
		useRAG = *body.UseRAG
	}

	ctx := c.Request.Context()
	resp, err := h.rag.Chat(ctx, rag.ChatRequest{
		Messages: body.Messages,
		UseRAG:   useRAG,
		Model:    h.resolver.Resolve(ctx, body.Model),
	})
	if err != nil {
		handleError(c, h.logger, "Chat failed", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
