package converters

import (
	"fmt"
	"strings"
	"time"

	"github.com/feichai0017/knowledge-pipeline/internal/models"
)

// DocumentConverter 定义文档转换器接口
type DocumentConverter interface {
	Convert(doc *models.Document, chunks []models.Chunk) (*ProcessedDocument, error)
}

// ProcessedDocument 定义导出的文档结构
type ProcessedDocument struct {
	DocumentID string           `json:"documentId"`
	Status     string           `json:"status"`
	Content    []ChunkContent   `json:"content"`
	Metadata   DocumentMetadata `json:"metadata"`
	ExportedAt time.Time        `json:"exportedAt"`
}

// ChunkContent 定义文档块内容
type ChunkContent struct {
	Text     string                 `json:"text"`
	Position int                    `json:"position"`
	VectorID string                 `json:"vectorId,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// DocumentMetadata 定义文档元数据
type DocumentMetadata struct {
	FileName  string   `json:"fileName"`
	FileType  string   `json:"fileType"`
	FileSize  int64    `json:"fileSize"`
	PageCount int      `json:"pageCount,omitempty"`
	WordCount int      `json:"wordCount"`
	Language  string   `json:"language,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Chunks    int      `json:"chunks"`
	// Indexed counts chunks that made it into the vector index.
	Indexed int `json:"indexed"`
}

// JSONConverter 实现文档转换器
type JSONConverter struct {
	now func() time.Time
}

func NewJSONConverter() *JSONConverter {
	return &JSONConverter{now: time.Now}
}

// Convert only accepts completed documents; anything else has no stable chunk set.
func (c *JSONConverter) Convert(doc *models.Document, chunks []models.Chunk) (*ProcessedDocument, error) {
	if doc == nil {
		return nil, fmt.Errorf("no document to convert")
	}
	if doc.Status != models.StatusCompleted {
		return nil, &models.ValidationError{
			Code:    "DOCUMENT_NOT_READY",
			Field:   "status",
			Message: fmt.Sprintf("document %s is %s", doc.ID, doc.Status),
		}
	}

	out := &ProcessedDocument{
		DocumentID: doc.ID,
		Status:     string(doc.Status),
		Content:    make([]ChunkContent, 0, len(chunks)),
		Metadata: DocumentMetadata{
			FileName:  doc.Name,
			FileType:  strings.TrimPrefix(doc.FileType, "."),
			FileSize:  doc.FileSize,
			PageCount: doc.PageCount,
			WordCount: doc.WordCount,
			Language:  doc.Language,
			Tags:      doc.Tags,
			Chunks:    len(chunks),
		},
		ExportedAt: c.now().UTC(),
	}

	// 处理每个文档块
	for _, ch := range chunks {
		out.Content = append(out.Content, ChunkContent{
			Text:     ch.Content,
			Position: ch.Index + 1,
			VectorID: ch.VectorID,
			Metadata: ch.Metadata,
		})
		if ch.VectorID != "" {
			out.Metadata.Indexed++
		}
	}
	return out, nil
}
