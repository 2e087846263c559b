package models

import (
	"time"
)

// DocumentStatus 文档处理状态
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// FileTypeWeb marks documents crawled from a URL instead of uploaded.
const FileTypeWeb = "web"

// Document is the metadata record of one ingested file or crawled site.
type Document struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	FileType     string                 `json:"fileType"`
	ContentType  string                 `json:"contentType"`
	FileSize     int64                  `json:"fileSize"`
	ObjectKey    string                 `json:"objectKey"`
	Status       DocumentStatus         `json:"status"`
	Progress     int                    `json:"progress"`
	Content      string                 `json:"content,omitempty"`
	ChunksCount  int                    `json:"chunksCount"`
	PageCount    int                    `json:"pageCount"`
	WordCount    int                    `json:"wordCount"`
	Language     string                 `json:"language,omitempty"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
	Tags         []string               `json:"tags"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

// DocumentUpdate carries the fields the pipeline is allowed to change.
// Nil fields are left untouched.
type DocumentUpdate struct {
	Name         *string
	Status       *DocumentStatus
	Progress     *int
	Content      *string
	ChunksCount  *int
	PageCount    *int
	WordCount    *int
	Language     *string
	ErrorMessage *string
	Tags         []string
	Metadata     map[string]interface{}
}

// IsEmpty reports whether the update would change nothing.
func (u DocumentUpdate) IsEmpty() bool {
	return u.Name == nil && u.Status == nil && u.Progress == nil && u.Content == nil &&
		u.ChunksCount == nil && u.PageCount == nil && u.WordCount == nil && u.Language == nil &&
		u.ErrorMessage == nil && u.Tags == nil && u.Metadata == nil
}

// ProgressUpdate is a shorthand for an update touching only progress.
func ProgressUpdate(progress int) DocumentUpdate {
	return DocumentUpdate{Progress: &progress}
}

// Chunk is one contiguous slice of a document's extracted text.
type Chunk struct {
	DocumentID string                 `json:"documentId"`
	Index      int                    `json:"chunkIndex"`
	Content    string                 `json:"content"`
	VectorID   string                 `json:"vectorId,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// DocumentSummary aggregates counts over all documents.
type DocumentSummary struct {
	Total       int   `json:"total"`
	Completed   int   `json:"completed"`
	Processing  int   `json:"processing"`
	Failed      int   `json:"failed"`
	TotalChunks int64 `json:"totalChunks"`
	TotalWords  int64 `json:"totalWords"`
	TotalSize   int64 `json:"totalSize"`
}

// DocumentName is the short listing form of a completed document.
type DocumentName struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	FileType  string    `json:"fileType"`
	FileSize  int64     `json:"fileSize"`
	PageCount int       `json:"pageCount"`
	WordCount int       `json:"wordCount"`
	CreatedAt time.Time `json:"createdAt"`
}

// RetrievedResult is one hit returned by a vector index query.
type RetrievedResult struct {
	Text     string                 `json:"text"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata"`
}

// ChatMessage is one turn of a chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
