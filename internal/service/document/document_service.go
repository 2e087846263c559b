package document

import (
	"context"
	"io"

	"github.com/feichai0017/knowledge-pipeline/internal/extractor"
	"github.com/feichai0017/knowledge-pipeline/internal/models"
	"github.com/feichai0017/knowledge-pipeline/pkg/queue"
)

// TextExtractor turns a local file into text. registry.Registry implements it.
type TextExtractor interface {
	Extract(ctx context.Context, path string) (*extractor.Result, error)
}

// Splitter cuts text into indexed chunks. chunker.Chunker implements it.
type Splitter interface {
	Chunks(docID, text string) ([]models.Chunk, error)
}

// Ingester is what the HTTP layer and CLI need from the ingestion side.
type Ingester interface {
	Upload(ctx context.Context, r io.Reader, req UploadRequest) (*UploadResult, error)
	Crawl(ctx context.Context, req CrawlRequest) (*UploadResult, error)
	Reprocess(ctx context.Context, docID string) (*UploadResult, error)
	Delete(ctx context.Context, docID string) error
	TaskStatus(ctx context.Context, taskID string) (*queue.TaskResult, error)
}

type UploadRequest struct {
	Filename    string
	Size        int64
	ContentType string
	Tags        []string
	Metadata    map[string]interface{}
}

// CrawlRequest queues a web document. MaxDepth only applies with FollowLinks;
// zero means the crawler default.
type CrawlRequest struct {
	URL         string
	FollowLinks bool
	MaxDepth    int
	Tags        []string
}

type UploadResult struct {
	DocumentID string                `json:"documentId"`
	TaskID     string                `json:"taskId"`
	ObjectKey  string                `json:"objectKey,omitempty"`
	Status     models.DocumentStatus `json:"status"`
}
