package document

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/knowledge-pipeline/internal/database"
	"github.com/feichai0017/knowledge-pipeline/internal/extractor/web"
	"github.com/feichai0017/knowledge-pipeline/internal/models"
	"github.com/feichai0017/knowledge-pipeline/internal/utils/validator"
	"github.com/feichai0017/knowledge-pipeline/internal/vectorstore"
	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
	"github.com/feichai0017/knowledge-pipeline/pkg/queue"
	"github.com/feichai0017/knowledge-pipeline/pkg/storage"
)

// DocumentService accepts uploads and manages the lifecycle of stored documents.
type DocumentService struct {
	store     database.Store
	storage   storage.Storage
	queue     queue.Queue
	index     vectorstore.Index
	validator *validator.DocumentValidator
	logger    logger.Logger
	now       func() time.Time
}

func NewService(
	store database.Store,
	objects storage.Storage,
	q queue.Queue,
	index vectorstore.Index,
	v *validator.DocumentValidator,
	log logger.Logger,
) *DocumentService {
	return &DocumentService{
		store:     store,
		storage:   objects,
		queue:     q,
		index:     index,
		validator: v,
		logger:    log.Named("document_service"),
		now:       time.Now,
	}
}

// Upload 验证、存储并排队处理单个文件
func (s *DocumentService) Upload(ctx context.Context, r io.Reader, req UploadRequest) (*UploadResult, error) {
	s.logger.Info("Starting file upload",
		logger.String("filename", req.Filename),
		logger.Int64("size", req.Size),
	)

	info, body, err := s.validator.Validate(req.Filename, req.Size, r)
	if err != nil {
		s.logger.Warn("File validation failed",
			logger.String("filename", req.Filename),
			logger.Error(err),
		)
		return nil, err
	}

	contentType := req.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = info.MimeType
	}

	// 存储文件，同时计算哈希
	key := storage.NewObjectKey(info.Filename, s.now())
	hash := sha256.New()
	if err := s.storage.Store(ctx, key, io.TeeReader(body, hash), req.Size, contentType); err != nil {
		s.logger.Error("Failed to store file",
			logger.String("filename", info.Filename),
			logger.Error(err),
		)
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	meta := make(map[string]interface{}, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta["sha256"] = hex.EncodeToString(hash.Sum(nil))

	doc := &models.Document{
		ID:          uuid.NewString(),
		Name:        info.Filename,
		FileType:    strings.TrimPrefix(info.Extension, "."),
		ContentType: contentType,
		FileSize:    req.Size,
		ObjectKey:   key,
		Status:      models.StatusPending,
		Tags:        req.Tags,
		Metadata:    meta,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		if derr := s.storage.Delete(context.WithoutCancel(ctx), key); derr != nil {
			s.logger.Warn("Failed to remove orphaned object", logger.String("key", key), logger.Error(derr))
		}
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	taskID, err := s.enqueue(ctx, doc, req.Metadata)
	if err != nil {
		return nil, err
	}

	s.logger.Info("File processing task created",
		logger.String("taskId", taskID),
		logger.String("docId", doc.ID),
		logger.String("filename", doc.Name),
	)
	return &UploadResult{DocumentID: doc.ID, TaskID: taskID, ObjectKey: key, Status: models.StatusPending}, nil
}

// Crawl records a web document for req.URL and queues it. The worker
// fetches the pages, so the call returns before anything is downloaded.
func (s *DocumentService) Crawl(ctx context.Context, req CrawlRequest) (*UploadResult, error) {
	u, err := web.ValidateURL(req.URL)
	if err != nil {
		return nil, err
	}
	if req.MaxDepth < 0 {
		return nil, &models.ValidationError{Code: "INVALID_DEPTH", Field: "max_depth", Message: "max_depth must not be negative"}
	}

	src := queue.WebSource{URL: u.String(), FollowLinks: req.FollowLinks, MaxDepth: req.MaxDepth}
	doc := &models.Document{
		ID:          uuid.NewString(),
		Name:        src.URL,
		FileType:    models.FileTypeWeb,
		ContentType: "text/html",
		Status:      models.StatusPending,
		Tags:        req.Tags,
		Metadata:    webMetadata(src),
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	taskID, err := s.enqueue(ctx, doc, nil)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Crawl task created",
		logger.String("taskId", taskID),
		logger.String("docId", doc.ID),
		logger.String("url", src.URL),
		logger.Any("followLinks", src.FollowLinks),
	)
	return &UploadResult{DocumentID: doc.ID, TaskID: taskID, Status: models.StatusPending}, nil
}

// enqueue marks the document failed when the task cannot be queued, so it
// does not sit in pending forever.
func (s *DocumentService) enqueue(ctx context.Context, doc *models.Document, meta map[string]interface{}) (string, error) {
	payload := queue.Payload{
		DocumentID: doc.ID,
		ObjectKey:  doc.ObjectKey,
		Filename:   doc.Name,
		Metadata:   meta,
	}
	if src := webSource(doc); src != nil {
		payload.Web = src
		// 向量元数据记录来源网址
		payload.Metadata = make(map[string]interface{}, len(meta)+2)
		for k, v := range meta {
			payload.Metadata[k] = v
		}
		payload.Metadata["source"] = models.FileTypeWeb
		payload.Metadata["url"] = src.URL
	}
	taskID, err := s.queue.Enqueue(ctx, payload)
	if err == nil {
		return taskID, nil
	}

	s.logger.Error("Failed to enqueue task",
		logger.String("docId", doc.ID),
		logger.Error(err),
	)
	failed := models.StatusFailed
	msg := "failed to enqueue: " + err.Error()
	if uerr := s.store.UpdateDocument(context.WithoutCancel(ctx), doc.ID, models.DocumentUpdate{Status: &failed, ErrorMessage: &msg}); uerr != nil {
		s.logger.Error("Failed to mark document failed", logger.String("docId", doc.ID), logger.Error(uerr))
	}
	return "", fmt.Errorf("failed to enqueue task: %w", err)
}

// Reprocess clears previous vectors and chunk rows, resets the record and
// queues the document again.
func (s *DocumentService) Reprocess(ctx context.Context, docID string) (*UploadResult, error) {
	doc, err := s.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	// 已排队的任务会自己处理，不再重复入队
	if err := refuseBusy(doc, models.StatusPending, models.StatusProcessing); err != nil {
		return nil, err
	}

	removed, err := s.index.DeleteByDocID(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete vectors: %w", err)
	}
	if err := s.store.DeleteChunks(ctx, docID); err != nil {
		return nil, fmt.Errorf("failed to delete chunks: %w", err)
	}

	pending := models.StatusPending
	zero := 0
	empty := ""
	err = s.store.UpdateDocument(ctx, docID, models.DocumentUpdate{
		Status:       &pending,
		Progress:     &zero,
		ChunksCount:  &zero,
		ErrorMessage: &empty,
	})
	if err != nil {
		return nil, err
	}

	taskID, err := s.enqueue(ctx, doc, map[string]interface{}{"reprocess": true})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Document queued for reprocessing",
		logger.String("docId", docID),
		logger.String("taskId", taskID),
		logger.Int64("vectorsRemoved", removed),
	)
	return &UploadResult{DocumentID: docID, TaskID: taskID, ObjectKey: doc.ObjectKey, Status: models.StatusPending}, nil
}

// Delete removes vectors, the stored object and the record. Chunk rows go
// with the record.
func (s *DocumentService) Delete(ctx context.Context, docID string) error {
	doc, err := s.store.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	if err := refuseBusy(doc, models.StatusProcessing); err != nil {
		return err
	}
	if _, err := s.index.DeleteByDocID(ctx, docID); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	if doc.ObjectKey != "" {
		if err := s.storage.Delete(ctx, doc.ObjectKey); err != nil {
			s.logger.Warn("Failed to delete stored object",
				logger.String("docId", docID),
				logger.String("key", doc.ObjectKey),
				logger.Error(err),
			)
		}
	}
	return s.store.DeleteDocument(ctx, docID)
}

func webMetadata(src queue.WebSource) map[string]interface{} {
	return map[string]interface{}{
		"url":          src.URL,
		"follow_links": src.FollowLinks,
		"max_depth":    src.MaxDepth,
	}
}

// webSource rebuilds the crawl job of a web document from its record, where
// numbers may have come back from JSON as float64.
func webSource(doc *models.Document) *queue.WebSource {
	if doc.FileType != models.FileTypeWeb {
		return nil
	}
	src := &queue.WebSource{URL: doc.Name}
	if u, ok := doc.Metadata["url"].(string); ok && u != "" {
		src.URL = u
	}
	src.FollowLinks, _ = doc.Metadata["follow_links"].(bool)
	switch d := doc.Metadata["max_depth"].(type) {
	case int:
		src.MaxDepth = d
	case int64:
		src.MaxDepth = int(d)
	case float64:
		src.MaxDepth = int(d)
	}
	return src
}

func refuseBusy(doc *models.Document, busy ...models.DocumentStatus) error {
	for _, st := range busy {
		if doc.Status == st {
			return &models.ValidationError{
				Code:    "DOCUMENT_BUSY",
				Field:   "id",
				Message: fmt.Sprintf("document is %s", doc.Status),
			}
		}
	}
	return nil
}

// TaskStatus returns the terminal record of taskID, or a record with status
// "processing" while a worker holds it. Anything else, including pending
// tasks and expired results, reports "unknown".
func (s *DocumentService) TaskStatus(ctx context.Context, taskID string) (*queue.TaskResult, error) {
	if taskID == "" {
		return nil, errors.New("empty task id")
	}
	res, err := s.queue.GetResult(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if res != nil {
		return res, nil
	}
	busy, err := s.queue.IsProcessing(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if busy {
		return &queue.TaskResult{TaskID: taskID, Status: queue.StatusProcessing}, nil
	}
	return &queue.TaskResult{TaskID: taskID, Status: queue.StatusUnknown}, nil
}
