package worker

import (
	"context"
	"fmt"

	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
	"github.com/feichai0017/knowledge-pipeline/pkg/queue"
)

// DocumentProcessor runs the full ingestion of one queued document.
type DocumentProcessor interface {
	Handle(ctx context.Context, task *queue.Task) (map[string]interface{}, error)
}

type DocumentWorker struct {
	*Pool
	docService DocumentProcessor
	logger     logger.Logger
}

func NewDocumentWorker(cfg Config, q queue.Queue, docService DocumentProcessor, log logger.Logger) (*DocumentWorker, error) {
	w := &DocumentWorker{
		docService: docService,
		logger:     log.Named("document_worker"),
	}

	pool, err := NewPool(cfg, q, w.handleDocumentProcess, log)
	if err != nil {
		return nil, err
	}
	w.Pool = pool
	return w, nil
}

func (w *DocumentWorker) handleDocumentProcess(ctx context.Context, task *queue.Task) (map[string]interface{}, error) {
	w.logger.Info("Processing document task",
		logger.String("taskId", task.ID),
		logger.String("docId", task.Payload.DocumentID),
		logger.String("filename", task.Payload.Filename),
	)

	// 检查必要字段
	if task.ID == "" || task.Payload.DocumentID == "" || (task.Payload.ObjectKey == "" && task.Payload.Web == nil) {
		w.logger.Error("Invalid task data",
			logger.String("taskId", task.ID),
			logger.Any("payload", task.Payload),
		)
		return nil, fmt.Errorf("invalid task data: missing required fields")
	}

	return w.docService.Handle(ctx, task)
}
