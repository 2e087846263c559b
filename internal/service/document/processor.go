package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/feichai0017/knowledge-pipeline/internal/database"
	"github.com/feichai0017/knowledge-pipeline/internal/embedding"
	"github.com/feichai0017/knowledge-pipeline/internal/extractor"
	"github.com/feichai0017/knowledge-pipeline/internal/extractor/web"
	"github.com/feichai0017/knowledge-pipeline/internal/models"
	"github.com/feichai0017/knowledge-pipeline/internal/vectorstore"
	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
	"github.com/feichai0017/knowledge-pipeline/pkg/queue"
	"github.com/feichai0017/knowledge-pipeline/pkg/storage"
)

// Progress checkpoints written to the document record.
const (
	progressStarted    = 5
	progressDownloaded = 10
	progressExtracted  = 40
	progressEmbedStart = 45
	progressEmbedEnd   = 85
	progressIndexed    = 90
	progressDone       = 100
)

type ProcessorConfig struct {
	TempDir          string
	EmbedBatchSize   int
	EmbedConcurrency int
}

// PageCrawler fetches the pages of a web document. web.Crawler implements it.
type PageCrawler interface {
	Crawl(ctx context.Context, req web.Request) ([]web.Page, error)
}

type ProcessorOption func(*Processor)

// WithCrawler lets the processor handle web documents.
func WithCrawler(c PageCrawler) ProcessorOption {
	return func(p *Processor) { p.crawler = c }
}

// Processor runs one queued document through download, extraction,
// chunking, embedding and indexing. Web documents are crawled instead of
// downloaded and then follow the same path as a text file.
type Processor struct {
	store     database.Store
	storage   storage.Storage
	extractor TextExtractor
	splitter  Splitter
	embedder  embedding.Embedder
	index     vectorstore.Index
	crawler   PageCrawler
	cfg       ProcessorConfig
	logger    logger.Logger
}

func NewProcessor(
	store database.Store,
	objects storage.Storage,
	ext TextExtractor,
	splitter Splitter,
	embedder embedding.Embedder,
	index vectorstore.Index,
	cfg ProcessorConfig,
	log logger.Logger,
	opts ...ProcessorOption,
) *Processor {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = embedding.DefaultOptions().BatchSize
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = embedding.DefaultOptions().Concurrency
	}
	p := &Processor{
		store:     store,
		storage:   objects,
		extractor: ext,
		splitter:  splitter,
		embedder:  embedder,
		index:     index,
		cfg:       cfg,
		logger:    log.Named("document_processor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// progress writes only forward moves, so readers never see it go back
// within one run.
type progress struct {
	store database.Store
	docID string
	last  int
}

func (p *progress) set(ctx context.Context, pct int) error {
	if pct <= p.last {
		return nil
	}
	if err := p.store.UpdateDocument(ctx, p.docID, models.ProgressUpdate(pct)); err != nil {
		return err
	}
	p.last = pct
	return nil
}

// Handle processes task and returns the summary recorded as the task result.
// Any failure marks the document failed with progress 0 and is returned as a
// *models.ProcessingError.
func (p *Processor) Handle(ctx context.Context, task *queue.Task) (map[string]interface{}, error) {
	payload := task.Payload
	start := time.Now()

	result, stage, err := p.run(ctx, payload)
	if err != nil {
		p.logger.Error("Document processing failed",
			logger.String("docId", payload.DocumentID),
			logger.String("stage", stage),
			logger.Error(err),
		)
		p.markFailed(ctx, payload.DocumentID, err)
		return nil, &models.ProcessingError{DocumentID: payload.DocumentID, Stage: stage, Err: err}
	}

	p.logger.Info("Document processed",
		logger.String("docId", payload.DocumentID),
		logger.Any("chunks", result["chunks"]),
		logger.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

func (p *Processor) markFailed(ctx context.Context, docID string, cause error) {
	failed := models.StatusFailed
	msg := cause.Error()
	zero := 0
	// 即使任务上下文已取消也要记录失败状态
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	err := p.store.UpdateDocument(ctx, docID, models.DocumentUpdate{
		Status:       &failed,
		ErrorMessage: &msg,
		Progress:     &zero,
	})
	if err != nil {
		p.logger.Error("Failed to record document failure",
			logger.String("docId", docID),
			logger.Error(err),
		)
	}
}

func (p *Processor) run(ctx context.Context, payload queue.Payload) (map[string]interface{}, string, error) {
	docID := payload.DocumentID
	prog := &progress{store: p.store, docID: docID}

	processing := models.StatusProcessing
	started := progressStarted
	if err := p.store.UpdateDocument(ctx, docID, models.DocumentUpdate{Status: &processing, Progress: &started}); err != nil {
		return nil, "start", err
	}
	prog.last = started

	// 下载到临时文件
	var (
		path  string
		pages []web.Page
		err   error
	)
	fetchStage := "download"
	if payload.Web != nil {
		fetchStage = "crawl"
		path, pages, err = p.crawl(ctx, *payload.Web)
	} else {
		path, err = p.download(ctx, payload)
	}
	if err != nil {
		return nil, fetchStage, err
	}
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			p.logger.Warn("Failed to remove temp file", logger.String("path", path), logger.Error(err))
		}
	}()
	if err := prog.set(ctx, progressDownloaded); err != nil {
		return nil, fetchStage, err
	}

	extracted, err := p.extractor.Extract(ctx, path)
	if err != nil {
		return nil, "extract", err
	}
	if payload.Web != nil {
		extracted.PageCount = len(pages)
	}
	if err := prog.set(ctx, progressExtracted); err != nil {
		return nil, "extract", err
	}

	chunks, err := p.splitter.Chunks(docID, extracted.Text)
	if err != nil {
		return nil, "chunk", err
	}

	// 重复投递的任务从干净状态开始
	if err := p.clearPrevious(ctx, docID); err != nil {
		return nil, "reset", err
	}

	if len(chunks) > 0 {
		if err := p.embedAndIndex(ctx, prog, payload, chunks); err != nil {
			return nil, "index", err
		}
		if err := p.store.CreateChunksBatch(ctx, docID, chunks); err != nil {
			return nil, "persist", err
		}
	}

	words := extractor.WordCount(extracted.Text)
	completed := models.StatusCompleted
	done := progressDone
	count := len(chunks)
	update := models.DocumentUpdate{
		Status:      &completed,
		Progress:    &done,
		Content:     &extracted.Text,
		ChunksCount: &count,
		PageCount:   &extracted.PageCount,
		WordCount:   &words,
		Language:    &extracted.Language,
	}
	if payload.Web != nil {
		update.Metadata = crawledMetadata(*payload.Web, pages)
	}
	if err := p.store.UpdateDocument(ctx, docID, update); err != nil {
		return nil, "finalize", err
	}

	result := map[string]interface{}{
		"status": string(models.StatusCompleted),
		"doc_id": docID,
		"chunks": count,
		"words":  words,
		"pages":  extracted.PageCount,
	}
	if payload.Web != nil {
		result["pages_crawled"] = len(pages)
	}
	return result, "", nil
}

// clearPrevious drops vectors and chunk rows left by an earlier run of the
// same document.
func (p *Processor) clearPrevious(ctx context.Context, docID string) error {
	removed, err := p.index.DeleteByDocID(ctx, docID)
	if err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	if err := p.store.DeleteChunks(ctx, docID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if removed > 0 {
		p.logger.Info("Cleared previous output",
			logger.String("docId", docID),
			logger.Int64("vectorsRemoved", removed),
		)
	}
	return nil
}

func (p *Processor) download(ctx context.Context, payload queue.Payload) (string, error) {
	rc, err := p.storage.Get(ctx, payload.ObjectKey)
	if err != nil {
		return "", fmt.Errorf("failed to fetch object %s: %w", payload.ObjectKey, err)
	}
	defer rc.Close()

	// 扩展名决定提取器
	ext := strings.ToLower(filepath.Ext(payload.Filename))
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(payload.ObjectKey))
	}
	f, err := os.CreateTemp(p.cfg.TempDir, "ingest-*"+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to download object: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// crawl writes the text of every crawled page to one temp .txt file.
func (p *Processor) crawl(ctx context.Context, src queue.WebSource) (string, []web.Page, error) {
	if p.crawler == nil {
		return "", nil, errors.New("web documents are not enabled on this worker")
	}
	pages, err := p.crawler.Crawl(ctx, web.Request{
		URL:         src.URL,
		FollowLinks: src.FollowLinks,
		MaxDepth:    src.MaxDepth,
	})
	if err != nil {
		return "", nil, err
	}

	f, err := os.CreateTemp(p.cfg.TempDir, "crawl-*.txt")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.WriteString(f, web.Combine(pages)); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("failed to write crawled text: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nil, err
	}
	p.logger.Info("Crawled site",
		logger.String("url", src.URL),
		logger.Int("pages", len(pages)),
	)
	return f.Name(), pages, nil
}

func crawledMetadata(src queue.WebSource, pages []web.Page) map[string]interface{} {
	meta := webMetadata(src)
	meta["pages_crawled"] = len(pages)
	meta["pages"] = pages
	return meta
}

// embedAndIndex fills chunks[i].VectorID for every chunk that was indexed.
func (p *Processor) embedAndIndex(ctx context.Context, prog *progress, payload queue.Payload, chunks []models.Chunk) error {
	if err := prog.set(ctx, progressEmbedStart); err != nil {
		return err
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}

	span := progressEmbedEnd - progressEmbedStart
	vectors, err := p.embedder.EmbedMany(ctx, texts, embedding.Options{
		UseCache:    true,
		BatchSize:   p.cfg.EmbedBatchSize,
		Concurrency: p.cfg.EmbedConcurrency,
		Progress: func(processed, total int) error {
			return prog.set(ctx, progressEmbedStart+processed*span/max(total, 1))
		},
	})
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if err := prog.set(ctx, progressEmbedEnd); err != nil {
		return err
	}

	var (
		keep      []int
		embedded  [][]float32
		metadatas []map[string]interface{}
		indexed   []string
	)
	for i, v := range vectors {
		if embedding.IsZero(v) {
			continue
		}
		keep = append(keep, i)
		embedded = append(embedded, v)
		indexed = append(indexed, texts[i])
		metadatas = append(metadatas, chunkMetadata(payload, chunks[i].Index))
	}
	if skipped := len(chunks) - len(keep); skipped > 0 {
		p.logger.Warn("Skipping chunks without embeddings",
			logger.String("docId", payload.DocumentID),
			logger.Int("skipped", skipped),
			logger.Int("total", len(chunks)),
		)
	}
	if len(keep) == 0 {
		return fmt.Errorf("no chunk of %d could be embedded", len(chunks))
	}

	ids, err := p.index.AddDocuments(ctx, indexed, embedded, metadatas)
	if err != nil {
		return fmt.Errorf("vector insert: %w", err)
	}
	for j, i := range keep {
		chunks[i].VectorID = ids[j]
	}
	return prog.set(ctx, progressIndexed)
}

func chunkMetadata(payload queue.Payload, index int) map[string]interface{} {
	meta := make(map[string]interface{}, len(payload.Metadata)+3)
	for k, v := range payload.Metadata {
		meta[k] = v
	}
	meta[vectorstore.MetadataDocID] = payload.DocumentID
	meta["chunk_index"] = index
	meta["filename"] = payload.Filename
	return meta
}
