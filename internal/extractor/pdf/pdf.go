package pdf

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/knowledge-pipeline/internal/extractor"
	"github.com/feichai0017/knowledge-pipeline/internal/extractor/ocr"
	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
)

const defaultWorkers = 4

// Rasterizer renders every page of a PDF to an image file inside dir.
type Rasterizer interface {
	Rasterize(ctx context.Context, path, dir string) ([]string, error)
}

type Extractor struct {
	logger  logger.Logger
	workers int
	ocr     ocr.Recognizer
	raster  Rasterizer
}

type Option func(*Extractor)

// WithOCR recognizes rasterized pages when a PDF has no text layer.
func WithOCR(rec ocr.Recognizer, raster Rasterizer) Option {
	return func(e *Extractor) {
		e.ocr = rec
		e.raster = raster
	}
}

func NewExtractor(log logger.Logger, workers int, opts ...Option) *Extractor {
	if workers <= 0 {
		workers = defaultWorkers
	}
	e := &Extractor{logger: log, workers: workers}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract reads every page in parallel and joins the page texts in page order.
// Pages that fail to decode are skipped and logged.
func (e *Extractor) Extract(ctx context.Context, path string) (*extractor.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat pdf: %w", err)
	}

	reader, err := newReader(f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pdf: %w", err)
	}

	numPages := reader.NumPage()
	pages := make([]string, numPages)

	// 并行处理每一页
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := 1; i <= numPages; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			text, err := pageText(reader, i)
			if err != nil {
				e.logger.Warn("Skipping unreadable pdf page",
					logger.String("path", path),
					logger.Int("page", i),
					logger.Error(err),
				)
				return nil
			}
			pages[i-1] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	parts := make([]string, 0, numPages)
	for _, p := range pages {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}

	res := &extractor.Result{
		Text:      strings.Join(parts, "\n\n"),
		PageCount: numPages,
		Parser:    "pdf",
		Metadata:  documentInfo(reader),
	}
	if res.Text != "" || e.ocr == nil || e.raster == nil {
		return res, nil
	}

	// 没有文本层，按扫描件处理
	e.logger.Info("No text layer found, running OCR", logger.String("path", path), logger.Int("pages", numPages))
	text, err := e.recognizePages(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("scanned pdf: %w", err)
	}
	res.Text = text
	res.Parser = "pdf+ocr"
	if res.Metadata == nil {
		res.Metadata = map[string]interface{}{}
	}
	res.Metadata["ocr"] = "tesseract"
	return res, nil
}

// recognizePages rasterizes path and recognizes the pages in order. A page
// that fails recognition is skipped.
func (e *Extractor) recognizePages(ctx context.Context, path string) (string, error) {
	dir, err := os.MkdirTemp("", "pdf-ocr-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	images, err := e.raster.Rasterize(ctx, path, dir)
	if err != nil {
		return "", err
	}

	texts := make([]string, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, img := range images {
		g.Go(func() error {
			raw, err := os.ReadFile(img)
			if err != nil {
				return err
			}
			text, err := e.ocr.Recognize(gctx, raw)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				e.logger.Warn("OCR failed for page",
					logger.String("path", path),
					logger.Int("page", i+1),
					logger.Error(err),
				)
				return nil
			}
			texts[i] = strings.TrimSpace(text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	parts := texts[:0]
	for _, t := range texts {
		if t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// newReader converts the parser's panics on malformed input into errors.
func newReader(f *os.File, size int64) (r *pdf.Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("malformed pdf: %v", p)
		}
	}()
	return pdf.NewReader(f, size)
}

func pageText(r *pdf.Reader, num int) (text string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("page %d: %v", num, p)
		}
	}()
	page := r.Page(num)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}

func documentInfo(r *pdf.Reader) map[string]interface{} {
	meta := map[string]interface{}{}
	defer func() { _ = recover() }()

	trailer := r.Trailer()
	if trailer.IsNull() {
		return meta
	}
	info := trailer.Key("Info")
	if info.IsNull() {
		return meta
	}
	if title := info.Key("Title"); !title.IsNull() && title.Text() != "" {
		meta["title"] = title.Text()
	}
	if author := info.Key("Author"); !author.IsNull() && author.Text() != "" {
		meta["author"] = author.Text()
	}
	return meta
}
