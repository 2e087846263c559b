// Package registry dispatches extraction by file extension and applies the
// shared cleanup every format goes through.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	cfg "github.com/feichai0017/knowledge-pipeline/config"
	"github.com/feichai0017/knowledge-pipeline/internal/extractor"
	"github.com/feichai0017/knowledge-pipeline/internal/extractor/image"
	"github.com/feichai0017/knowledge-pipeline/internal/extractor/ocr"
	"github.com/feichai0017/knowledge-pipeline/internal/extractor/office"
	"github.com/feichai0017/knowledge-pipeline/internal/extractor/pdf"
	"github.com/feichai0017/knowledge-pipeline/internal/models"
	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
)

var (
	textExtensions  = []string{".txt", ".md", ".csv"}
	imageExtensions = []string{".png", ".jpg", ".jpeg", ".tiff", ".bmp"}
)

type Registry struct {
	extractors map[string]extractor.Extractor
	logger     logger.Logger
}

func New(log logger.Logger) *Registry {
	return &Registry{
		extractors: make(map[string]extractor.Extractor),
		logger:     log,
	}
}

// Options selects the backends of the default registry.
type Options struct {
	PDFWorkers int
	Textract   *cfg.TextractConfig
	// Vision and VisionModel enable the image fallback. Both may be empty.
	Vision      image.VisionModel
	VisionModel string
	// OCR reads images locally and, with Rasterizer, scanned PDFs.
	OCR        ocr.Recognizer
	Rasterizer pdf.Rasterizer
}

// NewDefault registers text, pdf and office formats, and images when any OCR
// backend is available.
func NewDefault(ctx context.Context, opts Options, log logger.Logger) (*Registry, error) {
	r := New(log)
	r.Register(extractor.Text{}, textExtensions...)
	var pdfOpts []pdf.Option
	if opts.OCR != nil && opts.Rasterizer != nil {
		pdfOpts = append(pdfOpts, pdf.WithOCR(opts.OCR, opts.Rasterizer))
	}
	r.Register(pdf.NewExtractor(log, opts.PDFWorkers, pdfOpts...), ".pdf")
	r.Register(office.NewExtractor(), office.Extensions...)

	var tx image.TextractAPI
	maxBytes := 0
	if opts.Textract != nil {
		maxBytes = opts.Textract.MaxImageBytes
		if opts.Textract.Enabled {
			client, err := image.NewTextractClient(ctx, opts.Textract)
			if err != nil {
				return nil, fmt.Errorf("failed to create textract client: %w", err)
			}
			tx = client
		}
	}
	if tx == nil && opts.Vision == nil && opts.OCR == nil {
		log.Warn("No OCR backend configured, image uploads are disabled")
		return r, nil
	}
	var imgOpts []image.Option
	if opts.OCR != nil {
		imgOpts = append(imgOpts, image.WithLocalOCR(opts.OCR))
	}

	img, err := image.NewExtractor(tx, opts.Vision, image.Config{
		MaxBytes:    maxBytes,
		VisionModel: opts.VisionModel,
		Textract: image.TextractOptions{
			MinConfidence: 80,
			Tables:        true,
			Forms:         true,
		},
	}, log, imgOpts...)
	if err != nil {
		return nil, err
	}
	r.Register(img, imageExtensions...)
	return r, nil
}

// Register maps each extension (with leading dot, any case) to e.
func (r *Registry) Register(e extractor.Extractor, exts ...string) {
	for _, ext := range exts {
		r.extractors[strings.ToLower(ext)] = e
	}
}

// Extensions lists the registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.extractors))
	for ext := range r.extractors {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Supports reports whether filename has a registered extension.
func (r *Registry) Supports(filename string) bool {
	_, ok := r.extractors[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// Extract dispatches on the extension of path, then cleans the text and fills
// in page count and language.
func (r *Registry) Extract(ctx context.Context, path string) (*extractor.Result, error) {
	ext := strings.ToLower(filepath.Ext(path))
	e, ok := r.extractors[ext]
	if !ok {
		return nil, &models.ValidationError{
			Code:    "UNSUPPORTED_FILE_TYPE",
			Field:   "extension",
			Message: fmt.Sprintf("unsupported file type: %s", ext),
		}
	}

	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("file not found: %w", err)
	}

	start := time.Now()
	res, err := e.Extract(ctx, path)
	if err != nil {
		return nil, err
	}

	if res.PageCount == 0 {
		res.PageCount = extractor.EstimatePages(res.Text)
	}
	res.Text = extractor.CleanText(res.Text)
	res.Language = extractor.DetectLanguage(res.Text)

	if res.Metadata == nil {
		res.Metadata = map[string]interface{}{}
	}
	res.Metadata["filename"] = filepath.Base(path)
	res.Metadata["file_type"] = ext
	res.Metadata["file_size"] = st.Size()
	res.Metadata["parser"] = res.Parser
	res.Metadata["page_count"] = res.PageCount
	res.Metadata["language"] = res.Language

	r.logger.Info("Extracted document",
		logger.String("file", filepath.Base(path)),
		logger.String("parser", res.Parser),
		logger.Int("chars", len(res.Text)),
		logger.Int("pages", res.PageCount),
		logger.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}
