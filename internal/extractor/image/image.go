// Package image reads text out of raster images. Textract is tried first,
// then local Tesseract, then an Ollama vision model.
package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/feichai0017/knowledge-pipeline/internal/extractor"
	"github.com/feichai0017/knowledge-pipeline/internal/extractor/ocr"
	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
)

const (
	defaultMaxBytes = 5 * 1024 * 1024
	// Textract rejects images wider or taller than this.
	maxSide = 10000
	// Images are shrunk to fit this box when they must be re-encoded.
	fitSide = 4096

	visionPrompt = "Extract all readable text from this image. Return only the text, preserving line breaks. If there is no text, return an empty response."
)

// VisionModel answers a prompt about an image.
type VisionModel interface {
	AnalyzeImage(ctx context.Context, model string, img []byte, prompt string) (string, error)
}

type Config struct {
	// MaxBytes is the largest payload sent unchanged.
	MaxBytes    int
	Textract    TextractOptions
	VisionModel string
}

type Extractor struct {
	textract *textractReader
	local    ocr.Recognizer
	vision   VisionModel
	cfg      Config
	logger   logger.Logger
}

type Option func(*Extractor)

// WithLocalOCR tries rec after Textract and before the vision model.
func WithLocalOCR(rec ocr.Recognizer) Option {
	return func(e *Extractor) { e.local = rec }
}

// NewExtractor needs at least one of textract, local OCR or a vision model.
func NewExtractor(tx TextractAPI, vision VisionModel, cfg Config, log logger.Logger, opts ...Option) (*Extractor, error) {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	e := &Extractor{vision: vision, cfg: cfg, logger: log}
	for _, opt := range opts {
		opt(e)
	}
	if tx == nil && vision == nil && e.local == nil {
		return nil, errors.New("image extractor needs textract, local ocr or a vision model")
	}
	if tx != nil {
		e.textract = &textractReader{client: tx, opts: cfg.Textract}
	}
	return e, nil
}

func (e *Extractor) Extract(ctx context.Context, path string) (*extractor.Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	payload, meta, err := prepare(raw, strings.ToLower(filepath.Ext(path)), e.cfg.MaxBytes)
	if err != nil {
		return nil, err
	}

	var lastErr error
	if e.textract != nil {
		text, tmeta, err := e.textract.read(ctx, payload)
		if err == nil {
			for k, v := range tmeta {
				meta[k] = v
			}
			return &extractor.Result{Text: text, PageCount: 1, Parser: "textract", Metadata: meta}, nil
		}
		e.logger.Warn("Textract failed", logger.String("path", path), logger.Error(err))
		lastErr = err
	}

	if e.local != nil {
		// 本地识别用原图，不受 Textract 的大小限制
		text, err := e.local.Recognize(ctx, raw)
		if err == nil && text != "" {
			meta["ocr"] = "tesseract"
			return &extractor.Result{Text: text, PageCount: 1, Parser: "tesseract", Metadata: meta}, nil
		}
		if err != nil {
			e.logger.Warn("Local OCR failed", logger.String("path", path), logger.Error(err))
			lastErr = err
		} else if e.vision == nil {
			meta["ocr"] = "tesseract"
			return &extractor.Result{PageCount: 1, Parser: "tesseract", Metadata: meta}, nil
		}
	}

	if e.vision == nil {
		return nil, lastErr
	}
	text, err := e.vision.AnalyzeImage(ctx, e.cfg.VisionModel, payload, visionPrompt)
	if err != nil {
		return nil, fmt.Errorf("vision model: %w", err)
	}
	meta["ocr"] = "vision"
	meta["model"] = e.cfg.VisionModel
	return &extractor.Result{Text: strings.TrimSpace(text), PageCount: 1, Parser: "vision", Metadata: meta}, nil
}

// prepare returns the bytes to send for OCR. JPEG, PNG and TIFF within limits
// pass through unchanged; anything else is decoded, shrunk to fit and
// re-encoded as JPEG.
func prepare(raw []byte, ext string, maxBytes int) ([]byte, map[string]interface{}, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode image: %w", err)
	}
	meta := map[string]interface{}{"width": cfg.Width, "height": cfg.Height}

	passthrough := ext == ".jpg" || ext == ".jpeg" || ext == ".png" || ext == ".tiff"
	if passthrough && len(raw) <= maxBytes && cfg.Width <= maxSide && cfg.Height <= maxSide {
		return raw, meta, nil
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if img.Bounds().Dx() > fitSide || img.Bounds().Dy() > fitSide {
		img = imaging.Fit(img, fitSide, fitSide, imaging.Lanczos)
	}

	meta["resized"] = true
	// 降低质量直到满足大小限制
	var buf bytes.Buffer
	for _, q := range []int{90, 80, 70, 60} {
		buf.Reset()
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(q)); err != nil {
			return nil, nil, fmt.Errorf("failed to encode image: %w", err)
		}
		if buf.Len() <= maxBytes {
			break
		}
	}
	return buf.Bytes(), meta, nil
}
