// Package ocr runs local Tesseract recognition and rasterizes scanned PDFs
// so their pages can be recognized like images.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
)

// Recognizer reads the text of one encoded image.
type Recognizer interface {
	Recognize(ctx context.Context, img []byte) (string, error)
}

type Config struct {
	// Languages are Tesseract traineddata names, tried together.
	Languages   []string
	PageSegMode gosseract.PageSegMode
	// Preprocess converts to grayscale and stretches contrast before recognition.
	Preprocess bool
}

// Tesseract recognizes text with libtesseract. A client is created per call
// since gosseract clients are not safe for concurrent use.
type Tesseract struct {
	cfg    Config
	logger logger.Logger
}

func NewTesseract(cfg Config, log logger.Logger) *Tesseract {
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"tha", "eng"}
	}
	// PSM_OSD_ONLY never yields text, so the zero value means auto.
	if cfg.PageSegMode == 0 {
		cfg.PageSegMode = gosseract.PSM_AUTO
	}
	return &Tesseract{cfg: cfg, logger: log}
}

func (t *Tesseract) Recognize(ctx context.Context, img []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if t.cfg.Preprocess {
		prepared, err := preprocess(img)
		if err != nil {
			t.logger.Warn("Image preprocessing failed, using original", logger.Error(err))
		} else {
			img = prepared
		}
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.cfg.Languages...); err != nil {
		return "", fmt.Errorf("failed to set ocr language: %w", err)
	}
	if err := client.SetPageSegMode(t.cfg.PageSegMode); err != nil {
		return "", fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if err := client.SetImageFromBytes(img); err != nil {
		return "", fmt.Errorf("failed to load image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// preprocess 灰度化并增强对比度
func preprocess(raw []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	gray := imaging.AdjustContrast(imaging.Grayscale(img), 20)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, gray, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Poppler renders PDF pages to PNG files with pdftoppm.
type Poppler struct {
	Command string
	DPI     int
}

func NewPoppler(command string, dpi int) *Poppler {
	if command == "" {
		command = "pdftoppm"
	}
	if dpi <= 0 {
		dpi = 200
	}
	return &Poppler{Command: command, DPI: dpi}
}

// Rasterize writes one PNG per page into dir and returns the paths in page order.
func (p *Poppler) Rasterize(ctx context.Context, path, dir string) ([]string, error) {
	prefix := filepath.Join(dir, "page")
	cmd := exec.CommandContext(ctx, p.Command, "-r", strconv.Itoa(p.DPI), "-png", path, prefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", p.Command, err, strings.TrimSpace(string(out)))
	}
	pages, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, err
	}
	// pdftoppm 用零填充页码，字典序即页序
	sort.Strings(pages)
	return pages, nil
}
