package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/feichai0017/knowledge-pipeline/config"
	"github.com/feichai0017/knowledge-pipeline/internal/extractor"
	"github.com/feichai0017/knowledge-pipeline/internal/models"
	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestExtractCleansAndAnnotates(t *testing.T) {
	r := New(logger.NewNop())
	r.Register(extractor.Text{}, ".txt")

	path := writeFile(t, "notes.TXT", "Intro\n\n\n\n\nsecond   paragraph\there")
	res, err := r.Extract(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "Intro\n\nsecond paragraph here", res.Text)
	assert.Equal(t, "en", res.Language)
	assert.Equal(t, 1, res.PageCount)
	assert.Equal(t, ".txt", res.Metadata["file_type"])
	assert.Equal(t, "native", res.Metadata["parser"])
	assert.Equal(t, "notes.TXT", res.Metadata["filename"])
}

func TestExtractKeepsReportedPageCount(t *testing.T) {
	r := New(logger.NewNop())
	r.Register(extractor.Func(func(context.Context, string) (*extractor.Result, error) {
		return &extractor.Result{Text: strings.Repeat("y", 10), PageCount: 12, Parser: "fake"}, nil
	}), ".fake")

	res, err := r.Extract(context.Background(), writeFile(t, "a.fake", "ignored"))
	require.NoError(t, err)
	assert.Equal(t, 12, res.PageCount)
}

func TestExtractUnsupported(t *testing.T) {
	r := New(logger.NewNop())
	_, err := r.Extract(context.Background(), writeFile(t, "a.exe", "MZ"))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrValidation)

	var ve *models.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "UNSUPPORTED_FILE_TYPE", ve.Code)
}

func TestExtractMissingFile(t *testing.T) {
	r := New(logger.NewNop())
	r.Register(extractor.Text{}, ".txt")
	_, err := r.Extract(context.Background(), filepath.Join(t.TempDir(), "gone.txt"))
	assert.Error(t, err)
}

func TestDefaultRegistryWithoutOCR(t *testing.T) {
	r, err := NewDefault(context.Background(), Options{Textract: &cfg.TextractConfig{}}, logger.NewNop())
	require.NoError(t, err)

	assert.True(t, r.Supports("report.PDF"))
	assert.True(t, r.Supports("slides.pptx"))
	assert.True(t, r.Supports("data.csv"))
	assert.False(t, r.Supports("scan.png"))
	assert.Contains(t, r.Extensions(), ".docx")
}

type staticOCR string

func (s staticOCR) Recognize(context.Context, []byte) (string, error) { return string(s), nil }

func TestDefaultRegistryWithLocalOCR(t *testing.T) {
	r, err := NewDefault(context.Background(), Options{OCR: staticOCR("scanned text")}, logger.NewNop())
	require.NoError(t, err)
	assert.True(t, r.Supports("scan.png"))
	assert.True(t, r.Supports("photo.JPEG"))
}
