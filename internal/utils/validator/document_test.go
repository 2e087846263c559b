package validator

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/knowledge-pipeline/internal/models"
	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
)

func code(t *testing.T, err error) string {
	t.Helper()
	var ve *models.ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
	assert.ErrorIs(t, err, models.ErrValidation)
	return ve.Code
}

func TestValidateAcceptsAndPreservesContent(t *testing.T) {
	v := NewDocumentValidator(logger.NewNop(), nil)
	body := "%PDF-1.4\n" + strings.Repeat("x", 2000)

	info, r, err := v.Validate("Report.PDF", int64(len(body)), strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, ".pdf", info.Extension)
	assert.Equal(t, "application/pdf", info.MimeType)

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
}

func TestValidateRejections(t *testing.T) {
	v := NewDocumentValidator(logger.NewNop(), &ValidatorConfig{MaxFileSize: 100})

	tests := []struct {
		name     string
		filename string
		size     int64
		body     string
		want     string
	}{
		{"too large", "a.txt", 101, "hello", "FILE_TOO_LARGE"},
		{"empty by size", "a.txt", 0, "", "EMPTY_FILE"},
		{"empty by content", "a.txt", -1, "", "EMPTY_FILE"},
		{"extension", "a.exe", 10, "MZ", "INVALID_FILE_TYPE"},
		{"no name", "", 10, "hello", "MISSING_FILENAME"},
		{"pdf that is text", "a.pdf", 5, "hello", "INVALID_MIME_TYPE"},
		{"text that is png", "a.txt", 8, "\x89PNG\r\n\x1a\n", "INVALID_MIME_TYPE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := v.Validate(tt.filename, tt.size, strings.NewReader(tt.body))
			require.Error(t, err)
			assert.Equal(t, tt.want, code(t, err))
		})
	}
}

func TestValidateSkipsSniffingWhenUnlisted(t *testing.T) {
	v := NewDocumentValidator(logger.NewNop(), nil)
	_, _, err := v.Validate("scan.tiff", 4, bytes.NewReader([]byte("II*\x00")))
	assert.NoError(t, err)
}

func TestAllowedFor(t *testing.T) {
	v := NewDocumentValidator(logger.NewNop(), &ValidatorConfig{AllowedTypes: AllowedFor([]string{".txt", ".pdf"})})
	assert.Equal(t, []string{".pdf", ".txt"}, v.Extensions())

	_, _, err := v.Validate("a.docx", 10, strings.NewReader("PK\x03\x04"))
	assert.Equal(t, "INVALID_FILE_TYPE", code(t, err))
}
