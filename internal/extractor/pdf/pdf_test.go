package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
)

// buildPDF writes a minimal PDF with one Helvetica text line per page.
func buildPDF(t *testing.T, pages ...string) string {
	t.Helper()

	n := len(pages)
	// 1 catalog, 2 pages, 3 font, then page/content pairs.
	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}
	kids := ""
	for i, text := range pages {
		pageObj := 4 + 2*i
		contentObj := pageObj + 1
		kids += fmt.Sprintf("%d 0 R ", pageObj)
		objs = append(objs, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
			contentObj))
		stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		objs = append(objs, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}
	objs[1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, n)

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)

	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestExtractPagesInOrder(t *testing.T) {
	path := buildPDF(t, "Alpha", "Bravo", "Charlie")

	res, err := NewExtractor(logger.NewNop(), 2).Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 3, res.PageCount)
	assert.Equal(t, "pdf", res.Parser)

	a := bytes.Index([]byte(res.Text), []byte("Alpha"))
	b := bytes.Index([]byte(res.Text), []byte("Bravo"))
	c := bytes.Index([]byte(res.Text), []byte("Charlie"))
	require.True(t, a >= 0 && b >= 0 && c >= 0, "text: %q", res.Text)
	assert.Less(t, a, b)
	assert.Less(t, b, c)
}

func TestExtractRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pdf")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a pdf"), 0o600))

	_, err := NewExtractor(logger.NewNop(), 0).Extract(context.Background(), path)
	assert.Error(t, err)
}

type fakeRaster struct {
	pages int
	calls int
}

func (f *fakeRaster) Rasterize(_ context.Context, _, dir string) ([]string, error) {
	f.calls++
	var out []string
	for i := 1; i <= f.pages; i++ {
		p := filepath.Join(dir, fmt.Sprintf("page-%d.png", i))
		if err := os.WriteFile(p, []byte(fmt.Sprintf("page %d", i)), 0o600); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// pageReader "recognizes" the bytes written by fakeRaster.
type pageReader struct{}

func (pageReader) Recognize(_ context.Context, img []byte) (string, error) {
	if string(img) == "page 2" {
		return "", fmt.Errorf("unreadable")
	}
	return "scanned " + string(img), nil
}

func TestExtractScannedPDFFallsBackToOCR(t *testing.T) {
	path := buildPDF(t, "", "", "")
	raster := &fakeRaster{pages: 3}

	res, err := NewExtractor(logger.NewNop(), 2, WithOCR(pageReader{}, raster)).Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, raster.calls)
	assert.Equal(t, "pdf+ocr", res.Parser)
	assert.Equal(t, "scanned page 1\n\nscanned page 3", res.Text)
	assert.Equal(t, 3, res.PageCount)
	assert.Equal(t, "tesseract", res.Metadata["ocr"])
}

func TestExtractTextPDFSkipsOCR(t *testing.T) {
	raster := &fakeRaster{pages: 1}
	res, err := NewExtractor(logger.NewNop(), 1, WithOCR(pageReader{}, raster)).Extract(context.Background(), buildPDF(t, "Hello"))
	require.NoError(t, err)
	assert.Zero(t, raster.calls)
	assert.Equal(t, "pdf", res.Parser)

	res, err = NewExtractor(logger.NewNop(), 1).Extract(context.Background(), buildPDF(t, ""))
	require.NoError(t, err)
	assert.Empty(t, res.Text)
}
