package extractor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanText(t *testing.T) {
	in := "  Title\n\n\n\n\nBody\twith\t\ttabs   and    spaces\x00\x07 done\r\n  "
	assert.Equal(t, "Title\n\nBody with tabs and spaces done", CleanText(in))
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"empty", "", "unknown"},
		{"english", "The quick brown fox jumps over the lazy dog", "en"},
		{"thai", "ภาษาไทยเป็นภาษาราชการของประเทศไทย", "th"},
		{"chinese", "这是一个中文文档的例子", "zh"},
		{"japanese", "これはにほんごのぶんしょうです", "ja"},
		{"korean", "이것은 한국어 문서입니다", "ko"},
		{"mostly english", "hello world this is english with one 字", "en"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLanguage(tt.text))
		})
	}
}

func TestDetectLanguageSamplesPrefix(t *testing.T) {
	text := strings.Repeat("a", 1000) + strings.Repeat("ก", 5000)
	assert.Equal(t, "en", DetectLanguage(text))
}

func TestEstimatePages(t *testing.T) {
	assert.Equal(t, 3, EstimatePages("one\ftwo\fthree"))
	assert.Equal(t, 1, EstimatePages("short"))
	assert.Equal(t, 3, EstimatePages(strings.Repeat("x", 6500)))
}

func TestWordCount(t *testing.T) {
	assert.Equal(t, 4, WordCount("  one two\nthree\tfour "))
	assert.Equal(t, 0, WordCount(""))
}

func TestTextExtractorLatin1Fallback(t *testing.T) {
	dir := t.TempDir()
	utf := filepath.Join(dir, "a.txt")
	latin := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(utf, []byte("café"), 0o600))
	require.NoError(t, os.WriteFile(latin, []byte{'c', 'a', 'f', 0xe9}, 0o600))

	res, err := Text{}.Extract(context.Background(), utf)
	require.NoError(t, err)
	assert.Equal(t, "café", res.Text)
	assert.Equal(t, "native", res.Parser)

	res, err = Text{}.Extract(context.Background(), latin)
	require.NoError(t, err)
	assert.Equal(t, "café", res.Text)
}
