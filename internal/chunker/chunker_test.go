package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// paragraph returns n characters of ordinary prose.
func paragraph(n int) string {
	const sentence = "The quick brown fox jumps over the lazy dog near the river bank. "
	var b strings.Builder
	for b.Len() < n {
		b.WriteString(sentence)
	}
	return strings.TrimSpace(b.String()[:n-1]) + "."
}

func fiftyKDocument() string {
	paras := make([]string, 100)
	for i := range paras {
		paras[i] = paragraph(498)
	}
	return strings.Join(paras, "\n\n")
}

func TestSplitEmpty(t *testing.T) {
	c := New()
	chunks, err := c.Split("")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = c.Split("   \n\n  ")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplitShorterThanMinimum(t *testing.T) {
	c := New()
	chunks, err := c.Split(paragraph(300))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplitFiftyThousandCharacters(t *testing.T) {
	doc := fiftyKDocument()
	require.InDelta(t, 50000, len(doc), 10)

	c := New(WithChunkSize(8000), WithOverlap(200), WithMinChunkSize(500))
	chunks, err := c.Split(doc)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(chunks), 6)
	assert.LessOrEqual(t, len(chunks), 8)
	for i, ch := range chunks {
		n := utf8.RuneCountInString(ch)
		assert.GreaterOrEqual(t, n, 500, "chunk %d", i)
		assert.LessOrEqual(t, n, 8200, "chunk %d", i)
	}
}

func TestSplitDeterministic(t *testing.T) {
	doc := fiftyKDocument()
	c := New()

	first, err := c.Split(doc)
	require.NoError(t, err)
	second, err := c.Split(doc)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSplitPreservesOrder(t *testing.T) {
	paras := make([]string, 40)
	for i := range paras {
		paras[i] = "Section " + strings.Repeat(string(rune('A'+i%26)), 3) + " " + paragraph(300)
	}
	c := New(WithChunkSize(1000), WithOverlap(0), WithMinChunkSize(100))
	chunks, err := c.Split(strings.Join(paras, "\n\n"))
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	joined := strings.Join(chunks, "\n\n")
	last := -1
	for _, p := range paras[:26] {
		marker := p[:12]
		idx := strings.Index(joined, marker)
		require.GreaterOrEqual(t, idx, 0, marker)
		assert.Greater(t, idx, last)
		last = idx
	}
}

func TestSplitDropsLowSignalChunks(t *testing.T) {
	noise := strings.Repeat("---- **** ==== //// ", 60)
	text := paragraph(900) + "\n\n\n" + noise + "\n\n\n" + paragraph(900)

	c := New(WithChunkSize(1000), WithOverlap(0), WithMinChunkSize(200))
	chunks, err := c.Split(text)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for _, ch := range chunks {
		assert.NotContains(t, ch, "****")
	}
}

func TestIsMeaningful(t *testing.T) {
	c := New()
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"prose", "This is a normal sentence.", true},
		{"two words", "hello world", false},
		{"symbols", "!!! ??? ... ### $$$ %%% ^^^", false},
		{"thai", "ภาษาไทย เป็น ภาษาที่สวยงาม มาก", true},
		{"chinese with spaces", "我们 今天 学习 中文", true},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.IsMeaningful(tt.text))
		})
	}
}

func TestChunksIndexed(t *testing.T) {
	c := New(WithChunkSize(1000), WithOverlap(100), WithMinChunkSize(200))
	chunks, err := c.Chunks("doc-1", fiftyKDocument()[:5000])
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.Equal(t, "doc-1", ch.DocumentID)
		assert.Equal(t, utf8.RuneCountInString(ch.Content), ch.Metadata["char_count"])
	}
}

func TestOverlapClamped(t *testing.T) {
	c := New(WithChunkSize(100), WithOverlap(500))
	assert.Equal(t, 25, c.overlap)
}
