// Package chunker splits extracted document text into overlapping chunks
// and drops the ones carrying too little signal to be worth embedding.
package chunker

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/feichai0017/knowledge-pipeline/internal/models"
)

const (
	DefaultChunkSize     = 8000
	DefaultChunkOverlap  = 200
	DefaultMinChunkSize  = 500
	DefaultMinAlnumRatio = 0.2
	DefaultMinWords      = 3
)

// DefaultSeparators runs from section breaks down to single characters.
var DefaultSeparators = []string{"\n\n\n", "\n\n", "\n", ". ", "? ", "! ", "; ", ", ", " ", ""}

// Chunker is safe for concurrent use.
type Chunker struct {
	chunkSize     int
	overlap       int
	minChunkSize  int
	minAlnumRatio float64
	minWords      int
	separators    []string

	splitter textsplitter.RecursiveCharacter
}

type Option func(*Chunker)

func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// WithMinChunkSize sets the minimum stripped length, in characters, of a kept chunk.
func WithMinChunkSize(size int) Option {
	return func(c *Chunker) {
		if size >= 0 {
			c.minChunkSize = size
		}
	}
}

func WithMinAlnumRatio(ratio float64) Option {
	return func(c *Chunker) {
		if ratio >= 0 && ratio <= 1 {
			c.minAlnumRatio = ratio
		}
	}
}

func WithMinWords(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.minWords = n
		}
	}
}

func WithSeparators(seps []string) Option {
	return func(c *Chunker) {
		if len(seps) > 0 {
			c.separators = append([]string(nil), seps...)
		}
	}
}

func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize:     DefaultChunkSize,
		overlap:       DefaultChunkOverlap,
		minChunkSize:  DefaultMinChunkSize,
		minAlnumRatio: DefaultMinAlnumRatio,
		minWords:      DefaultMinWords,
		separators:    DefaultSeparators,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}

	c.splitter = textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(c.chunkSize),
		textsplitter.WithChunkOverlap(c.overlap),
		textsplitter.WithSeparators(c.separators),
		textsplitter.WithLenFunc(utf8.RuneCountInString),
	)
	return c
}

// Split returns the surviving chunks of text in document order.
func (c *Chunker) Split(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(strings.TrimSpace(text)) < c.minChunkSize {
		return nil, nil
	}

	pieces, err := c.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("failed to split text: %w", err)
	}

	chunks := make([]string, 0, len(pieces))
	for _, p := range pieces {
		p = strings.TrimSpace(p)
		if utf8.RuneCountInString(p) < c.minChunkSize {
			continue
		}
		if !c.IsMeaningful(p) {
			continue
		}
		chunks = append(chunks, p)
	}
	return chunks, nil
}

// Chunks splits text and wraps the result as indexed chunk records of docID.
func (c *Chunker) Chunks(docID, text string) ([]models.Chunk, error) {
	parts, err := c.Split(text)
	if err != nil {
		return nil, err
	}
	chunks := make([]models.Chunk, len(parts))
	for i, p := range parts {
		chunks[i] = models.Chunk{
			DocumentID: docID,
			Index:      i,
			Content:    p,
			Metadata: map[string]interface{}{
				"char_count": utf8.RuneCountInString(p),
				"word_count": len(strings.Fields(p)),
			},
		}
	}
	return chunks, nil
}

// IsMeaningful reports whether enough of text is letters or digits, in any
// script, and it has at least the minimum number of words.
func (c *Chunker) IsMeaningful(text string) bool {
	total, alnum := 0, 0
	for _, r := range text {
		total++
		// combining marks carry vowels in scripts such as Thai
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) {
			alnum++
		}
	}
	if total == 0 {
		return false
	}
	if float64(alnum)/float64(total) < c.minAlnumRatio {
		return false
	}
	return len(strings.Fields(text)) >= c.minWords
}
