// Package extractor turns a local file into plain text plus the structural
// facts the ingestion pipeline records (page count, language).
package extractor

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Result 提取结果
type Result struct {
	Text string
	// PageCount is 0 when the format has no notion of pages.
	PageCount int
	Language  string
	Parser    string
	Metadata  map[string]interface{}
}

// Extractor reads one file format.
type Extractor interface {
	Extract(ctx context.Context, path string) (*Result, error)
}

// Func adapts a plain function to Extractor.
type Func func(ctx context.Context, path string) (*Result, error)

func (f Func) Extract(ctx context.Context, path string) (*Result, error) { return f(ctx, path) }

// Text reads .txt, .md and .csv files as they are. Files that are not valid
// UTF-8 are decoded as Latin-1.
type Text struct{}

func (Text) Extract(ctx context.Context, path string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	text := string(data)
	if !utf8.Valid(data) {
		text = decodeLatin1(data)
	}
	return &Result{Text: text, Parser: "native"}, nil
}

func decodeLatin1(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}

var (
	manyNewlines = regexp.MustCompile(`\n{3,}`)
	manySpaces   = regexp.MustCompile(` {2,}`)
	tabs         = regexp.MustCompile(`\t+`)
	controls     = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f-\x9f]`)
)

// CleanText normalizes whitespace and strips control characters other than
// newline and carriage return.
func CleanText(text string) string {
	text = manyNewlines.ReplaceAllString(text, "\n\n")
	text = manySpaces.ReplaceAllString(text, " ")
	text = tabs.ReplaceAllString(text, " ")
	text = controls.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

const languageSample = 1000

// DetectLanguage guesses a language code from script ratios in the first
// runes of text. Returns "unknown" for empty input and "en" when no tracked
// script passes 10%.
func DetectLanguage(text string) string {
	var total, thai, han, kana, hangul int
	for _, r := range text {
		if total == languageSample {
			break
		}
		total++
		switch {
		case unicode.Is(unicode.Thai, r):
			thai++
		case r >= 0x4e00 && r <= 0x9fff:
			han++
		case unicode.In(r, unicode.Hiragana, unicode.Katakana):
			kana++
		case r >= 0xac00 && r <= 0xd7af:
			hangul++
		}
	}
	if total == 0 {
		return "unknown"
	}
	ratio := func(n int) float64 { return float64(n) / float64(total) }
	switch {
	case ratio(thai) > 0.1:
		return "th"
	case ratio(han) > 0.1:
		return "zh"
	case ratio(kana) > 0.1:
		return "ja"
	case ratio(hangul) > 0.1:
		return "ko"
	default:
		return "en"
	}
}

// EstimatePages counts form feeds, or assumes roughly 3000 characters a page.
func EstimatePages(text string) int {
	if n := strings.Count(text, "\f"); n > 0 {
		return n + 1
	}
	return utf8.RuneCountInString(text)/3000 + 1
}

// WordCount counts whitespace separated fields.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
