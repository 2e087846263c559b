// Package office extracts text from word processor, presentation and markup
// files through docconv.
package office

import (
	"context"
	"fmt"

	"code.sajari.com/docconv"

	"github.com/feichai0017/knowledge-pipeline/internal/extractor"
)

// Extensions handled by docconv.
var Extensions = []string{".docx", ".pptx", ".odt", ".rtf", ".html", ".htm", ".xml"}

type Extractor struct{}

func NewExtractor() *Extractor { return &Extractor{} }

// Extract runs the conversion in its own goroutine so a cancelled context
// releases the caller even though docconv itself cannot be interrupted.
func (e *Extractor) Extract(ctx context.Context, path string) (*extractor.Result, error) {
	type result struct {
		res *docconv.Response
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := docconv.ConvertPath(path)
		done <- result{res, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if r.err != nil {
		return nil, fmt.Errorf("docconv: %w", r.err)
	}

	meta := make(map[string]interface{}, len(r.res.Meta))
	for k, v := range r.res.Meta {
		meta[k] = v
	}
	return &extractor.Result{Text: r.res.Body, Parser: "docconv", Metadata: meta}, nil
}
