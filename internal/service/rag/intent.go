package rag

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/feichai0017/knowledge-pipeline/internal/models"
	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
)

// 询问"有哪些文档"这类问题时不走向量检索
var documentQueryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(list|show|display|enumerate)\b.{0,30}\b(documents|files|docs)\b`),
	regexp.MustCompile(`(?i)\bhow many\b.{0,30}\b(documents|files|docs)\b`),
	regexp.MustCompile(`(?i)\bwhat\b.{0,20}\b(documents|files|docs)\b.{0,30}\b(have|available|uploaded|stored|exist|are there)\b`),
	regexp.MustCompile(`(?i)\b(documents|files|docs)\b.{0,30}\b(do you have|are available|have been uploaded|in the knowledge base)\b`),
	regexp.MustCompile(`(เอกสาร|ไฟล์).{0,20}(อะไรบ้าง|กี่|ทั้งหมด)`),
	regexp.MustCompile(`(รายการ|รายชื่อ|แสดง).{0,20}(เอกสาร|ไฟล์)`),
	regexp.MustCompile(`มี(เอกสาร|ไฟล์).{0,20}(อะไร|กี่|บ้าง)`),
}

// IsDocumentQuery reports whether text asks about the document collection
// itself rather than about document contents.
func IsDocumentQuery(text string) bool {
	for _, re := range documentQueryPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func (p *Pipeline) catalogContext(ctx context.Context) (string, error) {
	sum, err := p.catalog.GetDocumentsSummary(ctx)
	if err != nil {
		p.logger.Error("Failed to load documents summary", logger.Error(err))
		return "", err
	}
	names, err := p.catalog.GetDocumentNames(ctx, p.cfg.CatalogLimit)
	if err != nil {
		p.logger.Error("Failed to load document names", logger.Error(err))
		return "", err
	}
	return formatCatalog(sum, names), nil
}

func formatCatalog(sum *models.DocumentSummary, names []models.DocumentName) string {
	var b strings.Builder
	b.WriteString("Knowledge base summary:\n")
	fmt.Fprintf(&b, "- Total documents: %d (completed %d, processing %d, failed %d)\n",
		sum.Total, sum.Completed, sum.Processing, sum.Failed)
	fmt.Fprintf(&b, "- Total chunks: %d\n", sum.TotalChunks)
	fmt.Fprintf(&b, "- Total words: %d\n", sum.TotalWords)
	fmt.Fprintf(&b, "- Total size: %s\n", humanSize(sum.TotalSize))

	if len(names) == 0 {
		b.WriteString("\nNo documents have finished processing yet.")
		return b.String()
	}
	b.WriteString("\nAvailable documents:\n")
	for i, n := range names {
		fmt.Fprintf(&b, "%d. %s (%s, %d pages, %d words, %s)\n",
			i+1, n.Name, n.FileType, n.PageCount, n.WordCount, humanSize(n.FileSize))
	}
	return strings.TrimRight(b.String(), "\n")
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
