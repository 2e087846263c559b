package image

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	cfg "github.com/feichai0017/knowledge-pipeline/config"
	"github.com/feichai0017/knowledge-pipeline/internal/models"
)

// TextractAPI is the part of the Textract client the extractor calls.
type TextractAPI interface {
	AnalyzeDocument(ctx context.Context, in *textract.AnalyzeDocumentInput, optFns ...func(*textract.Options)) (*textract.AnalyzeDocumentOutput, error)
}

// NewTextractClient builds a Textract client from static credentials, falling
// back to the default AWS credential chain when none are configured.
func NewTextractClient(ctx context.Context, c *cfg.TextractConfig) (*textract.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(c.Region)}
	if c.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, ""),
		))
	}

	// load aws config
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	return textract.NewFromConfig(awsCfg, func(o *textract.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
	}), nil
}

// TextractOptions controls which block types are turned into text.
type TextractOptions struct {
	MinConfidence float32
	Tables        bool
	Forms         bool
}

func (o TextractOptions) featureTypes() []types.FeatureType {
	var ft []types.FeatureType
	if o.Tables {
		ft = append(ft, types.FeatureTypeTables)
	}
	if o.Forms {
		ft = append(ft, types.FeatureTypeForms)
	}
	return ft
}

type textractReader struct {
	client TextractAPI
	opts   TextractOptions
}

func (t *textractReader) read(ctx context.Context, img []byte) (string, map[string]interface{}, error) {
	input := &textract.AnalyzeDocumentInput{
		Document:     &types.Document{Bytes: img},
		FeatureTypes: t.opts.featureTypes(),
	}
	// AnalyzeDocument requires at least one feature type.
	if len(input.FeatureTypes) == 0 {
		input.FeatureTypes = []types.FeatureType{types.FeatureTypeLayout}
	}

	out, err := t.client.AnalyzeDocument(ctx, input)
	if err != nil {
		return "", nil, &models.BackendError{Backend: "textract", Op: "analyze_document", Err: err}
	}

	blocks := indexBlocks(out.Blocks)
	var sections []string
	if lines := t.lines(out.Blocks); len(lines) > 0 {
		sections = append(sections, strings.Join(lines, "\n"))
	}

	meta := map[string]interface{}{"ocr": "textract"}
	if t.opts.Tables {
		tables := tablesFrom(out.Blocks, blocks)
		for _, tb := range tables {
			sections = append(sections, tb.String())
		}
		meta["tables"] = len(tables)
	}
	if t.opts.Forms {
		fields := formsFrom(out.Blocks, blocks)
		if len(fields) > 0 {
			var sb strings.Builder
			for _, f := range fields {
				fmt.Fprintf(&sb, "%s: %s\n", f.Key, f.Value)
			}
			sections = append(sections, strings.TrimRight(sb.String(), "\n"))
		}
		meta["form_fields"] = len(fields)
	}
	return strings.Join(sections, "\n\n"), meta, nil
}

func (t *textractReader) lines(blocks []types.Block) []string {
	var texts []string
	for _, b := range blocks {
		if b.BlockType != types.BlockTypeLine || b.Text == nil {
			continue
		}
		if b.Confidence != nil && *b.Confidence < t.opts.MinConfidence {
			continue
		}
		texts = append(texts, *b.Text)
	}
	return texts
}

func indexBlocks(blocks []types.Block) map[string]types.Block {
	m := make(map[string]types.Block, len(blocks))
	for _, b := range blocks {
		if b.Id != nil {
			m[*b.Id] = b
		}
	}
	return m
}

// Table is a grid rebuilt from TABLE and CELL blocks.
type Table struct {
	Rows  int
	Cols  int
	Cells [][]string
}

// String renders the table one row per line with " | " between cells.
func (t Table) String() string {
	rows := make([]string, 0, len(t.Cells))
	for _, r := range t.Cells {
		rows = append(rows, strings.Join(r, " | "))
	}
	return strings.Join(rows, "\n")
}

func tablesFrom(blocks []types.Block, byID map[string]types.Block) []Table {
	var tables []Table
	for _, b := range blocks {
		if b.BlockType != types.BlockTypeTable {
			continue
		}
		var cells []types.Block
		var rows, cols int32
		for _, id := range childIDs(b) {
			c, ok := byID[id]
			if !ok || c.BlockType != types.BlockTypeCell || c.RowIndex == nil || c.ColumnIndex == nil {
				continue
			}
			cells = append(cells, c)
			rows = max(rows, *c.RowIndex)
			cols = max(cols, *c.ColumnIndex)
		}
		if rows == 0 || cols == 0 {
			continue
		}

		t := Table{Rows: int(rows), Cols: int(cols), Cells: make([][]string, rows)}
		for i := range t.Cells {
			t.Cells[i] = make([]string, cols)
		}
		for _, c := range cells {
			t.Cells[*c.RowIndex-1][*c.ColumnIndex-1] = childText(c, byID)
		}
		tables = append(tables, t)
	}
	return tables
}

// FormField is one key/value pair detected by the FORMS feature.
type FormField struct {
	Key   string
	Value string
}

func formsFrom(blocks []types.Block, byID map[string]types.Block) []FormField {
	var forms []FormField
	for _, b := range blocks {
		if b.BlockType != types.BlockTypeKeyValueSet || len(b.EntityTypes) == 0 || b.EntityTypes[0] != types.EntityTypeKey {
			continue
		}
		key := childText(b, byID)
		var value string
		for _, rel := range b.Relationships {
			if rel.Type != types.RelationshipTypeValue {
				continue
			}
			for _, id := range rel.Ids {
				if v, ok := byID[id]; ok {
					value = childText(v, byID)
				}
			}
		}
		if key != "" && value != "" {
			forms = append(forms, FormField{Key: key, Value: value})
		}
	}
	return forms
}

func childIDs(b types.Block) []string {
	var ids []string
	for _, rel := range b.Relationships {
		if rel.Type == types.RelationshipTypeChild {
			ids = append(ids, rel.Ids...)
		}
	}
	return ids
}

func childText(b types.Block, byID map[string]types.Block) string {
	var words []string
	for _, id := range childIDs(b) {
		if c, ok := byID[id]; ok && c.Text != nil {
			words = append(words, *c.Text)
		}
	}
	return strings.Join(words, " ")
}
