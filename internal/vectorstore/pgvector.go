package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/feichai0017/knowledge-pipeline/internal/models"
)

var collectionName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// PGVectorIndex stores vectors in one Postgres table with a vector(dim) column.
type PGVectorIndex struct {
	db    *sql.DB
	table string
	dim   int
}

// NewPGVectorIndex creates the collection table if needed and refuses to use
// an existing one whose dimension differs from dim.
func NewPGVectorIndex(ctx context.Context, db *sql.DB, collection string, dim int) (*PGVectorIndex, error) {
	if !collectionName.MatchString(collection) {
		return nil, fmt.Errorf("invalid collection name %q", collection)
	}
	if dim <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", dim)
	}
	idx := &PGVectorIndex{db: db, table: collection, dim: dim}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (p *PGVectorIndex) ensureCollection(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id         TEXT PRIMARY KEY,
			doc_id     TEXT NOT NULL DEFAULT '',
			content    TEXT NOT NULL,
			metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding  vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, p.table, p.dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_doc_id_idx ON %s (doc_id)`, p.table, p.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`, p.table, p.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_metadata_idx ON %s USING gin (metadata jsonb_path_ops)`, p.table, p.table),
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure collection %s: %w", p.table, err)
		}
	}

	var typ string
	err := p.db.QueryRowContext(ctx, `
		SELECT format_type(atttypid, atttypmod)
		FROM pg_attribute
		WHERE attrelid = $1::regclass AND attname = 'embedding'`, p.table).Scan(&typ)
	if err != nil {
		return fmt.Errorf("inspect collection %s: %w", p.table, err)
	}
	var existing int
	if _, err := fmt.Sscanf(typ, "vector(%d)", &existing); err != nil {
		return fmt.Errorf("unexpected embedding column type %q", typ)
	}
	if existing != p.dim {
		return fmt.Errorf("collection %s: %w: column is %d, configured %d", p.table, models.ErrDimensionMismatch, existing, p.dim)
	}
	return nil
}

func (p *PGVectorIndex) AddDocuments(ctx context.Context, texts []string, embeddings [][]float32, metadatas []map[string]interface{}) ([]string, error) {
	if err := validateBatch(p.dim, texts, embeddings, metadatas); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, doc_id, content, metadata, embedding) VALUES ($1, $2, $3, $4, $5)`, p.table))
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	defer stmt.Close()

	ids := make([]string, len(texts))
	for i, text := range texts {
		var meta map[string]interface{}
		if metadatas != nil {
			meta = metadatas[i]
		}
		if meta == nil {
			meta = map[string]interface{}{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		docID, _ := meta[MetadataDocID].(string)

		ids[i] = uuid.NewString()
		if _, err := stmt.ExecContext(ctx, ids[i], docID, text, metaJSON, pgvector.NewVector(embeddings[i])); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("insert vector %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (p *PGVectorIndex) Search(ctx context.Context, query []float32, topK int, filter map[string]interface{}) ([]models.RetrievedResult, error) {
	if len(query) != p.dim {
		return nil, fmt.Errorf("query: %w: got %d, want %d", models.ErrDimensionMismatch, len(query), p.dim)
	}
	if topK <= 0 {
		return nil, nil
	}

	var filterArg interface{}
	if len(filter) > 0 {
		b, err := json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("marshal filter: %w", err)
		}
		filterArg = string(b)
	}

	q := fmt.Sprintf(`
		SELECT content, metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE $3::jsonb IS NULL OR metadata @> $3::jsonb
		ORDER BY embedding <=> $1
		LIMIT $2`, p.table)

	rows, err := p.db.QueryContext(ctx, q, pgvector.NewVector(query), topK, filterArg)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", p.table, err)
	}
	defer rows.Close()

	var out []models.RetrievedResult
	for rows.Next() {
		var (
			r    models.RetrievedResult
			meta []byte
		)
		if err := rows.Scan(&r.Text, &meta, &r.Score); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &r.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PGVectorIndex) DeleteByDocID(ctx context.Context, docID string) (int64, error) {
	if docID == "" {
		return 0, errors.New("empty document id")
	}
	res, err := p.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE doc_id = $1`, p.table), docID)
	if err != nil {
		return 0, fmt.Errorf("delete vectors: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (p *PGVectorIndex) GetStats(ctx context.Context) (*Stats, error) {
	st := &Stats{Collection: p.table, Dimension: p.dim}
	err := p.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*), COUNT(DISTINCT doc_id) FROM %s`, p.table),
	).Scan(&st.Vectors, &st.Documents)
	if err != nil {
		return nil, fmt.Errorf("collection stats: %w", err)
	}
	return st, nil
}
