package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/feichai0017/knowledge-pipeline/internal/models"
)

// Store persists document records and their chunk rows.
type Store interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	UpdateDocument(ctx context.Context, id string, update models.DocumentUpdate) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, filter ListFilter) ([]models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	CreateChunksBatch(ctx context.Context, docID string, chunks []models.Chunk) error
	GetChunks(ctx context.Context, docID string) ([]models.Chunk, error)
	DeleteChunks(ctx context.Context, docID string) error
	GetDocumentsSummary(ctx context.Context) (*models.DocumentSummary, error)
	GetDocumentNames(ctx context.Context, limit int) ([]models.DocumentName, error)
}

type ListFilter struct {
	Status models.DocumentStatus
	Limit  int
	Offset int
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const documentColumns = `id, name, file_type, content_type, file_size, object_key, status, progress,
	content, chunks_count, page_count, word_count, language, error_message, tags, metadata,
	created_at, updated_at`

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	tags, meta, err := encodeJSONFields(doc.Tags, doc.Metadata)
	if err != nil {
		return err
	}
	if doc.Status == "" {
		doc.Status = models.StatusPending
	}

	const q = `
		INSERT INTO documents
			(id, name, file_type, content_type, file_size, object_key, status, progress, tags, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, q,
		doc.ID, doc.Name, doc.FileType, doc.ContentType, doc.FileSize, doc.ObjectKey,
		string(doc.Status), doc.Progress, tags, meta,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// UpdateDocument writes only the non-nil fields of update.
func (s *PostgresStore) UpdateDocument(ctx context.Context, id string, update models.DocumentUpdate) error {
	set, args, err := buildUpdate(update)
	if err != nil {
		return err
	}
	if len(set) == 0 {
		return nil
	}

	args = append(args, id)
	q := fmt.Sprintf(`UPDATE documents SET %s, updated_at = now() WHERE id = $%d`,
		strings.Join(set, ", "), len(args))

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// buildUpdate maps set fields to SET assignments in a fixed column order.
func buildUpdate(u models.DocumentUpdate) ([]string, []interface{}, error) {
	var (
		set  []string
		args []interface{}
	)
	add := func(col string, v interface{}) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.Status != nil {
		add("status", string(*u.Status))
	}
	if u.Progress != nil {
		add("progress", *u.Progress)
	}
	if u.Content != nil {
		add("content", *u.Content)
	}
	if u.ChunksCount != nil {
		add("chunks_count", *u.ChunksCount)
	}
	if u.PageCount != nil {
		add("page_count", *u.PageCount)
	}
	if u.WordCount != nil {
		add("word_count", *u.WordCount)
	}
	if u.Language != nil {
		add("language", *u.Language)
	}
	if u.ErrorMessage != nil {
		add("error_message", *u.ErrorMessage)
	}
	if u.Tags != nil {
		b, err := json.Marshal(u.Tags)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal tags: %w", err)
		}
		add("tags", b)
	}
	if u.Metadata != nil {
		b, err := json.Marshal(u.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal metadata: %w", err)
		}
		add("metadata", b)
	}
	return set, args, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// ListDocuments omits content; fetch a single document for its text.
func (s *PostgresStore) ListDocuments(ctx context.Context, filter ListFilter) ([]models.Document, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 50
	}
	q := `SELECT ` + strings.Replace(documentColumns, "content,", "'' AS content,", 1) + ` FROM documents`
	args := []interface{}{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		q += ` WHERE status = $1`
	}
	args = append(args, filter.Limit, filter.Offset)
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// CreateChunksBatch inserts chunks in a single transaction.
func (s *PostgresStore) CreateChunksBatch(ctx context.Context, docID string, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO document_chunks (document_id, chunk_index, content, vector_id, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (document_id, chunk_index)
		DO UPDATE SET content = EXCLUDED.content, vector_id = EXCLUDED.vector_id, metadata = EXCLUDED.metadata
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		meta, err := json.Marshal(nonNilMap(ch.Metadata))
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("marshal chunk metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, docID, ch.Index, ch.Content, ch.VectorID, meta); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert chunk %d: %w", ch.Index, err)
		}
	}
	return tx.Commit()
}

// GetChunks returns the chunk rows of docID in index order.
func (s *PostgresStore) GetChunks(ctx context.Context, docID string) ([]models.Chunk, error) {
	const q = `
		SELECT chunk_index, content, vector_id, metadata
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY chunk_index
	`
	rows, err := s.db.QueryContext(ctx, q, docID)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		ch := models.Chunk{DocumentID: docID}
		var meta []byte
		if err := rows.Scan(&ch.Index, &ch.Content, &ch.VectorID, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &ch.Metadata); err != nil {
				return nil, fmt.Errorf("decode chunk metadata: %w", err)
			}
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteChunks(ctx context.Context, docID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, docID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocumentsSummary(ctx context.Context) (*models.DocumentSummary, error) {
	const q = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COALESCE(SUM(chunks_count), 0),
			COALESCE(SUM(word_count), 0),
			COALESCE(SUM(file_size), 0)
		FROM documents
	`
	var sum models.DocumentSummary
	err := s.db.QueryRowContext(ctx, q).Scan(
		&sum.Total, &sum.Completed, &sum.Processing, &sum.Failed,
		&sum.TotalChunks, &sum.TotalWords, &sum.TotalSize,
	)
	if err != nil {
		return nil, fmt.Errorf("documents summary: %w", err)
	}
	return &sum, nil
}

// GetDocumentNames lists completed documents, newest first.
func (s *PostgresStore) GetDocumentNames(ctx context.Context, limit int) ([]models.DocumentName, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
		SELECT id, name, file_type, file_size, page_count, word_count, created_at
		FROM documents
		WHERE status = 'completed'
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("document names: %w", err)
	}
	defer rows.Close()

	var out []models.DocumentName
	for rows.Next() {
		var n models.DocumentName
		if err := rows.Scan(&n.ID, &n.Name, &n.FileType, &n.FileSize, &n.PageCount, &n.WordCount, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		d          models.Document
		status     string
		tags, meta []byte
	)
	err := row.Scan(
		&d.ID, &d.Name, &d.FileType, &d.ContentType, &d.FileSize, &d.ObjectKey, &status, &d.Progress,
		&d.Content, &d.ChunksCount, &d.PageCount, &d.WordCount, &d.Language, &d.ErrorMessage, &tags, &meta,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Status = models.DocumentStatus(status)
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &d.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &d.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &d, nil
}

func encodeJSONFields(tags []string, meta map[string]interface{}) ([]byte, []byte, error) {
	if tags == nil {
		tags = []string{}
	}
	t, err := json.Marshal(tags)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal tags: %w", err)
	}
	m, err := json.Marshal(nonNilMap(meta))
	if err != nil {
		return nil, nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return t, m, nil
}

func nonNilMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
