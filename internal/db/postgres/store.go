package postgres

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/lib/pq"

	"matrag/internal/domain/rag"
	applog "matrag/internal/platform/log"
)

// Store PostgreSQL 元数据存储。文档/chunk 存在性的唯一权威；
// chunk 向量一并落库，作为向量索引的重建 checkpoint。
type Store struct {
	db *sql.DB
}

// NewStore 创建 PostgreSQL 存储。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureTables 确保文档/chunk 表存在（启动时执行）。
func (s *Store) EnsureTables(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS documents (
		id          VARCHAR(255) PRIMARY KEY,
		source_text TEXT NOT NULL,
		attributes  JSONB,
		chunk_count INT NOT NULL DEFAULT 0,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id          VARCHAR(255) PRIMARY KEY,
		document_id VARCHAR(255) NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		chunk_text  TEXT NOT NULL,
		position    INT NOT NULL,
		embedding   BYTEA,
		UNIQUE (document_id, position)
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
	`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) PutDocument(ctx context.Context, doc *rag.Document) error {
	attrs, err := json.Marshal(doc.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, source_text, attributes, chunk_count, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		doc.ID, doc.SourceText, attrs, doc.ChunkCount, doc.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return rag.ErrDuplicateDocument
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *Store) PutChunks(ctx context.Context, chunks []rag.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, document_id, chunk_text, position, embedding)
		 VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Text, c.Position, encodeVector(c.Vector)); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetDocument(ctx context.Context, id string) (*rag.Document, error) {
	doc := &rag.Document{}
	var attrs []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, source_text, COALESCE(attributes, 'null'), chunk_count, created_at
		 FROM documents WHERE id = $1`, id,
	).Scan(&doc.ID, &doc.SourceText, &attrs, &doc.ChunkCount, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, rag.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select document: %w", err)
	}
	if err := json.Unmarshal(attrs, &doc.Attributes); err != nil {
		return nil, fmt.Errorf("unmarshal attributes: %w", err)
	}
	return doc, nil
}

func (s *Store) GetChunk(ctx context.Context, id string) (*rag.Chunk, error) {
	chunk := &rag.Chunk{}
	var embedding []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, chunk_text, position, embedding
		 FROM chunks WHERE id = $1`, id,
	).Scan(&chunk.ID, &chunk.DocumentID, &chunk.Text, &chunk.Position, &embedding)
	if err == sql.ErrNoRows {
		return nil, rag.ErrChunkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select chunk: %w", err)
	}
	chunk.Vector = decodeVector(embedding)
	return chunk, nil
}

func (s *Store) ListDocuments(ctx context.Context) ([]rag.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(attributes, 'null'), chunk_count, created_at
		 FROM documents ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []rag.Document
	for rows.Next() {
		var doc rag.Document
		var attrs []byte
		if err := rows.Scan(&doc.ID, &attrs, &doc.ChunkCount, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if err := json.Unmarshal(attrs, &doc.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshal attributes: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument 事务性删除：文档记录 + 全部 chunk 一并移除并返回
// chunk ID；任何失败整体回滚，读者不会看到部分删除。
func (s *Store) DeleteDocument(ctx context.Context, id string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM chunks WHERE document_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("select chunk ids: %w", err)
	}
	var chunkIDs []string
	for rows.Next() {
		var chunkID string
		if err := rows.Scan(&chunkID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan chunk id: %w", err)
		}
		chunkIDs = append(chunkIDs, chunkID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("delete document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, rag.ErrDocumentNotFound
	}

	// chunks 随 ON DELETE CASCADE 一并删除
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete: %w", err)
	}
	return chunkIDs, nil
}

func (s *Store) AllVectors(ctx context.Context) ([]rag.ChunkVector, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM chunks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select vectors: %w", err)
	}
	defer rows.Close()

	var out []rag.ChunkVector
	for rows.Next() {
		var cv rag.ChunkVector
		var embedding []byte
		if err := rows.Scan(&cv.ID, &embedding); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		cv.Vector = decodeVector(embedding)
		out = append(out, cv)
	}
	return out, rows.Err()
}

func (s *Store) Stats(ctx context.Context) (*rag.Stats, error) {
	stats := &rag.Stats{}
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM documents), (SELECT COUNT(*) FROM chunks)`,
	).Scan(&stats.DocumentCount, &stats.ChunkCount)
	if err != nil {
		return nil, fmt.Errorf("select stats: %w", err)
	}
	return stats, nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `TRUNCATE documents CASCADE`); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	applog.Info("[Storage] All documents truncated")
	return nil
}

// ── 向量编解码（float32 LE）──────────────────────────────────

func encodeVector(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	if len(buf) == 0 {
		return nil
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
