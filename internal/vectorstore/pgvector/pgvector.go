// Package pgvector stores chunk embeddings in PostgreSQL with the pgvector extension.
package pgvector

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"pdfchat/internal/domain"
	"pdfchat/internal/vectorstore"
)

// Config holds the connection string and table name.
type Config struct {
	DSN   string
	Table string
}

var validTable = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Backend shares one pool; generations are rows tagged with a generation column.
type Backend struct {
	pool  *pgxpool.Pool
	table string
}

// NewBackend connects, creates the vector extension and the chunk table.
func NewBackend(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Table == "" {
		cfg.Table = "pdfchat_chunks"
	}
	if !validTable.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}

	// The extension must exist before the pool registers the vector type.
	conn, err := pgx.Connect(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	_, err = conn.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)
	_ = conn.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector extension: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	b := &Backend{pool: pool, table: pgx.Identifier{cfg.Table}.Sanitize()}
	_, err = pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			generation  TEXT    NOT NULL,
			chunk_index INTEGER NOT NULL,
			chunk_id    TEXT    NOT NULL,
			page        INTEGER NOT NULL,
			char_offset INTEGER NOT NULL,
			content     TEXT    NOT NULL,
			embedding   vector  NOT NULL,
			PRIMARY KEY (generation, chunk_index)
		)`, b.table))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create %s table: %w", cfg.Table, err)
	}
	return b, nil
}

func (b *Backend) Open(ctx context.Context, generation string) (vectorstore.Storage, error) {
	if generation == "" {
		return nil, errors.New("pgvector: empty generation")
	}
	return &Storage{backend: b, generation: generation}, nil
}

func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}

// Storage is the set of rows of one generation.
type Storage struct {
	backend    *Backend
	generation string
	dimension  int
}

func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.dimension = dimension
	return s.Drop(ctx)
}

func (s *Storage) Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float64) error {
	if len(chunks) != len(vectors) {
		return errors.New("chunks and vectors length mismatch")
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (generation, chunk_index, chunk_id, page, char_offset, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (generation, chunk_index) DO UPDATE
		SET chunk_id = EXCLUDED.chunk_id, page = EXCLUDED.page, char_offset = EXCLUDED.char_offset,
		    content = EXCLUDED.content, embedding = EXCLUDED.embedding`, s.backend.table)
	batch := &pgx.Batch{}
	for i, ch := range chunks {
		if len(vectors[i]) != s.dimension {
			return errors.New("vector dimension mismatch")
		}
		batch.Queue(query, s.generation, ch.Index, ch.ID, ch.Page, ch.Offset, ch.Text, pgvector.NewVector(toFloat32(vectors[i])))
	}
	if err := s.backend.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}
	return nil
}

func (s *Storage) Search(ctx context.Context, vector []float64, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = 4
	}
	rows, err := s.backend.pool.Query(ctx, fmt.Sprintf(`
		SELECT chunk_id, chunk_index, page, char_offset, content, 1 - (embedding <=> $2) AS score
		FROM %s
		WHERE generation = $1
		ORDER BY embedding <=> $2, chunk_index
		LIMIT $3`, s.backend.table), s.generation, pgvector.NewVector(toFloat32(vector)), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar chunks: %w", err)
	}
	defer rows.Close()

	var results []domain.SearchResult
	for rows.Next() {
		var r domain.SearchResult
		if err := rows.Scan(&r.Chunk.ID, &r.Chunk.Index, &r.Chunk.Page, &r.Chunk.Offset, &r.Chunk.Text, &r.Score); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Storage) Drop(ctx context.Context) error {
	_, err := s.backend.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE generation = $1`, s.backend.table), s.generation)
	if err != nil {
		return fmt.Errorf("failed to drop generation %s: %w", s.generation, err)
	}
	return nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

var (
	_ vectorstore.Storage = (*Storage)(nil)
	_ vectorstore.Backend = (*Backend)(nil)
)
