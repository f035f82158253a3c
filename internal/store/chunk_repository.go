package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/jepras/constructionrag/internal/apperr"
	"github.com/jepras/constructionrag/internal/models"
)

// ChunkRepository persists models.Chunk and drives the similarity search
// that backs retrieval (§4.2, §4.11).
type ChunkRepository struct {
	pool *pgxpool.Pool
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{pool: pool}
}

// BulkCreate inserts a batch of chunks for one document's embedding step.
// chunk_index is unique per document (§8.1): a duplicate index inside the
// same document is a conflict, not silently dropped, so the caller's bug
// surfaces instead of corrupting the ordering.
func (r *ChunkRepository) BulkCreate(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, c := range chunks {
			if c.ID == "" {
				c.ID = uuid.New().String()
			}
			metadata, err := json.Marshal(c.Metadata)
			if err != nil {
				return fmt.Errorf("marshal chunk metadata: %w", err)
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO chunks (id, document_id, run_id, chunk_index, content, embedding, metadata, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
				c.ID, c.DocumentID, c.RunID, c.ChunkIndex, c.Content, pgvector.NewVector(c.Embedding), metadata)
			if err != nil {
				return apperr.NewConflict(fmt.Sprintf("insert chunk %s (document %s, index %d): %v", c.ID, c.DocumentID, c.ChunkIndex, err))
			}
		}
		return nil
	})
}

// ChunkIDsWithEmbeddings returns the chunk ids of a document that already
// carry a non-null embedding, so the embedding step can resume by skipping
// them (§4.10 resume semantics).
func (r *ChunkRepository) ChunkIDsWithEmbeddings(ctx context.Context, documentID string) (map[string]bool, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM chunks WHERE document_id = $1 AND embedding IS NOT NULL`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list embedded chunks: %w", err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chunk id: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

func (r *ChunkRepository) SetEmbedding(ctx context.Context, chunkID string, embedding []float32) error {
	if len(embedding) != models.EmbeddingDimension {
		return apperr.NewEmbeddingError(apperr.KindDimensionMismatch,
			fmt.Sprintf("expected dimension %d, got %d", models.EmbeddingDimension, len(embedding)))
	}
	tag, err := r.pool.Exec(ctx, `UPDATE chunks SET embedding = $2 WHERE id = $1`, chunkID, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("set chunk embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NewNotFound("chunk", chunkID)
	}
	return nil
}

func (r *ChunkRepository) ListByDocument(ctx context.Context, documentID string) ([]*models.Chunk, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, document_id, run_id, chunk_index, content, metadata, created_at
		FROM chunks WHERE document_id = $1 ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

func (r *ChunkRepository) ListByRun(ctx context.Context, runID string) ([]*models.Chunk, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, document_id, run_id, chunk_index, content, metadata, created_at
		FROM chunks WHERE run_id = $1 ORDER BY document_id, chunk_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// ListByRunWithEmbeddings is ListByRun plus the embedding vector, for
// consumers that need the vector space directly (wiki clustering, §4.13).
func (r *ChunkRepository) ListByRunWithEmbeddings(ctx context.Context, runID string) ([]*models.Chunk, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, document_id, run_id, chunk_index, content, embedding, metadata, created_at
		FROM chunks WHERE run_id = $1 ORDER BY document_id, chunk_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("list chunks with embeddings: %w", err)
	}
	defer rows.Close()

	var out []*models.Chunk
	for rows.Next() {
		var c models.Chunk
		var embedding pgvector.Vector
		var metadata []byte
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.RunID, &c.ChunkIndex, &c.Content, &embedding, &metadata, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk with embedding: %w", err)
		}
		c.Embedding = embedding.Slice()
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal chunk metadata: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func scanChunks(rows pgx.Rows) ([]*models.Chunk, error) {
	var out []*models.Chunk
	for rows.Next() {
		var c models.Chunk
		var metadata []byte
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.RunID, &c.ChunkIndex, &c.Content, &metadata, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal chunk metadata: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// MatchQuery parameterizes the HNSW-backed similarity search of §4.11.
type MatchQuery struct {
	Embedding     []float32
	MinSimilarity float64
	Limit         int
	RunID         string // required: search is always scoped to one indexing run
	DocumentID    string // optional: narrow to a single document
}

// ChunkMatch is one similarity search hit with its cosine similarity score.
type ChunkMatch struct {
	Chunk      models.Chunk
	Similarity float64
}

// MatchChunks runs the pgvector cosine-distance search backing retrieval
// (§4.2's match_chunks, §4.11). Results are ordered by similarity descending
// and already filtered by the minimum similarity threshold; the caller is
// responsible for cross-query dedup and top-k truncation.
func (r *ChunkRepository) MatchChunks(ctx context.Context, q MatchQuery) ([]ChunkMatch, error) {
	if q.RunID == "" {
		return nil, apperr.New("retrieval.missing_run_filter", apperr.CategoryRetrieval, "match_chunks requires a run filter")
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}

	query := `
		SELECT id, document_id, run_id, chunk_index, content, metadata, created_at,
		       1 - (embedding <=> $1) AS similarity
		FROM chunks
		WHERE run_id = $2
		  AND embedding IS NOT NULL
		  AND 1 - (embedding <=> $1) >= $3`
	args := []any{pgvector.NewVector(q.Embedding), q.RunID, q.MinSimilarity}

	if q.DocumentID != "" {
		query += " AND document_id = $4"
		args = append(args, q.DocumentID)
	}
	query += fmt.Sprintf(" ORDER BY similarity DESC LIMIT %d", q.Limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("match chunks: %w", err)
	}
	defer rows.Close()

	var out []ChunkMatch
	for rows.Next() {
		var c models.Chunk
		var metadata []byte
		var similarity float64
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.RunID, &c.ChunkIndex, &c.Content, &metadata, &c.CreatedAt, &similarity); err != nil {
			return nil, fmt.Errorf("scan chunk match: %w", err)
		}
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal chunk metadata: %w", err)
		}
		out = append(out, ChunkMatch{Chunk: c, Similarity: similarity})
	}
	return out, rows.Err()
}
