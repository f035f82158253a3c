package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jepras/constructionrag/internal/apperr"
	"github.com/jepras/constructionrag/internal/models"
)

// QueryRunRepository persists models.QueryRun.
type QueryRunRepository struct {
	pool *pgxpool.Pool
}

func NewQueryRunRepository(pool *pgxpool.Pool) *QueryRunRepository {
	return &QueryRunRepository{pool: pool}
}

func (r *QueryRunRepository) Create(ctx context.Context, q *models.QueryRun) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	searchResults, err := json.Marshal(q.SearchResults)
	if err != nil {
		return fmt.Errorf("marshal search results: %w", err)
	}
	stepTimings, err := json.Marshal(q.StepTimings)
	if err != nil {
		return fmt.Errorf("marshal step timings: %w", err)
	}
	perf, err := json.Marshal(q.PerformanceMetrics)
	if err != nil {
		return fmt.Errorf("marshal performance metrics: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO query_runs
			(id, owner_id, indexing_run_id, query_text, variations, search_results,
			 final_response, step_timings, performance_metrics, access_level, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		q.ID, q.OwnerID, q.IndexingRunID, q.QueryText, q.Variations, searchResults,
		q.FinalResponse, stepTimings, perf, q.AccessLevel, q.CreatedAt)
	if err != nil {
		return fmt.Errorf("create query run: %w", err)
	}
	return nil
}

func (r *QueryRunRepository) GetByID(ctx context.Context, id string) (*models.QueryRun, error) {
	var q models.QueryRun
	var searchResults, stepTimings, perf []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, indexing_run_id, query_text, variations, search_results,
		       final_response, step_timings, performance_metrics, access_level, created_at
		FROM query_runs WHERE id = $1`, id).
		Scan(&q.ID, &q.OwnerID, &q.IndexingRunID, &q.QueryText, &q.Variations, &searchResults,
			&q.FinalResponse, &stepTimings, &perf, &q.AccessLevel, &q.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, apperr.NewNotFound("query_run", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get query run: %w", err)
	}
	if err := json.Unmarshal(searchResults, &q.SearchResults); err != nil {
		return nil, fmt.Errorf("unmarshal search results: %w", err)
	}
	if len(stepTimings) > 0 {
		if err := json.Unmarshal(stepTimings, &q.StepTimings); err != nil {
			return nil, fmt.Errorf("unmarshal step timings: %w", err)
		}
	}
	if len(perf) > 0 {
		if err := json.Unmarshal(perf, &q.PerformanceMetrics); err != nil {
			return nil, fmt.Errorf("unmarshal performance metrics: %w", err)
		}
	}
	return &q, nil
}

func (r *QueryRunRepository) ListByIndexingRun(ctx context.Context, indexingRunID string) ([]*models.QueryRun, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM query_runs WHERE indexing_run_id = $1 ORDER BY created_at DESC`, indexingRunID)
	if err != nil {
		return nil, fmt.Errorf("list query runs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan query run id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*models.QueryRun, 0, len(ids))
	for _, id := range ids {
		q, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}
