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

// WikiRunRepository persists models.WikiRun.
type WikiRunRepository struct {
	pool *pgxpool.Pool
}

func NewWikiRunRepository(pool *pgxpool.Pool) *WikiRunRepository {
	return &WikiRunRepository{pool: pool}
}

func (r *WikiRunRepository) Create(ctx context.Context, run *models.WikiRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	stepResults, err := json.Marshal(run.StepResults)
	if err != nil {
		return fmt.Errorf("marshal step results: %w", err)
	}
	structure, err := json.Marshal(run.WikiStructure)
	if err != nil {
		return fmt.Errorf("marshal wiki structure: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO wiki_runs (id, indexing_run_id, status, access_level, step_results, started_at, wiki_structure)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.IndexingRunID, run.Status, run.AccessLevel, stepResults, run.StartedAt, structure)
	if err != nil {
		return fmt.Errorf("create wiki run: %w", err)
	}
	return nil
}

func (r *WikiRunRepository) GetByID(ctx context.Context, id string) (*models.WikiRun, error) {
	var run models.WikiRun
	var stepResults, structure []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, indexing_run_id, status, access_level, step_results, started_at, completed_at, wiki_structure, error_message
		FROM wiki_runs WHERE id = $1`, id).
		Scan(&run.ID, &run.IndexingRunID, &run.Status, &run.AccessLevel, &stepResults, &run.StartedAt, &run.CompletedAt, &structure, &run.ErrorMessage)
	if err == pgx.ErrNoRows {
		return nil, apperr.NewNotFound("wiki_run", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get wiki run: %w", err)
	}
	if err := json.Unmarshal(stepResults, &run.StepResults); err != nil {
		return nil, fmt.Errorf("unmarshal step results: %w", err)
	}
	if len(structure) > 0 {
		if err := json.Unmarshal(structure, &run.WikiStructure); err != nil {
			return nil, fmt.Errorf("unmarshal wiki structure: %w", err)
		}
	}
	return &run, nil
}

// GetLatestForIndexingRun supports the idempotent-regeneration check of
// §4.13: callers compare its status before deciding to start a fresh run.
func (r *WikiRunRepository) GetLatestForIndexingRun(ctx context.Context, indexingRunID string) (*models.WikiRun, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		SELECT id FROM wiki_runs WHERE indexing_run_id = $1 ORDER BY started_at DESC LIMIT 1`, indexingRunID).Scan(&id)
	if err == pgx.ErrNoRows {
		return nil, apperr.NewNotFound("wiki_run", indexingRunID)
	}
	if err != nil {
		return nil, fmt.Errorf("find latest wiki run: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *WikiRunRepository) UpdateStructure(ctx context.Context, id string, structure *models.WikiStructure) error {
	raw, err := json.Marshal(structure)
	if err != nil {
		return fmt.Errorf("marshal wiki structure: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE wiki_runs SET wiki_structure = $2 WHERE id = $1`, id, raw)
	if err != nil {
		return fmt.Errorf("update wiki structure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NewNotFound("wiki_run", id)
	}
	return nil
}

func (r *WikiRunRepository) UpdateStepResult(ctx context.Context, runID string, step string, result *models.StepResult) error {
	return WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var raw []byte
		err := tx.QueryRow(ctx, `SELECT step_results FROM wiki_runs WHERE id = $1 FOR UPDATE`, runID).Scan(&raw)
		if err == pgx.ErrNoRows {
			return apperr.NewNotFound("wiki_run", runID)
		}
		if err != nil {
			return fmt.Errorf("lock wiki run: %w", err)
		}
		results := map[string]*models.StepResult{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &results); err != nil {
				return fmt.Errorf("unmarshal step results: %w", err)
			}
		}
		results[step] = result
		merged, err := json.Marshal(results)
		if err != nil {
			return fmt.Errorf("marshal step results: %w", err)
		}
		_, err = tx.Exec(ctx, `UPDATE wiki_runs SET step_results = $2 WHERE id = $1`, runID, merged)
		return err
	})
}

func (r *WikiRunRepository) UpdateStatus(ctx context.Context, id string, status models.RunStatus, errMessage string) error {
	var completedAt *time.Time
	if status.IsTerminal() {
		now := time.Now()
		completedAt = &now
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE wiki_runs SET status = $2, completed_at = $3, error_message = $4 WHERE id = $1`,
		id, status, completedAt, errMessage)
	if err != nil {
		return fmt.Errorf("update wiki run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NewNotFound("wiki_run", id)
	}
	return nil
}

// WikiPageMetadataRepository persists models.WikiPageMetadata.
type WikiPageMetadataRepository struct {
	pool *pgxpool.Pool
}

func NewWikiPageMetadataRepository(pool *pgxpool.Pool) *WikiPageMetadataRepository {
	return &WikiPageMetadataRepository{pool: pool}
}

func (r *WikiPageMetadataRepository) Create(ctx context.Context, p *models.WikiPageMetadata) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO wiki_page_metadata (id, wiki_run_id, title, filename, "order", word_count, storage_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.WikiRunID, p.Title, p.Filename, p.Order, p.WordCount, p.StoragePath)
	if err != nil {
		return fmt.Errorf("create wiki page metadata: %w", err)
	}
	return nil
}

func (r *WikiPageMetadataRepository) ListByWikiRun(ctx context.Context, wikiRunID string) ([]*models.WikiPageMetadata, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, wiki_run_id, title, filename, "order", word_count, storage_path
		FROM wiki_page_metadata WHERE wiki_run_id = $1 ORDER BY "order"`, wikiRunID)
	if err != nil {
		return nil, fmt.Errorf("list wiki pages: %w", err)
	}
	defer rows.Close()

	var out []*models.WikiPageMetadata
	for rows.Next() {
		var p models.WikiPageMetadata
		if err := rows.Scan(&p.ID, &p.WikiRunID, &p.Title, &p.Filename, &p.Order, &p.WordCount, &p.StoragePath); err != nil {
			return nil, fmt.Errorf("scan wiki page: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
