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

// IndexingRunRepository persists models.IndexingRun.
type IndexingRunRepository struct {
	pool *pgxpool.Pool
}

func NewIndexingRunRepository(pool *pgxpool.Pool) *IndexingRunRepository {
	return &IndexingRunRepository{pool: pool}
}

func (r *IndexingRunRepository) Create(ctx context.Context, run *models.IndexingRun) error {
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

	_, err = r.pool.Exec(ctx, `
		INSERT INTO indexing_runs
			(id, upload_type, owner_id, project_id, status, access_level, step_results, pipeline_config, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.UploadType, run.OwnerID, run.ProjectID, run.Status, run.AccessLevel,
		stepResults, run.PipelineConfig, run.StartedAt)
	if err != nil {
		return fmt.Errorf("create indexing run: %w", err)
	}
	return nil
}

func (r *IndexingRunRepository) GetByID(ctx context.Context, id string) (*models.IndexingRun, error) {
	var run models.IndexingRun
	var stepResults []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, upload_type, owner_id, project_id, status, access_level,
		       step_results, pipeline_config, started_at, completed_at, error_message
		FROM indexing_runs WHERE id = $1`, id).
		Scan(&run.ID, &run.UploadType, &run.OwnerID, &run.ProjectID, &run.Status, &run.AccessLevel,
			&stepResults, &run.PipelineConfig, &run.StartedAt, &run.CompletedAt, &run.ErrorMessage)
	if err == pgx.ErrNoRows {
		return nil, apperr.NewNotFound("indexing_run", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get indexing run: %w", err)
	}
	if err := json.Unmarshal(stepResults, &run.StepResults); err != nil {
		return nil, fmt.Errorf("unmarshal step results: %w", err)
	}
	return &run, nil
}

// UpdateStepResult applies the step-result journaling contract of §4.2/§4.4:
// the new result replaces any prior entry for the same step name inside the
// run's step_results JSON column, leaving the other steps untouched. This is
// a read-modify-write under SELECT ... FOR UPDATE so concurrent writers for
// distinct steps on the same run don't race each other's merge.
func (r *IndexingRunRepository) UpdateStepResult(ctx context.Context, runID string, step models.StepName, result *models.StepResult) error {
	return WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var raw []byte
		err := tx.QueryRow(ctx, `SELECT step_results FROM indexing_runs WHERE id = $1 FOR UPDATE`, runID).Scan(&raw)
		if err == pgx.ErrNoRows {
			return apperr.NewNotFound("indexing_run", runID)
		}
		if err != nil {
			return fmt.Errorf("lock indexing run: %w", err)
		}

		results := map[models.StepName]*models.StepResult{}
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

		_, err = tx.Exec(ctx, `UPDATE indexing_runs SET step_results = $2 WHERE id = $1`, runID, merged)
		if err != nil {
			return fmt.Errorf("update step results: %w", err)
		}
		return nil
	})
}

// UpdateStatus transitions the run's status, stamping completed_at when the
// new status is terminal (§4.5 run completion rules).
func (r *IndexingRunRepository) UpdateStatus(ctx context.Context, id string, status models.RunStatus, errMessage string) error {
	var completedAt *time.Time
	if status.IsTerminal() {
		now := time.Now()
		completedAt = &now
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE indexing_runs SET status = $2, completed_at = $3, error_message = $4 WHERE id = $1`,
		id, status, completedAt, errMessage)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NewNotFound("indexing_run", id)
	}
	return nil
}

func (r *IndexingRunRepository) ListByProject(ctx context.Context, projectID string) ([]*models.IndexingRun, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, upload_type, owner_id, project_id, status, access_level,
		       step_results, pipeline_config, started_at, completed_at, error_message
		FROM indexing_runs WHERE project_id = $1 ORDER BY started_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list indexing runs: %w", err)
	}
	defer rows.Close()

	var out []*models.IndexingRun
	for rows.Next() {
		var run models.IndexingRun
		var stepResults []byte
		if err := rows.Scan(&run.ID, &run.UploadType, &run.OwnerID, &run.ProjectID, &run.Status, &run.AccessLevel,
			&stepResults, &run.PipelineConfig, &run.StartedAt, &run.CompletedAt, &run.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan indexing run: %w", err)
		}
		if err := json.Unmarshal(stepResults, &run.StepResults); err != nil {
			return nil, fmt.Errorf("unmarshal step results: %w", err)
		}
		out = append(out, &run)
	}
	return out, rows.Err()
}

// RunDocumentLinkRepository persists the many-to-many join between runs and documents.
type RunDocumentLinkRepository struct {
	pool *pgxpool.Pool
}

func NewRunDocumentLinkRepository(pool *pgxpool.Pool) *RunDocumentLinkRepository {
	return &RunDocumentLinkRepository{pool: pool}
}

func (r *RunDocumentLinkRepository) Link(ctx context.Context, runID, documentID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO run_document_links (id, run_id, document_id) VALUES ($1, $2, $3)
		ON CONFLICT (run_id, document_id) DO NOTHING`,
		uuid.New().String(), runID, documentID)
	if err != nil {
		return fmt.Errorf("link run to document: %w", err)
	}
	return nil
}

func (r *RunDocumentLinkRepository) DocumentIDsForRun(ctx context.Context, runID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT document_id FROM run_document_links WHERE run_id = $1`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run documents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
