package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jepras/constructionrag/internal/apperr"
	"github.com/jepras/constructionrag/internal/models"
)

// ChecklistRunRepository persists models.ChecklistRun.
type ChecklistRunRepository struct {
	pool *pgxpool.Pool
}

func NewChecklistRunRepository(pool *pgxpool.Pool) *ChecklistRunRepository {
	return &ChecklistRunRepository{pool: pool}
}

func (r *ChecklistRunRepository) Create(ctx context.Context, run *models.ChecklistRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO checklist_runs
			(id, indexing_run_id, owner_id, checklist_content, model_name, status, progress_current, progress_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.IndexingRunID, run.OwnerID, run.ChecklistContent, run.ModelName, run.Status,
		run.ProgressCurrent, run.ProgressTotal)
	if err != nil {
		return fmt.Errorf("create checklist run: %w", err)
	}
	return nil
}

func (r *ChecklistRunRepository) GetByID(ctx context.Context, id string) (*models.ChecklistRun, error) {
	var run models.ChecklistRun
	err := r.pool.QueryRow(ctx, `
		SELECT id, indexing_run_id, owner_id, checklist_content, model_name, status,
		       raw_output, progress_current, progress_total, error_message
		FROM checklist_runs WHERE id = $1`, id).
		Scan(&run.ID, &run.IndexingRunID, &run.OwnerID, &run.ChecklistContent, &run.ModelName, &run.Status,
			&run.RawOutput, &run.ProgressCurrent, &run.ProgressTotal, &run.ErrorMessage)
	if err == pgx.ErrNoRows {
		return nil, apperr.NewNotFound("checklist_run", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get checklist run: %w", err)
	}

	results, err := r.listResults(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	run.Results = results
	return &run, nil
}

// UpdateProgress advances the current/total counters driving the §6.4
// progress-polling contract.
func (r *ChecklistRunRepository) UpdateProgress(ctx context.Context, id string, current, total int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE checklist_runs SET progress_current = $2, progress_total = $3 WHERE id = $1`,
		id, current, total)
	if err != nil {
		return fmt.Errorf("update checklist progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NewNotFound("checklist_run", id)
	}
	return nil
}

func (r *ChecklistRunRepository) UpdateStatus(ctx context.Context, id string, status models.RunStatus, rawOutput, errMessage string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE checklist_runs SET status = $2, raw_output = $3, error_message = $4 WHERE id = $1`,
		id, status, rawOutput, errMessage)
	if err != nil {
		return fmt.Errorf("update checklist status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NewNotFound("checklist_run", id)
	}
	return nil
}

// AppendResults stores freshly classified checklist items. Because results
// stream in as the analysis pipeline processes items (§4.14, §7.3 partial
// results), callers call this incrementally rather than once at the end.
func (r *ChecklistRunRepository) AppendResults(ctx context.Context, runID string, results []*models.ChecklistResult) error {
	if len(results) == 0 {
		return nil
	}
	return WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, res := range results {
			if res.ID == "" {
				res.ID = uuid.New().String()
			}
			res.AnalysisRunID = runID
			sources, err := json.Marshal(res.AllSources)
			if err != nil {
				return fmt.Errorf("marshal checklist sources: %w", err)
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO checklist_results
					(id, analysis_run_id, item_number, item_name, status, description,
					 confidence_score, source_document, source_page, source_excerpt, all_sources)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
				ON CONFLICT (analysis_run_id, item_number) DO UPDATE SET
					status = EXCLUDED.status,
					description = EXCLUDED.description,
					confidence_score = EXCLUDED.confidence_score,
					source_document = EXCLUDED.source_document,
					source_page = EXCLUDED.source_page,
					source_excerpt = EXCLUDED.source_excerpt,
					all_sources = EXCLUDED.all_sources`,
				res.ID, res.AnalysisRunID, res.ItemNumber, res.ItemName, res.Status, res.Description,
				res.ConfidenceScore, res.SourceDocument, res.SourcePage, res.SourceExcerpt, sources)
			if err != nil {
				return fmt.Errorf("insert checklist result %d: %w", res.ItemNumber, err)
			}
		}
		return nil
	})
}

func (r *ChecklistRunRepository) listResults(ctx context.Context, runID string) ([]models.ChecklistResult, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, analysis_run_id, item_number, item_name, status, description,
		       confidence_score, source_document, source_page, source_excerpt, all_sources
		FROM checklist_results WHERE analysis_run_id = $1 ORDER BY item_number`, runID)
	if err != nil {
		return nil, fmt.Errorf("list checklist results: %w", err)
	}
	defer rows.Close()

	var out []models.ChecklistResult
	for rows.Next() {
		var res models.ChecklistResult
		var sources []byte
		if err := rows.Scan(&res.ID, &res.AnalysisRunID, &res.ItemNumber, &res.ItemName, &res.Status, &res.Description,
			&res.ConfidenceScore, &res.SourceDocument, &res.SourcePage, &res.SourceExcerpt, &sources); err != nil {
			return nil, fmt.Errorf("scan checklist result: %w", err)
		}
		if len(sources) > 0 {
			if err := json.Unmarshal(sources, &res.AllSources); err != nil {
				return nil, fmt.Errorf("unmarshal checklist sources: %w", err)
			}
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
