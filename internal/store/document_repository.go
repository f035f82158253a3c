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

// DocumentRepository persists models.Document.
type DocumentRepository struct {
	pool *pgxpool.Pool
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool}
}

func (r *DocumentRepository) Create(ctx context.Context, d *models.Document) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	stepResults, err := json.Marshal(d.StepResults)
	if err != nil {
		return fmt.Errorf("marshal step results: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO documents (id, owner_id, access_level, filename, size_bytes, storage_path, page_count, status, step_results, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.OwnerID, d.AccessLevel, d.Filename, d.SizeBytes, d.StoragePath, d.PageCount, d.Status, stepResults, d.Metadata)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*models.Document, error) {
	var d models.Document
	var stepResults []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, access_level, filename, size_bytes, storage_path, page_count, status, step_results, metadata
		FROM documents WHERE id = $1`, id).
		Scan(&d.ID, &d.OwnerID, &d.AccessLevel, &d.Filename, &d.SizeBytes, &d.StoragePath, &d.PageCount, &d.Status, &stepResults, &d.Metadata)
	if err == pgx.ErrNoRows {
		return nil, apperr.NewNotFound("document", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if err := json.Unmarshal(stepResults, &d.StepResults); err != nil {
		return nil, fmt.Errorf("unmarshal step results: %w", err)
	}
	return &d, nil
}

func (r *DocumentRepository) ListByIDs(ctx context.Context, ids []string) ([]*models.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, owner_id, access_level, filename, size_bytes, storage_path, page_count, status, step_results, metadata
		FROM documents WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []*models.Document
	for rows.Next() {
		var d models.Document
		var stepResults []byte
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.AccessLevel, &d.Filename, &d.SizeBytes, &d.StoragePath, &d.PageCount, &d.Status, &stepResults, &d.Metadata); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if err := json.Unmarshal(stepResults, &d.StepResults); err != nil {
			return nil, fmt.Errorf("unmarshal step results: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// UpdateStepResult merges one step's result into the document's step_results
// JSON column, identically to IndexingRunRepository.UpdateStepResult (§4.4).
func (r *DocumentRepository) UpdateStepResult(ctx context.Context, documentID string, step models.StepName, result *models.StepResult) error {
	return WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var raw []byte
		err := tx.QueryRow(ctx, `SELECT step_results FROM documents WHERE id = $1 FOR UPDATE`, documentID).Scan(&raw)
		if err == pgx.ErrNoRows {
			return apperr.NewNotFound("document", documentID)
		}
		if err != nil {
			return fmt.Errorf("lock document: %w", err)
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
		_, err = tx.Exec(ctx, `UPDATE documents SET step_results = $2 WHERE id = $1`, documentID, merged)
		if err != nil {
			return fmt.Errorf("update step results: %w", err)
		}
		return nil
	})
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status models.RunStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE documents SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NewNotFound("document", id)
	}
	return nil
}

func (r *DocumentRepository) UpdatePageCount(ctx context.Context, id string, pageCount int) error {
	tag, err := r.pool.Exec(ctx, `UPDATE documents SET page_count = $2 WHERE id = $1`, id, pageCount)
	if err != nil {
		return fmt.Errorf("update page count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NewNotFound("document", id)
	}
	return nil
}
