// Package store provides PostgreSQL-backed persistence for the indexing and
// retrieval pipelines: projects, indexing runs, documents, chunks, wiki runs,
// query runs, and checklist runs.
//
// # Connection
//
// A pool is opened once at startup from the DATABASE_URL secret:
//
//	pool, err := store.Open(ctx, secrets.DatabaseURL, store.DefaultPoolOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Close()
//
// # Repository pattern
//
// Each entity in internal/models has a corresponding repository built over
// the shared *pgxpool.Pool:
//
//	type ChunkRepository struct {
//	    pool *pgxpool.Pool
//	}
//
//	func (r *ChunkRepository) BulkCreate(ctx context.Context, chunks []*models.Chunk) error
//	func (r *ChunkRepository) SetEmbedding(ctx context.Context, chunkID string, embedding []float32) error
//	func (r *ChunkRepository) MatchChunks(ctx context.Context, q MatchQuery) ([]ChunkMatch, error)
//
// # Transactions
//
// Multi-statement writes use store.WithTx, which commits on success and
// rolls back on any returned error:
//
//	err := store.WithTx(ctx, pool.Raw(), func(tx pgx.Tx) error {
//	    _, err := tx.Exec(ctx, `UPDATE documents SET status = $2 WHERE id = $1`, id, status)
//	    return err
//	})
//
// # Step-result journaling
//
// IndexingRunRepository.UpdateStepResult and DocumentRepository.UpdateStepResult
// apply a partial JSON merge keyed by step name: the caller's StepResult
// replaces any prior entry for the same step, leaving other steps untouched
// (§4.2/§4.4). Concurrent writers for distinct steps never clobber each
// other; concurrent writers for the same step are last-write-wins.
package store
