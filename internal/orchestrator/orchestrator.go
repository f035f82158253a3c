// Package orchestrator is the Indexing Orchestrator (C5, §4.5): it drives
// the five-stage pipeline over one run's documents, bounding per-document
// concurrency, honoring partial-success semantics, and running one batched
// embedding pass over the union of chunks produced across the run.
package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jepras/constructionrag/internal/apperr"
	"github.com/jepras/constructionrag/internal/chunking"
	"github.com/jepras/constructionrag/internal/concurrency"
	"github.com/jepras/constructionrag/internal/config"
	"github.com/jepras/constructionrag/internal/embeddingstep"
	"github.com/jepras/constructionrag/internal/enrichment"
	"github.com/jepras/constructionrag/internal/llmclient"
	"github.com/jepras/constructionrag/internal/metadata"
	"github.com/jepras/constructionrag/internal/models"
	"github.com/jepras/constructionrag/internal/partition"
	"github.com/jepras/constructionrag/internal/reqcontext"
)

// DocumentInput is one document queued for indexing within a run.
type DocumentInput struct {
	DocumentID  string
	StoragePath string
	Filename    string
}

// RunStore is the subset of IndexingRunRepository the orchestrator needs.
type RunStore interface {
	UpdateStatus(ctx context.Context, id string, status models.RunStatus, errMessage string) error
	UpdateStepResult(ctx context.Context, runID string, step models.StepName, result *models.StepResult) error
}

// DocumentStore is the subset of DocumentRepository the orchestrator needs.
type DocumentStore interface {
	UpdateStepResult(ctx context.Context, documentID string, step models.StepName, result *models.StepResult) error
	UpdateStatus(ctx context.Context, id string, status models.RunStatus) error
	UpdatePageCount(ctx context.Context, id string, pageCount int) error
}

// ChunkStore is the subset of ChunkRepository the orchestrator needs: bulk
// persistence plus the resume/embedding-write contract embeddingstep.Run
// depends on.
type ChunkStore interface {
	BulkCreate(ctx context.Context, chunks []*models.Chunk) error
	ChunkIDsWithEmbeddings(ctx context.Context, documentID string) (map[string]bool, error)
	SetEmbedding(ctx context.Context, chunkID string, embedding []float32) error
}

// ObjectStore is the subset of the object store adapter needed to download a
// document for local partitioning and to upload the image/full-page PNGs
// the partition step renders, so C8 enrichment can caption them through a
// storage reference.
type ObjectStore interface {
	Get(ctx context.Context, rc reqcontext.RequestContext, path string) (io.ReadCloser, error)
	Put(ctx context.Context, path string, reader io.Reader, size int64, contentType string) error
	SignedURL(ctx context.Context, rc reqcontext.RequestContext, path string, ttl time.Duration) (string, error)
}

// Deps bundles the collaborators the orchestrator drives. All fields are
// required except Logger and OnIndexingComplete.
type Deps struct {
	Objects   ObjectStore
	LLM       *llmclient.Client
	Runs      RunStore
	Documents DocumentStore
	Chunks    ChunkStore
	Logger    *logrus.Logger

	// OnIndexingComplete fires the wiki-generation trigger of §4.5 step 6.
	// Called in a fresh goroutine so a slow or blocking wiki orchestrator
	// never holds up the HTTP response that scheduled this run.
	OnIndexingComplete func(runID string, uploadType models.UploadType)
}

// Orchestrator drives one run's indexing pipeline to completion.
type Orchestrator struct {
	deps Deps
	cfg  config.Config
}

// New builds an Orchestrator against the given effective configuration.
func New(deps Deps, cfg config.Config) *Orchestrator {
	return &Orchestrator{deps: deps, cfg: cfg}
}

// documentOutcome is the per-document result of the partition/metadata/
// enrichment/chunking stages, before the run-wide batched embedding pass.
type documentOutcome struct {
	documentID string
	chunks     []*models.Chunk
	failed     bool
}

// Run executes the full pipeline over docs and persists the run's final
// status (§4.5).
func (o *Orchestrator) Run(ctx context.Context, run *models.IndexingRun, docs []DocumentInput) error {
	if err := o.deps.Runs.UpdateStatus(ctx, run.ID, models.StatusRunning, ""); err != nil {
		return err
	}

	outcomes := o.runDocuments(ctx, run, docs)

	var allChunks []*models.Chunk
	for _, oc := range outcomes {
		allChunks = append(allChunks, oc.chunks...)
	}

	if len(allChunks) > 0 {
		if err := o.deps.Chunks.BulkCreate(ctx, allChunks); err != nil {
			return o.fail(ctx, run, fmt.Errorf("persist chunks: %w", err))
		}
	}

	embedErr := o.runEmbedding(ctx, run, allChunks)

	anyFailed := embedErr != nil
	for _, oc := range outcomes {
		if oc.failed {
			anyFailed = true
		}
	}

	if anyFailed {
		msg := "one or more documents failed the indexing pipeline"
		if embedErr != nil {
			msg = fmt.Sprintf("embedding step failed: %v", embedErr)
		}
		return o.fail(ctx, run, fmt.Errorf("%s", msg))
	}

	if err := o.deps.Runs.UpdateStatus(ctx, run.ID, models.StatusCompleted, ""); err != nil {
		return err
	}
	if o.deps.OnIndexingComplete != nil {
		go o.deps.OnIndexingComplete(run.ID, run.UploadType)
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, run *models.IndexingRun, cause error) error {
	_ = o.deps.Runs.UpdateStatus(ctx, run.ID, models.StatusFailed, cause.Error())
	return cause
}

// runDocuments fans out the per-document partition→metadata→enrichment→
// chunking pipeline bounded to max_concurrent_documents, collecting a
// partial-success outcome per document rather than aborting the run on the
// first failure (§4.5 per-step invariants).
func (o *Orchestrator) runDocuments(ctx context.Context, run *models.IndexingRun, docs []DocumentInput) []documentOutcome {
	maxConcurrent := o.cfg.Orchestration.MaxConcurrentDocuments
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	sem := concurrency.NewSemaphore(maxConcurrent)

	outcomes := make([]documentOutcome, len(docs))
	var wg sync.WaitGroup

	for i, doc := range docs {
		i, doc := i, doc
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx); err != nil {
				outcomes[i] = documentOutcome{documentID: doc.DocumentID, failed: true}
				return
			}
			defer sem.Release()
			outcomes[i] = o.runDocumentPipeline(ctx, run, doc)
		}()
	}
	wg.Wait()
	return outcomes
}

func (o *Orchestrator) runDocumentPipeline(ctx context.Context, run *models.IndexingRun, doc DocumentInput) documentOutcome {
	outcome := documentOutcome{documentID: doc.DocumentID}
	logger := o.logger().WithFields(logrus.Fields{"run_id": run.ID, "document_id": doc.DocumentID})

	localPath, cleanup, err := o.fetchDocument(ctx, doc.StoragePath)
	if err != nil {
		logger.WithError(err).Error("failed to fetch document from object store")
		o.recordDocumentFailure(ctx, doc.DocumentID, models.StepPartition, err)
		outcome.failed = true
		return outcome
	}
	defer cleanup()

	cc := llmclient.CallContext{Pipeline: "indexing", RunID: run.ID, DocumentID: doc.DocumentID}

	partResult, err := o.runStep(ctx, doc.DocumentID, models.StepPartition, func(stepCtx context.Context) (any, map[string]int, error) {
		cc.Step = "partition"
		res, err := partition.Partition(stepCtx, o.deps.LLM, cc, localPath)
		if err != nil {
			return nil, nil, err
		}
		stats := map[string]int{"element_count": len(res.Elements), "page_count": res.PageCount}
		return res, stats, nil
	})
	if err != nil {
		outcome.failed = true
		return outcome
	}
	part := partResult.(*partition.Result)
	_ = o.deps.Documents.UpdatePageCount(ctx, doc.DocumentID, part.PageCount)

	if err := o.uploadRenderedElements(ctx, run.ID, doc.DocumentID, part.Elements); err != nil {
		logger.WithError(err).Warn("failed to upload rendered image/full-page elements, captions will be skipped")
	}

	metaResult, err := o.runStep(ctx, doc.DocumentID, models.StepMetadata, func(stepCtx context.Context) (any, map[string]int, error) {
		res := metadata.Run(part.Elements, part.PageCount)
		stats := map[string]int{"section_count": len(res.Outline), "warning_count": res.Warnings}
		return res, stats, nil
	})
	if err != nil {
		outcome.failed = true
		return outcome
	}
	meta := metaResult.(metadata.Result)

	enrichResult, err := o.runStep(ctx, doc.DocumentID, models.StepEnrichment, func(stepCtx context.Context) (any, map[string]int, error) {
		cc.Step = "enrichment"
		enriched, err := enrichment.Run(stepCtx, o.deps.LLM, cc, part.Elements, metadata.DocumentMajorityLanguage(meta.Pages))
		if err != nil {
			return nil, nil, err
		}
		return enriched, map[string]int{"element_count": len(enriched)}, nil
	})
	if err != nil {
		outcome.failed = true
		return outcome
	}
	enrichedElements := enrichResult.([]partition.Element)

	chunkResult, err := o.runStep(ctx, doc.DocumentID, models.StepChunking, func(stepCtx context.Context) (any, map[string]int, error) {
		drafts := chunking.Run(enrichedElements)
		return drafts, map[string]int{"chunk_count": len(drafts)}, nil
	})
	if err != nil {
		outcome.failed = true
		return outcome
	}
	drafts := chunkResult.([]chunking.Draft)

	outcome.chunks = toChunks(run.ID, doc.DocumentID, doc.Filename, drafts)
	return outcome
}

// runStep wraps one stage with the configured wall-clock timeout, step-result
// journaling, and timeout-as-failure translation (§4.5 timeouts).
func (o *Orchestrator) runStep(ctx context.Context, documentID string, step models.StepName, fn func(context.Context) (any, map[string]int, error)) (any, error) {
	timeoutMinutes := o.cfg.Orchestration.StepTimeoutMinutes
	if timeoutMinutes <= 0 {
		timeoutMinutes = 30
	}
	stepCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMinutes)*time.Minute)
	defer cancel()

	result := models.NewRunningStepResult(step)
	_ = o.deps.Documents.UpdateStepResult(ctx, documentID, step, result)

	data, stats, err := fn(stepCtx)
	if err != nil {
		if stepCtx.Err() == context.DeadlineExceeded {
			err = apperr.NewTimeout(apperr.CategoryInternal, fmt.Sprintf("step %s timed out after %d minutes", step, timeoutMinutes))
		}
		result.Fail(err)
		_ = o.deps.Documents.UpdateStepResult(ctx, documentID, step, result)
		_ = o.deps.Documents.UpdateStatus(ctx, documentID, models.StatusFailed)
		return nil, err
	}

	result.Complete(stats, nil)
	_ = o.deps.Documents.UpdateStepResult(ctx, documentID, step, result)
	return data, nil
}

func (o *Orchestrator) recordDocumentFailure(ctx context.Context, documentID string, step models.StepName, cause error) {
	result := models.NewRunningStepResult(step)
	result.Fail(cause)
	_ = o.deps.Documents.UpdateStepResult(ctx, documentID, step, result)
	_ = o.deps.Documents.UpdateStatus(ctx, documentID, models.StatusFailed)
}

// runEmbedding runs the single run-wide batched embedding step over every
// chunk produced across all documents (§4.5 step 3).
func (o *Orchestrator) runEmbedding(ctx context.Context, run *models.IndexingRun, chunks []*models.Chunk) error {
	result := models.NewRunningStepResult(models.StepEmbedding)
	_ = o.deps.Runs.UpdateStepResult(ctx, run.ID, models.StepEmbedding, result)

	cc := llmclient.CallContext{Pipeline: "indexing", Step: "embedding", RunID: run.ID}
	err := embeddingstep.Run(ctx, o.deps.LLM, cc, o.deps.Chunks, o.cfg.Embedding.Model, chunks)

	byDocument := map[string]int{}
	for _, c := range chunks {
		byDocument[c.DocumentID]++
	}

	if err != nil {
		result.Fail(err)
		_ = o.deps.Runs.UpdateStepResult(ctx, run.ID, models.StepEmbedding, result)
		for documentID := range byDocument {
			docResult := models.NewRunningStepResult(models.StepEmbedding)
			docResult.Fail(err)
			_ = o.deps.Documents.UpdateStepResult(ctx, documentID, models.StepEmbedding, docResult)
			_ = o.deps.Documents.UpdateStatus(ctx, documentID, models.StatusFailed)
		}
		return err
	}

	result.Complete(map[string]int{"chunk_count": len(chunks)}, nil)
	_ = o.deps.Runs.UpdateStepResult(ctx, run.ID, models.StepEmbedding, result)
	for documentID, count := range byDocument {
		docResult := models.NewRunningStepResult(models.StepEmbedding)
		docResult.Complete(map[string]int{"chunk_count": count}, nil)
		_ = o.deps.Documents.UpdateStepResult(ctx, documentID, models.StepEmbedding, docResult)
		_ = o.deps.Documents.UpdateStatus(ctx, documentID, models.StatusCompleted)
	}
	return nil
}

// uploadRenderedElements uploads every image/full-page element's rendered
// PNG to C3 and stamps its storage reference, so enrichment's vision caption
// call has a URL to point the model at. Partition itself only renders
// bytes; upload is the caller's responsibility per ImagePayload's contract.
// A failed upload leaves StorageRef empty and is logged but non-fatal,
// matching enrichment's own per-item failure tolerance.
func (o *Orchestrator) uploadRenderedElements(ctx context.Context, runID, documentID string, elements []partition.Element) error {
	rc := reqcontext.RequestContext{Roles: []string{"worker"}, IsAuthenticated: true}
	var firstErr error

	for i := range elements {
		el := &elements[i]
		if el.Kind != models.ElementImage && el.Kind != models.ElementFullPage {
			continue
		}
		if len(el.Image.PNG) == 0 {
			continue
		}

		path := fmt.Sprintf("runs/%s/documents/%s/pages/%s-%d-%d.png", runID, documentID, el.Kind, el.Page, i)
		if err := o.deps.Objects.Put(ctx, path, bytes.NewReader(el.Image.PNG), int64(len(el.Image.PNG)), "image/png"); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		url, err := o.deps.Objects.SignedURL(ctx, rc, path, time.Hour)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		el.Image.StorageRef = url
	}
	return firstErr
}

// fetchDocument downloads the document to a local temp file, since the
// partition step's PDF libraries require a file path rather than a stream.
func (o *Orchestrator) fetchDocument(ctx context.Context, storagePath string) (path string, cleanup func(), err error) {
	rc := reqcontext.RequestContext{Roles: []string{"worker"}, IsAuthenticated: true}
	obj, err := o.deps.Objects.Get(ctx, rc, storagePath)
	if err != nil {
		return "", nil, err
	}
	defer obj.Close()

	tmp, err := os.CreateTemp("", "constructionrag-doc-*.pdf")
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, obj); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("download document: %w", err)
	}
	tmp.Close()

	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}

func (o *Orchestrator) logger() *logrus.Logger {
	if o.deps.Logger != nil {
		return o.deps.Logger
	}
	return logrus.StandardLogger()
}

// toChunks converts chunking drafts into persistable chunk entities, in
// draft order (§4.9's chunk_index contract).
func toChunks(runID, documentID, filename string, drafts []chunking.Draft) []*models.Chunk {
	out := make([]*models.Chunk, len(drafts))
	for i, d := range drafts {
		var bbox *[4]float64
		if d.Bbox != nil {
			b := [4]float64(*d.Bbox)
			bbox = &b
		}
		out[i] = &models.Chunk{
			DocumentID: documentID,
			RunID:      runID,
			ChunkIndex: i,
			Content:    d.Content,
			Metadata: models.ChunkMetadata{
				PageNumber:      d.Page,
				SectionTitle:    d.SectionTitle,
				Bbox:            bbox,
				BboxMultiPage:   d.BboxMultiPage,
				BboxConfidence:  d.BboxConfidence,
				ElementCategory: d.ElementCategory,
				SourceFilename:  filename,
			},
		}
	}
	return out
}
