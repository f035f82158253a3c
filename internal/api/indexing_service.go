package api

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/jepras/constructionrag/internal/apperr"
	"github.com/jepras/constructionrag/internal/models"
	"github.com/jepras/constructionrag/internal/objectstore"
	"github.com/jepras/constructionrag/internal/orchestrator"
	"github.com/jepras/constructionrag/internal/reqcontext"
)

type runCreator interface {
	Create(ctx context.Context, run *models.IndexingRun) error
}

type runGetter interface {
	GetByID(ctx context.Context, id string) (*models.IndexingRun, error)
}

type documentCreator interface {
	Create(ctx context.Context, d *models.Document) error
}

type runDocumentLinker interface {
	Link(ctx context.Context, runID, documentID string) error
}

type projectGetter interface {
	GetByID(ctx context.Context, id string) (*models.Project, error)
}

type objectPutter interface {
	Put(ctx context.Context, path string, reader io.Reader, size int64, contentType string) error
}

type indexer interface {
	Run(ctx context.Context, run *models.IndexingRun, docs []orchestrator.DocumentInput) error
}

type notificationRegistrar interface {
	Put(runID, email, projectName string)
}

// IndexingTrigger implements IndexingService by persisting the run and its
// documents, uploading each file under the ownership path grammar of §6.5,
// and handing the run off to the indexing orchestrator on a detached
// background context so the HTTP response of §6.1 returns immediately.
type IndexingTrigger struct {
	Runs      runCreator
	RunGetter runGetter
	Documents documentCreator
	Links     runDocumentLinker
	Projects  projectGetter
	Objects   objectPutter
	Indexer   indexer

	// Notifications records the email/project-name context the wiki
	// completion hook needs for an email upload, since the core domain
	// never persists an uploader's address.
	Notifications notificationRegistrar
}

func (t *IndexingTrigger) CreateRun(ctx context.Context, rc reqcontext.RequestContext, req CreateIndexingRunRequest) (*CreateIndexingRunResult, error) {
	var ownerID, projectID *string
	if req.UploadType == models.UploadUserProject {
		project, err := t.Projects.GetByID(ctx, req.ProjectID)
		if err != nil {
			return nil, err
		}
		projectID = &req.ProjectID
		ownerID = &project.OwnerID
	}

	runID := uuid.New().String()
	run := models.NewIndexingRun(runID, req.UploadType, ownerID, projectID)
	if err := t.Runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create indexing run: %w", err)
	}

	if req.UploadType == models.UploadEmail && t.Notifications != nil {
		t.Notifications.Put(run.ID, req.Email, "your uploaded documents")
	}

	docs := make([]orchestrator.DocumentInput, 0, len(req.Files))
	for _, f := range req.Files {
		docID := uuid.New().String()
		storagePath := t.storagePath(req, ownerIDOrEmpty(ownerID), run.ID, docID)

		if err := t.Objects.Put(ctx, storagePath, f.Content, f.Size, "application/pdf"); err != nil {
			return nil, apperr.Wrap("indexing.upload_failed", apperr.CategoryStorage, fmt.Sprintf("failed to store %q", f.Filename), err)
		}

		doc := &models.Document{
			ID:          docID,
			OwnerID:     ownerID,
			AccessLevel: run.AccessLevel,
			Filename:    f.Filename,
			SizeBytes:   f.Size,
			StoragePath: storagePath,
			Status:      models.StatusPending,
			StepResults: make(map[models.StepName]*models.StepResult),
		}
		if err := t.Documents.Create(ctx, doc); err != nil {
			return nil, fmt.Errorf("create document %q: %w", f.Filename, err)
		}
		if err := t.Links.Link(ctx, run.ID, doc.ID); err != nil {
			return nil, fmt.Errorf("link document %q to run: %w", f.Filename, err)
		}

		docs = append(docs, orchestrator.DocumentInput{DocumentID: doc.ID, StoragePath: storagePath, Filename: f.Filename})
	}

	go func() {
		_ = t.Indexer.Run(context.Background(), run, docs)
	}()

	return &CreateIndexingRunResult{
		RunID:       run.ID,
		TrackingURL: fmt.Sprintf("/api/v1/indexing/%s", run.ID),
	}, nil
}

func (t *IndexingTrigger) RunStatus(ctx context.Context, rc reqcontext.RequestContext, runID string) (*models.IndexingRun, error) {
	return t.RunGetter.GetByID(ctx, runID)
}

func (t *IndexingTrigger) storagePath(req CreateIndexingRunRequest, resolvedOwnerID, runID, docID string) string {
	if req.UploadType == models.UploadEmail {
		return objectstore.EmailPDFPath(runID, docID)
	}
	return objectstore.ProjectPDFPath(resolvedOwnerID, req.ProjectID, runID, docID)
}
