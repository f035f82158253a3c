package api

import (
	"context"

	"github.com/jepras/constructionrag/internal/checklist"
	"github.com/jepras/constructionrag/internal/models"
	"github.com/jepras/constructionrag/internal/reqcontext"
)

type checklistStarter interface {
	Start(ctx context.Context, req checklist.Request) (*models.ChecklistRun, error)
}

type checklistRunGetter interface {
	GetByID(ctx context.Context, id string) (*models.ChecklistRun, error)
}

// ChecklistAnalyzer implements ChecklistService on top of the checklist
// engine and its run store.
type ChecklistAnalyzer struct {
	Engine checklistStarter
	Runs   checklistRunGetter
}

func (a *ChecklistAnalyzer) Analyze(ctx context.Context, rc reqcontext.RequestContext, indexingRunID, checklistContent, checklistName, modelName string) (*models.ChecklistRun, error) {
	return a.Engine.Start(ctx, checklist.Request{
		IndexingRunID:    indexingRunID,
		OwnerID:          rc.OwnerID,
		ChecklistContent: checklistContent,
		ModelName:        modelName,
	})
}

func (a *ChecklistAnalyzer) GetRun(ctx context.Context, rc reqcontext.RequestContext, id string) (*models.ChecklistRun, error) {
	return a.Runs.GetByID(ctx, id)
}
