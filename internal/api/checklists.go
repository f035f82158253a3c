package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jepras/constructionrag/internal/apperr"
	"github.com/jepras/constructionrag/internal/models"
	"github.com/jepras/constructionrag/internal/reqcontext"
)

// ChecklistService is the narrow seam the checklist handlers depend on.
type ChecklistService interface {
	Analyze(ctx context.Context, rc reqcontext.RequestContext, indexingRunID, checklistContent, checklistName, modelName string) (*models.ChecklistRun, error)
	GetRun(ctx context.Context, rc reqcontext.RequestContext, id string) (*models.ChecklistRun, error)
}

type analyzeChecklistRequest struct {
	IndexingRunID    string `json:"indexing_run_id" binding:"required"`
	ChecklistContent string `json:"checklist_content" binding:"required"`
	ChecklistName    string `json:"checklist_name" binding:"required"`
	ModelName        string `json:"model_name"`
}

func (s *Server) handleAnalyzeChecklist(c *gin.Context) {
	var req analyzeChecklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperr.Wrap("checklist.invalid_request", apperr.CategoryValidation, "malformed checklist analysis request", err))
		return
	}

	rc, _ := reqcontext.FromContext(c.Request.Context())

	run, err := s.Checklists.Analyze(c.Request.Context(), rc, req.IndexingRunID, req.ChecklistContent, req.ChecklistName, req.ModelName)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"analysis_run_id": run.ID,
		"status":          run.Status,
	})
}

func (s *Server) handleGetChecklistRun(c *gin.Context) {
	rc, _ := reqcontext.FromContext(c.Request.Context())
	run, err := s.Checklists.GetRun(c.Request.Context(), rc, c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":               run.ID,
		"status":           run.Status,
		"progress_current": run.ProgressCurrent,
		"progress_total":   run.ProgressTotal,
		"results":          run.Results,
		"partial":          run.Partial(),
		"error_message":    run.ErrorMessage,
	})
}
