package api

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jepras/constructionrag/internal/apperr"
	"github.com/jepras/constructionrag/internal/models"
	"github.com/jepras/constructionrag/internal/reqcontext"
)

// UploadedFile is one PDF submitted to an indexing trigger, still backed by
// its multipart body so the service can stream it to object storage without
// buffering the whole file in memory.
type UploadedFile struct {
	Filename string
	Size     int64
	Content  io.Reader
}

// CreateIndexingRunRequest is the parsed form of §6.1's inbound request.
type CreateIndexingRunRequest struct {
	Files      []UploadedFile
	UploadType models.UploadType
	Email      string
	ProjectID  string
	OwnerID    string
}

// CreateIndexingRunResult answers §6.1's `{run_id, tracking_url}` contract.
type CreateIndexingRunResult struct {
	RunID       string
	TrackingURL string
}

// IndexingService is the narrow seam the indexing handler depends on.
type IndexingService interface {
	CreateRun(ctx context.Context, rc reqcontext.RequestContext, req CreateIndexingRunRequest) (*CreateIndexingRunResult, error)
	RunStatus(ctx context.Context, rc reqcontext.RequestContext, runID string) (*models.IndexingRun, error)
}

type indexingForm struct {
	UploadType string `form:"upload_type" binding:"required"`
	Email      string `form:"email"`
	ProjectID  string `form:"project_id"`
	OwnerID    string `form:"owner_id"`
}

func (s *Server) handleCreateIndexingRun(c *gin.Context) {
	var form indexingForm
	if err := c.ShouldBind(&form); err != nil {
		c.Error(apperr.Wrap("indexing.invalid_request", apperr.CategoryValidation, "malformed indexing request", err))
		return
	}

	uploadType := models.UploadType(form.UploadType)
	if uploadType != models.UploadEmail && uploadType != models.UploadUserProject {
		c.Error(apperr.New("indexing.invalid_upload_type", apperr.CategoryValidation, "upload_type must be \"email\" or \"user_project\""))
		return
	}
	if uploadType == models.UploadEmail && form.Email == "" {
		c.Error(apperr.New("indexing.missing_email", apperr.CategoryValidation, "email is required for an email upload"))
		return
	}
	if uploadType == models.UploadUserProject && form.ProjectID == "" {
		c.Error(apperr.New("indexing.missing_project_id", apperr.CategoryValidation, "project_id is required for a user project upload"))
		return
	}

	multipart, err := c.MultipartForm()
	if err != nil {
		c.Error(apperr.Wrap("indexing.invalid_multipart", apperr.CategoryValidation, "request must be multipart/form-data with a files[] field", err))
		return
	}
	headers := multipart.File["files"]
	if len(headers) == 0 {
		c.Error(apperr.New("indexing.no_files", apperr.CategoryValidation, "at least one PDF file is required"))
		return
	}

	files := make([]UploadedFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			c.Error(apperr.Wrap("indexing.file_open_failed", apperr.CategoryValidation, fmt.Sprintf("failed to read uploaded file %q", fh.Filename), err))
			return
		}
		defer f.Close()
		files = append(files, UploadedFile{Filename: fh.Filename, Size: fh.Size, Content: f})
	}

	rc, _ := reqcontext.FromContext(c.Request.Context())

	result, err := s.Indexing.CreateRun(c.Request.Context(), rc, CreateIndexingRunRequest{
		Files:      files,
		UploadType: uploadType,
		Email:      form.Email,
		ProjectID:  form.ProjectID,
		OwnerID:    form.OwnerID,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"run_id":       result.RunID,
		"tracking_url": result.TrackingURL,
	})
}

func (s *Server) handleGetIndexingRun(c *gin.Context) {
	rc, _ := reqcontext.FromContext(c.Request.Context())
	run, err := s.Indexing.RunStatus(c.Request.Context(), rc, c.Param("run_id"))
	if err != nil {
		c.Error(err)
		return
	}
	if !rc.CanRead(run.AccessLevel, ownerIDOrEmpty(run.OwnerID)) {
		c.Error(apperr.NewAuthorization("not permitted to view this indexing run"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":            run.ID,
		"status":        run.Status,
		"current_step":  models.CurrentStep(run.StepResults),
		"step_results":  run.StepResults,
		"error_message": run.ErrorMessage,
	})
}

func ownerIDOrEmpty(ownerID *string) string {
	if ownerID == nil {
		return ""
	}
	return *ownerID
}
