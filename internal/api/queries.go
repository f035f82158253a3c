package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jepras/constructionrag/internal/apperr"
	"github.com/jepras/constructionrag/internal/generation"
	"github.com/jepras/constructionrag/internal/reqcontext"
)

// QueryService is the narrow seam the query handler depends on.
type QueryService interface {
	Ask(ctx context.Context, rc reqcontext.RequestContext, ownerID, query, indexingRunID string) (*generation.Answer, error)
}

type createQueryRequest struct {
	Query         string `json:"query" binding:"required"`
	IndexingRunID string `json:"indexing_run_id" binding:"required"`
}

func (s *Server) handleCreateQuery(c *gin.Context) {
	var req createQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperr.Wrap("query.invalid_request", apperr.CategoryValidation, "malformed query request", err))
		return
	}

	rc, _ := reqcontext.FromContext(c.Request.Context())

	answer, err := s.Queries.Ask(c.Request.Context(), rc, rc.OwnerID, req.Query, req.IndexingRunID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":                  answer.ID,
		"query":               req.Query,
		"response":            answer.Text,
		"search_results":      answer.Citations,
		"performance_metrics": answer.PerformanceMetrics,
		"step_timings":        answer.StepTimings,
	})
}
