package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jepras/constructionrag/internal/models"
	"github.com/jepras/constructionrag/internal/reqcontext"
)

// WikiPageSummary is one entry of the `GET /wikis/{id}/pages` listing.
type WikiPageSummary struct {
	Filename   string `json:"filename"`
	Title      string `json:"title"`
	Order      int    `json:"order"`
	Size       int    `json:"size"`
	StorageURL string `json:"storage_url"`
}

// WikiPageContent is the `GET /wikis/{id}/pages/{name}` response body.
type WikiPageContent struct {
	Name     string                  `json:"name"`
	Title    string                  `json:"title"`
	Content  string                  `json:"content"`
	Metadata models.WikiPageMetadata `json:"metadata"`
}

// WikiService is the narrow seam the wiki artifact handlers depend on.
type WikiService interface {
	ListPages(ctx context.Context, rc reqcontext.RequestContext, wikiRunID string) ([]WikiPageSummary, error)
	GetPage(ctx context.Context, rc reqcontext.RequestContext, wikiRunID, name string) (*WikiPageContent, error)
	GetMetadata(ctx context.Context, rc reqcontext.RequestContext, wikiRunID string) (*models.WikiRun, error)
}

func (s *Server) handleListWikiPages(c *gin.Context) {
	rc, _ := reqcontext.FromContext(c.Request.Context())
	pages, err := s.Wikis.ListPages(c.Request.Context(), rc, c.Param("wiki_run_id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pages": pages})
}

func (s *Server) handleGetWikiPage(c *gin.Context) {
	rc, _ := reqcontext.FromContext(c.Request.Context())
	page, err := s.Wikis.GetPage(c.Request.Context(), rc, c.Param("wiki_run_id"), c.Param("name"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) handleGetWikiMetadata(c *gin.Context) {
	rc, _ := reqcontext.FromContext(c.Request.Context())
	run, err := s.Wikis.GetMetadata(c.Request.Context(), rc, c.Param("wiki_run_id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":              run.ID,
		"indexing_run_id": run.IndexingRunID,
		"status":          run.Status,
		"wiki_structure":  run.WikiStructure,
	})
}
