package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Server bundles the engines and repositories the HTTP handlers delegate
// to. Every field is a narrow interface so handlers can be tested against
// hand-written fakes without a database or object store.
type Server struct {
	Logger *logrus.Logger

	Indexing   IndexingService
	Queries    QueryService
	Wikis      WikiService
	Checklists ChecklistService
}

// NewRouter builds the gin engine for the whole §6 HTTP surface: CORS,
// request-scoped identity, panic recovery, and the uniform error envelope,
// followed by the five route groups.
func NewRouter(s *Server) *gin.Engine {
	r := gin.New()
	r.Use(recoveryHandler(s.Logger))
	r.Use(gin.Logger())
	r.Use(requestContextMiddleware())
	r.Use(errorMiddleware(s.Logger))

	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID, X-Owner-ID")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	v1 := r.Group("/api/v1")
	{
		v1.POST("/indexing", s.handleCreateIndexingRun)
		v1.GET("/indexing/:run_id", s.handleGetIndexingRun)

		v1.POST("/queries", s.handleCreateQuery)

		wikis := v1.Group("/wikis/:wiki_run_id")
		{
			wikis.GET("/pages", s.handleListWikiPages)
			wikis.GET("/pages/:name", s.handleGetWikiPage)
			wikis.GET("/metadata", s.handleGetWikiMetadata)
		}

		checklists := v1.Group("/checklists")
		{
			checklists.POST("/analyze", s.handleAnalyzeChecklist)
			checklists.GET("/runs/:id", s.handleGetChecklistRun)
		}
	}

	return r
}
