// Command api runs the ConstructionRAG HTTP surface: it loads configuration
// and secrets, wires the storage, object-store, LLM, retrieval, generation,
// orchestration, wiki, and checklist layers together, and serves the §6
// inbound contracts over gin.
package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jepras/constructionrag/internal/api"
	"github.com/jepras/constructionrag/internal/checklist"
	"github.com/jepras/constructionrag/internal/config"
	"github.com/jepras/constructionrag/internal/generation"
	"github.com/jepras/constructionrag/internal/llmclient"
	"github.com/jepras/constructionrag/internal/models"
	"github.com/jepras/constructionrag/internal/objectstore"
	"github.com/jepras/constructionrag/internal/orchestrator"
	"github.com/jepras/constructionrag/internal/retrieval"
	"github.com/jepras/constructionrag/internal/store"
	"github.com/jepras/constructionrag/internal/wiki"
)

// Model identifiers for the chat/embedding/vision-capable reasoning calls
// each pipeline makes. These name logical capabilities against an
// OpenAI-compatible gateway rather than a specific vendor model, the same
// way internal/enrichment pins its own vision-caption model.
const (
	embeddingModel          = "embed-default"
	expansionModel          = "query-expansion"
	generationModel         = "generation-default"
	wikiOverviewModel       = "wiki-overview"
	wikiStructureModel      = "wiki-structure"
	wikiNamingModel         = "wiki-page-naming"
	wikiPageModel           = "wiki-page-content"
	checklistParseModel     = "checklist-parse"
	checklistAnalyzeModel   = "checklist-analyze"
	checklistStructureModel = "checklist-structure"
)

func main() {
	logger := newLogger()

	configPath := getenv("CONFIG_PATH", "config.json")
	cfgService, err := config.Load(configPath)
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}

	secrets, err := config.LoadSecrets()
	if err != nil {
		logger.WithError(err).Fatal("failed to load required secrets")
	}

	ctx := context.Background()

	pool, err := store.Open(ctx, secrets.DatabaseURL, nil)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to the database")
	}
	defer pool.Close()

	objects, err := objectstore.New(objectstore.Config{
		Endpoint:       storageEndpoint(secrets.StorageURL),
		UseSSL:         strings.HasPrefix(secrets.StorageURL, "https"),
		Bucket:         getenv("STORAGE_BUCKET", "constructionrag"),
		ElevatedKey:    "service",
		ElevatedSecret: secrets.StorageServiceKey,
		ScopedKey:      "anon",
		ScopedSecret:   secrets.StorageAnonKey,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize object storage")
	}

	llm := llmclient.NewClient(getenv("LLM_BASE_URL", "https://api.openai.com/v1"), secrets.LLMAPIKey, secrets.VisionAPIKey, secrets.EmbeddingAPIKey, logger, nil)

	runs := store.NewIndexingRunRepository(pool.Raw())
	links := store.NewRunDocumentLinkRepository(pool.Raw())
	documents := store.NewDocumentRepository(pool.Raw())
	chunks := store.NewChunkRepository(pool.Raw())
	wikiRuns := store.NewWikiRunRepository(pool.Raw())
	wikiPages := store.NewWikiPageMetadataRepository(pool.Raw())
	queryRuns := store.NewQueryRunRepository(pool.Raw())
	checklistRuns := store.NewChecklistRunRepository(pool.Raw())
	projects := store.NewProjectRepository(pool.Raw())

	indexingCfg := cfgService.GetEffective(config.PipelineIndexing, nil)
	wikiCfg := cfgService.GetEffective(config.PipelineWiki, nil)

	retrievalEngine := &retrieval.Engine{
		LLM:            llm,
		Chunks:         chunks,
		Runs:           runs,
		Cache:          newCache(logger),
		CacheTTL:       5 * time.Minute,
		EmbeddingModel: embeddingModel,
		ExpansionModel: expansionModel,
	}

	genEngine := &generation.Engine{
		LLM:         llm,
		Retrieval:   retrievalEngine,
		Runs:        queryRuns,
		Model:       generationModel,
		MaxTokens:   1500,
		Temperature: 0.2,
	}

	notifications := api.NewRunNotificationRegistry()

	wikiEngine := wiki.New(wiki.Deps{
		LLM:       llm,
		Runs:      runs,
		Documents: &documentLister{links: links, docs: documents},
		Chunks:    chunks,
		WikiRuns:  wikiRuns,
		WikiPages: wikiPages,
		Objects:   objects,
		Retrieval: retrievalEngine,
		Notifier:  newNotifier(secrets.NotificationAPIKey),

		OverviewModel:  wikiOverviewModel,
		StructureModel: wikiStructureModel,
		NamingModel:    wikiNamingModel,
		PageModel:      wikiPageModel,
	}, wikiCfg.Wiki)

	checklistEngine := checklist.New(checklist.Deps{
		LLM:       llm,
		Runs:      checklistRuns,
		Retrieval: retrievalEngine,

		ParseModel:     checklistParseModel,
		AnalyzeModel:   checklistAnalyzeModel,
		StructureModel: checklistStructureModel,

		MaxConcurrentItems: 5,
	})

	publicWikiURLBase := getenv("PUBLIC_WIKI_URL_BASE", "")

	orch := orchestrator.New(orchestrator.Deps{
		Objects:   objects,
		LLM:       llm,
		Runs:      runs,
		Documents: documents,
		Chunks:    chunks,
		Logger:    logger,
		OnIndexingComplete: func(runID string, uploadType models.UploadType) {
			req := wiki.Request{IndexingRunID: runID, PublicWikiURLBase: publicWikiURLBase}
			if uploadType == models.UploadEmail {
				if n, ok := notifications.Take(runID); ok {
					req.NotifyEmail = n.Email
					req.ProjectName = n.ProjectName
				}
			}
			if _, err := wikiEngine.Run(context.Background(), req); err != nil {
				logger.WithError(err).WithField("run_id", runID).Error("wiki generation failed")
			}
		},
	}, indexingCfg)

	server := &api.Server{
		Logger: logger,
		Indexing: &api.IndexingTrigger{
			Runs:          runs,
			RunGetter:     runs,
			Documents:     documents,
			Links:         links,
			Projects:      projects,
			Objects:       objects,
			Indexer:       orch,
			Notifications: notifications,
		},
		Queries: &api.QueryRunner{Generation: genEngine},
		Wikis: &api.WikiArtifacts{
			WikiRuns: wikiRuns,
			Pages:    wikiPages,
			Objects:  objects,
		},
		Checklists: &api.ChecklistAnalyzer{
			Engine: checklistEngine,
			Runs:   checklistRuns,
		},
	}

	router := api.NewRouter(server)
	port := getenv("PORT", "8080")
	logger.WithField("port", port).Info("starting constructionrag api server")
	if err := router.Run(":" + port); err != nil {
		logger.WithError(err).Fatal("api server stopped")
	}
}

// documentLister adapts the run-document link repository and the document
// repository to the single DocumentLister interface the wiki engine
// depends on.
type documentLister struct {
	links interface {
		DocumentIDsForRun(ctx context.Context, runID string) ([]string, error)
	}
	docs interface {
		ListByIDs(ctx context.Context, ids []string) ([]*models.Document, error)
	}
}

func (d *documentLister) DocumentIDsForRun(ctx context.Context, runID string) ([]string, error) {
	return d.links.DocumentIDsForRun(ctx, runID)
}

func (d *documentLister) ListByIDs(ctx context.Context, ids []string) ([]*models.Document, error) {
	return d.docs.ListByIDs(ctx, ids)
}

func newNotifier(notificationAPIKey string) wiki.Notifier {
	if notificationAPIKey == "" {
		return nil
	}
	return wiki.NewSendgridNotifier(notificationAPIKey, getenv("NOTIFICATION_FROM_EMAIL", "noreply@constructionrag.dev"), getenv("NOTIFICATION_FROM_NAME", "ConstructionRAG"))
}

func newCache(logger *logrus.Logger) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr})
}

func storageEndpoint(storageURL string) string {
	endpoint := strings.TrimPrefix(storageURL, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return strings.TrimSuffix(endpoint, "/")
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	if strings.EqualFold(os.Getenv("APP_ENV"), "production") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
