// Package wiki is the Wiki Generation Orchestrator (C13, §4.13): it derives
// a structured Markdown knowledge base from one indexing run's chunks —
// metadata collection, overview synthesis, semantic clustering, page-structure
// planning, per-page evidence retrieval, and Markdown generation — and fires
// the email-upload completion notification.
package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/jepras/constructionrag/internal/apperr"
	"github.com/jepras/constructionrag/internal/concurrency"
	"github.com/jepras/constructionrag/internal/config"
	"github.com/jepras/constructionrag/internal/llmclient"
	"github.com/jepras/constructionrag/internal/models"
	"github.com/jepras/constructionrag/internal/objectstore"
	"github.com/jepras/constructionrag/internal/reqcontext"
	"github.com/jepras/constructionrag/internal/retrieval"
)

// canonicalOverviewQueries seeds overview synthesis with the project-identity
// questions every construction document set can answer (§4.13 step 2).
var canonicalOverviewQueries = []string{
	"What is the name and purpose of this construction project?",
	"Who is the client or owner of the project?",
	"Who is the main contractor or contractors involved?",
	"What is the project location or site address?",
	"What is the scope of work covered by these documents?",
	"What is the project timeline or key milestone dates?",
	"What building type or structure is being constructed?",
	"What are the main materials specified for the project?",
	"What safety requirements or codes apply to this project?",
	"What is the total area or size of the construction?",
	"What disciplines are covered (structural, mechanical, electrical)?",
	"What are the key deliverables described in these documents?",
}

// RunLookup is the subset of the indexing run store the wiki orchestrator needs.
type RunLookup interface {
	GetByID(ctx context.Context, id string) (*models.IndexingRun, error)
}

// DocumentLister is the subset of the document store that metadata
// collection uses to load a run's documents.
type DocumentLister interface {
	DocumentIDsForRun(ctx context.Context, runID string) ([]string, error)
	ListByIDs(ctx context.Context, ids []string) ([]*models.Document, error)
}

// ChunkLister is the subset of the chunk store needed for clustering.
type ChunkLister interface {
	ListByRunWithEmbeddings(ctx context.Context, runID string) ([]*models.Chunk, error)
}

// WikiRunStore is the subset of WikiRunRepository the orchestrator needs.
type WikiRunStore interface {
	Create(ctx context.Context, run *models.WikiRun) error
	UpdateStructure(ctx context.Context, id string, structure *models.WikiStructure) error
	UpdateStepResult(ctx context.Context, runID string, step string, result *models.StepResult) error
	UpdateStatus(ctx context.Context, id string, status models.RunStatus, errMessage string) error
	GetLatestForIndexingRun(ctx context.Context, indexingRunID string) (*models.WikiRun, error)
}

// WikiPageStore is the subset of WikiPageMetadataRepository the orchestrator needs.
type WikiPageStore interface {
	Create(ctx context.Context, p *models.WikiPageMetadata) error
}

// ObjectPutter is the subset of the object store needed to write generated pages.
type ObjectPutter interface {
	Put(ctx context.Context, path string, reader io.Reader, size int64, contentType string) error
}

// Retriever is the subset of the retrieval engine the wiki orchestrator needs.
type Retriever interface {
	Retrieve(ctx context.Context, rc reqcontext.RequestContext, q retrieval.Query) ([]retrieval.Match, error)
}

// Deps bundles the wiki orchestrator's collaborators. Notifier may be nil,
// in which case the completion hook is skipped entirely.
type Deps struct {
	LLM       *llmclient.Client
	Runs      RunLookup
	Documents DocumentLister
	Chunks    ChunkLister
	WikiRuns  WikiRunStore
	WikiPages WikiPageStore
	Objects   ObjectPutter
	Retrieval Retriever
	Notifier  Notifier

	OverviewModel  string
	StructureModel string
	NamingModel    string
	PageModel      string
}

// Engine drives one wiki run to completion.
type Engine struct {
	deps Deps
	cfg  config.WikiConfig
}

func New(deps Deps, cfg config.WikiConfig) *Engine {
	return &Engine{deps: deps, cfg: cfg}
}

// Request is one wiki generation invocation.
type Request struct {
	IndexingRunID string

	// NotifyEmail and ProjectName feed the email-upload completion hook
	// (§4.13 notification hook); both are supplied by the caller since the
	// core domain never stores an uploader's address.
	NotifyEmail       string
	ProjectName       string
	PublicWikiURLBase string
}

// clusterInfo is one named semantic cluster of chunks, ready for structure
// generation.
type clusterInfo struct {
	Name    string
	Samples []string
}

// Run executes the full six-step pipeline over one indexing run's chunks
// and persists the resulting wiki run and page metadata (§4.13).
func (e *Engine) Run(ctx context.Context, req Request) (*models.WikiRun, error) {
	if !e.cfg.RegenerateOnRerun {
		if existing, err := e.deps.WikiRuns.GetLatestForIndexingRun(ctx, req.IndexingRunID); err == nil && existing.Status == models.StatusCompleted {
			return existing, nil
		}
	}

	run, _, chunks, err := e.collectMetadata(ctx, req.IndexingRunID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, apperr.New("wiki.no_chunks", apperr.CategoryGeneration, fmt.Sprintf("indexing run %s has no embedded chunks to build a wiki from", req.IndexingRunID))
	}

	wikiRun := &models.WikiRun{
		IndexingRunID: req.IndexingRunID,
		Status:        models.StatusRunning,
		AccessLevel:   run.AccessLevel,
		StepResults:   map[string]*models.StepResult{},
	}
	if err := e.deps.WikiRuns.Create(ctx, wikiRun); err != nil {
		return nil, err
	}
	e.journal(ctx, wikiRun.ID, "metadata_collection", map[string]int{"chunk_count": len(chunks)}, nil)

	structure, err := e.buildStructure(ctx, wikiRun.ID, run.ID, chunks)
	if err != nil {
		return e.fail(ctx, wikiRun, err)
	}
	if err := e.deps.WikiRuns.UpdateStructure(ctx, wikiRun.ID, structure); err != nil {
		return e.fail(ctx, wikiRun, err)
	}
	wikiRun.WikiStructure = structure
	e.journal(ctx, wikiRun.ID, "structure", map[string]int{"page_count": len(structure.Pages)}, nil)

	if err := e.generatePages(ctx, wikiRun, run, structure); err != nil {
		return e.fail(ctx, wikiRun, err)
	}
	e.journal(ctx, wikiRun.ID, "pages", map[string]int{"page_count": len(structure.Pages)}, nil)

	if err := e.deps.WikiRuns.UpdateStatus(ctx, wikiRun.ID, models.StatusCompleted, ""); err != nil {
		return nil, err
	}
	wikiRun.Status = models.StatusCompleted

	e.notify(ctx, req, run, wikiRun)

	return wikiRun, nil
}

func (e *Engine) fail(ctx context.Context, run *models.WikiRun, cause error) (*models.WikiRun, error) {
	_ = e.deps.WikiRuns.UpdateStatus(ctx, run.ID, models.StatusFailed, cause.Error())
	return nil, cause
}

// journal records one step's outcome on the wiki run for progress tracking.
func (e *Engine) journal(ctx context.Context, wikiRunID, step string, stats map[string]int, cause error) {
	result := models.NewRunningStepResult(models.StepName(step))
	if cause != nil {
		result.Fail(cause)
	} else {
		result.Complete(stats, nil)
	}
	_ = e.deps.WikiRuns.UpdateStepResult(ctx, wikiRunID, step, result)
}

// collectMetadata is step 1: load the indexing run, its documents, and
// every chunk (with embeddings) it produced.
func (e *Engine) collectMetadata(ctx context.Context, indexingRunID string) (*models.IndexingRun, []*models.Document, []*models.Chunk, error) {
	run, err := e.deps.Runs.GetByID(ctx, indexingRunID)
	if err != nil {
		return nil, nil, nil, err
	}

	docIDs, err := e.deps.Documents.DocumentIDsForRun(ctx, indexingRunID)
	if err != nil {
		return nil, nil, nil, err
	}
	documents, err := e.deps.Documents.ListByIDs(ctx, docIDs)
	if err != nil {
		return nil, nil, nil, err
	}

	chunks, err := e.deps.Chunks.ListByRunWithEmbeddings(ctx, indexingRunID)
	if err != nil {
		return nil, nil, nil, err
	}

	return run, documents, chunks, nil
}

// buildStructure runs steps 2-4: overview synthesis, clustering, and
// structure generation.
func (e *Engine) buildStructure(ctx context.Context, wikiRunID, indexingRunID string, chunks []*models.Chunk) (*models.WikiStructure, error) {
	overview, err := e.generateOverview(ctx, indexingRunID)
	if err != nil {
		return nil, fmt.Errorf("generate overview: %w", err)
	}
	e.journal(ctx, wikiRunID, "overview", map[string]int{"overview_chars": len(overview)}, nil)

	clusters, err := e.clusterChunks(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("cluster chunks: %w", err)
	}
	e.journal(ctx, wikiRunID, "clustering", map[string]int{"cluster_count": len(clusters)}, nil)

	pages, err := e.generatePlan(ctx, overview, clusters)
	if err != nil {
		return nil, fmt.Errorf("generate structure: %w", err)
	}

	return &models.WikiStructure{Overview: overview, Pages: pages}, nil
}

// generateOverview is step 2: fan the canonical project-identity queries
// through retrieval, dedupe the evidence, and synthesize a short cited
// overview.
func (e *Engine) generateOverview(ctx context.Context, indexingRunID string) (string, error) {
	rc := reqcontext.RequestContext{Roles: []string{"worker"}, IsAuthenticated: true}

	seen := map[string]bool{}
	var evidence []string
	for _, q := range canonicalOverviewQueries {
		matches, err := e.deps.Retrieval.Retrieve(ctx, rc, retrieval.Query{Text: q, RunID: indexingRunID, TopK: 5})
		if err != nil {
			continue // one failed expansion query shouldn't sink the whole overview
		}
		for _, m := range matches {
			if seen[m.ChunkID] {
				continue
			}
			seen[m.ChunkID] = true
			evidence = append(evidence, fmt.Sprintf("(%s) %s", m.SourceFilename, m.Content))
		}
	}

	var b strings.Builder
	b.WriteString("You are summarizing a construction project from document excerpts below. ")
	b.WriteString("Write a concise project overview of no more than 2500 characters, covering the project's purpose, ")
	b.WriteString("location, scope, parties involved, and timeline where evidenced. Cite each fact's source filename in parentheses. ")
	b.WriteString("Do not invent facts absent from the excerpts.\n\n")
	for _, ev := range evidence {
		b.WriteString(ev)
		b.WriteString("\n\n")
	}

	return e.deps.LLM.Complete(ctx, llmclient.CallContext{Pipeline: "wiki", Step: "overview", RunID: indexingRunID}, e.deps.OverviewModel, b.String(), 800, 0.3)
}

// clusterChunks is step 3: K-means over chunk embeddings with
// representative-sample naming.
func (e *Engine) clusterChunks(ctx context.Context, chunks []*models.Chunk) ([]clusterInfo, error) {
	vectors := make([][]float32, 0, len(chunks))
	usable := make([]*models.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		vectors = append(vectors, c.Embedding)
		usable = append(usable, c)
	}
	if len(vectors) == 0 {
		return nil, apperr.New("wiki.no_embeddings", apperr.CategoryGeneration, "no chunk carries an embedding to cluster")
	}

	minK, maxK := e.cfg.ClusterMinK, e.cfg.ClusterMaxK
	if minK <= 0 {
		minK = 4
	}
	if maxK <= 0 {
		maxK = 10
	}
	chunksPerCluster := e.cfg.ChunksPerCluster
	if chunksPerCluster <= 0 {
		chunksPerCluster = 20
	}
	k := clampClusterCount(len(vectors), chunksPerCluster, minK, maxK)

	result := kmeans(vectors, k)

	const namingSampleCount = 3

	usedNames := map[string]bool{}
	clusters := make([]clusterInfo, 0, k)
	for c := 0; c < k; c++ {
		repIdx := representatives(vectors, result, c, namingSampleCount)
		if len(repIdx) == 0 {
			continue
		}
		samples := make([]string, len(repIdx))
		for i, idx := range repIdx {
			samples[i] = usable[idx].Content
		}

		name, err := e.nameCluster(ctx, samples)
		if err != nil || name == "" || usedNames[strings.ToLower(name)] {
			name = fmt.Sprintf("Topic %d", c+1)
		}
		usedNames[strings.ToLower(name)] = true

		clusters = append(clusters, clusterInfo{Name: name, Samples: samples})
	}
	return clusters, nil
}

func (e *Engine) nameCluster(ctx context.Context, samples []string) (string, error) {
	prompt := fmt.Sprintf(
		"These excerpts come from the same topic cluster in a construction project's documents. "+
			"Give a short (2-5 word) distinct topic name, no punctuation, no quotes:\n\n%s",
		strings.Join(samples, "\n---\n"))
	name, err := e.deps.LLM.Complete(ctx, llmclient.CallContext{Pipeline: "wiki", Step: "name_cluster"}, e.deps.NamingModel, prompt, 20, 0.3)
	if err != nil {
		return "", err
	}
	return strings.Trim(strings.TrimSpace(name), "\"'.\n"), nil
}

// generatePlan is step 4: the overview and named clusters drive a structured
// page plan from the reasoning model.
func (e *Engine) generatePlan(ctx context.Context, overview string, clusters []clusterInfo) ([]models.WikiPagePlan, error) {
	var b strings.Builder
	b.WriteString("Project overview:\n")
	b.WriteString(overview)
	b.WriteString("\n\nTopic clusters found in the project's documents:\n")
	for i, c := range clusters {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.Name)
		for _, s := range c.Samples {
			fmt.Fprintf(&b, "   - %s\n", truncateText(s, 200))
		}
	}
	b.WriteString("\nPropose a wiki page structure covering these topics. Respond with ONLY a JSON array, ")
	b.WriteString("no prose, each element shaped as ")
	b.WriteString(`{"id": string, "title": string, "description": string, "queries": [string,...], "relevance_score": number 0-1}`)
	b.WriteString(". queries should be 2-5 natural-language search questions that would retrieve the page's content.")

	raw, err := e.deps.LLM.Complete(ctx, llmclient.CallContext{Pipeline: "wiki", Step: "structure"}, e.deps.StructureModel, b.String(), 1500, 0.3)
	if err != nil {
		return nil, err
	}

	var pages []models.WikiPagePlan
	if err := json.Unmarshal([]byte(extractJSONArray(raw)), &pages); err != nil {
		return nil, apperr.Wrap("wiki.invalid_structure", apperr.CategoryGeneration, "structure model did not return valid JSON", err)
	}

	sort.SliceStable(pages, func(i, j int) bool { return pages[i].RelevanceScore > pages[j].RelevanceScore })
	return pages, nil
}

// generatePages is steps 5-6: for each planned page, retrieve its evidence,
// synthesize Markdown, write it to object storage, and record its metadata.
// Page generation is bounded to max_concurrent_pages (§4.13 step 6).
func (e *Engine) generatePages(ctx context.Context, wikiRun *models.WikiRun, run *models.IndexingRun, structure *models.WikiStructure) error {
	maxConcurrent := e.cfg.MaxConcurrentPages
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	sem := concurrency.NewSemaphore(maxConcurrent)

	var wg sync.WaitGroup
	errs := make([]error, len(structure.Pages))

	for i, page := range structure.Pages {
		i, page := i, page
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx); err != nil {
				errs[i] = err
				return
			}
			defer sem.Release()
			errs[i] = e.generateOnePage(ctx, wikiRun, run, page, i)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) generateOnePage(ctx context.Context, wikiRun *models.WikiRun, run *models.IndexingRun, page models.WikiPagePlan, order int) error {
	rc := reqcontext.RequestContext{Roles: []string{"worker"}, IsAuthenticated: true}

	seen := map[string]bool{}
	var evidence []retrieval.Match
	for _, q := range page.Queries {
		matches, err := e.deps.Retrieval.Retrieve(ctx, rc, retrieval.Query{Text: q, RunID: run.ID, TopK: 8})
		if err != nil {
			continue
		}
		for _, m := range matches {
			if seen[m.ChunkID] {
				continue
			}
			seen[m.ChunkID] = true
			evidence = append(evidence, m)
		}
	}

	markdown, err := e.writePageContent(ctx, run.ID, page, evidence)
	if err != nil {
		return err
	}

	filename := slugify(page.Title)
	storagePath := pageStoragePath(run, wikiRun.ID, filename)
	if err := e.deps.Objects.Put(ctx, storagePath, strings.NewReader(markdown), int64(len(markdown)), "text/markdown"); err != nil {
		return fmt.Errorf("store page %q: %w", page.Title, err)
	}

	meta := &models.WikiPageMetadata{
		WikiRunID:   wikiRun.ID,
		Title:       page.Title,
		Filename:    filename + ".md",
		Order:       order,
		WordCount:   len(strings.Fields(markdown)),
		StoragePath: storagePath,
	}
	return e.deps.WikiPages.Create(ctx, meta)
}

func (e *Engine) writePageContent(ctx context.Context, runID string, page models.WikiPagePlan, evidence []retrieval.Match) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "You are writing one page of a construction project's wiki, titled %q. ", page.Title)
	b.WriteString(page.Description)
	b.WriteString(" Write the page in Markdown, citing every factual claim with its source in the form [filename p.page]. ")
	b.WriteString("Use only the evidence below; do not invent facts.\n\nEvidence:\n")
	for i, m := range evidence {
		citation := m.SourceFilename
		if m.PageNumber != nil {
			citation = fmt.Sprintf("%s p.%d", citation, *m.PageNumber)
		}
		fmt.Fprintf(&b, "[%d] (%s)\n%s\n\n", i+1, citation, m.Content)
	}

	return e.deps.LLM.Complete(ctx, llmclient.CallContext{Pipeline: "wiki", Step: "page_content", RunID: runID}, e.deps.PageModel, b.String(), 2500, 0.3)
}

// notify fires the completion hook for email uploads only (§4.13
// notification hook). Failures are swallowed: a notification problem must
// never fail an otherwise-successful wiki run.
func (e *Engine) notify(ctx context.Context, req Request, run *models.IndexingRun, wikiRun *models.WikiRun) {
	if run.UploadType != models.UploadEmail || e.deps.Notifier == nil || req.NotifyEmail == "" {
		return
	}
	publicWikiURL := req.PublicWikiURLBase
	if publicWikiURL != "" {
		publicWikiURL = fmt.Sprintf("%s/%s", strings.TrimRight(publicWikiURL, "/"), wikiRun.ID)
	}
	go func() {
		_ = e.deps.Notifier.Notify(context.Background(), req.NotifyEmail, req.ProjectName, publicWikiURL)
	}()
}

func pageStoragePath(run *models.IndexingRun, wikiRunID, pageName string) string {
	if run.UploadType == models.UploadEmail {
		return objectstore.EmailWikiPagePath(run.ID, wikiRunID, pageName)
	}
	ownerID, projectID := "", ""
	if run.OwnerID != nil {
		ownerID = *run.OwnerID
	}
	if run.ProjectID != nil {
		projectID = *run.ProjectID
	}
	return objectstore.ProjectWikiPagePath(ownerID, projectID, run.ID, wikiRunID, pageName)
}

// clampClusterCount implements K = clamp(n_chunks / chunks_per_cluster, min, max) (§4.13 step 3).
func clampClusterCount(nChunks, chunksPerCluster, minK, maxK int) int {
	k := nChunks / chunksPerCluster
	if k < minK {
		k = minK
	}
	if k > maxK {
		k = maxK
	}
	if k > nChunks {
		k = nChunks
	}
	return k
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// extractJSONArray trims any prose wrapper a reasoning model adds around the
// requested JSON array, taking the outermost bracketed span.
func extractJSONArray(raw string) string {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end < start {
		return raw
	}
	return raw[start : end+1]
}

func slugify(title string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteRune('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
