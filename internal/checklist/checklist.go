// Package checklist is the Checklist Analyzer (C14, §4.14): it parses a
// free-text audit checklist into numbered items with retrieval queries, fans
// those queries out through retrieval, asks a reasoning model to narrate
// compliance across the evidence, then structures that narrative into typed,
// source-cited results.
package checklist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/jepras/constructionrag/internal/apperr"
	"github.com/jepras/constructionrag/internal/concurrency"
	"github.com/jepras/constructionrag/internal/llmclient"
	"github.com/jepras/constructionrag/internal/models"
	"github.com/jepras/constructionrag/internal/reqcontext"
	"github.com/jepras/constructionrag/internal/retrieval"
)

const (
	defaultMaxConcurrentItems = 5
	defaultMaxTokens          = 2000
	defaultTemperature        = 0.1
	defaultTopK               = 8
)

// RunStore is the subset of ChecklistRunRepository the analyzer depends on.
type RunStore interface {
	Create(ctx context.Context, run *models.ChecklistRun) error
	UpdateProgress(ctx context.Context, id string, current, total int) error
	UpdateStatus(ctx context.Context, id string, status models.RunStatus, rawOutput, errMessage string) error
	AppendResults(ctx context.Context, runID string, results []*models.ChecklistResult) error
}

// Retriever is the subset of the retrieval engine the analyzer depends on.
type Retriever interface {
	Retrieve(ctx context.Context, rc reqcontext.RequestContext, q retrieval.Query) ([]retrieval.Match, error)
}

// Deps bundles the analyzer's collaborators.
type Deps struct {
	LLM       *llmclient.Client
	Runs      RunStore
	Retrieval Retriever

	ParseModel     string
	AnalyzeModel   string
	StructureModel string

	MaxConcurrentItems int
}

// Engine runs the parse -> retrieve -> analyze -> structure pipeline.
type Engine struct {
	deps Deps
}

func New(deps Deps) *Engine {
	return &Engine{deps: deps}
}

// Request starts one checklist analysis attempt.
type Request struct {
	IndexingRunID    string
	OwnerID          string
	ChecklistContent string
	ModelName        string
}

type checklistItem struct {
	ItemNumber int      `json:"item_number"`
	ItemName   string   `json:"item_name"`
	Queries    []string `json:"queries"`
}

type itemEvidence struct {
	item    checklistItem
	matches []retrieval.Match
}

// Run executes the full pipeline and returns the completed ChecklistRun,
// including its structured results.
func (e *Engine) Run(ctx context.Context, req Request) (*models.ChecklistRun, error) {
	run, err := e.create(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.runPipeline(ctx, run, req)
}

// Start creates the checklist run and returns it immediately with status
// running, continuing the parse/retrieve/analyze/structure pipeline on a
// detached context in the background. Callers poll the run's status through
// RunStore rather than waiting on this call, matching the analyze/poll HTTP
// contract of §6.4.
func (e *Engine) Start(ctx context.Context, req Request) (*models.ChecklistRun, error) {
	run, err := e.create(ctx, req)
	if err != nil {
		return nil, err
	}
	go e.runPipeline(context.Background(), run, req)
	return run, nil
}

func (e *Engine) create(ctx context.Context, req Request) (*models.ChecklistRun, error) {
	run := &models.ChecklistRun{
		IndexingRunID:    req.IndexingRunID,
		ChecklistContent: req.ChecklistContent,
		ModelName:        req.ModelName,
		Status:           models.StatusRunning,
	}
	if req.OwnerID != "" {
		run.OwnerID = &req.OwnerID
	}
	if err := e.deps.Runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create checklist run: %w", err)
	}
	return run, nil
}

func (e *Engine) runPipeline(ctx context.Context, run *models.ChecklistRun, req Request) (*models.ChecklistRun, error) {
	items, err := e.parseChecklist(ctx, req.ChecklistContent)
	if err != nil {
		return e.fail(ctx, run, err)
	}
	if len(items) == 0 {
		return e.fail(ctx, run, apperr.New("checklist.empty", apperr.CategoryGeneration, "no checklist items were parsed from the supplied content"))
	}
	if err := e.deps.Runs.UpdateProgress(ctx, run.ID, 0, len(items)); err != nil {
		return e.fail(ctx, run, err)
	}

	evidence, err := e.retrieveEvidence(ctx, run.ID, items)
	if err != nil {
		return e.fail(ctx, run, err)
	}

	narrative, err := e.analyze(ctx, evidence)
	if err != nil {
		return e.fail(ctx, run, err)
	}

	results, err := e.structure(ctx, narrative, items)
	if err != nil {
		return e.fail(ctx, run, err)
	}

	if err := e.deps.Runs.AppendResults(ctx, run.ID, results); err != nil {
		return e.fail(ctx, run, err)
	}
	if err := e.deps.Runs.UpdateProgress(ctx, run.ID, len(items), len(items)); err != nil {
		return e.fail(ctx, run, err)
	}
	if err := e.deps.Runs.UpdateStatus(ctx, run.ID, models.StatusCompleted, narrative, ""); err != nil {
		return e.fail(ctx, run, err)
	}

	run.Status = models.StatusCompleted
	run.RawOutput = narrative
	run.ProgressCurrent = len(items)
	run.ProgressTotal = len(items)
	for _, r := range results {
		run.Results = append(run.Results, *r)
	}
	return run, nil
}

func (e *Engine) fail(ctx context.Context, run *models.ChecklistRun, cause error) (*models.ChecklistRun, error) {
	run.Status = models.StatusFailed
	run.ErrorMessage = cause.Error()
	_ = e.deps.Runs.UpdateStatus(ctx, run.ID, models.StatusFailed, "", cause.Error())
	return run, cause
}

// parseChecklist asks the reasoning model to split free-text checklist
// content into numbered items, each with its own retrieval queries (§4.14
// step 1).
func (e *Engine) parseChecklist(ctx context.Context, content string) ([]checklistItem, error) {
	var b strings.Builder
	b.WriteString("You audit construction documents against a checklist. Split the checklist below into numbered items. ")
	b.WriteString("For each item, write 1-3 search queries that would surface evidence of compliance in a document set. ")
	b.WriteString(`Respond with a strict JSON array: [{"item_number":1,"item_name":"...","queries":["..."]}]. No prose outside the array.` + "\n\n")
	b.WriteString(content)

	raw, err := e.deps.LLM.Complete(ctx, llmclient.CallContext{Pipeline: "checklist", Step: "parse"}, e.deps.ParseModel, b.String(), defaultMaxTokens, defaultTemperature)
	if err != nil {
		return nil, apperr.Wrap("checklist.parse_failed", apperr.CategoryGeneration, "failed to parse checklist content", err)
	}

	var items []checklistItem
	if err := json.Unmarshal([]byte(extractJSONArray(raw)), &items); err != nil {
		return nil, apperr.Wrap("checklist.parse_invalid", apperr.CategoryGeneration, "model returned an unparseable checklist item list", err)
	}
	for i := range items {
		if len(items[i].Queries) == 0 {
			items[i].Queries = []string{items[i].ItemName}
		}
	}
	return items, nil
}

// retrieveEvidence fans every item's queries out through retrieval, bounded
// by MaxConcurrentItems, and deduplicates matches per item by chunk id
// (§4.14 step 2).
func (e *Engine) retrieveEvidence(ctx context.Context, runID string, items []checklistItem) ([]itemEvidence, error) {
	maxConcurrent := e.deps.MaxConcurrentItems
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentItems
	}
	sem := concurrency.NewSemaphore(maxConcurrent)

	evidence := make([]itemEvidence, len(items))
	errs := make([]error, len(items))
	var wg sync.WaitGroup
	var progressMu sync.Mutex
	done := 0

	rc := reqcontext.Anonymous("")

	for i, item := range items {
		i, item := i, item
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx); err != nil {
				errs[i] = err
				return
			}
			defer sem.Release()

			matches, err := e.retrieveForItem(ctx, rc, runID, item)
			if err != nil {
				errs[i] = err
				return
			}
			evidence[i] = itemEvidence{item: item, matches: matches}

			progressMu.Lock()
			done++
			current := done
			progressMu.Unlock()
			_ = e.deps.Runs.UpdateProgress(ctx, runID, current, len(items))
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return evidence, nil
}

func (e *Engine) retrieveForItem(ctx context.Context, rc reqcontext.RequestContext, runID string, item checklistItem) ([]retrieval.Match, error) {
	seen := map[string]bool{}
	var matches []retrieval.Match
	for _, q := range item.Queries {
		result, err := e.deps.Retrieval.Retrieve(ctx, rc, retrieval.Query{Text: q, RunID: runID, TopK: defaultTopK})
		if err != nil {
			return nil, apperr.Wrap("checklist.retrieval_failed", apperr.CategoryRetrieval, fmt.Sprintf("retrieval failed for item %d", item.ItemNumber), err)
		}
		for _, m := range result {
			if seen[m.ChunkID] {
				continue
			}
			seen[m.ChunkID] = true
			matches = append(matches, m)
		}
	}
	return matches, nil
}

// analyze produces one narrative discussing every item against its evidence
// (§4.14 step 3).
func (e *Engine) analyze(ctx context.Context, evidence []itemEvidence) (string, error) {
	var b strings.Builder
	b.WriteString("You are a construction-document compliance auditor. For each numbered item below, ")
	b.WriteString("assess whether the cited evidence shows the requirement is met, missing, a risk, conditional, or unclear. ")
	b.WriteString("Reference evidence by its [filename p.page] citation. Write one paragraph per item.\n\n")

	for _, ev := range evidence {
		fmt.Fprintf(&b, "Item %d: %s\n", ev.item.ItemNumber, ev.item.ItemName)
		if len(ev.matches) == 0 {
			b.WriteString("No supporting evidence was found in the documents.\n\n")
			continue
		}
		for _, m := range ev.matches {
			citation := m.SourceFilename
			if m.PageNumber != nil {
				citation = fmt.Sprintf("%s p.%d", citation, *m.PageNumber)
			}
			fmt.Fprintf(&b, "- (%s) %s\n", citation, truncateText(m.Content, 500))
		}
		b.WriteString("\n")
	}

	narrative, err := e.deps.LLM.Complete(ctx, llmclient.CallContext{Pipeline: "checklist", Step: "analyze"}, e.deps.AnalyzeModel, b.String(), defaultMaxTokens, defaultTemperature)
	if err != nil {
		return "", apperr.Wrap("checklist.analyze_failed", apperr.CategoryGeneration, "failed to analyze checklist evidence", err)
	}
	return narrative, nil
}

type structuredResult struct {
	ItemNumber      int               `json:"item_number"`
	ItemName        string            `json:"item_name"`
	Status          string            `json:"status"`
	Description     string            `json:"description"`
	ConfidenceScore *float64          `json:"confidence_score"`
	SourceDocument  string            `json:"source_document"`
	SourcePage      *int              `json:"source_page"`
	SourceExcerpt   string            `json:"source_excerpt"`
	AllSources      []sourceReference `json:"all_sources"`
}

type sourceReference struct {
	Document string `json:"document"`
	Page     int    `json:"page"`
	Excerpt  string `json:"excerpt"`
}

// structure converts the narrative into strict typed results with status
// classification and source attribution (§4.14 step 4, §6.4).
func (e *Engine) structure(ctx context.Context, narrative string, items []checklistItem) ([]*models.ChecklistResult, error) {
	var b strings.Builder
	b.WriteString("Convert the compliance analysis below into a strict JSON array, one object per item, in this exact shape:\n")
	b.WriteString(`[{"item_number":1,"item_name":"...","status":"found|missing|risk|conditions|pending_clarification",` +
		`"description":"...","confidence_score":0.0,"source_document":"...","source_page":1,"source_excerpt":"...",` +
		`"all_sources":[{"document":"...","page":1,"excerpt":"..."}]}]` + "\n")
	b.WriteString("Use exactly one of the five status values. Omit confidence_score if unknown. No prose outside the array.\n\n")
	b.WriteString("Items:\n")
	for _, it := range items {
		fmt.Fprintf(&b, "%d. %s\n", it.ItemNumber, it.ItemName)
	}
	b.WriteString("\nAnalysis:\n")
	b.WriteString(narrative)

	raw, err := e.deps.LLM.Complete(ctx, llmclient.CallContext{Pipeline: "checklist", Step: "structure"}, e.deps.StructureModel, b.String(), defaultMaxTokens, defaultTemperature)
	if err != nil {
		return nil, apperr.Wrap("checklist.structure_failed", apperr.CategoryGeneration, "failed to structure checklist analysis", err)
	}

	var parsed []structuredResult
	if err := json.Unmarshal([]byte(extractJSONArray(raw)), &parsed); err != nil {
		return nil, apperr.Wrap("checklist.structure_invalid", apperr.CategoryGeneration, "model returned an unparseable checklist result list", err)
	}

	results := make([]*models.ChecklistResult, 0, len(parsed))
	for _, p := range parsed {
		status := models.ChecklistStatus(p.Status)
		if !validStatus(status) {
			status = models.ChecklistPendingClarification
		}
		sources := make([]models.ChecklistSource, len(p.AllSources))
		for i, s := range p.AllSources {
			sources[i] = models.ChecklistSource{Document: s.Document, Page: s.Page, Excerpt: s.Excerpt}
		}
		results = append(results, &models.ChecklistResult{
			ItemNumber:      p.ItemNumber,
			ItemName:        p.ItemName,
			Status:          status,
			Description:     p.Description,
			ConfidenceScore: p.ConfidenceScore,
			SourceDocument:  p.SourceDocument,
			SourcePage:      p.SourcePage,
			SourceExcerpt:   p.SourceExcerpt,
			AllSources:      sources,
		})
	}
	return results, nil
}

func validStatus(s models.ChecklistStatus) bool {
	switch s {
	case models.ChecklistFound, models.ChecklistMissing, models.ChecklistRisk, models.ChecklistConditions, models.ChecklistPendingClarification:
		return true
	}
	return false
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
