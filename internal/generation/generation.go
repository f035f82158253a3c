// Package generation is the Generation Engine (C12, §4.12): assembles a
// citation-carrying context from retrieval results, prompts a reasoning
// model to answer strictly from that context, and persists the exchange as
// a Query Run.
package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jepras/constructionrag/internal/llmclient"
	"github.com/jepras/constructionrag/internal/models"
	"github.com/jepras/constructionrag/internal/reqcontext"
	"github.com/jepras/constructionrag/internal/retrieval"
)

const (
	defaultMaxTokens   = 1500
	defaultTemperature = 0.2
)

// QueryRunStore is the subset of QueryRunRepository the generation engine
// depends on.
type QueryRunStore interface {
	Create(ctx context.Context, q *models.QueryRun) error
}

// Retriever is the subset of the retrieval engine generation depends on.
type Retriever interface {
	Retrieve(ctx context.Context, rc reqcontext.RequestContext, q retrieval.Query) ([]retrieval.Match, error)
}

// Engine wires retrieval, the reasoning model, and query-run persistence.
type Engine struct {
	LLM         *llmclient.Client
	Retrieval   Retriever
	Runs        QueryRunStore
	Model       string
	MaxTokens   int
	Temperature float64
}

// Answer is the result of one generation call, ready for an API response.
type Answer struct {
	ID                 string
	Text               string
	Citations          []models.SearchResultRef
	PerformanceMetrics map[string]any
	StepTimings        map[string]float64
}

// Generate runs retrieval, builds a cited context prompt, calls the
// reasoning model, and persists a Query Run (§4.12).
func (e *Engine) Generate(ctx context.Context, rc reqcontext.RequestContext, ownerID string, q retrieval.Query) (*Answer, error) {
	timings := map[string]float64{}

	retrieveStart := time.Now()
	matches, err := e.Retrieval.Retrieve(ctx, rc, q)
	timings["retrieval_seconds"] = time.Since(retrieveStart).Seconds()
	if err != nil {
		return nil, err
	}

	prompt := buildPrompt(q.Text, matches)

	model := e.Model
	maxTokens := e.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := e.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}

	completeStart := time.Now()
	answerText, err := e.LLM.Complete(ctx, llmclient.CallContext{Pipeline: "query", Step: "generate", RunID: q.RunID}, model, prompt, maxTokens, temperature)
	timings["generation_seconds"] = time.Since(completeStart).Seconds()
	if err != nil {
		return nil, err
	}

	citations := toCitations(matches)

	run := &models.QueryRun{
		IndexingRunID: q.RunID,
		QueryText:     q.Text,
		FinalResponse: answerText,
		SearchResults: citations,
		StepTimings:   timings,
		AccessLevel:   models.AccessPrivate,
	}
	if ownerID != "" {
		run.OwnerID = &ownerID
		run.AccessLevel = models.AccessOwner
	}
	if err := e.Runs.Create(ctx, run); err != nil {
		return nil, err
	}

	return &Answer{
		ID:          run.ID,
		Text:        answerText,
		Citations:   citations,
		StepTimings: timings,
		PerformanceMetrics: map[string]any{
			"chunks_retrieved": len(matches),
		},
	}, nil
}

// buildPrompt assembles the citation-carrying context and the instruction
// to answer strictly from it (§4.12).
func buildPrompt(question string, matches []retrieval.Match) string {
	var b strings.Builder
	b.WriteString("You are a construction-document assistant. Answer strictly from the context below. ")
	b.WriteString("Cite every claim with its source in the form [filename p.page]. ")
	b.WriteString("If the context does not contain the answer, say so explicitly.\n\n")

	for i, m := range matches {
		citation := m.SourceFilename
		if m.PageNumber != nil {
			citation = fmt.Sprintf("%s p.%d", citation, *m.PageNumber)
		}
		fmt.Fprintf(&b, "[%d] (%s)\n%s\n\n", i+1, citation, m.Content)
	}

	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}

func toCitations(matches []retrieval.Match) []models.SearchResultRef {
	out := make([]models.SearchResultRef, len(matches))
	for i, m := range matches {
		page := 0
		if m.PageNumber != nil {
			page = *m.PageNumber
		}
		out[i] = models.SearchResultRef{
			ChunkID:         m.ChunkID,
			Content:         m.Content,
			SimilarityScore: m.Similarity,
			SourceFilename:  m.SourceFilename,
			PageNumber:      page,
			Bbox:            m.Bbox,
		}
	}
	return out
}
