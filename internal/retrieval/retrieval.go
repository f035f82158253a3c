// Package retrieval is the Retrieval Engine (C11, §4.11): query expansion,
// HyDE drafting, embedding, pgvector similarity search, deduplication, and
// access scoping, with a short-lived result cache.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jepras/constructionrag/internal/apperr"
	"github.com/jepras/constructionrag/internal/llmclient"
	"github.com/jepras/constructionrag/internal/models"
	"github.com/jepras/constructionrag/internal/reqcontext"
	"github.com/jepras/constructionrag/internal/store"
)

const (
	defaultTopK       = 10
	similarityThresh  = 0.3
	maxQueryVariations = 3
	dedupPrefixChars  = 200
	defaultCacheTTL   = 5 * time.Minute
)

// RunLookup is the subset of the run store the retrieval engine needs for
// access scoping.
type RunLookup interface {
	GetByID(ctx context.Context, id string) (*models.IndexingRun, error)
}

// ChunkMatcher is the subset of the chunk store backing vector search.
type ChunkMatcher interface {
	MatchChunks(ctx context.Context, q store.MatchQuery) ([]store.ChunkMatch, error)
}

// Engine wires the LLM client, chunk store, and run store behind §4.11's
// pipeline. Cache is optional — a nil cache simply disables result caching.
type Engine struct {
	LLM            *llmclient.Client
	Chunks         ChunkMatcher
	Runs           RunLookup
	Cache          *redis.Client
	CacheTTL       time.Duration
	EmbeddingModel string
	ExpansionModel string
}

// Query is one retrieval request.
type Query struct {
	Text  string
	RunID string
	TopK  int
}

// Match is a deduplicated, scored retrieval result ready for generation or
// wiki synthesis.
type Match struct {
	ChunkID        string          `json:"chunk_id"`
	Content        string          `json:"content"`
	SourceFilename string          `json:"source_filename"`
	PageNumber     *int            `json:"page_number,omitempty"`
	Bbox           *[4]float64     `json:"bbox,omitempty"`
	Similarity     float64         `json:"similarity_score"`
}

// Retrieve runs the full pipeline: expansion, HyDE, embedding, vector
// search, dedup, sort, truncate (§4.11).
func (e *Engine) Retrieve(ctx context.Context, rc reqcontext.RequestContext, q Query) ([]Match, error) {
	run, err := e.Runs.GetByID(ctx, q.RunID)
	if err != nil {
		return nil, err
	}
	ownerID := ""
	if run.OwnerID != nil {
		ownerID = *run.OwnerID
	}
	if !rc.CanRead(run.AccessLevel, ownerID) {
		return nil, apperr.NewAuthorization(fmt.Sprintf("not entitled to query run %s", q.RunID))
	}

	topK := q.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	if cached, ok := e.getCached(ctx, q.RunID, q.Text); ok {
		return truncate(cached, topK), nil
	}

	queries, err := e.expand(ctx, q.Text)
	if err != nil {
		return nil, err
	}

	embeddings, err := e.LLM.Embed(ctx, llmclient.CallContext{Pipeline: "retrieval", Step: "embed_queries", RunID: q.RunID}, e.EmbeddingModel, queries)
	if err != nil {
		return nil, err
	}

	var all []store.ChunkMatch
	for _, emb := range embeddings {
		matches, err := e.Chunks.MatchChunks(ctx, store.MatchQuery{
			Embedding:     emb,
			MinSimilarity: similarityThresh,
			Limit:         topK * 2,
			RunID:         q.RunID,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, matches...)
	}

	deduped := dedup(all)
	sort.Slice(deduped, func(i, j int) bool { return deduped[i].Similarity > deduped[j].Similarity })

	result := truncate(deduped, topK)
	e.setCached(ctx, q.RunID, q.Text, deduped)
	return result, nil
}

// expand generates up to maxQueryVariations paraphrases plus one HyDE
// passage, always including the original query text (§4.11 steps 1-2).
func (e *Engine) expand(ctx context.Context, text string) ([]string, error) {
	queries := []string{text}

	variationPrompt := fmt.Sprintf(
		"Generate up to %d alternative phrasings of this construction-domain search query, one per line, no numbering: %q",
		maxQueryVariations, text)
	variations, err := e.LLM.Complete(ctx, llmclient.CallContext{Pipeline: "retrieval", Step: "expand_query"}, e.ExpansionModel, variationPrompt, 200, 0.4)
	if err == nil {
		for _, line := range strings.Split(variations, "\n") {
			line = strings.TrimSpace(line)
			if line != "" && len(queries) <= maxQueryVariations {
				queries = append(queries, line)
			}
		}
	}

	hydePrompt := fmt.Sprintf("Write a short hypothetical passage from a construction document that would directly answer this query: %q", text)
	hyde, err := e.LLM.Complete(ctx, llmclient.CallContext{Pipeline: "retrieval", Step: "hyde"}, e.ExpansionModel, hydePrompt, 300, 0.4)
	if err == nil && strings.TrimSpace(hyde) != "" {
		queries = append(queries, hyde)
	}

	return queries, nil
}

func dedup(matches []store.ChunkMatch) []Match {
	best := make(map[string]Match)
	for _, m := range matches {
		key := contentHash(m.Chunk.Content)
		existing, ok := best[key]
		if !ok || m.Similarity > existing.Similarity {
			best[key] = toMatch(m)
		}
	}

	out := make([]Match, 0, len(best))
	for _, m := range best {
		out = append(out, m)
	}
	return out
}

func toMatch(m store.ChunkMatch) Match {
	out := Match{
		ChunkID:        m.Chunk.ID,
		Content:        m.Chunk.Content,
		SourceFilename: m.Chunk.Metadata.SourceFilename,
		Similarity:     m.Similarity,
		Bbox:           m.Chunk.Metadata.Bbox,
	}
	page := m.Chunk.Metadata.PageNumber
	out.PageNumber = &page
	return out
}

func contentHash(content string) string {
	prefix := content
	if len(prefix) > dedupPrefixChars {
		prefix = prefix[:dedupPrefixChars]
	}
	sum := sha256.Sum256([]byte(prefix))
	return fmt.Sprintf("%x", sum)
}

func truncate(matches []Match, topK int) []Match {
	if len(matches) <= topK {
		return matches
	}
	return matches[:topK]
}

func (e *Engine) cacheKey(runID, text string) string {
	return fmt.Sprintf("retrieval:%s:%x", runID, sha256.Sum256([]byte(text)))
}

func (e *Engine) getCached(ctx context.Context, runID, text string) ([]Match, bool) {
	if e.Cache == nil {
		return nil, false
	}
	raw, err := e.Cache.Get(ctx, e.cacheKey(runID, text)).Result()
	if err != nil {
		return nil, false
	}
	var matches []Match
	if err := json.Unmarshal([]byte(raw), &matches); err != nil {
		return nil, false
	}
	return matches, true
}

func (e *Engine) setCached(ctx context.Context, runID, text string, matches []Match) {
	if e.Cache == nil {
		return
	}
	raw, err := json.Marshal(matches)
	if err != nil {
		return
	}
	ttl := e.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	e.Cache.Set(ctx, e.cacheKey(runID, text), raw, ttl)
}
