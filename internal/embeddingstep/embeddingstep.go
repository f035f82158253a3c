// Package embeddingstep is the Embedding Step (C10, §4.10): a single batched
// embedding pass over every chunk produced across a run, with resume-by-
// skipping support and a hard dimension-mismatch check.
package embeddingstep

import (
	"context"

	"github.com/jepras/constructionrag/internal/apperr"
	"github.com/jepras/constructionrag/internal/llmclient"
	"github.com/jepras/constructionrag/internal/models"
)

const (
	maxBatchTexts = 100
	maxBatchChars = 90_000 * 4 // rough chars-per-token heuristic for the ≈90k token budget
)

// ChunkStore is the subset of ChunkRepository the embedding step depends on,
// kept narrow so it can be faked in tests.
type ChunkStore interface {
	ChunkIDsWithEmbeddings(ctx context.Context, documentID string) (map[string]bool, error)
	SetEmbedding(ctx context.Context, chunkID string, embedding []float32) error
}

// Run embeds every chunk not already embedded, batching up to maxBatchTexts
// texts and maxBatchChars per API call, and persists each embedding
// immediately so a crash mid-run only re-embeds the remainder (§4.10).
func Run(ctx context.Context, client *llmclient.Client, cc llmclient.CallContext, store ChunkStore, model string, chunks []*models.Chunk) error {
	byDocument := make(map[string]map[string]bool)
	var pending []*models.Chunk

	for _, c := range chunks {
		done, ok := byDocument[c.DocumentID]
		if !ok {
			var err error
			done, err = store.ChunkIDsWithEmbeddings(ctx, c.DocumentID)
			if err != nil {
				return err
			}
			byDocument[c.DocumentID] = done
		}
		if done[c.ID] {
			continue
		}
		pending = append(pending, c)
	}

	for _, batch := range batches(pending) {
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		embeddings, err := client.Embed(ctx, cc, model, texts)
		if err != nil {
			return err
		}
		if len(embeddings) != len(batch) {
			return apperr.NewEmbeddingError(apperr.KindDimensionMismatch, "embedding response count did not match batch size")
		}

		for i, c := range batch {
			if len(embeddings[i]) != models.EmbeddingDimension {
				return apperr.NewEmbeddingError(apperr.KindDimensionMismatch, "embedding dimension mismatch, refusing to persist")
			}
			if err := store.SetEmbedding(ctx, c.ID, embeddings[i]); err != nil {
				return err
			}
		}
	}

	return nil
}

// batches groups chunks respecting both the text-count and approximate
// char-budget limits of §4.10.
func batches(chunks []*models.Chunk) [][]*models.Chunk {
	var out [][]*models.Chunk
	var cur []*models.Chunk
	chars := 0

	for _, c := range chunks {
		if len(cur) >= maxBatchTexts || (chars+len(c.Content) > maxBatchChars && len(cur) > 0) {
			out = append(out, cur)
			cur = nil
			chars = 0
		}
		cur = append(cur, c)
		chars += len(c.Content)
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}
