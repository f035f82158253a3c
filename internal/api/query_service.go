package api

import (
	"context"

	"github.com/jepras/constructionrag/internal/generation"
	"github.com/jepras/constructionrag/internal/reqcontext"
	"github.com/jepras/constructionrag/internal/retrieval"
)

// queryAsker is the subset of generation.Engine QueryService needs.
type queryAsker interface {
	Generate(ctx context.Context, rc reqcontext.RequestContext, ownerID string, q retrieval.Query) (*generation.Answer, error)
}

// QueryRunner implements QueryService on top of the generation engine.
type QueryRunner struct {
	Generation queryAsker
}

func (q *QueryRunner) Ask(ctx context.Context, rc reqcontext.RequestContext, ownerID, query, indexingRunID string) (*generation.Answer, error) {
	return q.Generation.Generate(ctx, rc, ownerID, retrieval.Query{Text: query, RunID: indexingRunID})
}
