package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jepras/constructionrag/internal/llmclient"
	"github.com/jepras/constructionrag/internal/models"
	"github.com/jepras/constructionrag/internal/reqcontext"
	"github.com/jepras/constructionrag/internal/store"
)

type fakeRuns struct{ run *models.IndexingRun }

func (f *fakeRuns) GetByID(ctx context.Context, id string) (*models.IndexingRun, error) {
	return f.run, nil
}

type fakeMatcher struct{ matches []store.ChunkMatch }

func (f *fakeMatcher) MatchChunks(ctx context.Context, q store.MatchQuery) ([]store.ChunkMatch, error) {
	return f.matches, nil
}

func llmServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/embeddings" {
			var req struct {
				Input []string `json:"input"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			data := make([]map[string]any, len(req.Input))
			for i := range req.Input {
				data[i] = map[string]any{"index": i, "embedding": []float32{0.1, 0.2}}
			}
			json.NewEncoder(w).Encode(map[string]any{"data": data})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "variant query"}}},
		})
	}))
}

func TestRetrieveDeniesUnauthorizedAccess(t *testing.T) {
	srv := llmServer()
	defer srv.Close()

	ownerID := "owner-1"
	engine := &Engine{
		LLM:  llmclient.NewClient(srv.URL, "k", "k", "k", nil, nil),
		Runs: &fakeRuns{run: &models.IndexingRun{ID: "run1", AccessLevel: models.AccessOwner, OwnerID: &ownerID}},
	}

	_, err := engine.Retrieve(context.Background(), reqcontext.Anonymous("req1"), Query{Text: "q", RunID: "run1"})
	if err == nil {
		t.Fatal("expected authorization error for anonymous access to an owner-scoped run")
	}
}

func TestRetrieveAllowsPublicRunForAnonymous(t *testing.T) {
	srv := llmServer()
	defer srv.Close()

	engine := &Engine{
		LLM:    llmclient.NewClient(srv.URL, "k", "k", "k", nil, nil),
		Runs:   &fakeRuns{run: &models.IndexingRun{ID: "run1", AccessLevel: models.AccessPublic}},
		Chunks: &fakeMatcher{matches: []store.ChunkMatch{
			{Chunk: models.Chunk{ID: "c1", Content: "concrete spec"}, Similarity: 0.8},
		}},
	}

	got, err := engine.Retrieve(context.Background(), reqcontext.Anonymous("req1"), Query{Text: "q", RunID: "run1"})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(got) != 1 || got[0].ChunkID != "c1" {
		t.Errorf("Retrieve() = %+v, want a single match for c1", got)
	}
}

func TestDedupKeepsHighestScore(t *testing.T) {
	matches := []store.ChunkMatch{
		{Chunk: models.Chunk{ID: "a", Content: "same content here"}, Similarity: 0.5},
		{Chunk: models.Chunk{ID: "b", Content: "same content here"}, Similarity: 0.9},
	}
	out := dedup(matches)
	if len(out) != 1 {
		t.Fatalf("expected 1 deduped match, got %d", len(out))
	}
	if out[0].ChunkID != "b" {
		t.Errorf("expected higher-scoring duplicate b to win, got %s", out[0].ChunkID)
	}
}

func TestTruncateRespectsTopK(t *testing.T) {
	matches := make([]Match, 20)
	got := truncate(matches, 10)
	if len(got) != 10 {
		t.Errorf("truncate() len = %d, want 10", len(got))
	}
}
