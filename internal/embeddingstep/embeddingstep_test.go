package embeddingstep

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jepras/constructionrag/internal/llmclient"
	"github.com/jepras/constructionrag/internal/models"
)

type fakeChunkStore struct {
	alreadyEmbedded map[string]map[string]bool
	set             map[string][]float32
}

func (f *fakeChunkStore) ChunkIDsWithEmbeddings(ctx context.Context, documentID string) (map[string]bool, error) {
	if f.alreadyEmbedded == nil {
		return map[string]bool{}, nil
	}
	return f.alreadyEmbedded[documentID], nil
}

func (f *fakeChunkStore) SetEmbedding(ctx context.Context, chunkID string, embedding []float32) error {
	if f.set == nil {
		f.set = map[string][]float32{}
	}
	f.set[chunkID] = embedding
	return nil
}

func embeddingServer(dim int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			vec := make([]float32, dim)
			data[i] = map[string]any{"index": i, "embedding": vec}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
}

func TestRunSkipsAlreadyEmbeddedChunks(t *testing.T) {
	srv := embeddingServer(models.EmbeddingDimension)
	defer srv.Close()
	client := llmclient.NewClient(srv.URL, "k", "k", "k", nil, nil)

	store := &fakeChunkStore{alreadyEmbedded: map[string]map[string]bool{"doc1": {"c1": true}}}
	chunks := []*models.Chunk{
		{ID: "c1", DocumentID: "doc1", Content: "already done"},
		{ID: "c2", DocumentID: "doc1", Content: "needs embedding"},
	}

	if err := Run(context.Background(), client, llmclient.CallContext{}, store, "embed-model", chunks); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, ok := store.set["c1"]; ok {
		t.Error("c1 should have been skipped, not re-embedded")
	}
	if _, ok := store.set["c2"]; !ok {
		t.Error("c2 should have been embedded")
	}
}

func TestRunDimensionMismatchIsFatal(t *testing.T) {
	srv := embeddingServer(7) // wrong dimension
	defer srv.Close()
	client := llmclient.NewClient(srv.URL, "k", "k", "k", nil, nil)

	store := &fakeChunkStore{}
	chunks := []*models.Chunk{{ID: "c1", DocumentID: "doc1", Content: "text"}}

	err := Run(context.Background(), client, llmclient.CallContext{}, store, "embed-model", chunks)
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
	if !strings.Contains(err.Error(), "dimension") {
		t.Errorf("expected dimension mismatch error, got %v", err)
	}
}

func TestBatchesRespectsMaxBatchTexts(t *testing.T) {
	chunks := make([]*models.Chunk, maxBatchTexts+5)
	for i := range chunks {
		chunks[i] = &models.Chunk{ID: string(rune(i)), Content: "x"}
	}
	out := batches(chunks)
	if len(out) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(out))
	}
	if len(out[0]) != maxBatchTexts {
		t.Errorf("first batch size = %d, want %d", len(out[0]), maxBatchTexts)
	}
}
