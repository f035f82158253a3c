package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jepras/constructionrag/internal/chunking"
	"github.com/jepras/constructionrag/internal/config"
	"github.com/jepras/constructionrag/internal/llmclient"
	"github.com/jepras/constructionrag/internal/models"
	"github.com/jepras/constructionrag/internal/reqcontext"
)

type fakeRunStore struct {
	mu       sync.Mutex
	statuses []models.RunStatus
	lastErr  string
}

func (f *fakeRunStore) UpdateStatus(ctx context.Context, id string, status models.RunStatus, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	f.lastErr = errMessage
	return nil
}

func (f *fakeRunStore) UpdateStepResult(ctx context.Context, runID string, step models.StepName, result *models.StepResult) error {
	return nil
}

type fakeDocumentStore struct {
	mu       sync.Mutex
	statuses map[string][]models.RunStatus
}

func newFakeDocumentStore() *fakeDocumentStore {
	return &fakeDocumentStore{statuses: map[string][]models.RunStatus{}}
}

func (f *fakeDocumentStore) UpdateStepResult(ctx context.Context, documentID string, step models.StepName, result *models.StepResult) error {
	return nil
}

func (f *fakeDocumentStore) UpdateStatus(ctx context.Context, id string, status models.RunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = append(f.statuses[id], status)
	return nil
}

func (f *fakeDocumentStore) UpdatePageCount(ctx context.Context, id string, pageCount int) error {
	return nil
}

func (f *fakeDocumentStore) last(id string) models.RunStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.statuses[id]
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

type fakeChunkStore struct {
	created []*models.Chunk
	set     map[string][]float32
}

func (f *fakeChunkStore) BulkCreate(ctx context.Context, chunks []*models.Chunk) error {
	f.created = append(f.created, chunks...)
	return nil
}

func (f *fakeChunkStore) ChunkIDsWithEmbeddings(ctx context.Context, documentID string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

func (f *fakeChunkStore) SetEmbedding(ctx context.Context, chunkID string, embedding []float32) error {
	if f.set == nil {
		f.set = map[string][]float32{}
	}
	f.set[chunkID] = embedding
	return nil
}

type erroringObjects struct{ err error }

func (e *erroringObjects) Get(ctx context.Context, rc reqcontext.RequestContext, path string) (io.ReadCloser, error) {
	return nil, e.err
}

func (e *erroringObjects) Put(ctx context.Context, path string, reader io.Reader, size int64, contentType string) error {
	return e.err
}

func (e *erroringObjects) SignedURL(ctx context.Context, rc reqcontext.RequestContext, path string, ttl time.Duration) (string, error) {
	return "", e.err
}

func testConfig() config.Config {
	return config.Config{
		Orchestration: config.OrchestrationConfig{MaxConcurrentDocuments: 2, StepTimeoutMinutes: 30},
		Embedding:     config.EmbeddingConfig{Model: "embed-model", Dimension: models.EmbeddingDimension},
	}
}

func TestRunFailsWhenDocumentFetchFails(t *testing.T) {
	runs := &fakeRunStore{}
	docs := newFakeDocumentStore()
	chunksStore := &fakeChunkStore{}

	o := New(Deps{
		Objects:   &erroringObjects{err: errors.New("object not found")},
		Runs:      runs,
		Documents: docs,
		Chunks:    chunksStore,
	}, testConfig())

	run := &models.IndexingRun{ID: "run1", UploadType: models.UploadEmail}
	err := o.Run(context.Background(), run, []DocumentInput{{DocumentID: "doc1", StoragePath: "p/doc1.pdf"}})
	if err == nil {
		t.Fatal("expected Run to fail when the document cannot be fetched")
	}
	if docs.last("doc1") != models.StatusFailed {
		t.Errorf("expected doc1 status failed, got %v", docs.last("doc1"))
	}
	if len(runs.statuses) == 0 || runs.statuses[len(runs.statuses)-1] != models.StatusFailed {
		t.Errorf("expected run status failed, got %v", runs.statuses)
	}
}

func TestToChunksPreservesOrderAndFilename(t *testing.T) {
	drafts := []chunking.Draft{
		{Content: "first", Page: 1},
		{Content: "second", Page: 2},
	}
	out := toChunks("run1", "doc1", "spec.pdf", drafts)
	if len(out) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(out))
	}
	for i, c := range out {
		if c.ChunkIndex != i {
			t.Errorf("chunk %d has index %d", i, c.ChunkIndex)
		}
		if c.Metadata.SourceFilename != "spec.pdf" {
			t.Errorf("expected filename propagated, got %q", c.Metadata.SourceFilename)
		}
	}
}

func embeddingServer(dim int, fail bool) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var req struct {
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"index": i, "embedding": make([]float32, dim)}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
}

func TestRunEmbeddingMarksDocumentsCompleted(t *testing.T) {
	srv := embeddingServer(models.EmbeddingDimension, false)
	defer srv.Close()

	docs := newFakeDocumentStore()
	runs := &fakeRunStore{}
	chunksStore := &fakeChunkStore{}

	o := New(Deps{
		LLM:       llmclient.NewClient(srv.URL, "k", "k", "k", nil, nil),
		Runs:      runs,
		Documents: docs,
		Chunks:    chunksStore,
	}, testConfig())

	chunks := []*models.Chunk{
		{ID: "c1", DocumentID: "doc1", Content: "alpha"},
		{ID: "c2", DocumentID: "doc1", Content: "beta"},
	}

	if err := o.runEmbedding(context.Background(), &models.IndexingRun{ID: "run1"}, chunks); err != nil {
		t.Fatalf("runEmbedding() error = %v", err)
	}
	if docs.last("doc1") != models.StatusCompleted {
		t.Errorf("expected doc1 completed after embedding, got %v", docs.last("doc1"))
	}
}

func TestRunEmbeddingFailurePropagates(t *testing.T) {
	srv := embeddingServer(models.EmbeddingDimension, true)
	defer srv.Close()

	docs := newFakeDocumentStore()
	runs := &fakeRunStore{}
	chunksStore := &fakeChunkStore{}

	o := New(Deps{
		LLM:       llmclient.NewClient(srv.URL, "k", "k", "k", nil, nil),
		Runs:      runs,
		Documents: docs,
		Chunks:    chunksStore,
	}, testConfig())

	chunks := []*models.Chunk{{ID: "c1", DocumentID: "doc1", Content: "alpha"}}
	err := o.runEmbedding(context.Background(), &models.IndexingRun{ID: "run1"}, chunks)
	if err == nil {
		t.Fatal("expected runEmbedding to propagate the client error")
	}
	if docs.last("doc1") != models.StatusFailed {
		t.Errorf("expected doc1 marked failed, got %v", docs.last("doc1"))
	}
}
