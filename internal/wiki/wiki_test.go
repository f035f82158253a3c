package wiki

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jepras/constructionrag/internal/config"
	"github.com/jepras/constructionrag/internal/llmclient"
	"github.com/jepras/constructionrag/internal/models"
	"github.com/jepras/constructionrag/internal/reqcontext"
	"github.com/jepras/constructionrag/internal/retrieval"
)

type fakeRunLookup struct{ run *models.IndexingRun }

func (f *fakeRunLookup) GetByID(ctx context.Context, id string) (*models.IndexingRun, error) {
	return f.run, nil
}

type fakeDocumentLister struct{ docs []*models.Document }

func (f *fakeDocumentLister) DocumentIDsForRun(ctx context.Context, runID string) ([]string, error) {
	ids := make([]string, len(f.docs))
	for i, d := range f.docs {
		ids[i] = d.ID
	}
	return ids, nil
}

func (f *fakeDocumentLister) ListByIDs(ctx context.Context, ids []string) ([]*models.Document, error) {
	return f.docs, nil
}

type fakeChunkLister struct{ chunks []*models.Chunk }

func (f *fakeChunkLister) ListByRunWithEmbeddings(ctx context.Context, runID string) ([]*models.Chunk, error) {
	return f.chunks, nil
}

type fakeWikiRunStore struct {
	mu       sync.Mutex
	created  []*models.WikiRun
	statuses []models.RunStatus
	latest   *models.WikiRun
}

func (f *fakeWikiRunStore) Create(ctx context.Context, run *models.WikiRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run.ID = "wikirun-1"
	f.created = append(f.created, run)
	return nil
}

func (f *fakeWikiRunStore) UpdateStructure(ctx context.Context, id string, structure *models.WikiStructure) error {
	return nil
}

func (f *fakeWikiRunStore) UpdateStepResult(ctx context.Context, runID string, step string, result *models.StepResult) error {
	return nil
}

func (f *fakeWikiRunStore) UpdateStatus(ctx context.Context, id string, status models.RunStatus, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeWikiRunStore) GetLatestForIndexingRun(ctx context.Context, indexingRunID string) (*models.WikiRun, error) {
	if f.latest == nil {
		return nil, errNotFound
	}
	return f.latest, nil
}

var errNotFound = &notFoundErr{}

type notFoundErr struct{}

func (e *notFoundErr) Error() string { return "not found" }

type fakeWikiPageStore struct {
	mu      sync.Mutex
	created []*models.WikiPageMetadata
}

func (f *fakeWikiPageStore) Create(ctx context.Context, p *models.WikiPageMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, p)
	return nil
}

type fakeObjectPutter struct {
	mu   sync.Mutex
	puts map[string]string
}

func (f *fakeObjectPutter) Put(ctx context.Context, path string, reader io.Reader, size int64, contentType string) error {
	return nil
}

type fakeRetriever struct{ matches []retrieval.Match }

func (f *fakeRetriever) Retrieve(ctx context.Context, rc reqcontext.RequestContext, q retrieval.Query) ([]retrieval.Match, error) {
	return f.matches, nil
}

type fakeNotifier struct {
	calls chan struct {
		email, project, url string
	}
}

func (f *fakeNotifier) Notify(ctx context.Context, email, projectName, publicWikiURL string) error {
	f.calls <- struct{ email, project, url string }{email, projectName, publicWikiURL}
	return nil
}

func wikiLLMServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		var content string
		switch req.Model {
		case "structure-model":
			content = `[{"id":"p1","title":"Foundations","description":"Foundation requirements","queries":["What are the footing requirements?"],"relevance_score":0.9}]`
		case "naming-model":
			content = "Foundation Requirements"
		case "overview-model":
			content = "This project concerns a concrete foundation retrofit."
		default: // page-model
			content = "# Foundations\n\nAll footings bear on undisturbed soil [1]."
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": content}}},
		})
	}))
}

func testRun(uploadType models.UploadType) *models.IndexingRun {
	return &models.IndexingRun{ID: "run1", UploadType: uploadType, AccessLevel: models.AccessPublic}
}

func sampleChunks() []*models.Chunk {
	return []*models.Chunk{
		{ID: "c1", DocumentID: "d1", RunID: "run1", Content: "Footings shall bear on undisturbed soil.", Embedding: []float32{0, 0}, Metadata: models.ChunkMetadata{SourceFilename: "spec.pdf", PageNumber: 3}},
		{ID: "c2", DocumentID: "d1", RunID: "run1", Content: "Concrete shall be 4000 psi.", Embedding: []float32{0, 0.1}, Metadata: models.ChunkMetadata{SourceFilename: "spec.pdf", PageNumber: 4}},
		{ID: "c3", DocumentID: "d1", RunID: "run1", Content: "Rebar shall be grade 60.", Embedding: []float32{10, 10}, Metadata: models.ChunkMetadata{SourceFilename: "spec.pdf", PageNumber: 5}},
	}
}

func TestRunSkipsRegenerationWhenCompletedWikiExists(t *testing.T) {
	wikiRuns := &fakeWikiRunStore{latest: &models.WikiRun{ID: "existing", Status: models.StatusCompleted}}

	engine := New(Deps{WikiRuns: wikiRuns}, config.WikiConfig{RegenerateOnRerun: false})

	got, err := engine.Run(context.Background(), Request{IndexingRunID: "run1"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got.ID != "existing" {
		t.Errorf("expected the existing completed wiki run to be returned, got %+v", got)
	}
	if len(wikiRuns.created) != 0 {
		t.Error("expected no new wiki run to be created when regeneration is disabled and a completed run exists")
	}
}

func TestRunFailsWhenNoChunksHaveEmbeddings(t *testing.T) {
	engine := New(Deps{
		Runs:      &fakeRunLookup{run: testRun(models.UploadUserProject)},
		Documents: &fakeDocumentLister{},
		Chunks:    &fakeChunkLister{},
		WikiRuns:  &fakeWikiRunStore{},
	}, config.WikiConfig{RegenerateOnRerun: true})

	_, err := engine.Run(context.Background(), Request{IndexingRunID: "run1"})
	if err == nil {
		t.Fatal("expected Run to fail when the indexing run produced no chunks")
	}
}

func TestRunGeneratesPagesForProjectUpload(t *testing.T) {
	srv := wikiLLMServer(t)
	defer srv.Close()

	wikiRuns := &fakeWikiRunStore{}
	pages := &fakeWikiPageStore{}
	chunks := sampleChunks()

	page := 3
	engine := New(Deps{
		LLM:       llmclient.NewClient(srv.URL, "k", "k", "k", nil, nil),
		Runs:      &fakeRunLookup{run: testRun(models.UploadUserProject)},
		Documents: &fakeDocumentLister{docs: []*models.Document{{ID: "d1", Filename: "spec.pdf"}}},
		Chunks:    &fakeChunkLister{chunks: chunks},
		WikiRuns:  wikiRuns,
		WikiPages: pages,
		Objects:   &fakeObjectPutter{},
		Retrieval: &fakeRetriever{matches: []retrieval.Match{
			{ChunkID: "c1", Content: "Footings shall bear on undisturbed soil.", SourceFilename: "spec.pdf", PageNumber: &page},
		}},
		OverviewModel:  "overview-model",
		NamingModel:    "naming-model",
		StructureModel: "structure-model",
		PageModel:      "page-model",
	}, config.WikiConfig{RegenerateOnRerun: true, MaxConcurrentPages: 2, ClusterMinK: 2, ClusterMaxK: 2, ChunksPerCluster: 2})

	got, err := engine.Run(context.Background(), Request{IndexingRunID: "run1"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Errorf("expected run status completed, got %v", got.Status)
	}
	if len(pages.created) != 1 {
		t.Fatalf("expected one wiki page persisted, got %d", len(pages.created))
	}
	if pages.created[0].Title != "Foundations" {
		t.Errorf("expected page title from structure plan, got %q", pages.created[0].Title)
	}
}

func TestNotifyFiresOnlyForEmailUploads(t *testing.T) {
	notifier := &fakeNotifier{calls: make(chan struct {
		email, project, url string
	}, 1)}
	engine := New(Deps{Notifier: notifier}, config.WikiConfig{})

	engine.notify(context.Background(), Request{NotifyEmail: "a@b.com", ProjectName: "Proj", PublicWikiURLBase: "https://wiki.example.com"},
		testRun(models.UploadEmail), &models.WikiRun{ID: "wr1"})

	select {
	case call := <-notifier.calls:
		if call.email != "a@b.com" || !strings.Contains(call.url, "wr1") {
			t.Errorf("unexpected notification payload: %+v", call)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a notification for an email upload")
	}
}

func TestNotifySkipsProjectUploads(t *testing.T) {
	notifier := &fakeNotifier{calls: make(chan struct {
		email, project, url string
	}, 1)}
	engine := New(Deps{Notifier: notifier}, config.WikiConfig{})

	engine.notify(context.Background(), Request{NotifyEmail: "a@b.com"}, testRun(models.UploadUserProject), &models.WikiRun{ID: "wr1"})

	select {
	case call := <-notifier.calls:
		t.Fatalf("expected no notification for a project upload, got %+v", call)
	case <-time.After(100 * time.Millisecond):
	}
}
