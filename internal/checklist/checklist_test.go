package checklist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/jepras/constructionrag/internal/llmclient"
	"github.com/jepras/constructionrag/internal/models"
	"github.com/jepras/constructionrag/internal/reqcontext"
	"github.com/jepras/constructionrag/internal/retrieval"
)

type fakeRunStore struct {
	mu       sync.Mutex
	created  *models.ChecklistRun
	progress []int
	statuses []models.RunStatus
	appended []*models.ChecklistResult
}

func (f *fakeRunStore) Create(ctx context.Context, run *models.ChecklistRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run.ID = "checklist-run-1"
	f.created = run
	return nil
}

func (f *fakeRunStore) UpdateProgress(ctx context.Context, id string, current, total int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, current)
	return nil
}

func (f *fakeRunStore) UpdateStatus(ctx context.Context, id string, status models.RunStatus, rawOutput, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeRunStore) AppendResults(ctx context.Context, runID string, results []*models.ChecklistResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, results...)
	return nil
}

type fakeRetriever struct{ matches map[string][]retrieval.Match }

func (f *fakeRetriever) Retrieve(ctx context.Context, rc reqcontext.RequestContext, q retrieval.Query) ([]retrieval.Match, error) {
	return f.matches[q.Text], nil
}

func checklistLLMServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		var content string
		switch req.Model {
		case "parse-model":
			content = `[{"item_number":1,"item_name":"Fire-rated doors specified","queries":["What fire rating do doors require?"]}]`
		case "analyze-model":
			content = "Item 1: the specification calls out a 90-minute fire rating for all corridor doors [spec.pdf p.12]."
		default: // structure-model
			content = `[{"item_number":1,"item_name":"Fire-rated doors specified","status":"found","description":"Corridor doors must carry a 90-minute rating.","confidence_score":0.9,"source_document":"spec.pdf","source_page":12,"source_excerpt":"90-minute fire rating","all_sources":[{"document":"spec.pdf","page":12,"excerpt":"90-minute fire rating"}]}]`
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": content}}},
		})
	}))
}

func TestRunProducesStructuredResults(t *testing.T) {
	srv := checklistLLMServer(t)
	defer srv.Close()

	runs := &fakeRunStore{}
	page := 12
	retriever := &fakeRetriever{matches: map[string][]retrieval.Match{
		"What fire rating do doors require?": {
			{ChunkID: "c1", Content: "All corridor doors shall carry a 90-minute fire rating.", SourceFilename: "spec.pdf", PageNumber: &page},
		},
	}}

	engine := New(Deps{
		LLM:            llmclient.NewClient(srv.URL, "k", "k", "k", nil, nil),
		Runs:           runs,
		Retrieval:      retriever,
		ParseModel:     "parse-model",
		AnalyzeModel:   "analyze-model",
		StructureModel: "structure-model",
	})

	got, err := engine.Run(context.Background(), Request{
		IndexingRunID:    "run1",
		ChecklistContent: "1. Fire-rated doors specified",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Errorf("expected run status completed, got %v", got.Status)
	}
	if len(got.Results) != 1 {
		t.Fatalf("expected one structured result, got %d", len(got.Results))
	}
	result := got.Results[0]
	if result.Status != models.ChecklistFound {
		t.Errorf("expected status found, got %v", result.Status)
	}
	if result.SourceDocument != "spec.pdf" || result.SourcePage == nil || *result.SourcePage != 12 {
		t.Errorf("expected source attribution to spec.pdf p.12, got %+v", result)
	}
	if len(runs.appended) != 1 {
		t.Errorf("expected results persisted via AppendResults, got %d", len(runs.appended))
	}
	if len(runs.progress) == 0 || runs.progress[len(runs.progress)-1] != 1 {
		t.Errorf("expected progress to reach item count, got %v", runs.progress)
	}
}

func TestRunFailsWhenChecklistParsesToNoItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "[]"}}},
		})
	}))
	defer srv.Close()

	runs := &fakeRunStore{}
	engine := New(Deps{
		LLM:        llmclient.NewClient(srv.URL, "k", "k", "k", nil, nil),
		Runs:       runs,
		ParseModel: "parse-model",
	})

	_, err := engine.Run(context.Background(), Request{IndexingRunID: "run1", ChecklistContent: "nothing parseable"})
	if err == nil {
		t.Fatal("expected Run to fail when no items are parsed")
	}
	if len(runs.statuses) == 0 || runs.statuses[len(runs.statuses)-1] != models.StatusFailed {
		t.Errorf("expected the run to be marked failed, got %v", runs.statuses)
	}
}

func TestValidStatusRejectsUnknownValues(t *testing.T) {
	if validStatus(models.ChecklistStatus("not_a_status")) {
		t.Error("expected an unrecognized status to be invalid")
	}
	if !validStatus(models.ChecklistRisk) {
		t.Error("expected the risk status to be valid")
	}
}
