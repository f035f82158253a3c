package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jepras/constructionrag/internal/llmclient"
	"github.com/jepras/constructionrag/internal/models"
	"github.com/jepras/constructionrag/internal/reqcontext"
	"github.com/jepras/constructionrag/internal/retrieval"
)

type fakeRetriever struct {
	matches []retrieval.Match
}

func (f *fakeRetriever) Retrieve(ctx context.Context, rc reqcontext.RequestContext, q retrieval.Query) ([]retrieval.Match, error) {
	return f.matches, nil
}

type fakeRunStore struct {
	created []*models.QueryRun
}

func (f *fakeRunStore) Create(ctx context.Context, q *models.QueryRun) error {
	f.created = append(f.created, q)
	return nil
}

func completeServer(answer string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": answer}}},
		})
	}))
}

func TestGenerateBuildsCitedAnswerAndPersistsRun(t *testing.T) {
	srv := completeServer("Footings bear on undisturbed soil [1].")
	defer srv.Close()

	page := 4
	runs := &fakeRunStore{}
	engine := &Engine{
		LLM: llmclient.NewClient(srv.URL, "k", "k", "k", nil, nil),
		Retrieval: &fakeRetriever{matches: []retrieval.Match{
			{ChunkID: "c1", Content: "All footings shall bear on undisturbed soil.", SourceFilename: "spec.pdf", PageNumber: &page, Similarity: 0.9},
		}},
		Runs:  runs,
		Model: "reasoning-model",
	}

	answer, err := engine.Generate(context.Background(), reqcontext.Anonymous("req1"), "owner-1", retrieval.Query{Text: "What do footings bear on?", RunID: "run1"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !strings.Contains(answer.Text, "undisturbed soil") {
		t.Errorf("expected answer text from model, got %q", answer.Text)
	}
	if len(answer.Citations) != 1 || answer.Citations[0].SourceFilename != "spec.pdf" {
		t.Errorf("expected one citation for spec.pdf, got %+v", answer.Citations)
	}
	if len(runs.created) != 1 {
		t.Fatalf("expected one query run persisted, got %d", len(runs.created))
	}
	if runs.created[0].FinalResponse != answer.Text {
		t.Errorf("persisted run's final response should match returned answer text")
	}
	if runs.created[0].OwnerID == nil || *runs.created[0].OwnerID != "owner-1" {
		t.Errorf("expected owner id propagated onto the persisted run")
	}
}

func TestBuildPromptIncludesEachMatchWithCitation(t *testing.T) {
	page := 2
	prompt := buildPrompt("load rating?", []retrieval.Match{
		{Content: "Beam B1 rated for 40kN.", SourceFilename: "structural.pdf", PageNumber: &page},
	})
	if !strings.Contains(prompt, "structural.pdf p.2") {
		t.Errorf("expected prompt to cite source and page, got %q", prompt)
	}
	if !strings.Contains(prompt, "Beam B1 rated for 40kN.") {
		t.Errorf("expected prompt to include chunk content")
	}
}
