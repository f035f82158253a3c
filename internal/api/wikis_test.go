package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jepras/constructionrag/internal/apperr"
	"github.com/jepras/constructionrag/internal/models"
	"github.com/jepras/constructionrag/internal/reqcontext"
)

type stubWikis struct {
	pages   []WikiPageSummary
	page    *WikiPageContent
	run     *models.WikiRun
	err     error
	pageErr error
}

func (s *stubWikis) ListPages(ctx context.Context, rc reqcontext.RequestContext, wikiRunID string) ([]WikiPageSummary, error) {
	return s.pages, s.err
}

func (s *stubWikis) GetPage(ctx context.Context, rc reqcontext.RequestContext, wikiRunID, name string) (*WikiPageContent, error) {
	if s.pageErr != nil {
		return nil, s.pageErr
	}
	return s.page, nil
}

func (s *stubWikis) GetMetadata(ctx context.Context, rc reqcontext.RequestContext, wikiRunID string) (*models.WikiRun, error) {
	return s.run, s.err
}

func newWikiServer(t *testing.T, wikis WikiService) *httptest.Server {
	t.Helper()
	s := &Server{
		Logger:     testLogger(),
		Indexing:   &stubIndexing{},
		Queries:    &stubQueries{},
		Wikis:      wikis,
		Checklists: &stubChecklists{},
	}
	return httptest.NewServer(NewRouter(s))
}

// TestListWikiPagesReturnsSummaries confirms the page listing endpoint
// renders the summaries the service returns, each with a signed URL.
func TestListWikiPagesReturnsSummaries(t *testing.T) {
	wikis := &stubWikis{pages: []WikiPageSummary{
		{Filename: "overview.md", Title: "Overview", Order: 0, Size: 420, StorageURL: "https://signed.example/overview.md"},
	}}
	srv := newWikiServer(t, wikis)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/wikis/wiki-run-1/pages")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out struct {
		Pages []WikiPageSummary `json:"pages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out.Pages) != 1 || out.Pages[0].Title != "Overview" {
		t.Errorf("pages = %+v", out.Pages)
	}
}

// TestGetWikiPageNotFoundRendersEnvelope confirms an unknown page name
// renders a 404 with the uniform error envelope.
func TestGetWikiPageNotFoundRendersEnvelope(t *testing.T) {
	wikis := &stubWikis{pageErr: apperr.NewNotFound("wiki page", "missing")}
	srv := newWikiServer(t, wikis)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/wikis/wiki-run-1/pages/missing")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

// TestGetWikiMetadataReturnsStructure confirms the metadata endpoint
// surfaces the wiki run's id, status, and structure.
func TestGetWikiMetadataReturnsStructure(t *testing.T) {
	wikis := &stubWikis{run: &models.WikiRun{
		ID:            "wiki-run-1",
		IndexingRunID: "run-1",
		Status:        models.StatusCompleted,
		WikiStructure: &models.WikiStructure{Overview: "An overview."},
	}}
	srv := newWikiServer(t, wikis)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/wikis/wiki-run-1/metadata")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out["id"] != "wiki-run-1" {
		t.Errorf("id = %v, want wiki-run-1", out["id"])
	}
}
