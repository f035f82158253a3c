package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/jepras/constructionrag/internal/apperr"
	"github.com/jepras/constructionrag/internal/generation"
	"github.com/jepras/constructionrag/internal/models"
	"github.com/jepras/constructionrag/internal/reqcontext"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type stubIndexing struct {
	createErr error
	result    *CreateIndexingRunResult
	run       *models.IndexingRun
	getErr    error
}

func (s *stubIndexing) CreateRun(ctx context.Context, rc reqcontext.RequestContext, req CreateIndexingRunRequest) (*CreateIndexingRunResult, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	return s.result, nil
}

func (s *stubIndexing) RunStatus(ctx context.Context, rc reqcontext.RequestContext, runID string) (*models.IndexingRun, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.run, nil
}

type stubQueries struct {
	answer *generation.Answer
	err    error
}

func (s *stubQueries) Ask(ctx context.Context, rc reqcontext.RequestContext, ownerID, query, indexingRunID string) (*generation.Answer, error) {
	return s.answer, s.err
}

func newTestServer(t *testing.T, indexing IndexingService, queries QueryService) (*Server, *httptest.Server) {
	t.Helper()
	s := &Server{
		Logger:     testLogger(),
		Indexing:   indexing,
		Queries:    queries,
		Wikis:      &stubWikis{},
		Checklists: &stubChecklists{},
	}
	router := NewRouter(s)
	return s, httptest.NewServer(router)
}

// TestErrorMiddlewareRendersAppErrEnvelope confirms a typed apperr.Error
// surfaces as the uniform {code, message, request_id, timestamp} envelope
// with the right HTTP status for its category.
func TestErrorMiddlewareRendersAppErrEnvelope(t *testing.T) {
	indexing := &stubIndexing{getErr: apperr.NewNotFound("indexing run", "missing-1")}
	_, srv := newTestServer(t, indexing, &stubQueries{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/indexing/missing-1")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	var body envelope
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.RequestID == "" {
		t.Error("expected a non-empty request_id")
	}
	if body.Timestamp == "" {
		t.Error("expected a non-empty timestamp")
	}
}

// TestErrorMiddlewareWrapsUnknownErrors confirms a plain (non-apperr) error
// still renders as a well-formed envelope instead of leaking raw error text.
func TestErrorMiddlewareWrapsUnknownErrors(t *testing.T) {
	indexing := &stubIndexing{getErr: errors.New("boom")}
	_, srv := newTestServer(t, indexing, &stubQueries{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/indexing/run-1")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}

	var body envelope
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Code != "internal.unexpected" {
		t.Errorf("code = %q, want internal.unexpected", body.Code)
	}
}

// TestRequestIDHeaderIsEchoed confirms an inbound X-Request-ID is carried
// through to the response header untouched.
func TestRequestIDHeaderIsEchoed(t *testing.T) {
	indexing := &stubIndexing{run: &models.IndexingRun{ID: "run-1", AccessLevel: models.AccessPublic}}
	_, srv := newTestServer(t, indexing, &stubQueries{})
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/indexing/run-1", nil)
	req.Header.Set("X-Request-ID", "req-fixed-1")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("X-Request-ID"); got != "req-fixed-1" {
		t.Errorf("X-Request-ID = %q, want req-fixed-1", got)
	}
}
