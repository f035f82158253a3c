package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/jepras/constructionrag/internal/models"
)

func multipartIndexingRequest(t *testing.T, fields map[string]string, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field %q: %v", k, err)
		}
	}
	if filename != "" {
		part, err := w.CreateFormFile("files", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatalf("write file content: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, w.FormDataContentType()
}

// TestCreateIndexingRunReturnsAcceptedWithTrackingURL confirms a well-formed
// email upload is accepted and answered with the {run_id, tracking_url}
// shape of §6.1.
func TestCreateIndexingRunReturnsAcceptedWithTrackingURL(t *testing.T) {
	indexing := &stubIndexing{result: &CreateIndexingRunResult{RunID: "run-1", TrackingURL: "/api/v1/indexing/run-1"}}
	_, srv := newTestServer(t, indexing, &stubQueries{})
	defer srv.Close()

	body, contentType := multipartIndexingRequest(t, map[string]string{
		"upload_type": "email",
		"email":       "engineer@example.com",
	}, "plans.pdf", "%PDF-1.4 fake")

	resp, err := http.Post(srv.URL+"/api/v1/indexing", contentType, body)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out["run_id"] != "run-1" {
		t.Errorf("run_id = %q, want run-1", out["run_id"])
	}
	if out["tracking_url"] != "/api/v1/indexing/run-1" {
		t.Errorf("tracking_url = %q, want /api/v1/indexing/run-1", out["tracking_url"])
	}
}

// TestCreateIndexingRunRejectsMissingEmail confirms an email upload without
// an email address fails validation before ever reaching the service.
func TestCreateIndexingRunRejectsMissingEmail(t *testing.T) {
	indexing := &stubIndexing{result: &CreateIndexingRunResult{RunID: "should-not-be-used"}}
	_, srv := newTestServer(t, indexing, &stubQueries{})
	defer srv.Close()

	body, contentType := multipartIndexingRequest(t, map[string]string{
		"upload_type": "email",
	}, "plans.pdf", "%PDF-1.4 fake")

	resp, err := http.Post(srv.URL+"/api/v1/indexing", contentType, body)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

// TestCreateIndexingRunRejectsNoFiles confirms a request with no files[]
// part is rejected even when the form fields are otherwise valid.
func TestCreateIndexingRunRejectsNoFiles(t *testing.T) {
	indexing := &stubIndexing{}
	_, srv := newTestServer(t, indexing, &stubQueries{})
	defer srv.Close()

	body, contentType := multipartIndexingRequest(t, map[string]string{
		"upload_type": "email",
		"email":       "engineer@example.com",
	}, "", "")

	resp, err := http.Post(srv.URL+"/api/v1/indexing", contentType, body)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

// TestGetIndexingRunDeniesUnauthorizedOwner confirms an owner-scoped run is
// not visible to an anonymous requester.
func TestGetIndexingRunDeniesUnauthorizedOwner(t *testing.T) {
	ownerID := "owner-1"
	indexing := &stubIndexing{run: &models.IndexingRun{ID: "run-1", OwnerID: &ownerID, AccessLevel: models.AccessOwner}}
	_, srv := newTestServer(t, indexing, &stubQueries{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/indexing/run-1")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

// TestGetIndexingRunAllowsPublicRun confirms a public email-upload run is
// visible to an anonymous requester.
func TestGetIndexingRunAllowsPublicRun(t *testing.T) {
	indexing := &stubIndexing{run: &models.IndexingRun{ID: "run-1", AccessLevel: models.AccessPublic, StepResults: map[models.StepName]*models.StepResult{}}}
	_, srv := newTestServer(t, indexing, &stubQueries{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/indexing/run-1")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
