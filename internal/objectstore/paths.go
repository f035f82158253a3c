package objectstore

import "fmt"

// Paths implements the storage path grammar of §6.5. Uploaded PDFs and
// generated wiki pages derive their keys from these constructors. Rendered
// page images are not written through EmailImagePath or ProjectImagePath:
// the indexing orchestrator stores them under its own
// runs/{run_id}/documents/{document_id}/pages/ key. No two runs ever compute
// the same path because run/project/document ids are unique.

func EmailPDFPath(runID, docID string) string {
	return fmt.Sprintf("email-uploads/%s/pdfs/%s.pdf", runID, docID)
}

func EmailWikiPagePath(runID, wikiRunID, pageName string) string {
	return fmt.Sprintf("email-uploads/%s/generated/wiki/%s/%s.md", runID, wikiRunID, pageName)
}

func EmailImagePath(runID, imageID string) string {
	return fmt.Sprintf("email-uploads/%s/generated/images/%s.png", runID, imageID)
}

func ProjectPDFPath(ownerID, projectID, runID, docID string) string {
	return fmt.Sprintf("users/%s/projects/%s/index-runs/%s/pdfs/%s.pdf", ownerID, projectID, runID, docID)
}

func ProjectWikiPagePath(ownerID, projectID, runID, wikiRunID, pageName string) string {
	return fmt.Sprintf("users/%s/projects/%s/index-runs/%s/generated/wiki/%s/%s.md", ownerID, projectID, runID, wikiRunID, pageName)
}

func ProjectImagePath(ownerID, projectID, runID, imageID string) string {
	return fmt.Sprintf("users/%s/projects/%s/index-runs/%s/generated/images/%s.png", ownerID, projectID, runID, imageID)
}
