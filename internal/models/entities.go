package models

import (
	"encoding/json"
	"time"
)

// Project is a logical container owned by a user (§3.1).
type Project struct {
	ID          string      `db:"id" json:"id"`
	OwnerID     string      `db:"owner_id" json:"owner_id"`
	Name        string      `db:"name" json:"name"`
	AccessLevel AccessLevel `db:"access_level" json:"access_level"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
}

// IndexingRun is one processing attempt over a set of documents (§3.1).
type IndexingRun struct {
	ID             string                 `db:"id" json:"id"`
	UploadType     UploadType             `db:"upload_type" json:"upload_type"`
	OwnerID        *string                `db:"owner_id" json:"owner_id,omitempty"`
	ProjectID      *string                `db:"project_id" json:"project_id,omitempty"`
	Status         RunStatus              `db:"status" json:"status"`
	AccessLevel    AccessLevel            `db:"access_level" json:"access_level"`
	StepResults    map[StepName]*StepResult `db:"step_results" json:"step_results"`
	PipelineConfig json.RawMessage        `db:"pipeline_config" json:"pipeline_config,omitempty"`
	StartedAt      time.Time              `db:"started_at" json:"started_at"`
	CompletedAt    *time.Time             `db:"completed_at" json:"completed_at,omitempty"`
	ErrorMessage   string                 `db:"error_message" json:"error_message,omitempty"`
}

// NewIndexingRun builds a pending run honoring the email-upload invariants of §3.1(a).
func NewIndexingRun(id string, uploadType UploadType, ownerID, projectID *string) *IndexingRun {
	run := &IndexingRun{
		ID:          id,
		UploadType:  uploadType,
		OwnerID:     ownerID,
		ProjectID:   projectID,
		Status:      StatusPending,
		StepResults: make(map[StepName]*StepResult),
		StartedAt:   time.Now(),
	}
	if uploadType == UploadEmail {
		run.OwnerID = nil
		run.AccessLevel = AccessPublic
	} else {
		run.AccessLevel = AccessOwner
	}
	return run
}

// CurrentStep returns the first non-completed step in StepOrder, or "" if all completed.
func CurrentStep(results map[StepName]*StepResult) StepName {
	for _, step := range StepOrder {
		r, ok := results[step]
		if !ok || r.Status != StatusCompleted {
			return step
		}
	}
	return ""
}

// Document is a single uploaded PDF (§3.1).
type Document struct {
	ID          string                    `db:"id" json:"id"`
	OwnerID     *string                   `db:"owner_id" json:"owner_id,omitempty"`
	AccessLevel AccessLevel               `db:"access_level" json:"access_level"`
	Filename    string                    `db:"filename" json:"filename"`
	SizeBytes   int64                     `db:"size_bytes" json:"size_bytes"`
	StoragePath string                    `db:"storage_path" json:"storage_path"`
	PageCount   *int                      `db:"page_count" json:"page_count,omitempty"`
	Status      RunStatus                 `db:"status" json:"status"`
	StepResults map[StepName]*StepResult  `db:"step_results" json:"step_results"`
	Metadata    json.RawMessage           `db:"metadata" json:"metadata,omitempty"`
}

// RunDocumentLink is the many-to-many join between runs and documents (§3.1).
type RunDocumentLink struct {
	ID         string `db:"id" json:"id"`
	RunID      string `db:"run_id" json:"run_id"`
	DocumentID string `db:"document_id" json:"document_id"`
}

// BboxMultiPage carries per-page bboxes for a chunk that spans pages.
type BboxMultiPage struct {
	Page int        `json:"page"`
	Bbox [4]float64 `json:"bbox"`
}

// ChunkMetadata is the typed metadata attached to every chunk (§3.1).
type ChunkMetadata struct {
	PageNumber      int              `json:"page_number"`
	SectionTitle    string           `json:"section_title,omitempty"`
	Bbox            *[4]float64      `json:"bbox,omitempty"`
	BboxMultiPage   []BboxMultiPage  `json:"bbox_multi_page,omitempty"`
	BboxConfidence  BboxConfidence   `json:"bbox_confidence,omitempty"`
	ElementCategory ElementKind      `json:"element_category"`
	SourceFilename  string           `json:"source_filename"`
}

// Chunk is a semantically coherent text unit with embedding (§3.1).
type Chunk struct {
	ID         string        `db:"id" json:"id"`
	DocumentID string        `db:"document_id" json:"document_id"`
	RunID      string        `db:"run_id" json:"run_id"`
	ChunkIndex int           `db:"chunk_index" json:"chunk_index"`
	Content    string        `db:"content" json:"content"`
	Embedding  []float32     `db:"embedding" json:"embedding,omitempty"`
	Metadata   ChunkMetadata `db:"metadata" json:"metadata"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
}

// EmbeddingDimension is the locked embedding width (§4.1, invariant §8.1).
const EmbeddingDimension = 1024

// WikiRun is one attempt to derive a Markdown knowledge base (§3.1).
type WikiRun struct {
	ID              string                   `db:"id" json:"id"`
	IndexingRunID   string                   `db:"indexing_run_id" json:"indexing_run_id"`
	Status          RunStatus                `db:"status" json:"status"`
	AccessLevel     AccessLevel              `db:"access_level" json:"access_level"`
	StepResults     map[string]*StepResult   `db:"step_results" json:"step_results"`
	StartedAt       time.Time                `db:"started_at" json:"started_at"`
	CompletedAt     *time.Time               `db:"completed_at" json:"completed_at,omitempty"`
	WikiStructure    *WikiStructure          `db:"wiki_structure" json:"wiki_structure,omitempty"`
	ErrorMessage    string                   `db:"error_message" json:"error_message,omitempty"`
}

// WikiStructure is the planned page list produced by structure generation (§4.13 step 4).
type WikiStructure struct {
	Overview string           `json:"overview"`
	Pages    []WikiPagePlan   `json:"pages"`
}

// WikiPagePlan describes one planned wiki page before content retrieval.
type WikiPagePlan struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Queries         []string `json:"queries"`
	RelevanceScore  float64  `json:"relevance_score"`
}

// WikiPageMetadata records a generated page's storage location (§3.1).
type WikiPageMetadata struct {
	ID          string `db:"id" json:"id"`
	WikiRunID   string `db:"wiki_run_id" json:"wiki_run_id"`
	Title       string `db:"title" json:"title"`
	Filename    string `db:"filename" json:"filename"`
	Order       int    `db:"order" json:"order"`
	WordCount   int    `db:"word_count" json:"word_count"`
	StoragePath string `db:"storage_path" json:"storage_path"`
}

// SearchResultRef is a ranked chunk reference returned from retrieval (§3.1, §6.2).
type SearchResultRef struct {
	ChunkID        string      `json:"chunk_id"`
	Content        string      `json:"content"`
	SimilarityScore float64    `json:"similarity_score"`
	SourceFilename string      `json:"source_filename"`
	PageNumber     int         `json:"page_number,omitempty"`
	Bbox           *[4]float64 `json:"bbox,omitempty"`
}

// QueryRun records one retrieval-and-generation invocation (§3.1).
type QueryRun struct {
	ID                string             `db:"id" json:"id"`
	OwnerID           *string            `db:"owner_id" json:"owner_id,omitempty"`
	IndexingRunID     string             `db:"indexing_run_id" json:"indexing_run_id"`
	QueryText         string             `db:"query_text" json:"query_text"`
	Variations        []string           `db:"variations" json:"variations"`
	SearchResults     []SearchResultRef  `db:"search_results" json:"search_results"`
	FinalResponse     string             `db:"final_response" json:"final_response"`
	StepTimings       map[string]float64 `db:"step_timings" json:"step_timings"`
	PerformanceMetrics map[string]any    `db:"performance_metrics" json:"performance_metrics,omitempty"`
	AccessLevel       AccessLevel        `db:"access_level" json:"access_level"`
	CreatedAt         time.Time          `db:"created_at" json:"created_at"`
}

// ChecklistSource is one evidence citation backing a checklist result.
type ChecklistSource struct {
	Document string `json:"document"`
	Page     int    `json:"page"`
	Excerpt  string `json:"excerpt,omitempty"`
}

// ChecklistResult is the classification of one audit item (§3.1).
type ChecklistResult struct {
	ID               string            `db:"id" json:"id"`
	AnalysisRunID    string            `db:"analysis_run_id" json:"analysis_run_id"`
	ItemNumber       int               `db:"item_number" json:"item_number"`
	ItemName         string            `db:"item_name" json:"item_name"`
	Status           ChecklistStatus   `db:"status" json:"status"`
	Description      string            `db:"description" json:"description"`
	ConfidenceScore  *float64          `db:"confidence_score" json:"confidence_score,omitempty"`
	SourceDocument   string            `db:"source_document" json:"source_document,omitempty"`
	SourcePage       *int              `db:"source_page" json:"source_page,omitempty"`
	SourceExcerpt    string            `db:"source_excerpt" json:"source_excerpt,omitempty"`
	AllSources       []ChecklistSource `db:"all_sources" json:"all_sources,omitempty"`
}

// ChecklistRun is one checklist analysis attempt (§3.1).
type ChecklistRun struct {
	ID                string             `db:"id" json:"id"`
	IndexingRunID     string             `db:"indexing_run_id" json:"indexing_run_id"`
	OwnerID           *string            `db:"owner_id" json:"owner_id,omitempty"`
	ChecklistContent  string             `db:"checklist_content" json:"checklist_content"`
	ModelName         string             `db:"model_name" json:"model_name"`
	Status            RunStatus          `db:"status" json:"status"`
	RawOutput         string             `db:"raw_output" json:"raw_output,omitempty"`
	Results           []ChecklistResult  `db:"results" json:"results,omitempty"`
	ProgressCurrent   int                `db:"progress_current" json:"progress_current"`
	ProgressTotal     int                `db:"progress_total" json:"progress_total"`
	ErrorMessage      string             `db:"error_message" json:"error_message,omitempty"`
}

// Partial reports whether the run is still running and results should be marked partial (§7.3).
func (c *ChecklistRun) Partial() bool {
	return c.Status == StatusRunning
}
