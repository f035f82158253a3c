// Package models holds the persistent entities shared by the indexing and
// retrieval pipelines: projects, indexing runs, documents, chunks, wiki runs,
// query runs, and checklist runs.
package models

// AccessLevel scopes who may read a user-visible entity.
type AccessLevel string

const (
	AccessPublic  AccessLevel = "public"
	AccessAuth    AccessLevel = "auth"
	AccessOwner   AccessLevel = "owner"
	AccessPrivate AccessLevel = "private"
)

// UploadType distinguishes anonymous email uploads from authenticated project runs.
type UploadType string

const (
	UploadEmail       UploadType = "email"
	UploadUserProject UploadType = "user_project"
)

// RunStatus is the lifecycle state of an indexing run, wiki run, or checklist run.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// StepName identifies one stage of the five-stage indexing pipeline.
type StepName string

const (
	StepPartition  StepName = "partition"
	StepMetadata   StepName = "metadata"
	StepEnrichment StepName = "enrichment"
	StepChunking   StepName = "chunking"
	StepEmbedding  StepName = "embedding"
)

// StepOrder is the fixed ordering used to compute the current step of a run
// or document (§4.4 of the spec).
var StepOrder = []StepName{StepPartition, StepMetadata, StepEnrichment, StepChunking, StepEmbedding}

// BboxConfidence describes how a chunk's bbox was derived.
type BboxConfidence string

const (
	BboxPrecise   BboxConfidence = "precise"
	BboxEstimated BboxConfidence = "estimated"
	BboxMerged    BboxConfidence = "merged"
)

// ElementKind tags the variant payload carried by an Element.
type ElementKind string

const (
	ElementText     ElementKind = "text"
	ElementTable    ElementKind = "table"
	ElementImage    ElementKind = "image"
	ElementFullPage ElementKind = "full_page"
)

// TextRole classifies a text element by its structural function.
type TextRole string

const (
	RoleTitle        TextRole = "Title"
	RoleListItem     TextRole = "ListItem"
	RoleNarrativeText TextRole = "NarrativeText"
)

// DocumentType is the outcome of partition's native-vs-scanned detection.
type DocumentType string

const (
	DocNative  DocumentType = "native"
	DocScanned DocumentType = "scanned"
	DocHybrid  DocumentType = "hybrid"
)

// PageComplexity buckets a page for rendering-DPI and enrichment decisions.
type PageComplexity string

const (
	ComplexityTextOnly   PageComplexity = "text_only"
	ComplexitySimple     PageComplexity = "simple"
	ComplexityComplex    PageComplexity = "complex"
	ComplexityFragmented PageComplexity = "fragmented"
)

// ChecklistStatus is the audit classification assigned to a checklist item (§6.4).
type ChecklistStatus string

const (
	ChecklistFound                ChecklistStatus = "found"
	ChecklistMissing              ChecklistStatus = "missing"
	ChecklistRisk                 ChecklistStatus = "risk"
	ChecklistConditions           ChecklistStatus = "conditions"
	ChecklistPendingClarification ChecklistStatus = "pending_clarification"
)

// String satisfies reqcontext.AccessLevelLike without introducing an import cycle.
func (a AccessLevel) String() string { return string(a) }

// IsTerminal reports whether a run status will no longer transition on its own.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}
