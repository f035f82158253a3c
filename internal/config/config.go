// Package config is the single-source-of-truth Config Service (C1, §4.1).
//
// A single JSON document is loaded at startup. It defines shared defaults
// plus three pipeline-specific sections (indexing, query, wiki). Effective
// configuration is computed with precedence: per-request overrides >
// pipeline-specific section > defaults. Secrets are never part of the JSON
// document; LoadSecrets (secrets.go) reads them from environment variables
// once at startup (§6.7).
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jepras/constructionrag/internal/apperr"
)

// Pipeline names the three pipelines that may carry an overriding section.
type Pipeline string

const (
	PipelineIndexing Pipeline = "indexing"
	PipelineQuery    Pipeline = "query"
	PipelineWiki     Pipeline = "wiki"
)

// EmbeddingConfig carries the locked embedding invariants (§4.1).
type EmbeddingConfig struct {
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
}

// ChunkingConfig carries the locked chunk-size invariants (§4.1, §4.9).
type ChunkingConfig struct {
	TargetSize int `json:"target_size"`
	Overlap    int `json:"overlap"`
	MaxSize    int `json:"max_size"`
	MinSize    int `json:"min_size"`
}

// RetrievalConfig carries the locked retrieval invariants (§4.1, §4.11).
type RetrievalConfig struct {
	TopK               int     `json:"top_k"`
	MinSimilarity      float64 `json:"min_similarity"`
	MaxQueryVariations int     `json:"max_query_variations"`
	EnableHyDE         bool    `json:"enable_hyde"`
}

// OrchestrationConfig carries the indexing orchestrator's tunables (§4.5).
type OrchestrationConfig struct {
	MaxConcurrentDocuments int  `json:"max_concurrent_documents"`
	FailFast               bool `json:"fail_fast"`
	StepTimeoutMinutes     int  `json:"step_timeout_minutes"`
}

// EnrichmentConfig carries the vision-enrichment batching tunables (§4.8).
type EnrichmentConfig struct {
	BatchSize           int     `json:"batch_size"`
	MaxConcurrentBatches int    `json:"max_concurrent_batches"`
	MaxRetries          int     `json:"max_retries"`
	ItemTimeoutSeconds  int     `json:"item_timeout_seconds"`
	MaxFailureRatio     float64 `json:"max_failure_ratio"`
}

// WikiConfig carries the wiki orchestrator's tunables (§4.13).
type WikiConfig struct {
	MaxConcurrentPages   int  `json:"max_concurrent_pages"`
	RegenerateOnRerun    bool `json:"regenerate_on_rerun"`
	ClusterMinK          int  `json:"cluster_min_k"`
	ClusterMaxK          int  `json:"cluster_max_k"`
	ChunksPerCluster     int  `json:"chunks_per_cluster"`
}

// Section is one pipeline-specific bundle of overridable settings. During
// merge a non-nil sub-section replaces the lower-precedence sub-section as a
// whole; fields it leaves at zero are not filled in from the defaults.
type Section struct {
	Embedding     *EmbeddingConfig     `json:"embedding,omitempty"`
	Chunking      *ChunkingConfig      `json:"chunking,omitempty"`
	Retrieval     *RetrievalConfig     `json:"retrieval,omitempty"`
	Orchestration *OrchestrationConfig `json:"orchestration,omitempty"`
	Enrichment    *EnrichmentConfig    `json:"enrichment,omitempty"`
	Wiki          *WikiConfig          `json:"wiki,omitempty"`
}

// Document is the on-disk JSON configuration shape (§4.1).
type Document struct {
	Defaults Section            `json:"defaults"`
	Indexing Section            `json:"indexing"`
	Query    Section            `json:"query"`
	Wiki     Section            `json:"wiki"`
	Strict   bool               `json:"strict_unknown_keys"`
}

// Config is the effective, fully-resolved configuration for one pipeline.
type Config struct {
	Embedding     EmbeddingConfig
	Chunking      ChunkingConfig
	Retrieval     RetrievalConfig
	Orchestration OrchestrationConfig
	Enrichment    EnrichmentConfig
	Wiki          WikiConfig
}

// Service is the process-wide immutable config singleton (§9 Global state).
type Service struct {
	doc Document
}

// Load reads and validates the JSON configuration document at path. A
// missing file or a locked-invariant violation is a fatal ConfigError
// (§4.1 Failure modes).
func Load(path string) (*Service, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.NewConfigError(fmt.Sprintf("read config %s: %v", path, err))
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apperr.NewConfigError(fmt.Sprintf("parse config %s: %v", path, err))
	}

	svc := &Service{doc: applyBuiltinDefaults(doc)}
	if err := svc.validateLockedInvariants(); err != nil {
		return nil, err
	}
	return svc, nil
}

// applyBuiltinDefaults fills any still-unset defaults-section fields with
// the spec's locked invariants, so a minimal config document is valid.
func applyBuiltinDefaults(doc Document) Document {
	if doc.Defaults.Embedding == nil {
		doc.Defaults.Embedding = &EmbeddingConfig{}
	}
	if doc.Defaults.Embedding.Model == "" {
		doc.Defaults.Embedding.Model = "voyage-multilingual-2"
	}
	if doc.Defaults.Embedding.Dimension == 0 {
		doc.Defaults.Embedding.Dimension = 1024
	}

	if doc.Defaults.Chunking == nil {
		doc.Defaults.Chunking = &ChunkingConfig{}
	}
	if doc.Defaults.Chunking.TargetSize == 0 {
		doc.Defaults.Chunking.TargetSize = 1000
	}
	if doc.Defaults.Chunking.Overlap == 0 {
		doc.Defaults.Chunking.Overlap = 200
	}
	if doc.Defaults.Chunking.MaxSize == 0 {
		doc.Defaults.Chunking.MaxSize = 1200
	}
	if doc.Defaults.Chunking.MinSize == 0 {
		doc.Defaults.Chunking.MinSize = 100
	}

	if doc.Defaults.Retrieval == nil {
		doc.Defaults.Retrieval = &RetrievalConfig{}
	}
	if doc.Defaults.Retrieval.TopK == 0 {
		doc.Defaults.Retrieval.TopK = 10
	}
	if doc.Defaults.Retrieval.MinSimilarity == 0 {
		doc.Defaults.Retrieval.MinSimilarity = 0.3
	}
	if doc.Defaults.Retrieval.MaxQueryVariations == 0 {
		doc.Defaults.Retrieval.MaxQueryVariations = 3
	}

	if doc.Defaults.Orchestration == nil {
		doc.Defaults.Orchestration = &OrchestrationConfig{}
	}
	if doc.Defaults.Orchestration.MaxConcurrentDocuments == 0 {
		doc.Defaults.Orchestration.MaxConcurrentDocuments = 5
	}
	if doc.Defaults.Orchestration.StepTimeoutMinutes == 0 {
		doc.Defaults.Orchestration.StepTimeoutMinutes = 30
	}

	if doc.Defaults.Enrichment == nil {
		doc.Defaults.Enrichment = &EnrichmentConfig{}
	}
	if doc.Defaults.Enrichment.BatchSize == 0 {
		doc.Defaults.Enrichment.BatchSize = 5
	}
	if doc.Defaults.Enrichment.MaxConcurrentBatches == 0 {
		doc.Defaults.Enrichment.MaxConcurrentBatches = 3
	}
	if doc.Defaults.Enrichment.MaxRetries == 0 {
		doc.Defaults.Enrichment.MaxRetries = 3
	}
	if doc.Defaults.Enrichment.ItemTimeoutSeconds == 0 {
		doc.Defaults.Enrichment.ItemTimeoutSeconds = 60
	}
	if doc.Defaults.Enrichment.MaxFailureRatio == 0 {
		doc.Defaults.Enrichment.MaxFailureRatio = 0.5
	}

	if doc.Defaults.Wiki == nil {
		doc.Defaults.Wiki = &WikiConfig{}
	}
	if doc.Defaults.Wiki.MaxConcurrentPages == 0 {
		doc.Defaults.Wiki.MaxConcurrentPages = 3
	}
	if doc.Defaults.Wiki.ClusterMinK == 0 {
		doc.Defaults.Wiki.ClusterMinK = 4
	}
	if doc.Defaults.Wiki.ClusterMaxK == 0 {
		doc.Defaults.Wiki.ClusterMaxK = 10
	}
	if doc.Defaults.Wiki.ChunksPerCluster == 0 {
		doc.Defaults.Wiki.ChunksPerCluster = 20
	}
	return doc
}

// validateLockedInvariants enforces the §4.1 locked invariants on the
// defaults section only. Pipeline sections and per-request overrides are not
// checked, so a section that replaces embedding, chunking or retrieval
// settings can carry values that break them.
func (s *Service) validateLockedInvariants() error {
	d := s.doc.Defaults
	if d.Embedding.Dimension != 1024 {
		return apperr.NewConfigError(fmt.Sprintf("embedding dimension must be 1024, got %d", d.Embedding.Dimension))
	}
	if d.Chunking.TargetSize != 1000 || d.Chunking.Overlap != 200 || d.Chunking.MaxSize != 1200 {
		return apperr.NewConfigError("chunking target/overlap/max must be 1000/200/1200")
	}
	if d.Retrieval.TopK <= 0 {
		return apperr.NewConfigError("retrieval top_k must be positive")
	}
	if d.Retrieval.MinSimilarity < 0 || d.Retrieval.MinSimilarity > 1 {
		return apperr.NewConfigError("retrieval min_similarity must be in [0,1]")
	}
	return nil
}

// GetEffective merges per-request overrides over the pipeline section over
// the defaults section, per the precedence rule in §4.1.
func (s *Service) GetEffective(pipeline Pipeline, overrides *Section) Config {
	merged := s.doc.Defaults
	mergeSection(&merged, pickSection(s.doc, pipeline))
	mergeSection(&merged, overrides)

	return Config{
		Embedding:     *merged.Embedding,
		Chunking:      *merged.Chunking,
		Retrieval:     *merged.Retrieval,
		Orchestration: *merged.Orchestration,
		Enrichment:    *merged.Enrichment,
		Wiki:          *merged.Wiki,
	}
}

func pickSection(doc Document, p Pipeline) *Section {
	switch p {
	case PipelineIndexing:
		return &doc.Indexing
	case PipelineQuery:
		return &doc.Query
	case PipelineWiki:
		return &doc.Wiki
	default:
		return nil
	}
}

// mergeSection overlays any non-nil sub-sections of src onto dst in place.
func mergeSection(dst *Section, src *Section) {
	if src == nil {
		return
	}
	if src.Embedding != nil {
		dst.Embedding = src.Embedding
	}
	if src.Chunking != nil {
		dst.Chunking = src.Chunking
	}
	if src.Retrieval != nil {
		dst.Retrieval = src.Retrieval
	}
	if src.Orchestration != nil {
		dst.Orchestration = src.Orchestration
	}
	if src.Enrichment != nil {
		dst.Enrichment = src.Enrichment
	}
	if src.Wiki != nil {
		dst.Wiki = src.Wiki
	}
}

// Snapshot serializes the effective config for persistence on a run record
// (§4.2, IndexingRun.pipeline_config invariant).
func (c Config) Snapshot() (json.RawMessage, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, apperr.Wrap("config.marshal", apperr.CategoryConfig, "marshal effective config", err)
	}
	return b, nil
}
