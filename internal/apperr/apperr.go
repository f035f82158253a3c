// Package apperr defines the typed error taxonomy and uniform error envelope
// shared across the indexing and retrieval pipelines (C16, §7).
package apperr

import (
	"fmt"
	"time"
)

// Category is the stable top-level error classification (§7.1).
type Category string

const (
	CategoryValidation     Category = "validation"
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryNotFound       Category = "not_found"
	CategoryConflict       Category = "conflict"
	CategoryConfig         Category = "config"
	CategoryPartition      Category = "partition"
	CategoryMetadata       Category = "metadata"
	CategoryEnrichment     Category = "enrichment"
	CategoryChunking       Category = "chunking"
	CategoryEmbedding      Category = "embedding"
	CategoryRetrieval      Category = "retrieval"
	CategoryGeneration     Category = "generation"
	CategoryStorage        Category = "storage"
	CategoryDatabase       Category = "database"
	CategoryExternalAPI    Category = "external_api"
	CategoryInternal       Category = "internal"
)

// Kind is a step-local sub-kind, used for retry and UX decisions (§7.1, §7.2).
type Kind string

const (
	KindUnreadable        Kind = "unreadable"
	KindNoContent         Kind = "no_content"
	KindRateLimited       Kind = "rate_limited"
	KindTimeout           Kind = "timeout"
	KindDimensionMismatch Kind = "dimension_mismatch"
	KindVendorError       Kind = "vendor_error"
)

// Error is the typed application error. It always carries a stable Code and
// Category, and renders in the uniform envelope described by §7.1/§7.2.
type Error struct {
	Code      string   `json:"code"`
	Category  Category `json:"category"`
	Kind      Kind     `json:"kind,omitempty"`
	Message   string   `json:"message"`
	Details   any      `json:"details,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a new typed error stamped with the current time.
func New(code string, category Category, message string) *Error {
	return &Error{Code: code, Category: category, Message: message, Timestamp: time.Now()}
}

// Wrap creates a new typed error that chains an underlying cause.
func Wrap(code string, category Category, message string, cause error) *Error {
	return &Error{Code: code, Category: category, Message: message, Timestamp: time.Now(), cause: cause}
}

// WithKind attaches a step-local sub-kind and returns the same error for chaining.
func (e *Error) WithKind(k Kind) *Error {
	e.Kind = k
	return e
}

// WithRequestID stamps the originating request id and returns the same error for chaining.
func (e *Error) WithRequestID(id string) *Error {
	e.RequestID = id
	return e
}

// Retryable reports whether the error's kind is safe to retry at the step
// boundary per §4.8/§7.2: only rate-limit and timeout kinds are — a vendor
// error from a malformed request would just fail identically on retry.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTimeout:
		return true
	default:
		return false
	}
}

// Common constructors for the step-local failures named throughout §4 and §7.

func NewConfigError(message string) *Error {
	return New("config.invalid", CategoryConfig, message)
}

func NewNotFound(entity, id string) *Error {
	return New("not_found", CategoryNotFound, fmt.Sprintf("%s %q not found", entity, id))
}

func NewAuthorization(message string) *Error {
	return New("authorization.denied", CategoryAuthorization, message)
}

func NewConflict(message string) *Error {
	return New("conflict", CategoryConflict, message)
}

func NewPartitionError(kind Kind, message string) *Error {
	return New("partition."+string(kind), CategoryPartition, message).WithKind(kind)
}

func NewEnrichmentError(kind Kind, message string) *Error {
	return New("enrichment."+string(kind), CategoryEnrichment, message).WithKind(kind)
}

func NewEmbeddingError(kind Kind, message string) *Error {
	return New("embedding."+string(kind), CategoryEmbedding, message).WithKind(kind)
}

func NewTimeout(category Category, message string) *Error {
	return New(string(category)+".timeout", category, message).WithKind(KindTimeout)
}
