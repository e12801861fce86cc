// Package ai defines the provider-agnostic contracts for LLM extraction and
// text embedding, plus the retry/rate-limit policy both share.
package ai

import (
	"context"

	"github.com/spigell/job-radar/internal/posting"
)

// FieldsResult is the per-item outcome of an extraction batch. Exactly one of
// Fields or Err is set.
type FieldsResult struct {
	Fields *posting.Fields
	Err    error
}

// VectorResult is the per-item outcome of an embedding batch. Exactly one of
// Vector or Err is set.
type VectorResult struct {
	Vector []float32
	Err    error
}

// Extractor turns free-form posting or resume text into structured fields.
// Results are order-preserving: one result per input text. A per-item
// failure is reported inside the result; the returned error is reserved for
// conditions that abort the whole run (auth failures, misconfiguration).
type Extractor interface {
	ExtractFields(ctx context.Context, texts []string) ([]FieldsResult, error)
}

// Embedder turns texts into fixed-length vectors with the same per-item
// semantics as Extractor. Model identity matters: vectors from different
// models must never be compared.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([]VectorResult, error)
	Model() string
	Dimension() int
}
