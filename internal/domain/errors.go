package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRecord signals a source record missing required fields.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrEmbeddingProvider signals an embedding provider failure.
	ErrEmbeddingProvider = errors.New("embedding provider error")
	// ErrGenerationProvider signals a generation provider failure.
	ErrGenerationProvider = errors.New("generation provider error")
	// ErrGenerationFormat signals generated output missing the required citation section.
	ErrGenerationFormat = errors.New("generation output malformed")
	// ErrInsufficientEvidence signals that no retrieved episode cleared the similarity threshold.
	ErrInsufficientEvidence = errors.New("insufficient evidence")
	// ErrQueryGeneration signals a structured query that could not be generated,
	// validated, or executed. Never surfaced to callers; the router consumes it.
	ErrQueryGeneration = errors.New("query generation failed")
	// ErrProviderTimeout signals a provider call that exceeded its deadline.
	ErrProviderTimeout = errors.New("provider timeout")
	// ErrAllEnginesFailed signals that every applicable engine was exhausted.
	ErrAllEnginesFailed = errors.New("all engines exhausted")
	// ErrUnknownView signals a reference to a view outside the declared contract.
	ErrUnknownView = errors.New("unknown view")
	// ErrEmbeddingQuotaExceeded signals an exhausted embedding token budget.
	ErrEmbeddingQuotaExceeded = errors.New("embedding quota exceeded")
	// ErrIndexEmpty signals a retrieval attempt against an index with no entries.
	ErrIndexEmpty = errors.New("index is empty")
)

// MalformedRecordError wraps ErrMalformedRecord with the offending record's identity.
type MalformedRecordError struct {
	SourceType string
	Reason     string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("%s (%s): %s", ErrMalformedRecord.Error(), e.SourceType, e.Reason)
}

func (e *MalformedRecordError) Unwrap() error { return ErrMalformedRecord }

// NewMalformedRecord creates a malformed record error.
func NewMalformedRecord(sourceType, reason string) error {
	return &MalformedRecordError{SourceType: sourceType, Reason: reason}
}
