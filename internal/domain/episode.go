package domain

import "time"

// SourceRecord is the raw ingestion contract. Per-source parsing (exports,
// photo metadata, activity logs) happens upstream; this core only ever sees
// this shape.
type SourceRecord struct {
	SourceType string
	Timestamp  time.Time
	Fields     map[string]any
	Provenance string // reference back to the original record, optional
}

// Episode is a normalized, stably-identified natural-language record derived
// from exactly one source record. Immutable after creation: a changed source
// record produces a new episode with a new ID, never an edit.
type Episode struct {
	ID         string
	Timestamp  time.Time
	Text       string
	SourceType string
	Provenance string
}
