package domain

import "time"

// Engine identifies which answer engine produced a result.
type Engine string

const (
	// EngineStructured answers via generated queries against aggregate views.
	EngineStructured Engine = "structured"
	// EngineRetrieval answers via semantic retrieval over embedded episodes.
	EngineRetrieval Engine = "retrieval"
	// EngineGeneral answers from general knowledge with no personal sources.
	EngineGeneral Engine = "general_knowledge"
)

// SourceKind distinguishes episode citations from view row sets.
type SourceKind string

const (
	// SourceEpisode cites a single episode by ID.
	SourceEpisode SourceKind = "episode"
	// SourceView cites a row set from a structured view.
	SourceView SourceKind = "view"
)

// Source is one piece of evidence backing an answer.
type Source struct {
	Kind       SourceKind `json:"kind"`
	Ref        string     `json:"ref"` // episode ID or view name
	Similarity float64    `json:"similarity,omitempty"`
	Rows       int        `json:"rows,omitempty"`
}

// AttemptOutcome is the terminal status of one engine attempt.
type AttemptOutcome string

const (
	// AttemptDone means the engine produced the final answer.
	AttemptDone AttemptOutcome = "done"
	// AttemptFallback means the engine failed and the router moved on.
	AttemptFallback AttemptOutcome = "fallback"
	// AttemptFailed means the engine failed with no engine left to try.
	AttemptFailed AttemptOutcome = "failed"
)

// Attempt records a single engine dispatch for auditing and replay.
type Attempt struct {
	Engine   Engine         `json:"engine"`
	Outcome  AttemptOutcome `json:"outcome"`
	Err      string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Trace is the audit trail of one routed question.
type Trace struct {
	ID              string    `json:"id"`
	Attempts        []Attempt `json:"attempts"`
	EmbeddingTokens int       `json:"embedding_tokens,omitempty"`
}

// QueryResult is the only caller-facing answer shape. Unless Engine is
// EngineGeneral, Sources must be non-empty and each entry traceable to a real
// episode or view row set.
type QueryResult struct {
	Question       string   `json:"question"`
	Engine         Engine   `json:"engine_used"`
	Answer         string   `json:"answer"`
	Confidence     float64  `json:"confidence"`
	Sources        []Source `json:"sources"`
	GeneratedQuery string   `json:"generated_query,omitempty"`
	Trace          Trace    `json:"trace"`
}
