// Package structured answers aggregate questions by generating a validated
// SELECT against whitelisted read-only views.
package structured

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/domain"
)

// DefaultConfidence applies to every structured answer: the numbers come from
// executed SQL, not from generation.
const DefaultConfidence = 0.95

// maxVerbalizedRows caps how many rows make it into the answer sentence.
const maxVerbalizedRows = 5

// ViewStore provides view schemas and executes validated queries.
type ViewStore interface {
	Views() []domain.StructuredView
	View(name string) (domain.StructuredView, error)
	Query(ctx context.Context, query string) ([]string, [][]string, error)
}

// Engine turns aggregate questions into SQL over declared views. Every
// failure mode wraps domain.ErrQueryGeneration; the router consumes it and
// falls through to retrieval, so callers never see it.
type Engine struct {
	views      ViewStore
	generator  domain.Generator
	confidence float64
	logger     *zap.Logger
}

// New creates a structured query engine. confidence <= 0 uses the default.
func New(views ViewStore, generator domain.Generator, confidence float64, logger *zap.Logger) *Engine {
	if confidence <= 0 {
		confidence = DefaultConfidence
	}
	return &Engine{
		views:      views,
		generator:  generator,
		confidence: confidence,
		logger:     logger,
	}
}

// generatedQuery is the only accepted shape of the model's reply.
type generatedQuery struct {
	View  string `json:"view"`
	Query string `json:"query"`
}

// Answer generates, validates, and executes one SELECT, then verbalizes the
// result deterministically.
func (e *Engine) Answer(ctx context.Context, question string) (domain.QueryResult, error) {
	raw, err := e.generator.Generate(ctx, e.buildPrompt(question))
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("generate query: %w: %w", domain.ErrQueryGeneration, err)
	}

	gq, err := parseGenerated(raw)
	if err != nil {
		return domain.QueryResult{}, err
	}

	view, err := e.views.View(gq.View)
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("resolve view: %w: %w", domain.ErrQueryGeneration, err)
	}

	if err := validateQuery(gq.Query, view); err != nil {
		e.logger.Warn("Rejected generated query",
			zap.String("view", gq.View),
			zap.String("query", gq.Query),
			zap.Error(err))
		return domain.QueryResult{}, err
	}

	cols, rows, err := e.views.Query(ctx, gq.Query)
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("execute: %w: %w", domain.ErrQueryGeneration, err)
	}

	return domain.QueryResult{
		Question:   question,
		Engine:     domain.EngineStructured,
		Answer:     verbalize(cols, rows),
		Confidence: e.confidence,
		Sources: []domain.Source{{
			Kind: domain.SourceView,
			Ref:  view.Name,
			Rows: len(rows),
		}},
		GeneratedQuery: gq.Query,
	}, nil
}

func (e *Engine) buildPrompt(question string) string {
	var b strings.Builder

	b.WriteString("You translate questions about a person's life into a single SQLite SELECT.\n")
	b.WriteString("Available views:\n")
	for _, v := range e.views.Views() {
		fmt.Fprintf(&b, "- %s(", v.Name)
		for i, c := range v.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s %s", c.Name, c.Type)
		}
		b.WriteString(")\n")
	}

	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\n\nReply with JSON only, no prose: {\"view\": \"<view name>\", \"query\": \"SELECT ...\"}\n")
	b.WriteString("The query must read from exactly one of the views above and must not modify anything.\n")

	return b.String()
}

// parseGenerated extracts the JSON reply, tolerating markdown code fences.
func parseGenerated(raw string) (generatedQuery, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	var gq generatedQuery
	if err := json.Unmarshal([]byte(s), &gq); err != nil {
		return generatedQuery{}, fmt.Errorf("parse generated reply: %w: %w", domain.ErrQueryGeneration, err)
	}
	if gq.View == "" || gq.Query == "" {
		return generatedQuery{}, fmt.Errorf("generated reply missing view or query: %w", domain.ErrQueryGeneration)
	}
	return gq, nil
}

// verbalize renders a result set as one deterministic sentence.
func verbalize(cols []string, rows [][]string) string {
	switch {
	case len(rows) == 0:
		return "The query returned no rows."
	case len(rows) == 1 && len(cols) == 1:
		return fmt.Sprintf("The answer is %s.", rows[0][0])
	case len(rows) == 1:
		return fmt.Sprintf("The answer is %s.", renderRow(cols, rows[0]))
	}

	shown := rows
	suffix := ""
	if len(rows) > maxVerbalizedRows {
		shown = rows[:maxVerbalizedRows]
		suffix = ", …"
	}

	parts := make([]string, len(shown))
	for i, row := range shown {
		parts[i] = renderRow(cols, row)
	}
	return fmt.Sprintf("The query returned %d rows: %s%s.", len(rows), strings.Join(parts, "; "), suffix)
}

func renderRow(cols []string, row []string) string {
	parts := make([]string, len(row))
	for i, v := range row {
		parts[i] = fmt.Sprintf("%s=%s", cols[i], v)
	}
	return strings.Join(parts, ", ")
}
