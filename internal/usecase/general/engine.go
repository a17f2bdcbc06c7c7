// Package general is the last-resort engine: plain generation with no
// personal data and no sources.
package general

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/domain"
)

// DefaultConfidence reflects that nothing here is grounded in the timeline.
const DefaultConfidence = 0.30

// unavailableAnswer is returned when even the generator is down.
const unavailableAnswer = "I cannot answer this from your personal data, and general knowledge generation is currently unavailable."

// Engine answers from the model's general knowledge. It never returns an
// error: a generator failure becomes an explicit cannot-answer result.
type Engine struct {
	generator  domain.Generator
	confidence float64
	logger     *zap.Logger
}

// New creates a general knowledge engine. confidence <= 0 uses the default.
func New(generator domain.Generator, confidence float64, logger *zap.Logger) *Engine {
	if confidence <= 0 {
		confidence = DefaultConfidence
	}
	return &Engine{generator: generator, confidence: confidence, logger: logger}
}

// Answer generates a best-effort reply with empty sources.
func (e *Engine) Answer(ctx context.Context, question string) (domain.QueryResult, error) {
	prompt := fmt.Sprintf(
		"Answer the following question from general knowledge. Do not invent personal facts about the asker.\n\nQuestion: %s\n",
		question)

	answer, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		e.logger.Warn("General knowledge generation failed", zap.Error(err))
		return domain.QueryResult{
			Question:   question,
			Engine:     domain.EngineGeneral,
			Answer:     unavailableAnswer,
			Confidence: 0,
			Sources:    []domain.Source{},
		}, nil
	}

	return domain.QueryResult{
		Question:   question,
		Engine:     domain.EngineGeneral,
		Answer:     strings.TrimSpace(answer),
		Confidence: e.confidence,
		Sources:    []domain.Source{},
	}, nil
}
