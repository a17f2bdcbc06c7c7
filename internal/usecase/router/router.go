// Package router dispatches questions across the answer engines as a small
// state machine with a full audit trail.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/domain"
	"github.com/kailas-cloud/recall/internal/metrics"
)

// DefaultEngineTimeout bounds a single engine attempt.
const DefaultEngineTimeout = 20 * time.Second

// MaxTopK caps a caller-supplied top-k so one request cannot drag the whole
// index through generation.
const MaxTopK = 100

// state is one node of the routing machine.
type state int

const (
	stateTryStructured state = iota
	stateTryRetrieval
	stateTryGeneral
	stateDone
	stateFailed
)

// aggregateMarkers route a question to the structured engine first.
var aggregateMarkers = []string{
	"how many", "how much", "count", "total", "average", "avg", "sum",
	"number of", "per month", "per week", "per year", "per day",
}

// personalMarkers block the general knowledge fallback: a personal question
// with no evidence must fail rather than invite fabrication.
var personalMarkers = map[string]bool{
	"i": true, "my": true, "me": true, "mine": true, "our": true, "we": true,
}

// StructuredEngine answers aggregate questions over views.
type StructuredEngine interface {
	Answer(ctx context.Context, question string) (domain.QueryResult, error)
}

// RetrievalEngine answers semantic questions over episodes.
type RetrievalEngine interface {
	Answer(ctx context.Context, question string, topK int) (domain.QueryResult, error)
}

// GeneralEngine answers from general knowledge; it never fails.
type GeneralEngine interface {
	Answer(ctx context.Context, question string) (domain.QueryResult, error)
}

// Config tunes routing. Zero values fall back to defaults.
type Config struct {
	EngineTimeout time.Duration
	TopK          int // passed through to retrieval; 0 = engine default
}

// Router walks Classify → TryStructured → TryRetrieval → TryGeneral and
// records every transition. Exactly one terminal outcome reaches the caller:
// a QueryResult, or a FailedError when every applicable engine failed.
type Router struct {
	structured StructuredEngine
	retrieval  RetrievalEngine
	general    GeneralEngine
	cfg        Config
	logger     *zap.Logger
}

// New creates a query router.
func New(
	structured StructuredEngine,
	retrieval RetrievalEngine,
	general GeneralEngine,
	cfg Config,
	logger *zap.Logger,
) *Router {
	if cfg.EngineTimeout <= 0 {
		cfg.EngineTimeout = DefaultEngineTimeout
	}
	return &Router{
		structured: structured,
		retrieval:  retrieval,
		general:    general,
		cfg:        cfg,
		logger:     logger,
	}
}

// FailedError is the only error shape Route returns: the audit trail of a
// question no engine could answer.
type FailedError struct {
	TraceID  string
	Attempts []domain.Attempt
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("%s after %d attempts", domain.ErrAllEnginesFailed.Error(), len(e.Attempts))
}

func (e *FailedError) Unwrap() error { return domain.ErrAllEnginesFailed }

// Route answers one question. topK overrides the configured retrieval
// candidate count for this call; values outside (0, MaxTopK] fall back to the
// default or the cap. Internal engine errors never escape: they are folded
// into the audit trail and the next engine is tried.
func (r *Router) Route(ctx context.Context, question string, topK int) (domain.QueryResult, error) {
	start := time.Now()
	if topK <= 0 {
		topK = r.cfg.TopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}
	trace := domain.Trace{ID: uuid.NewString()}
	ctx, usage := domain.NewContextWithUsage(ctx)

	log := r.logger.With(
		zap.String("trace_id", trace.ID),
		zap.String("question", question),
	)

	st := r.classify(question)
	personal := hasPersonalMarkers(question)

	var result domain.QueryResult
	var lastErr error

	for st != stateDone && st != stateFailed {
		switch st {
		case stateTryStructured:
			res, err := r.attempt(ctx, domain.EngineStructured, &trace, func(ctx context.Context) (domain.QueryResult, error) {
				return r.structured.Answer(ctx, question)
			})
			if err == nil {
				result, st = res, stateDone
				continue
			}
			lastErr = err
			log.Info("Structured engine fell back", zap.Error(err))
			st = stateTryRetrieval

		case stateTryRetrieval:
			res, err := r.attempt(ctx, domain.EngineRetrieval, &trace, func(ctx context.Context) (domain.QueryResult, error) {
				return r.retrieval.Answer(ctx, question, topK)
			})
			if err == nil {
				result, st = res, stateDone
				continue
			}
			lastErr = err
			if personal {
				log.Warn("Retrieval failed on a personal question, not falling back", zap.Error(err))
				st = stateFailed
				continue
			}
			log.Info("Retrieval engine fell back", zap.Error(err))
			st = stateTryGeneral

		case stateTryGeneral:
			res, err := r.attempt(ctx, domain.EngineGeneral, &trace, func(ctx context.Context) (domain.QueryResult, error) {
				return r.general.Answer(ctx, question)
			})
			if err != nil {
				lastErr = err
				st = stateFailed
				continue
			}
			result, st = res, stateDone
		}
	}

	trace.EmbeddingTokens = usage.TotalTokens

	if st == stateFailed {
		markFailed(&trace)
		countAttempts(trace.Attempts)
		metrics.QueryDuration.WithLabelValues("none").Observe(time.Since(start).Seconds())
		log.Warn("All engines exhausted",
			zap.Int("attempts", len(trace.Attempts)),
			zap.Error(lastErr))
		return domain.QueryResult{}, &FailedError{TraceID: trace.ID, Attempts: trace.Attempts}
	}

	result.Question = question
	result.Trace = trace
	countAttempts(trace.Attempts)
	metrics.QueryDuration.WithLabelValues(string(result.Engine)).Observe(time.Since(start).Seconds())
	log.Info("Question answered",
		zap.String("engine", string(result.Engine)),
		zap.Float64("confidence", result.Confidence),
		zap.Int("attempts", len(trace.Attempts)),
		zap.Int("embedding_tokens", trace.EmbeddingTokens),
	)
	return result, nil
}

// attempt runs one engine under the per-engine timeout and appends the
// outcome to the trace. Outcomes recorded here default to done/fallback;
// markFailed rewrites the tail when the machine terminates in Failed.
func (r *Router) attempt(
	ctx context.Context,
	engine domain.Engine,
	trace *domain.Trace,
	fn func(ctx context.Context) (domain.QueryResult, error),
) (domain.QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.EngineTimeout)
	defer cancel()

	start := time.Now()
	res, err := fn(ctx)
	elapsed := time.Since(start)

	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%s engine after %s: %w", engine, elapsed.Round(time.Millisecond), domain.ErrProviderTimeout)
	}

	att := domain.Attempt{Engine: engine, Outcome: domain.AttemptDone, Duration: elapsed}
	if err != nil {
		att.Outcome = domain.AttemptFallback
		att.Err = err.Error()
	}
	trace.Attempts = append(trace.Attempts, att)

	return res, err
}

// markFailed rewrites the final attempt's outcome: it had no engine left to
// fall back to.
func markFailed(trace *domain.Trace) {
	if n := len(trace.Attempts); n > 0 {
		trace.Attempts[n-1].Outcome = domain.AttemptFailed
	}
}

func countAttempts(attempts []domain.Attempt) {
	for _, att := range attempts {
		metrics.EngineAttemptsTotal.WithLabelValues(string(att.Engine), string(att.Outcome)).Inc()
	}
}

// classify picks the entry state: aggregate phrasing goes to the structured
// engine, everything else to retrieval.
func (r *Router) classify(question string) state {
	q := strings.ToLower(question)
	for _, marker := range aggregateMarkers {
		if strings.Contains(q, marker) {
			return stateTryStructured
		}
	}
	return stateTryRetrieval
}

// hasPersonalMarkers reports whether the question references the asker's own
// data.
func hasPersonalMarkers(question string) bool {
	for _, tok := range strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '\''
	}) {
		tok = strings.TrimSuffix(tok, "'s")
		if personalMarkers[tok] {
			return true
		}
	}
	return false
}
