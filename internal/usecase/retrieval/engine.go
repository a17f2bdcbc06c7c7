// Package retrieval answers questions by semantic search over verbalized
// episodes plus grounded generation with mandatory citations.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/domain"
	"github.com/kailas-cloud/recall/internal/index"
)

const (
	// DefaultTopK is the number of nearest episodes retrieved per question.
	DefaultTopK = 10
	// DefaultMinSimilarity drops hits too far from the question to be evidence.
	DefaultMinSimilarity = 0.30
	// DefaultLowConfidence is assigned when the generator never produces a
	// parseable citation section.
	DefaultLowConfidence = 0.25
)

// sourcesMarker splits the generated answer from its citation list.
const sourcesMarker = "SOURCES:"

// IndexProvider hands out the current index generation.
type IndexProvider interface {
	Current(ctx context.Context) (*index.Index, error)
}

// EpisodeGetter resolves episode ids to their verbalized form.
type EpisodeGetter interface {
	Get(id string) (domain.Episode, bool)
}

// Config tunes retrieval behavior. Zero values fall back to defaults.
type Config struct {
	TopK          int
	MinSimilarity float64
	LowConfidence float64
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.MinSimilarity <= 0 {
		c.MinSimilarity = DefaultMinSimilarity
	}
	if c.LowConfidence <= 0 {
		c.LowConfidence = DefaultLowConfidence
	}
	return c
}

// Engine answers questions from retrieved episodes. Every answer cites the
// episode ids it used; cited ids are always a subset of retrieved ids.
type Engine struct {
	embedder  domain.Embedder
	idx       IndexProvider
	episodes  EpisodeGetter
	generator domain.Generator
	cfg       Config
	logger    *zap.Logger
}

// New creates a retrieval engine. The embedder should carry the question
// instruction prefix; episode embedding happens in the index manager.
func New(
	embedder domain.Embedder,
	idx IndexProvider,
	episodes EpisodeGetter,
	generator domain.Generator,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		embedder:  embedder,
		idx:       idx,
		episodes:  episodes,
		generator: generator,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// Answer embeds the question, retrieves top-k episodes above the similarity
// floor, and generates a cited answer. topK <= 0 uses the configured default.
func (e *Engine) Answer(ctx context.Context, question string, topK int) (domain.QueryResult, error) {
	if topK <= 0 {
		topK = e.cfg.TopK
	}

	embRes, err := e.embedder.Embed(ctx, question)
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("embed question: %w", err)
	}
	domain.UsageFromContext(ctx).AddTokens(embRes.TotalTokens)

	ix, err := e.idx.Current(ctx)
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("current index: %w", err)
	}

	hits, err := ix.Search(embRes.Embedding, topK)
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("search index: %w", err)
	}

	hits = e.aboveFloor(hits)
	if len(hits) == 0 {
		return domain.QueryResult{}, fmt.Errorf("no episode above similarity %.2f: %w",
			e.cfg.MinSimilarity, domain.ErrInsufficientEvidence)
	}

	prompt := e.buildPrompt(question, hits, false)
	raw, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("generate answer: %w", err)
	}

	answer, cited, parseErr := parseAnswer(raw, hits)
	if parseErr != nil {
		e.logger.Warn("Citation section missing, retrying with strict prompt",
			zap.Error(parseErr))

		raw, err = e.generator.Generate(ctx, e.buildPrompt(question, hits, true))
		if err != nil {
			return domain.QueryResult{}, fmt.Errorf("generate answer (retry): %w", err)
		}
		answer, cited, parseErr = parseAnswer(raw, hits)
	}

	if parseErr != nil {
		// Twice malformed: surface the answer anyway, flagged low confidence,
		// with every retrieved episode as a source.
		e.logger.Warn("Citation section missing after retry, degrading confidence")
		return domain.QueryResult{
			Question:   question,
			Engine:     domain.EngineRetrieval,
			Answer:     strings.TrimSpace(raw),
			Confidence: e.cfg.LowConfidence,
			Sources:    hitsToSources(hits),
		}, nil
	}

	return domain.QueryResult{
		Question:   question,
		Engine:     domain.EngineRetrieval,
		Answer:     answer,
		Confidence: meanSimilarity(cited),
		Sources:    hitsToSources(cited),
	}, nil
}

func (e *Engine) aboveFloor(hits []index.Hit) []index.Hit {
	kept := hits[:0]
	for _, h := range hits {
		if h.Similarity >= e.cfg.MinSimilarity {
			kept = append(kept, h)
		}
	}
	return kept
}

func (e *Engine) buildPrompt(question string, hits []index.Hit, strict bool) string {
	var b strings.Builder

	b.WriteString("You answer questions about a person's life using only the numbered episodes below.\n")
	b.WriteString("Episodes:\n")
	for _, h := range hits {
		ep, ok := e.episodes.Get(h.EpisodeID)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", ep.ID, ep.Text)
	}

	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\n\nAnswer the question from the episodes only. ")
	b.WriteString("After the answer, add a line starting with \"SOURCES:\" followed by the ids of every episode you used, comma-separated.\n")
	if strict {
		b.WriteString("Your previous reply omitted the SOURCES line. The SOURCES line is mandatory. ")
		b.WriteString("Reply with the answer, a newline, then exactly one line of the form: SOURCES: id1, id2\n")
	}

	return b.String()
}

// parseAnswer splits raw output into answer text and cited hits. Ids not
// among the retrieved hits are fabrications and get dropped; if nothing
// survives, the output counts as malformed.
func parseAnswer(raw string, hits []index.Hit) (string, []index.Hit, error) {
	pos := strings.LastIndex(raw, sourcesMarker)
	if pos < 0 {
		return "", nil, fmt.Errorf("missing %s section: %w", sourcesMarker, domain.ErrGenerationFormat)
	}

	answer := strings.TrimSpace(raw[:pos])
	tail := raw[pos+len(sourcesMarker):]
	if nl := strings.IndexByte(tail, '\n'); nl >= 0 {
		tail = tail[:nl]
	}

	byID := make(map[string]index.Hit, len(hits))
	for _, h := range hits {
		byID[h.EpisodeID] = h
	}

	var cited []index.Hit
	seen := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(tail, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == ';'
	}) {
		id := strings.Trim(tok, "[].")
		h, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		cited = append(cited, h)
	}

	if answer == "" || len(cited) == 0 {
		return "", nil, fmt.Errorf("empty answer or no valid citation: %w", domain.ErrGenerationFormat)
	}
	return answer, cited, nil
}

func hitsToSources(hits []index.Hit) []domain.Source {
	sources := make([]domain.Source, len(hits))
	for i, h := range hits {
		sources[i] = domain.Source{
			Kind:       domain.SourceEpisode,
			Ref:        h.EpisodeID,
			Similarity: h.Similarity,
		}
	}
	return sources
}

func meanSimilarity(hits []index.Hit) float64 {
	if len(hits) == 0 {
		return 0
	}
	var sum float64
	for _, h := range hits {
		sum += h.Similarity
	}
	return sum / float64(len(hits))
}
