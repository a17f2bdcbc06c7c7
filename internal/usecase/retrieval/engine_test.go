package retrieval

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/domain"
	"github.com/kailas-cloud/recall/internal/index"
)

func TestAnswer_CitedEpisodes(t *testing.T) {
	gen := &mockGenerator{responses: []string{
		"You visited Tokyo in April 2019.\nSOURCES: ep_a",
	}}
	e := newTestEngine(t, gen)

	res, err := e.Answer(context.Background(), "When did I visit Tokyo?", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Engine != domain.EngineRetrieval {
		t.Errorf("engine = %s", res.Engine)
	}
	if res.Answer != "You visited Tokyo in April 2019." {
		t.Errorf("answer = %q", res.Answer)
	}
	if len(res.Sources) != 1 || res.Sources[0].Ref != "ep_a" {
		t.Fatalf("sources = %v", res.Sources)
	}
	// Confidence is the mean similarity of cited episodes; ep_a matches exactly.
	if math.Abs(res.Confidence-1.0) > 1e-6 {
		t.Errorf("confidence = %f", res.Confidence)
	}
	if gen.calls != 1 {
		t.Errorf("generator calls = %d", gen.calls)
	}
}

func TestAnswer_PromptCarriesEpisodeText(t *testing.T) {
	gen := &mockGenerator{responses: []string{"ok\nSOURCES: ep_a"}}
	e := newTestEngine(t, gen)

	if _, err := e.Answer(context.Background(), "q", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	prompt := gen.prompts[0]
	if !strings.Contains(prompt, "[ep_a] On April 2, 2019 I visited Tokyo, Japan.") {
		t.Errorf("prompt missing episode line:\n%s", prompt)
	}
	if !strings.Contains(prompt, "SOURCES:") {
		t.Errorf("prompt missing citation instruction")
	}
}

func TestAnswer_FabricatedCitationsDropped(t *testing.T) {
	gen := &mockGenerator{responses: []string{
		"Some answer.\nSOURCES: ep_a, ep_fake, ep_b",
	}}
	e := newTestEngine(t, gen)

	res, err := e.Answer(context.Background(), "q", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %v", res.Sources)
	}
	for _, s := range res.Sources {
		if s.Ref == "ep_fake" {
			t.Fatal("fabricated id survived into sources")
		}
	}
	// Mean of 1.0 and 0.8.
	if math.Abs(res.Confidence-0.9) > 1e-6 {
		t.Errorf("confidence = %f", res.Confidence)
	}
}

func TestAnswer_RetryOnceOnMissingSources(t *testing.T) {
	gen := &mockGenerator{responses: []string{
		"An answer with no citation line.",
		"An answer with citations.\nSOURCES: ep_b",
	}}
	e := newTestEngine(t, gen)

	res, err := e.Answer(context.Background(), "q", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gen.calls != 2 {
		t.Fatalf("expected 2 generator calls, got %d", gen.calls)
	}
	if !strings.Contains(gen.prompts[1], "mandatory") {
		t.Errorf("retry prompt not strict:\n%s", gen.prompts[1])
	}
	if len(res.Sources) != 1 || res.Sources[0].Ref != "ep_b" {
		t.Errorf("sources = %v", res.Sources)
	}
}

func TestAnswer_TwiceMalformedDegradesConfidence(t *testing.T) {
	gen := &mockGenerator{responses: []string{
		"No citations here.",
		"Still no citations.",
	}}
	e := newTestEngine(t, gen)

	res, err := e.Answer(context.Background(), "q", 0)
	if err != nil {
		t.Fatalf("expected degraded result, got error %v", err)
	}
	if res.Confidence != DefaultLowConfidence {
		t.Errorf("confidence = %f, want %f", res.Confidence, DefaultLowConfidence)
	}
	if res.Answer != "Still no citations." {
		t.Errorf("answer = %q", res.Answer)
	}
	// All retrieved episodes become sources in the degraded case.
	if len(res.Sources) != 2 {
		t.Errorf("sources = %v", res.Sources)
	}
}

func TestAnswer_InsufficientEvidence(t *testing.T) {
	// Query orthogonal to every entry: similarities are 0 and 0.6, floor 0.7.
	e := New(
		&mockEmbedder{vec: []float32{0, 1}},
		&mockIndexProvider{ix: testIndexTwo(t)},
		testEpisodes(),
		&mockGenerator{},
		Config{MinSimilarity: 0.7},
		zap.NewNop(),
	)

	_, err := e.Answer(context.Background(), "q", 0)
	if !errors.Is(err, domain.ErrInsufficientEvidence) {
		t.Fatalf("expected ErrInsufficientEvidence, got %v", err)
	}
}

func TestAnswer_EmbedderFailurePropagates(t *testing.T) {
	e := New(
		&mockEmbedder{err: domain.ErrEmbeddingProvider},
		&mockIndexProvider{ix: testIndexTwo(t)},
		testEpisodes(),
		&mockGenerator{},
		Config{},
		zap.NewNop(),
	)

	_, err := e.Answer(context.Background(), "q", 0)
	if !errors.Is(err, domain.ErrEmbeddingProvider) {
		t.Fatalf("expected ErrEmbeddingProvider, got %v", err)
	}
}

func TestAnswer_RecordsEmbeddingUsage(t *testing.T) {
	gen := &mockGenerator{responses: []string{"ok\nSOURCES: ep_a"}}
	e := newTestEngine(t, gen)

	ctx, usage := domain.NewContextWithUsage(context.Background())
	if _, err := e.Answer(ctx, "q", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usage.TotalTokens != 7 || !usage.Used {
		t.Errorf("usage = %+v", usage)
	}
}

func TestAnswer_TopKOverride(t *testing.T) {
	// With k=1 only the best hit reaches the prompt.
	gen := &mockGenerator{responses: []string{"ok\nSOURCES: ep_a"}}
	e := newTestEngine(t, gen)

	if _, err := e.Answer(context.Background(), "q", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(gen.prompts[0], "[ep_b]") {
		t.Error("k=1 prompt should not contain the second episode")
	}
}

func TestAnswer_RecencyBreaksTies(t *testing.T) {
	// Identical vectors, different timestamps: the newer episode ranks first.
	ix, err := index.New([]index.Entry{
		{EpisodeID: "ep_old", Vector: []float32{1, 0}, Timestamp: time.Unix(100, 0).UTC()},
		{EpisodeID: "ep_new", Vector: []float32{1, 0}, Timestamp: time.Unix(900, 0).UTC()},
	}, "hash", time.Now().UTC())
	if err != nil {
		t.Fatalf("build index: %v", err)
	}

	gen := &mockGenerator{responses: []string{"ok\nSOURCES: ep_new"}}
	e := New(
		&mockEmbedder{vec: []float32{1, 0}},
		&mockIndexProvider{ix: ix},
		mockEpisodes{
			"ep_old": {ID: "ep_old", Text: "old"},
			"ep_new": {ID: "ep_new", Text: "new"},
		},
		gen,
		Config{},
		zap.NewNop(),
	)

	if _, err := e.Answer(context.Background(), "q", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	prompt := gen.prompts[0]
	if strings.Index(prompt, "[ep_new]") > strings.Index(prompt, "[ep_old]") {
		t.Error("newer episode should precede older one in the prompt")
	}
}
