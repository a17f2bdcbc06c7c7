package recall

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/recall/internal/domain"
)

func TestNew_RequiresRedis(t *testing.T) {
	_, err := New(
		WithViews("/tmp/views.db", "purchases"),
		WithGeneration("key", "", "test-model"),
	)
	if err == nil {
		t.Fatal("expected error without redis address")
	}
}

func TestNew_RequiresViews(t *testing.T) {
	_, err := New(
		WithRedis("localhost:6379"),
		WithGeneration("key", "", "test-model"),
	)
	if err == nil {
		t.Fatal("expected error without views")
	}
}

func TestNew_RequiresGenerationModel(t *testing.T) {
	_, err := New(
		WithRedis("localhost:6379"),
		WithViews("/tmp/views.db", "purchases"),
	)
	if err == nil {
		t.Fatal("expected error without generation model")
	}
}

func TestWithQueryTopK(t *testing.T) {
	var qo queryOptions
	WithQueryTopK(7)(&qo)
	if qo.topK != 7 {
		t.Errorf("topK = %d, want 7", qo.topK)
	}
}

func TestNoopEmbedder_FailsWithProviderError(t *testing.T) {
	var e noopEmbedder

	_, err := e.Embed(context.Background(), "text")
	if !errors.Is(err, domain.ErrEmbeddingProvider) {
		t.Errorf("Embed error = %v, want ErrEmbeddingProvider", err)
	}

	_, err = e.BatchEmbed(context.Background(), []string{"a", "b"})
	if !errors.Is(err, domain.ErrEmbeddingProvider) {
		t.Errorf("BatchEmbed error = %v, want ErrEmbeddingProvider", err)
	}
}

func TestAnswerFromResult(t *testing.T) {
	res := domain.QueryResult{
		Question:       "how many books did I buy?",
		Engine:         domain.EngineStructured,
		Answer:         "The answer is 7.",
		Confidence:     0.95,
		GeneratedQuery: "SELECT COUNT(*) FROM purchases WHERE category = 'books'",
		Sources: []domain.Source{
			{Kind: domain.SourceView, Ref: "purchases", Rows: 1},
		},
		Trace: domain.Trace{
			ID: "trace-1",
			Attempts: []domain.Attempt{
				{Engine: domain.EngineStructured, Outcome: domain.AttemptDone, Duration: time.Millisecond},
			},
			EmbeddingTokens: 12,
		},
	}

	a := answerFromResult(res)

	if a.Engine != "structured" {
		t.Errorf("engine: got %q", a.Engine)
	}
	if a.Text != "The answer is 7." {
		t.Errorf("text: got %q", a.Text)
	}
	if a.GeneratedQuery == "" {
		t.Error("generated query missing")
	}
	if len(a.Sources) != 1 || a.Sources[0].Kind != "view" || a.Sources[0].Rows != 1 {
		t.Errorf("unexpected sources: %+v", a.Sources)
	}
	if a.TraceID != "trace-1" || len(a.Attempts) != 1 || a.Attempts[0].Outcome != "done" {
		t.Errorf("unexpected trace: id=%q attempts=%+v", a.TraceID, a.Attempts)
	}
	if a.EmbeddingTokens != 12 {
		t.Errorf("embedding tokens: got %d", a.EmbeddingTokens)
	}
}

func TestErrAllEnginesFailed_IsDomainSentinel(t *testing.T) {
	if !errors.Is(ErrAllEnginesFailed, domain.ErrAllEnginesFailed) {
		t.Error("ErrAllEnginesFailed must match the internal sentinel")
	}
}
