package retrieval

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/domain"
	"github.com/kailas-cloud/recall/internal/index"
)

type mockEmbedder struct {
	vec    []float32
	tokens int
	err    error
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: m.vec, TotalTokens: m.tokens}, nil
}

type mockIndexProvider struct {
	ix  *index.Index
	err error
}

func (m *mockIndexProvider) Current(_ context.Context) (*index.Index, error) {
	return m.ix, m.err
}

type mockEpisodes map[string]domain.Episode

func (m mockEpisodes) Get(id string) (domain.Episode, bool) {
	ep, ok := m[id]
	return ep, ok
}

// mockGenerator replays scripted responses in order.
type mockGenerator struct {
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (m *mockGenerator) Generate(_ context.Context, prompt string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	if m.calls > len(m.responses) {
		return m.responses[len(m.responses)-1], nil
	}
	return m.responses[m.calls-1], nil
}

func testEpisodes() mockEpisodes {
	return mockEpisodes{
		"ep_a": {ID: "ep_a", Text: "On April 2, 2019 I visited Tokyo, Japan.", SourceType: "location"},
		"ep_b": {ID: "ep_b", Text: "On May 9, 2021 I visited Kyoto, Japan.", SourceType: "location"},
	}
}

// testIndexTwo holds ep_a at [1,0] and ep_b at [0.8,0.6]; querying [1,0]
// scores them 1.0 and 0.8.
func testIndexTwo(t *testing.T) *index.Index {
	t.Helper()
	ix, err := index.New([]index.Entry{
		{EpisodeID: "ep_a", Vector: []float32{1, 0}, Timestamp: time.Unix(100, 0).UTC(), SourceType: "location"},
		{EpisodeID: "ep_b", Vector: []float32{0.8, 0.6}, Timestamp: time.Unix(200, 0).UTC(), SourceType: "location"},
	}, "hash", time.Unix(300, 0).UTC())
	if err != nil {
		t.Fatalf("build index: %v", err)
	}
	return ix
}

func newTestEngine(t *testing.T, gen *mockGenerator) *Engine {
	t.Helper()
	return New(
		&mockEmbedder{vec: []float32{1, 0}, tokens: 7},
		&mockIndexProvider{ix: testIndexTwo(t)},
		testEpisodes(),
		gen,
		Config{},
		zap.NewNop(),
	)
}
