package index

import (
	"context"
	"time"

	"github.com/kailas-cloud/recall/internal/domain"
	"github.com/kailas-cloud/recall/internal/episode"
)

// mockEmbedder returns fixed vectors by text, falling back to fallbackVec.
type mockEmbedder struct {
	vectors     map[string][]float32
	fallbackVec []float32
	err         error
	batchCalls  int
}

func (m *mockEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	m.batchCalls++
	if m.err != nil {
		return domain.BatchEmbeddingResult{}, m.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := m.vectors[t]; ok {
			out[i] = v
		} else {
			out[i] = m.fallbackVec
		}
	}
	return domain.BatchEmbeddingResult{Embeddings: out, TotalTokens: len(texts)}, nil
}

// mockCache is an in-memory index cache.
type mockCache struct {
	saved   map[string][]byte
	loadErr error
	saveErr error
}

func newMockCache() *mockCache {
	return &mockCache{saved: make(map[string][]byte)}
}

func (m *mockCache) Load(_ context.Context, hash string) (*Index, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	data, ok := m.saved[hash]
	if !ok {
		return nil, nil
	}
	return Decode(data)
}

func (m *mockCache) Save(_ context.Context, ix *Index) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved[ix.ContentHash()] = Encode(ix)
	return nil
}

func testStore(eps ...domain.Episode) *episode.Store {
	s := episode.NewStore()
	for _, ep := range eps {
		s.Put(ep)
	}
	return s
}

func ep(id, text string, ts time.Time) domain.Episode {
	return domain.Episode{ID: id, Timestamp: ts, Text: text, SourceType: "post"}
}
