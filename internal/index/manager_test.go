package index

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/domain"
)

func TestManagerBuildsOnFirstQuery(t *testing.T) {
	base := time.Date(2019, 3, 28, 0, 0, 0, 0, time.UTC)
	store := testStore(
		ep("ep_a", "visited Tokyo", base),
		ep("ep_b", "visited Kyoto", base.Add(time.Hour)),
	)
	emb := &mockEmbedder{fallbackVec: []float32{1, 0}}
	m := NewManager(store, emb, nil, zap.NewNop())

	ix, err := m.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if ix.Len() != store.Len() {
		t.Errorf("index has %d entries, store has %d episodes", ix.Len(), store.Len())
	}
	if ix.ContentHash() != store.ContentHash() {
		t.Error("index content hash does not match store")
	}
}

func TestManagerReusesMatchingGeneration(t *testing.T) {
	store := testStore(ep("ep_a", "text", time.Now()))
	emb := &mockEmbedder{fallbackVec: []float32{1, 0}}
	m := NewManager(store, emb, nil, zap.NewNop())

	first, err := m.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	second, err := m.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}

	if first != second {
		t.Error("expected the same generation for an unchanged episode set")
	}
	if emb.batchCalls != 1 {
		t.Errorf("expected 1 embed call, got %d", emb.batchCalls)
	}
}

func TestManagerRebuildsOnHashDrift(t *testing.T) {
	base := time.Date(2019, 3, 28, 0, 0, 0, 0, time.UTC)
	store := testStore(ep("ep_a", "visited Tokyo", base))
	emb := &mockEmbedder{fallbackVec: []float32{1, 0}}
	m := NewManager(store, emb, nil, zap.NewNop())

	if _, err := m.Current(context.Background()); err != nil {
		t.Fatalf("Current: %v", err)
	}

	// New episode lands after the build; the next query must pick it up.
	store.Put(ep("ep_new", "visited Osaka", base.Add(time.Hour)))

	ix, err := m.Current(context.Background())
	if err != nil {
		t.Fatalf("Current after drift: %v", err)
	}
	if ix.Len() != 2 {
		t.Fatalf("expected rebuilt index with 2 entries, got %d", ix.Len())
	}
	found := false
	for _, e := range ix.Entries() {
		if e.EpisodeID == "ep_new" {
			found = true
		}
	}
	if !found {
		t.Error("new episode missing from rebuilt index")
	}
}

func TestManagerCacheHitSkipsEmbedding(t *testing.T) {
	base := time.Date(2019, 3, 28, 0, 0, 0, 0, time.UTC)
	store := testStore(ep("ep_a", "visited Tokyo", base))
	cache := newMockCache()

	first := NewManager(store, &mockEmbedder{fallbackVec: []float32{1, 0}}, cache, zap.NewNop())
	if _, err := first.Current(context.Background()); err != nil {
		t.Fatalf("Current: %v", err)
	}

	// Fresh manager over the same set, as after a restart. The cached
	// generation must be loaded without touching the embedder.
	emb := &mockEmbedder{err: errors.New("provider should not be called")}
	second := NewManager(store, emb, cache, zap.NewNop())

	ix, err := second.Current(context.Background())
	if err != nil {
		t.Fatalf("Current with warm cache: %v", err)
	}
	if ix.Len() != 1 {
		t.Errorf("expected 1 entry from cache, got %d", ix.Len())
	}
	if emb.batchCalls != 0 {
		t.Errorf("embedder called %d times despite cache hit", emb.batchCalls)
	}
}

func TestManagerBuildFailureKeepsOldGeneration(t *testing.T) {
	base := time.Date(2019, 3, 28, 0, 0, 0, 0, time.UTC)
	store := testStore(ep("ep_a", "visited Tokyo", base))
	emb := &mockEmbedder{fallbackVec: []float32{1, 0}}
	m := NewManager(store, emb, nil, zap.NewNop())

	old, err := m.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}

	store.Put(ep("ep_b", "visited Osaka", base.Add(time.Hour)))
	emb.err = domain.ErrEmbeddingProvider

	if _, err := m.Current(context.Background()); !errors.Is(err, domain.ErrEmbeddingProvider) {
		t.Fatalf("expected ErrEmbeddingProvider, got %v", err)
	}
	if got := m.current.Load(); got != old {
		t.Error("failed rebuild must not replace the last valid generation")
	}
}

func TestManagerAddOrUpdateAmends(t *testing.T) {
	base := time.Date(2019, 3, 28, 0, 0, 0, 0, time.UTC)
	store := testStore(ep("ep_a", "visited Tokyo", base))
	emb := &mockEmbedder{fallbackVec: []float32{1, 0}}
	m := NewManager(store, emb, nil, zap.NewNop())

	if _, err := m.Current(context.Background()); err != nil {
		t.Fatalf("Current: %v", err)
	}

	newEp := ep("ep_b", "visited Osaka", base.Add(time.Hour))
	store.Put(newEp)
	if err := m.AddOrUpdate(context.Background(), newEp); err != nil {
		t.Fatalf("AddOrUpdate: %v", err)
	}

	ix, err := m.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if ix.Len() != 2 {
		t.Errorf("expected 2 entries after amend, got %d", ix.Len())
	}
	// Amend embeds only the new episode, on top of the initial build call.
	if emb.batchCalls != 2 {
		t.Errorf("expected 2 embed calls total, got %d", emb.batchCalls)
	}
}
