package index

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/domain"
	"github.com/kailas-cloud/recall/internal/episode"
	"github.com/kailas-cloud/recall/internal/metrics"
)

// EpisodeSource is the consumer interface over the episode store.
type EpisodeSource interface {
	Snapshot() []domain.Episode
	ContentHash() string
}

// Cache persists built index generations keyed by content hash.
type Cache interface {
	Load(ctx context.Context, contentHash string) (*Index, error) // (nil, nil) on miss
	Save(ctx context.Context, ix *Index) error
}

// Manager owns the single atomically-swapped index handle. Readers are
// lock-free: they load the current generation and never observe a partial
// build. Rebuilds are serialized; while one is in flight, other queries keep
// using the last valid generation.
type Manager struct {
	episodes EpisodeSource
	embedder domain.BatchEmbedder
	cache    Cache // optional
	logger   *zap.Logger

	current atomic.Pointer[Index]
	buildMu sync.Mutex
}

// NewManager creates an index manager. cache may be nil.
func NewManager(
	episodes EpisodeSource, embedder domain.BatchEmbedder,
	cache Cache, logger *zap.Logger,
) *Manager {
	return &Manager{
		episodes: episodes,
		embedder: embedder,
		cache:    cache,
		logger:   logger,
	}
}

// Current returns the index generation matching the live episode set,
// rebuilding transparently when the content hash has drifted. If a rebuild is
// already in flight, the last valid generation is served without blocking.
func (m *Manager) Current(ctx context.Context) (*Index, error) {
	hash := m.episodes.ContentHash()
	if ix := m.current.Load(); ix != nil && ix.ContentHash() == hash {
		return ix, nil
	}

	if !m.buildMu.TryLock() {
		// A rebuild is in flight. Serve the previous generation if one
		// exists; only the very first build has nothing to fall back to.
		if ix := m.current.Load(); ix != nil {
			return ix, nil
		}
		m.buildMu.Lock()
	}
	defer m.buildMu.Unlock()

	return m.rebuildLocked(ctx)
}

// Warm loads or builds the index ahead of the first query.
func (m *Manager) Warm(ctx context.Context) error {
	m.buildMu.Lock()
	defer m.buildMu.Unlock()
	_, err := m.rebuildLocked(ctx)
	return err
}

// rebuildLocked builds a generation for the current episode snapshot.
// Callers must hold buildMu.
func (m *Manager) rebuildLocked(ctx context.Context) (*Index, error) {
	eps := m.episodes.Snapshot()
	hash := episode.SetHash(eps)

	// Another rebuild may have landed while this caller waited on the lock.
	if ix := m.current.Load(); ix != nil && ix.ContentHash() == hash {
		return ix, nil
	}

	if ix := m.loadFromCache(ctx, hash, len(eps)); ix != nil {
		m.swap(ix, "cache")
		return ix, nil
	}

	start := time.Now()
	ix, err := m.build(ctx, eps, hash)
	if err != nil {
		metrics.IndexRebuildsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.IndexRebuildsTotal.WithLabelValues("success").Inc()

	if m.cache != nil {
		if err := m.cache.Save(ctx, ix); err != nil {
			m.logger.Warn("Failed to persist index generation",
				zap.String("content_hash", hash), zap.Error(err))
		}
	}

	m.swap(ix, "build")
	m.logger.Info("Index rebuilt",
		zap.String("content_hash", hash),
		zap.Int("entries", ix.Len()),
		zap.Int("dim", ix.Dim()),
		zap.Duration("duration", time.Since(start)),
	)
	return ix, nil
}

// AddOrUpdate amends the current generation with one episode, reusing every
// existing vector. Falls back to a full build when no generation exists yet.
func (m *Manager) AddOrUpdate(ctx context.Context, ep domain.Episode) error {
	m.buildMu.Lock()
	defer m.buildMu.Unlock()

	cur := m.current.Load()
	if cur == nil {
		_, err := m.rebuildLocked(ctx)
		return err
	}

	res, err := m.embedder.BatchEmbed(ctx, []string{ep.Text})
	if err != nil {
		return fmt.Errorf("embed episode %s: %w", ep.ID, err)
	}

	old := cur.Entries()
	entries := make([]Entry, 0, len(old)+1)
	for i := range old {
		if old[i].EpisodeID != ep.ID {
			entries = append(entries, old[i])
		}
	}
	entries = append(entries, Entry{
		EpisodeID:  ep.ID,
		Vector:     res.Embeddings[0],
		Timestamp:  ep.Timestamp,
		SourceType: ep.SourceType,
	})

	ix, err := New(entries, m.episodes.ContentHash(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("amend index: %w", err)
	}

	if m.cache != nil {
		if err := m.cache.Save(ctx, ix); err != nil {
			m.logger.Warn("Failed to persist amended index", zap.Error(err))
		}
	}
	m.swap(ix, "amend")
	return nil
}

func (m *Manager) loadFromCache(ctx context.Context, hash string, wantEntries int) *Index {
	if m.cache == nil {
		return nil
	}
	ix, err := m.cache.Load(ctx, hash)
	if err != nil {
		m.logger.Warn("Failed to load cached index",
			zap.String("content_hash", hash), zap.Error(err))
		return nil
	}
	if ix == nil {
		return nil
	}
	// A valid generation mirrors the episode set exactly.
	if ix.Len() != wantEntries || ix.ContentHash() != hash {
		m.logger.Warn("Discarding inconsistent cached index",
			zap.Int("entries", ix.Len()), zap.Int("want", wantEntries))
		return nil
	}
	m.logger.Info("Index loaded from cache",
		zap.String("content_hash", hash), zap.Int("entries", ix.Len()))
	return ix
}

func (m *Manager) build(ctx context.Context, eps []domain.Episode, hash string) (*Index, error) {
	texts := make([]string, len(eps))
	for i, ep := range eps {
		texts[i] = ep.Text
	}

	var vectors [][]float32
	if len(texts) > 0 {
		res, err := m.embedder.BatchEmbed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed %d episodes: %w", len(texts), err)
		}
		if len(res.Embeddings) != len(eps) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d episodes: %w",
				len(res.Embeddings), len(eps), domain.ErrEmbeddingProvider)
		}
		vectors = res.Embeddings
	}

	entries := make([]Entry, len(eps))
	for i, ep := range eps {
		entries[i] = Entry{
			EpisodeID:  ep.ID,
			Vector:     vectors[i],
			Timestamp:  ep.Timestamp,
			SourceType: ep.SourceType,
		}
	}
	return New(entries, hash, time.Now().UTC())
}

func (m *Manager) swap(ix *Index, origin string) {
	m.current.Store(ix)
	metrics.IndexEntries.Set(float64(ix.Len()))
	m.logger.Debug("Index generation swapped",
		zap.String("origin", origin),
		zap.String("content_hash", ix.ContentHash()),
		zap.Int("entries", ix.Len()),
	)
}
