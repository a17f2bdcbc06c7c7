// Package indexcache persists serialized index generations in a key-value
// store so a restart with unchanged episodes skips re-embedding.
package indexcache

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/db"
	"github.com/kailas-cloud/recall/internal/domain"
	"github.com/kailas-cloud/recall/internal/index"
)

var cacheKeyPrefix = domain.KeyPrefix + "index:"

// store is the consumer interface for the index cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Cache implements index.Cache over a key-value store, one entry per
// content hash.
type Cache struct {
	store  store
	logger *zap.Logger
}

var _ index.Cache = (*Cache)(nil)

// New creates an index cache backed by the given store.
func New(s store, logger *zap.Logger) *Cache {
	return &Cache{store: s, logger: logger}
}

// Load returns the cached generation for the given content hash, or
// (nil, nil) when absent. Undecodable payloads count as a miss: the
// caller rebuilds and overwrites them.
func (c *Cache) Load(ctx context.Context, contentHash string) (*index.Index, error) {
	data, err := c.store.Get(ctx, cacheKeyPrefix+contentHash)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load index %s: %w", contentHash, err)
	}

	ix, err := index.Decode(data)
	if err != nil {
		c.logger.Warn("Discarding undecodable cached index",
			zap.String("content_hash", contentHash),
			zap.Error(err))
		return nil, nil
	}

	return ix, nil
}

// Save persists a built generation under its content hash.
func (c *Cache) Save(ctx context.Context, ix *index.Index) error {
	key := cacheKeyPrefix + ix.ContentHash()
	if err := c.store.Set(ctx, key, index.Encode(ix)); err != nil {
		return fmt.Errorf("save index %s: %w", ix.ContentHash(), err)
	}
	return nil
}
