// Package episode persists verbalized episodes as hashes in the key-value
// store so ingested data survives restarts.
package episode

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/db"
	"github.com/kailas-cloud/recall/internal/domain"
)

var keyPrefix = domain.KeyPrefix + "episode:"

const (
	fieldID         = "id"
	fieldTimestamp  = "timestamp"
	fieldText       = "text"
	fieldSourceType = "source_type"
	fieldProvenance = "provenance"
)

// store is the consumer interface for episode persistence (ISP).
type store interface {
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Store persists episodes as one hash per episode id.
type Store struct {
	store  store
	logger *zap.Logger
}

// New creates an episode persistence store.
func New(s store, logger *zap.Logger) *Store {
	return &Store{store: s, logger: logger}
}

// SaveBatch writes episodes in a single pipelined round-trip. Writing an
// existing id overwrites identical content, so re-ingest stays idempotent.
func (s *Store) SaveBatch(ctx context.Context, eps []domain.Episode) error {
	if len(eps) == 0 {
		return nil
	}

	items := make([]db.HashSetItem, len(eps))
	for i, ep := range eps {
		items[i] = db.HashSetItem{
			Key: keyPrefix + ep.ID,
			Fields: map[string]string{
				fieldID:         ep.ID,
				fieldTimestamp:  ep.Timestamp.UTC().Format(time.RFC3339Nano),
				fieldText:       ep.Text,
				fieldSourceType: ep.SourceType,
				fieldProvenance: ep.Provenance,
			},
		}
	}

	if err := s.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("save %d episodes: %w", len(eps), err)
	}
	return nil
}

// LoadAll returns every persisted episode. Hashes that fail to parse are
// skipped with a warning rather than blocking startup.
func (s *Store) LoadAll(ctx context.Context) ([]domain.Episode, error) {
	keys, err := s.store.Scan(ctx, keyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("scan episodes: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	hashes, err := s.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load %d episodes: %w", len(keys), err)
	}

	eps := make([]domain.Episode, 0, len(hashes))
	for i, fields := range hashes {
		ep, err := parseEpisode(fields)
		if err != nil {
			s.logger.Warn("Skipping unparseable persisted episode",
				zap.String("key", keys[i]),
				zap.Error(err))
			continue
		}
		eps = append(eps, ep)
	}

	return eps, nil
}

func parseEpisode(fields map[string]string) (domain.Episode, error) {
	id := fields[fieldID]
	if id == "" {
		return domain.Episode{}, fmt.Errorf("missing id")
	}
	ts, err := time.Parse(time.RFC3339Nano, fields[fieldTimestamp])
	if err != nil {
		return domain.Episode{}, fmt.Errorf("parse timestamp: %w", err)
	}
	if fields[fieldText] == "" {
		return domain.Episode{}, fmt.Errorf("missing text")
	}

	return domain.Episode{
		ID:         id,
		Timestamp:  ts,
		Text:       fields[fieldText],
		SourceType: fields[fieldSourceType],
		Provenance: fields[fieldProvenance],
	}, nil
}
