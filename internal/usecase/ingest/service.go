// Package ingest turns batches of raw source records into stored episodes.
package ingest

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/domain"
	"github.com/kailas-cloud/recall/internal/episode"
	"github.com/kailas-cloud/recall/internal/metrics"
)

// Persister durably stores episodes. Optional; nil disables persistence.
type Persister interface {
	SaveBatch(ctx context.Context, eps []domain.Episode) error
}

// Skipped reports one record the batch left behind.
type Skipped struct {
	Index      int    `json:"index"`
	SourceType string `json:"source_type"`
	Reason     string `json:"reason"`
}

// Result summarizes one ingested batch. A batch never fails as a whole:
// malformed records are skipped and reported.
type Result struct {
	Stored     int       `json:"stored"`
	Duplicates int       `json:"duplicates"`
	Skipped    []Skipped `json:"skipped,omitempty"`
}

// Service verbalizes and stores source records.
type Service struct {
	store   *episode.Store
	persist Persister
	logger  *zap.Logger
}

// New creates an ingest service. persist may be nil.
func New(store *episode.Store, persist Persister, logger *zap.Logger) *Service {
	return &Service{store: store, persist: persist, logger: logger}
}

// IngestBatch verbalizes every record, stores the resulting episodes, and
// reports what was skipped. Re-ingesting the same records is a no-op: ids
// are content-derived, so duplicates are detected by the store.
func (s *Service) IngestBatch(ctx context.Context, records []domain.SourceRecord) (Result, error) {
	var res Result
	var stored []domain.Episode

	for i, rec := range records {
		ep, err := episode.Verbalize(rec)
		if err != nil {
			reason := err.Error()
			var mErr *domain.MalformedRecordError
			if errors.As(err, &mErr) {
				reason = mErr.Reason
			}
			res.Skipped = append(res.Skipped, Skipped{
				Index:      i,
				SourceType: rec.SourceType,
				Reason:     reason,
			})
			metrics.RecordsIngestedTotal.WithLabelValues("malformed").Inc()
			s.logger.Warn("Skipping malformed record",
				zap.Int("index", i),
				zap.String("source_type", rec.SourceType),
				zap.Error(err))
			continue
		}

		if s.store.Put(ep) {
			res.Stored++
			stored = append(stored, ep)
			metrics.RecordsIngestedTotal.WithLabelValues("stored").Inc()
		} else {
			res.Duplicates++
			metrics.RecordsIngestedTotal.WithLabelValues("duplicate").Inc()
		}
	}

	// Persistence is best-effort: the in-memory store is authoritative for
	// this process, and the next successful batch re-saves nothing it lost.
	if s.persist != nil && len(stored) > 0 {
		if err := s.persist.SaveBatch(ctx, stored); err != nil {
			s.logger.Warn("Episode persistence failed",
				zap.Int("episodes", len(stored)),
				zap.Error(err))
		}
	}

	s.logger.Info("Batch ingested",
		zap.Int("records", len(records)),
		zap.Int("stored", res.Stored),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}
