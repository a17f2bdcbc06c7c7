package episode

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"

	"github.com/kailas-cloud/recall/internal/domain"
)

// Store holds the canonical episode set. Episodes are content-addressed, so
// Put is idempotent: re-ingesting an unchanged record changes nothing,
// including the content hash.
type Store struct {
	mu   sync.RWMutex
	byID map[string]domain.Episode
	hash string // memoized content hash, "" when dirty
}

// NewStore creates an empty episode store.
func NewStore() *Store {
	return &Store{byID: make(map[string]domain.Episode)}
}

// Put adds an episode. Returns false if an episode with the same ID already
// exists (the set is unchanged).
func (s *Store) Put(ep domain.Episode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[ep.ID]; ok {
		return false
	}
	s.byID[ep.ID] = ep
	s.hash = ""
	return true
}

// Get returns the episode with the given ID.
func (s *Store) Get(id string) (domain.Episode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.byID[id]
	return ep, ok
}

// Len returns the number of episodes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Snapshot returns all episodes ordered by timestamp, then ID. The slice is
// a copy; callers may hold it across index builds.
func (s *Store) Snapshot() []domain.Episode {
	s.mu.RLock()
	defer s.mu.RUnlock()

	eps := make([]domain.Episode, 0, len(s.byID))
	for _, ep := range s.byID {
		eps = append(eps, ep)
	}
	sort.Slice(eps, func(i, j int) bool {
		if !eps[i].Timestamp.Equal(eps[j].Timestamp) {
			return eps[i].Timestamp.Before(eps[j].Timestamp)
		}
		return eps[i].ID < eps[j].ID
	})
	return eps
}

// ContentHash returns a hash over the full episode set. Episode IDs are
// already content-derived, so hashing the sorted ID list covers additions,
// removals, and content changes alike.
func (s *Store) ContentHash() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hash != "" {
		return s.hash
	}

	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	s.hash = hashIDs(ids)
	return s.hash
}

// SetHash hashes an arbitrary episode slice with the same algorithm as
// Store.ContentHash, so index generations built from a snapshot carry a hash
// comparable with the live store.
func SetHash(eps []domain.Episode) string {
	ids := make([]string, 0, len(eps))
	for _, ep := range eps {
		ids = append(ids, ep.ID)
	}
	return hashIDs(ids)
}

func hashIDs(ids []string) string {
	sort.Strings(ids)
	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}
