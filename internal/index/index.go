package index

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/kailas-cloud/recall/internal/domain"
)

// Entry is one indexed episode: its ID, unit-normalized vector, and the
// metadata needed for tie-breaking and filtering.
type Entry struct {
	EpisodeID  string
	Vector     []float32
	Timestamp  time.Time
	SourceType string
}

// Hit is one nearest-neighbor match.
type Hit struct {
	EpisodeID  string
	Similarity float64
	Timestamp  time.Time
}

// Index is one immutable generation of the similarity index. Readers share a
// generation through an atomically-swapped handle (see Manager); nothing here
// mutates after construction.
type Index struct {
	entries     []Entry
	dim         int
	contentHash string
	builtAt     time.Time
}

// New constructs an index generation. Every vector must share one dimension.
func New(entries []Entry, contentHash string, builtAt time.Time) (*Index, error) {
	dim := 0
	for i := range entries {
		if dim == 0 {
			dim = len(entries[i].Vector)
		}
		if len(entries[i].Vector) != dim {
			return nil, fmt.Errorf("entry %s: vector dim %d, index dim %d",
				entries[i].EpisodeID, len(entries[i].Vector), dim)
		}
		entries[i].Vector = normalize(entries[i].Vector)
	}
	return &Index{
		entries:     entries,
		dim:         dim,
		contentHash: contentHash,
		builtAt:     builtAt,
	}, nil
}

// Len returns the entry count. After a successful build it equals the episode
// count exactly.
func (ix *Index) Len() int { return len(ix.entries) }

// Dim returns the vector dimensionality.
func (ix *Index) Dim() int { return ix.dim }

// ContentHash identifies the episode set this generation was built from.
func (ix *Index) ContentHash() string { return ix.contentHash }

// BuiltAt returns the build completion time.
func (ix *Index) BuiltAt() time.Time { return ix.builtAt }

// Entries returns the raw entries. The slice must be treated as read-only.
func (ix *Index) Entries() []Entry { return ix.entries }

// Search returns the k nearest entries by cosine similarity, ranked by
// descending similarity with ties broken by most-recent timestamp.
func (ix *Index) Search(vec []float32, k int) ([]Hit, error) {
	if ix == nil || len(ix.entries) == 0 {
		return nil, domain.ErrIndexEmpty
	}
	if len(vec) != ix.dim {
		return nil, fmt.Errorf("query vector dim %d, index dim %d", len(vec), ix.dim)
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	q := normalize(vec)
	hits := make([]Hit, 0, len(ix.entries))
	for i := range ix.entries {
		hits = append(hits, Hit{
			EpisodeID:  ix.entries[i].EpisodeID,
			Similarity: dot(q, ix.entries[i].Vector),
			Timestamp:  ix.entries[i].Timestamp,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		if !hits[i].Timestamp.Equal(hits[j].Timestamp) {
			return hits[i].Timestamp.After(hits[j].Timestamp)
		}
		return hits[i].EpisodeID < hits[j].EpisodeID
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// normalize returns a unit-length copy. Zero vectors pass through unchanged
// so they never match anything with positive similarity.
func normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) * inv)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
