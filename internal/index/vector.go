package index

import (
	"math"
	"sort"
	"sync"
	"time"

	engerr "github.com/engramdev/engram/pkg/errors"
)

// Hit is one nearest-neighbor result.
type Hit struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`
}

// VectorStore maps principle ids to embeddings and answers brute-force
// cosine similarity queries. Embeddings arrive from the embedding
// collaborator exactly once per id and are never recomputed here.
type VectorStore struct {
	mu      sync.RWMutex
	vectors map[string][]float32

	// createdAt resolves tie-breaks; wired to the metadata sub-store.
	createdAt func(id string) (time.Time, bool)
}

// NewVectorStore creates a vector sub-store. createdAt may be nil, in
// which case ties fall back to id ordering alone.
func NewVectorStore(createdAt func(id string) (time.Time, bool)) *VectorStore {
	return &VectorStore{
		vectors:   make(map[string][]float32),
		createdAt: createdAt,
	}
}

// Put stores the embedding for id.
func (s *VectorStore) Put(id string, vec []float32) error {
	if id == "" {
		return engerr.NewValidationError("vector.put", "", "id must not be empty")
	}
	if len(vec) == 0 {
		return engerr.NewValidationError("vector.put", id, "embedding must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]float32, len(vec))
	copy(cp, vec)
	s.vectors[id] = cp
	return nil
}

// Get returns the embedding for id.
func (s *VectorStore) Get(id string) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vec, ok := s.vectors[id]
	return vec, ok
}

// Has reports whether an embedding exists for id.
func (s *VectorStore) Has(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// Nearest returns up to limit hits ordered by cosine similarity
// descending; equal scores are broken by most recent creation time, then
// id for stability.
func (s *VectorStore) Nearest(query []float32, limit int) []Hit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		Hit
		created time.Time
	}
	results := make([]scored, 0, len(s.vectors))
	for id, vec := range s.vectors {
		if len(vec) != len(query) {
			continue
		}
		sc := scored{Hit: Hit{ID: id, Score: cosineSimilarity(query, vec)}}
		if s.createdAt != nil {
			sc.created, _ = s.createdAt(id)
		}
		results = append(results, sc)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].created.Equal(results[j].created) {
			return results[i].created.After(results[j].created)
		}
		return results[i].ID < results[j].ID
	})

	if limit <= 0 || limit > len(results) {
		limit = len(results)
	}
	out := make([]Hit, limit)
	for i := 0; i < limit; i++ {
		out[i] = results[i].Hit
	}
	return out
}

// All returns a copy of the vector table, keyed by id.
func (s *VectorStore) All() map[string][]float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]float32, len(s.vectors))
	for id, vec := range s.vectors {
		cp := make([]float32, len(vec))
		copy(cp, vec)
		out[id] = cp
	}
	return out
}

// Len returns the number of stored embeddings.
func (s *VectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

// cosineSimilarity calculates the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float32 {
	var dotProduct, normA, normB float32
	for i := 0; i < len(a); i++ {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProduct / (sqrt(normA) * sqrt(normB))
}

func sqrt(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}
