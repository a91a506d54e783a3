// Package index implements the composite semantic memory index: four
// cooperating sub-stores (metadata, vector, graph, reasoning) behind a
// single write-through ingest path and a single query path.
package index

import (
	"sort"
	"sync"
	"time"

	engerr "github.com/engramdev/engram/pkg/errors"
	"github.com/engramdev/engram/pkg/types"
)

// MetadataStore is the source of truth for principle existence and
// lifecycle. Every other sub-store refers to principles by id; only this
// store holds the statement text.
type MetadataStore struct {
	mu         sync.RWMutex
	principles map[string]types.Principle
}

// NewMetadataStore creates an empty metadata sub-store.
func NewMetadataStore() *MetadataStore {
	return &MetadataStore{principles: make(map[string]types.Principle)}
}

// Put stores a principle. Re-putting an existing id is a conflict:
// statements are never edited, a changed statement is a new principle.
func (s *MetadataStore) Put(p types.Principle) error {
	if p.ID == "" {
		return engerr.NewValidationError("metadata.put", "", "principle id must not be empty")
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return engerr.NewValidationError("metadata.put", p.ID, "confidence must be in [0,1]")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.principles[p.ID]; exists {
		return engerr.NewConflictError("metadata.put", p.ID, "principle already exists")
	}
	s.principles[p.ID] = p
	return nil
}

// Get returns the principle for id.
func (s *MetadataStore) Get(id string) (types.Principle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.principles[id]
	if !ok {
		return types.Principle{}, engerr.NewNotFoundError("metadata.get", id, "unknown principle")
	}
	return p, nil
}

// Has reports whether id exists.
func (s *MetadataStore) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.principles[id]
	return ok
}

// SetStatus transitions a principle's lifecycle status. This is the only
// permitted mutation.
func (s *MetadataStore) SetStatus(id string, status types.PrincipleStatus) error {
	switch status {
	case types.PrincipleActive, types.PrincipleSuperseded, types.PrincipleDeprecated:
	default:
		return engerr.NewValidationError("metadata.setstatus", id, "unknown status "+string(status))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principles[id]
	if !ok {
		return engerr.NewNotFoundError("metadata.setstatus", id, "unknown principle")
	}
	p.Status = status
	s.principles[id] = p
	return nil
}

// CreatedAt returns the creation time for id, used by the vector store's
// tie-break ordering.
func (s *MetadataStore) CreatedAt(id string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.principles[id]
	return p.CreatedAt, ok
}

// All returns every principle ordered by creation time then id, suitable
// for snapshot serialization.
func (s *MetadataStore) All() []types.Principle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Principle, 0, len(s.principles))
	for _, p := range s.principles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of principles.
func (s *MetadataStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.principles)
}
