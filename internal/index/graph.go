package index

import (
	"sync"

	engerr "github.com/engramdev/engram/pkg/errors"
	"github.com/engramdev/engram/pkg/types"
)

// GraphStore holds the directed relationship edges between principles.
// Edges are additive: superseding appends a replacement and flips the old
// edge's status, nothing is ever physically removed.
type GraphStore struct {
	mu    sync.RWMutex
	edges []types.Relationship
}

// NewGraphStore creates an empty graph sub-store.
func NewGraphStore() *GraphStore {
	return &GraphStore{}
}

// AddEdge appends a directed edge.
func (s *GraphStore) AddEdge(from, to, typ string) error {
	if from == "" || to == "" {
		return engerr.NewValidationError("graph.addedge", from+"->"+to, "edge endpoints must not be empty")
	}
	if typ == "" {
		return engerr.NewValidationError("graph.addedge", from+"->"+to, "edge type must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges = append(s.edges, types.Relationship{From: from, To: to, Type: typ, Status: types.EdgeActive})
	return nil
}

// Add appends an already-formed edge, defaulting its status to active.
func (s *GraphStore) Add(edge types.Relationship) error {
	if edge.Status == "" {
		edge.Status = types.EdgeActive
	}
	if edge.From == "" || edge.To == "" || edge.Type == "" {
		return engerr.NewValidationError("graph.add", edge.From+"->"+edge.To, "incomplete edge")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges = append(s.edges, edge)
	return nil
}

// SupersedeEdge marks the first active (from, to, typ) edge superseded and
// appends replacement in its place.
func (s *GraphStore) SupersedeEdge(from, to, typ string, replacement types.Relationship) error {
	if replacement.Status == "" {
		replacement.Status = types.EdgeActive
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.edges {
		e := &s.edges[i]
		if e.From == from && e.To == to && e.Type == typ && e.Status == types.EdgeActive {
			e.Status = types.EdgeSuperseded
			s.edges = append(s.edges, replacement)
			return nil
		}
	}
	return engerr.NewNotFoundError("graph.supersede", from+"->"+to, "no active edge of type "+typ)
}

// Outgoing returns all edges leaving id.
func (s *GraphStore) Outgoing(id string) []types.Relationship {
	return s.filter(func(e types.Relationship) bool { return e.From == id })
}

// Incoming returns all edges entering id.
func (s *GraphStore) Incoming(id string) []types.Relationship {
	return s.filter(func(e types.Relationship) bool { return e.To == id })
}

// AllEdges returns a copy of every edge in insertion order.
func (s *GraphStore) AllEdges() []types.Relationship {
	return s.filter(func(types.Relationship) bool { return true })
}

func (s *GraphStore) filter(keep func(types.Relationship) bool) []types.Relationship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Relationship
	for _, e := range s.edges {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of edges, superseded included.
func (s *GraphStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}
