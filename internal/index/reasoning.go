package index

import (
	"sort"
	"sync"

	engerr "github.com/engramdev/engram/pkg/errors"
	"github.com/engramdev/engram/pkg/types"
)

// ReasoningStore holds the deliberation records: hypothetical questions
// with their alternatives, and standalone rejected alternatives. Each
// entry carries the embedding of its question or option text so retrieval
// never re-embeds stored content.
type ReasoningStore struct {
	mu            sync.RWMutex
	hypotheticals map[string]types.Hypothetical
	rejected      map[string]types.RejectedAlternative
	questionVecs  map[string][]float32
	optionVecs    map[string][]float32
}

// NewReasoningStore creates an empty reasoning sub-store.
func NewReasoningStore() *ReasoningStore {
	return &ReasoningStore{
		hypotheticals: make(map[string]types.Hypothetical),
		rejected:      make(map[string]types.RejectedAlternative),
		questionVecs:  make(map[string][]float32),
		optionVecs:    make(map[string][]float32),
	}
}

// PutHypothetical stores h with the embedding of its question.
func (s *ReasoningStore) PutHypothetical(h types.Hypothetical, questionVec []float32) error {
	if h.ID == "" {
		return engerr.NewValidationError("reasoning.puthypothetical", "", "hypothetical id must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hypotheticals[h.ID] = h
	if len(questionVec) > 0 {
		cp := make([]float32, len(questionVec))
		copy(cp, questionVec)
		s.questionVecs[h.ID] = cp
	}
	return nil
}

// PutRejected stores r with the embedding of its option.
func (s *ReasoningStore) PutRejected(r types.RejectedAlternative, optionVec []float32) error {
	if r.ID == "" {
		return engerr.NewValidationError("reasoning.putrejected", "", "rejected alternative id must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected[r.ID] = r
	if len(optionVec) > 0 {
		cp := make([]float32, len(optionVec))
		copy(cp, optionVec)
		s.optionVecs[r.ID] = cp
	}
	return nil
}

// ResolveHypothetical marks a hypothetical resolved, recording the fate of
// its alternatives.
func (s *ReasoningStore) ResolveHypothetical(id string, alternatives []types.Alternative) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hypotheticals[id]
	if !ok {
		return engerr.NewNotFoundError("reasoning.resolve", id, "unknown hypothetical")
	}
	h.Status = types.HypotheticalResolved
	if alternatives != nil {
		h.Alternatives = alternatives
	}
	s.hypotheticals[id] = h
	return nil
}

// RelevantHypotheticals returns hypotheticals whose embedded question
// meets the similarity threshold against queryVec, most similar first.
func (s *ReasoningStore) RelevantHypotheticals(queryVec []float32, threshold float32) []types.Hypothetical {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		h     types.Hypothetical
		score float32
	}
	var hits []scored
	for id, vec := range s.questionVecs {
		if len(vec) != len(queryVec) {
			continue
		}
		if score := cosineSimilarity(queryVec, vec); score >= threshold {
			hits = append(hits, scored{h: s.hypotheticals[id], score: score})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].h.ID < hits[j].h.ID
	})
	out := make([]types.Hypothetical, len(hits))
	for i, h := range hits {
		out[i] = h.h
	}
	return out
}

// RelevantRejected returns rejected alternatives whose embedded option
// meets the similarity threshold against queryVec, most similar first.
func (s *ReasoningStore) RelevantRejected(queryVec []float32, threshold float32) []types.RejectedAlternative {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		r     types.RejectedAlternative
		score float32
	}
	var hits []scored
	for id, vec := range s.optionVecs {
		if len(vec) != len(queryVec) {
			continue
		}
		if score := cosineSimilarity(queryVec, vec); score >= threshold {
			hits = append(hits, scored{r: s.rejected[id], score: score})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].r.ID < hits[j].r.ID
	})
	out := make([]types.RejectedAlternative, len(hits))
	for i, r := range hits {
		out[i] = r.r
	}
	return out
}

// Hypotheticals returns every hypothetical sorted by id.
func (s *ReasoningStore) Hypotheticals() []types.Hypothetical {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Hypothetical, 0, len(s.hypotheticals))
	for _, h := range s.hypotheticals {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Rejected returns every rejected alternative sorted by id.
func (s *ReasoningStore) Rejected() []types.RejectedAlternative {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.RejectedAlternative, 0, len(s.rejected))
	for _, r := range s.rejected {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Vectors returns copies of the question and option embeddings, keyed by
// entity id, for snapshot serialization.
func (s *ReasoningStore) Vectors() map[string][]float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]float32, len(s.questionVecs)+len(s.optionVecs))
	for id, vec := range s.questionVecs {
		cp := make([]float32, len(vec))
		copy(cp, vec)
		out[id] = cp
	}
	for id, vec := range s.optionVecs {
		cp := make([]float32, len(vec))
		copy(cp, vec)
		out[id] = cp
	}
	return out
}

// HypotheticalCount returns the number of hypotheticals.
func (s *ReasoningStore) HypotheticalCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hypotheticals)
}

// RejectedCount returns the number of rejected alternatives.
func (s *ReasoningStore) RejectedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rejected)
}
