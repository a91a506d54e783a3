package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engerr "github.com/engramdev/engram/pkg/errors"
	"github.com/engramdev/engram/pkg/types"
)

func TestMetadataStore_Lifecycle(t *testing.T) {
	s := NewMetadataStore()

	p := types.Principle{ID: "p1", Statement: "s", Confidence: 0.5, Status: types.PrincipleActive, CreatedAt: time.Now()}
	require.NoError(t, s.Put(p))
	assert.True(t, engerr.IsConflict(s.Put(p)))

	got, err := s.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, "s", got.Statement)

	_, err = s.Get("missing")
	assert.True(t, engerr.IsNotFound(err))

	require.NoError(t, s.SetStatus("p1", types.PrincipleDeprecated))
	got, _ = s.Get("p1")
	assert.Equal(t, types.PrincipleDeprecated, got.Status)

	assert.True(t, engerr.IsValidation(s.SetStatus("p1", "bogus")))
	assert.True(t, engerr.IsNotFound(s.SetStatus("missing", types.PrincipleActive)))
}

func TestMetadataStore_RejectsBadConfidence(t *testing.T) {
	s := NewMetadataStore()
	err := s.Put(types.Principle{ID: "p", Statement: "s", Confidence: -0.1})
	assert.True(t, engerr.IsValidation(err))
	err = s.Put(types.Principle{ID: "p", Statement: "s", Confidence: 1.1})
	assert.True(t, engerr.IsValidation(err))
}

func TestVectorStore_NearestOrderingAndTieBreak(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	created := map[string]time.Time{"old": older, "new": newer, "far": older}

	s := NewVectorStore(func(id string) (time.Time, bool) {
		ts, ok := created[id]
		return ts, ok
	})

	// "old" and "new" are identical vectors (tie); "far" points away.
	require.NoError(t, s.Put("old", []float32{1, 0}))
	require.NoError(t, s.Put("new", []float32{1, 0}))
	require.NoError(t, s.Put("far", []float32{0, 1}))

	hits := s.Nearest([]float32{1, 0}, 3)
	require.Len(t, hits, 3)
	// Ties broken by most recent createdAt.
	assert.Equal(t, "new", hits[0].ID)
	assert.Equal(t, "old", hits[1].ID)
	assert.Equal(t, "far", hits[2].ID)
	assert.Greater(t, hits[0].Score, hits[2].Score)

	// Limit trims the result, mismatched dimensions are skipped.
	require.NoError(t, s.Put("odd", []float32{1, 0, 0}))
	hits = s.Nearest([]float32{1, 0}, 2)
	assert.Len(t, hits, 2)
}

func TestVectorStore_Validation(t *testing.T) {
	s := NewVectorStore(nil)
	assert.True(t, engerr.IsValidation(s.Put("", []float32{1})))
	assert.True(t, engerr.IsValidation(s.Put("id", nil)))
}

func TestGraphStore_SupersedeKeepsHistory(t *testing.T) {
	s := NewGraphStore()
	require.NoError(t, s.AddEdge("a", "b", "supports"))
	require.NoError(t, s.AddEdge("a", "c", "contradicts"))

	require.NoError(t, s.SupersedeEdge("a", "b", "supports", types.Relationship{
		From: "a", To: "d", Type: "supports",
	}))

	all := s.AllEdges()
	require.Len(t, all, 3) // nothing physically removed

	out := s.Outgoing("a")
	require.Len(t, out, 3)
	assert.Equal(t, types.EdgeSuperseded, out[0].Status)

	in := s.Incoming("d")
	require.Len(t, in, 1)
	assert.Equal(t, types.EdgeActive, in[0].Status)

	err := s.SupersedeEdge("a", "b", "supports", types.Relationship{From: "a", To: "e", Type: "supports"})
	assert.True(t, engerr.IsNotFound(err)) // already superseded
}

func TestReasoningStore_ThresholdRetrieval(t *testing.T) {
	s := NewReasoningStore()

	require.NoError(t, s.PutHypothetical(types.Hypothetical{
		ID: "h1", Question: "aligned", Status: types.HypotheticalOpen,
	}, []float32{1, 0}))
	require.NoError(t, s.PutHypothetical(types.Hypothetical{
		ID: "h2", Question: "orthogonal", Status: types.HypotheticalOpen,
	}, []float32{0, 1}))
	require.NoError(t, s.PutRejected(types.RejectedAlternative{
		ID: "r1", Option: "aligned option", Reason: "tried before",
	}, []float32{1, 0}))

	hyps := s.RelevantHypotheticals([]float32{1, 0}, 0.9)
	require.Len(t, hyps, 1)
	assert.Equal(t, "h1", hyps[0].ID)

	rejs := s.RelevantRejected([]float32{1, 0}, 0.9)
	require.Len(t, rejs, 1)
	assert.Equal(t, "r1", rejs[0].ID)

	// A permissive threshold admits everything with non-negative score.
	assert.Len(t, s.RelevantHypotheticals([]float32{1, 0}, 0), 2)
}

func TestReasoningStore_Resolve(t *testing.T) {
	s := NewReasoningStore()
	require.NoError(t, s.PutHypothetical(types.Hypothetical{
		ID: "h1", Question: "q", Status: types.HypotheticalOpen,
		Alternatives: []types.Alternative{{Option: "x", Status: types.AlternativePending}},
	}, []float32{1}))

	require.NoError(t, s.ResolveHypothetical("h1", []types.Alternative{
		{Option: "x", Status: types.AlternativeAccepted, Reason: "won on simplicity"},
	}))

	hyps := s.Hypotheticals()
	require.Len(t, hyps, 1)
	assert.Equal(t, types.HypotheticalResolved, hyps[0].Status)
	assert.Equal(t, types.AlternativeAccepted, hyps[0].Alternatives[0].Status)

	assert.True(t, engerr.IsNotFound(s.ResolveHypothetical("missing", nil)))
}
