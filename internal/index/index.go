package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/engramdev/engram/internal/config"
	"github.com/engramdev/engram/internal/embedding"
	"github.com/engramdev/engram/internal/metrics"
	"github.com/engramdev/engram/internal/synthesis"
	engerr "github.com/engramdev/engram/pkg/errors"
	"github.com/engramdev/engram/pkg/types"
)

// Options bounds retrieval and the deliberation loop.
type Options struct {
	TopK                  int
	DefaultIterations     int
	ConfidenceThreshold   float64
	HypotheticalThreshold float32
	RejectedThreshold     float32
}

// OptionsFromConfig maps the reasoning config section onto index options.
func OptionsFromConfig(cfg config.ReasoningConfig) Options {
	return Options{
		TopK:                  cfg.TopK,
		DefaultIterations:     cfg.Iterations,
		ConfidenceThreshold:   cfg.ConfidenceThreshold,
		HypotheticalThreshold: float32(cfg.HypotheticalThreshold),
		RejectedThreshold:     float32(cfg.RejectedThreshold),
	}
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = 5
	}
	if o.DefaultIterations <= 0 {
		o.DefaultIterations = 5
	}
	if o.ConfidenceThreshold <= 0 {
		o.ConfidenceThreshold = 0.85
	}
	if o.HypotheticalThreshold <= 0 {
		o.HypotheticalThreshold = 0.65
	}
	if o.RejectedThreshold <= 0 {
		o.RejectedThreshold = 0.65
	}
	return o
}

// SearchOptions customizes one query.
type SearchOptions struct {
	IncludeReasoning    bool `json:"include_reasoning"`
	ReasoningIterations int  `json:"reasoning_iterations"`
	Limit               int  `json:"limit"`
}

// SearchResult is the unified query response: retrieved principles and,
// when requested, the deliberation chain produced over them.
type SearchResult struct {
	Principles []types.Principle     `json:"principles"`
	Hits       []Hit                 `json:"hits"`
	Reasoning  *types.ReasoningChain `json:"reasoning,omitempty"`
}

// Violation is one referential-integrity defect found by CheckIntegrity.
type Violation struct {
	Kind   string `json:"kind"`
	ID     string `json:"id"`
	Detail string `json:"detail"`
}

// stores bundles the four sub-stores. Readers load the bundle once and
// work against a consistent generation; restore builds a fresh bundle
// and publishes it with a single pointer swap, so no reader ever sees
// new metadata paired with old vectors or edges.
type stores struct {
	meta      *MetadataStore
	vectors   *VectorStore
	graph     *GraphStore
	reasoning *ReasoningStore
}

func newStores() *stores {
	meta := NewMetadataStore()
	return &stores{
		meta:      meta,
		vectors:   NewVectorStore(meta.CreatedAt),
		graph:     NewGraphStore(),
		reasoning: NewReasoningStore(),
	}
}

// Index is the composite semantic memory index. All writes go through
// Ingest; the metadata sub-store is written synchronously before any
// dependent sub-store so that every id reference always resolves.
type Index struct {
	stores atomic.Pointer[stores]

	embedder embedding.Embedder
	synth    synthesis.Synthesizer
	opts     Options
	logger   *slog.Logger

	// ingestMu serializes cross-store writes so partially-ingested state
	// is only ever a suffix of the dependency order.
	ingestMu sync.Mutex
}

// New creates an empty composite index.
func New(embedder embedding.Embedder, synth synthesis.Synthesizer, opts Options, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	ix := &Index{
		embedder: embedder,
		synth:    synth,
		opts:     opts.withDefaults(),
		logger:   logger.With("component", "index"),
	}
	ix.stores.Store(newStores())
	return ix
}

// Ingest writes one candidate through all four sub-stores. Metadata is
// written first; any failure after that point is surfaced to the caller
// with the principle id so partial ingestion is detectable (and findable
// later via CheckIntegrity).
func (ix *Index) Ingest(ctx context.Context, cand types.Candidate) error {
	ix.ingestMu.Lock()
	defer ix.ingestMu.Unlock()
	return ix.ingestLocked(ctx, cand)
}

func (ix *Index) ingestLocked(ctx context.Context, cand types.Candidate) error {
	p := cand.Principle
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = types.PrincipleActive
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Statement == "" {
		return engerr.NewValidationError("index.ingest", p.ID, "principle statement must not be empty")
	}

	st := ix.stores.Load()

	if err := st.meta.Put(p); err != nil {
		return err
	}

	partial := func(err error, stage string) error {
		return engerr.NewIOError("index.ingest", p.ID,
			fmt.Sprintf("principle partially ingested: metadata written, %s failed", stage)).WithCause(err)
	}

	emb := cand.Embedding
	if len(emb) == 0 {
		var err error
		emb, err = ix.embedder.Embed(ctx, p.Statement)
		if err != nil {
			return partial(err, "embedding")
		}
	}
	if err := st.vectors.Put(p.ID, emb); err != nil {
		return partial(err, "vector write")
	}

	for _, rel := range cand.Relationships {
		if !st.meta.Has(rel.From) || !st.meta.Has(rel.To) {
			return partial(
				engerr.NewValidationError("index.ingest", rel.From+"->"+rel.To, "edge endpoint has no metadata entry"),
				"graph write")
		}
		if err := st.graph.Add(rel); err != nil {
			return partial(err, "graph write")
		}
	}

	for _, h := range cand.Hypotheticals {
		if h.ID == "" {
			h.ID = uuid.NewString()
		}
		qvec, err := ix.embedder.Embed(ctx, h.Question)
		if err != nil {
			return partial(err, "hypothetical embedding")
		}
		if err := st.reasoning.PutHypothetical(h, qvec); err != nil {
			return partial(err, "reasoning write")
		}
	}
	for _, r := range cand.Rejected {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		ovec, err := ix.embedder.Embed(ctx, r.Option)
		if err != nil {
			return partial(err, "rejected embedding")
		}
		if err := st.reasoning.PutRejected(r, ovec); err != nil {
			return partial(err, "reasoning write")
		}
	}

	metrics.PrinciplesIngested.Inc()
	return nil
}

// AddEdge adds a relationship between two existing principles.
func (ix *Index) AddEdge(from, to, typ string) error {
	st := ix.stores.Load()
	if !st.meta.Has(from) {
		return engerr.NewNotFoundError("index.addedge", from, "unknown principle")
	}
	if !st.meta.Has(to) {
		return engerr.NewNotFoundError("index.addedge", to, "unknown principle")
	}
	return st.graph.AddEdge(from, to, typ)
}

// Supersede ingests replacement as a new principle, marks old superseded,
// and links them with a supersedes edge. Statements are never edited in
// place; this is the only sanctioned way to change one.
func (ix *Index) Supersede(ctx context.Context, oldID string, replacement types.Candidate) (string, error) {
	ix.ingestMu.Lock()
	defer ix.ingestMu.Unlock()

	st := ix.stores.Load()
	if !st.meta.Has(oldID) {
		return "", engerr.NewNotFoundError("index.supersede", oldID, "unknown principle")
	}
	if replacement.Principle.ID == "" {
		replacement.Principle.ID = uuid.NewString()
	}
	if err := ix.ingestLocked(ctx, replacement); err != nil {
		return "", err
	}
	newID := replacement.Principle.ID
	if err := st.graph.AddEdge(newID, oldID, "supersedes"); err != nil {
		return newID, err
	}
	if err := st.meta.SetStatus(oldID, types.PrincipleSuperseded); err != nil {
		return newID, err
	}
	return newID, nil
}

// Get returns one principle by id.
func (ix *Index) Get(id string) (types.Principle, error) { return ix.stores.Load().meta.Get(id) }

// SetStatus transitions a principle's lifecycle status.
func (ix *Index) SetStatus(id string, status types.PrincipleStatus) error {
	return ix.stores.Load().meta.SetStatus(id, status)
}

// Outgoing exposes graph traversal from a principle.
func (ix *Index) Outgoing(id string) []types.Relationship { return ix.stores.Load().graph.Outgoing(id) }

// Incoming exposes graph traversal into a principle.
func (ix *Index) Incoming(id string) []types.Relationship { return ix.stores.Load().graph.Incoming(id) }

// ResolveHypothetical marks a hypothetical resolved.
func (ix *Index) ResolveHypothetical(id string, alts []types.Alternative) error {
	return ix.stores.Load().reasoning.ResolveHypothetical(id, alts)
}

// Search embeds the query, retrieves the nearest principles, and when
// requested runs the bounded deliberation loop over the retrieved context.
func (ix *Index) Search(ctx context.Context, query string, opts SearchOptions) (*SearchResult, error) {
	start := time.Now()
	defer func() { metrics.QueryLatency.Observe(time.Since(start).Seconds()) }()

	qvec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, engerr.NewIOError("index.search", "", "embed query").WithCause(err)
	}

	st := ix.stores.Load()

	limit := opts.Limit
	if limit <= 0 {
		limit = ix.opts.TopK
	}
	hits := st.vectors.Nearest(qvec, limit)

	result := &SearchResult{Hits: hits}
	for _, h := range hits {
		p, err := st.meta.Get(h.ID)
		if err != nil {
			// A hit without metadata is an integrity violation, not a
			// user error; skip it and let CheckIntegrity report it.
			ix.logger.Warn("vector hit without metadata entry", "id", h.ID)
			continue
		}
		result.Principles = append(result.Principles, p)
	}

	if opts.IncludeReasoning {
		chain, err := ix.reason(ctx, st, query, qvec, result.Principles, opts.ReasoningIterations)
		if err != nil {
			return nil, err
		}
		result.Reasoning = chain
	}
	return result, nil
}

// reason runs the bounded early-halting deliberation loop. The returned
// chain never exceeds the iteration budget and halts as soon as a step's
// confidence reaches the configured threshold.
func (ix *Index) reason(ctx context.Context, st *stores, query string, qvec []float32, principles []types.Principle, iterations int) (*types.ReasoningChain, error) {
	n := iterations
	if n <= 0 {
		n = ix.opts.DefaultIterations
	}

	hyps := st.reasoning.RelevantHypotheticals(qvec, ix.opts.HypotheticalThreshold)
	rejs := st.reasoning.RelevantRejected(qvec, ix.opts.RejectedThreshold)

	chain := &types.ReasoningChain{}
	for i := 1; i <= n; i++ {
		step, err := ix.synth.Step(ctx, synthesis.Input{
			Query:         query,
			Principles:    principles,
			Hypotheticals: hyps,
			Rejected:      rejs,
			PriorSteps:    chain.Steps,
			Iteration:     i,
		})
		if err != nil {
			return nil, engerr.NewIOError("index.reason", "", fmt.Sprintf("synthesis iteration %d", i)).WithCause(err)
		}
		chain.Steps = append(chain.Steps, step)
		chain.FinalConfidence = step.Confidence
		if step.Confidence >= ix.opts.ConfidenceThreshold {
			chain.HaltedEarly = i < n
			break
		}
	}

	metrics.ReasoningIterations.Observe(float64(len(chain.Steps)))
	if chain.HaltedEarly {
		metrics.ReasoningEarlyHalts.Inc()
	}
	return chain, nil
}

// CheckIntegrity scans all four sub-stores for dangling references and
// partially-ingested principles (metadata present, vector absent).
func (ix *Index) CheckIntegrity() []Violation {
	st := ix.stores.Load()
	var out []Violation

	for _, p := range st.meta.All() {
		if !st.vectors.Has(p.ID) {
			out = append(out, Violation{Kind: "missing_vector", ID: p.ID,
				Detail: "metadata present but no embedding; principle partially ingested"})
		}
	}
	for id := range st.vectors.All() {
		if !st.meta.Has(id) {
			out = append(out, Violation{Kind: "orphan_vector", ID: id,
				Detail: "embedding present but no metadata entry"})
		}
	}
	for _, e := range st.graph.AllEdges() {
		if !st.meta.Has(e.From) {
			out = append(out, Violation{Kind: "dangling_edge", ID: e.From,
				Detail: fmt.Sprintf("edge %s->%s (%s) references unknown source", e.From, e.To, e.Type)})
		}
		if !st.meta.Has(e.To) {
			out = append(out, Violation{Kind: "dangling_edge", ID: e.To,
				Detail: fmt.Sprintf("edge %s->%s (%s) references unknown target", e.From, e.To, e.Type)})
		}
	}
	return out
}

// Stats returns per-sub-store entity counts.
func (ix *Index) Stats() map[string]int {
	st := ix.stores.Load()
	return map[string]int{
		"principles":    st.meta.Len(),
		"vectors":       st.vectors.Len(),
		"relationships": st.graph.Len(),
		"hypotheticals": st.reasoning.HypotheticalCount(),
		"rejected":      st.reasoning.RejectedCount(),
	}
}

// Export serializes the full index state into a snapshot document.
func (ix *Index) Export(tag string) types.Snapshot {
	st := ix.stores.Load()
	vectorTable := st.vectors.All()
	for id, vec := range st.reasoning.Vectors() {
		vectorTable[id] = vec
	}
	return types.Snapshot{
		Metadata: types.SnapshotMeta{
			Stats:     ix.Stats(),
			Tag:       tag,
			CreatedAt: time.Now().UTC(),
		},
		Principles:    st.meta.All(),
		Relationships: st.graph.AllEdges(),
		Hypotheticals: st.reasoning.Hypotheticals(),
		Rejected:      st.reasoning.Rejected(),
		VectorTable:   vectorTable,
	}
}

// Import replays a snapshot into a fresh bundle of sub-stores in
// dependency order (metadata, graph, vectors, reasoning), then publishes
// the bundle with one atomic swap. Concurrent readers see either the
// previous generation or the fully-loaded new one, never a mix, and a
// replay error leaves the previous generation untouched.
func (ix *Index) Import(snap types.Snapshot) error {
	ix.ingestMu.Lock()
	defer ix.ingestMu.Unlock()

	next := newStores()

	for _, p := range snap.Principles {
		if err := next.meta.Put(p); err != nil {
			return engerr.NewValidationError("index.import", p.ID, "replay metadata").WithCause(err)
		}
	}
	for _, e := range snap.Relationships {
		if err := next.graph.Add(e); err != nil {
			return engerr.NewValidationError("index.import", e.From+"->"+e.To, "replay edge").WithCause(err)
		}
	}
	for _, p := range snap.Principles {
		if vec, ok := snap.VectorTable[p.ID]; ok {
			if err := next.vectors.Put(p.ID, vec); err != nil {
				return engerr.NewValidationError("index.import", p.ID, "replay vector").WithCause(err)
			}
		}
	}
	for _, h := range snap.Hypotheticals {
		if err := next.reasoning.PutHypothetical(h, snap.VectorTable[h.ID]); err != nil {
			return engerr.NewValidationError("index.import", h.ID, "replay hypothetical").WithCause(err)
		}
	}
	for _, r := range snap.Rejected {
		if err := next.reasoning.PutRejected(r, snap.VectorTable[r.ID]); err != nil {
			return engerr.NewValidationError("index.import", r.ID, "replay rejected alternative").WithCause(err)
		}
	}

	ix.stores.Store(next)
	return nil
}

// Reset replaces all sub-stores with empty ones in one swap.
func (ix *Index) Reset() {
	ix.ingestMu.Lock()
	defer ix.ingestMu.Unlock()
	ix.stores.Store(newStores())
}
