package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdev/engram/internal/config"
	"github.com/engramdev/engram/internal/consent"
	"github.com/engramdev/engram/internal/embedding"
	"github.com/engramdev/engram/internal/index"
	"github.com/engramdev/engram/internal/logstore"
	"github.com/engramdev/engram/internal/synthesis"
	engerr "github.com/engramdev/engram/pkg/errors"
	"github.com/engramdev/engram/pkg/types"
)

// stubAdapter hands out a scripted batch of fragments on every poll.
type stubAdapter struct {
	name      string
	mu        sync.Mutex
	batches   [][]types.Fragment
	available bool
}

func (a *stubAdapter) Name() string                     { return a.name }
func (a *stubAdapter) IsAvailable(context.Context) bool { return a.available }
func (a *stubAdapter) GetSince(_ context.Context, cur Cursor) ([]types.Fragment, Cursor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.batches) == 0 {
		return nil, cur, nil
	}
	batch := a.batches[0]
	a.batches = a.batches[1:]
	return batch, cur, nil
}

// countingExtractor records how many passes ran and returns one fixed
// candidate per pass.
type countingExtractor struct {
	mu     sync.Mutex
	passes int
	block  chan struct{} // when non-nil, DeriveCandidates waits on it
}

func (e *countingExtractor) DeriveCandidates(_ context.Context, _ []types.Record) ([]types.Candidate, error) {
	if e.block != nil {
		<-e.block
	}
	e.mu.Lock()
	e.passes++
	n := e.passes
	e.mu.Unlock()
	return []types.Candidate{{
		Principle: types.Principle{
			ID:         uuid.NewString(),
			Statement:  fmt.Sprintf("derived principle %d", n),
			Confidence: 0.8,
			Status:     types.PrincipleActive,
			CreatedAt:  time.Now().UTC(),
		},
	}}, nil
}

func (e *countingExtractor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.passes
}

func testPipeline(t *testing.T, threshold int, extractor *countingExtractor) (*Pipeline, *logstore.Store) {
	t.Helper()
	dir := t.TempDir()

	store, err := logstore.New(dir, slog.Default())
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Extraction.Threshold = threshold
	cfg.Watcher.Platforms = []config.PlatformConfig{{Name: "augment", Enabled: true}}

	ix := index.New(embedding.NewHashEmbedder(16), synthesis.NewSimulator(), index.OptionsFromConfig(cfg.Reasoning), slog.Default())

	ledger, err := consent.NewLedger(store, consent.DefaultFile, slog.Default())
	require.NoError(t, err)

	cursors, err := NewCursorStore(filepath.Join(dir, "cursors.json"))
	require.NoError(t, err)

	return New(NewRegistry(), store, ix, extractor, ledger, cursors, cfg, slog.Default()), store
}

func frag(conv, hash string) types.Fragment {
	return types.Fragment{
		Platform:       "augment",
		ConversationID: conv,
		ContentHash:    hash,
		Timestamp:      time.Now().UTC(),
		Payload:        "we decided to use flat files for cursors",
	}
}

func TestAbsorbDeduplicatesByKey(t *testing.T) {
	p, store := testPipeline(t, 100, &countingExtractor{})

	require.NoError(t, p.absorb(frag("c1", "h1")))
	err := p.absorb(frag("c1", "h1"))
	require.Error(t, err)
	assert.True(t, engerr.IsConflict(err))

	recs, err := store.ReadAll("augment.log")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Equal(t, int64(1), p.PendingRecords())
}

func TestAbsorbDistinctHashesBothLand(t *testing.T) {
	p, store := testPipeline(t, 100, &countingExtractor{})

	require.NoError(t, p.absorb(frag("c1", "h1")))
	require.NoError(t, p.absorb(frag("c1", "h2")))
	require.NoError(t, p.absorb(frag("c2", "h1")))

	recs, err := store.ReadAll("augment.log")
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestThresholdTriggerExactness(t *testing.T) {
	const threshold = 5
	ex := &countingExtractor{}
	p, _ := testPipeline(t, threshold, ex)
	ctx := context.Background()

	for i := 0; i < threshold-1; i++ {
		require.NoError(t, p.absorb(frag("c1", fmt.Sprintf("h%d", i))))
		p.maybeExtract(ctx)
	}
	assert.Equal(t, 0, ex.count(), "no pass before the threshold")

	require.NoError(t, p.absorb(frag("c1", "h-final")))
	p.maybeExtract(ctx)
	assert.Equal(t, 1, ex.count(), "exactly one pass at the threshold")
	assert.Equal(t, int64(0), p.PendingRecords(), "counter resets after a successful pass")

	// The next record starts a fresh count toward the following trigger.
	require.NoError(t, p.absorb(frag("c2", "h0")))
	p.maybeExtract(ctx)
	assert.Equal(t, 1, ex.count())
}

func TestConcurrentTriggerIsNoOp(t *testing.T) {
	ex := &countingExtractor{block: make(chan struct{})}
	p, _ := testPipeline(t, 1, ex)
	ctx := context.Background()

	require.NoError(t, p.absorb(frag("c1", "h1")))

	firstDone := make(chan error, 1)
	go func() { firstDone <- p.TriggerExtraction(ctx) }()

	// Wait until the first pass holds the in-flight flag.
	require.Eventually(t, func() bool { return p.extracting.Load() }, time.Second, time.Millisecond)

	err := p.TriggerExtraction(ctx)
	require.Error(t, err)
	assert.True(t, engerr.IsConflict(err))

	close(ex.block)
	require.NoError(t, <-firstDone)
	assert.Equal(t, 1, ex.count())
}

func TestPollOnceEndToEnd(t *testing.T) {
	ex := &countingExtractor{}
	p, store := testPipeline(t, 2, ex)
	ctx := context.Background()

	adapter := &stubAdapter{name: "augment", available: true, batches: [][]types.Fragment{
		{frag("c1", "h1"), frag("c1", "h2")},
		{frag("c1", "h2"), frag("c1", "h3")}, // h2 redelivered
	}}
	require.NoError(t, p.registry.Register(adapter))

	require.NoError(t, p.pollOnce(ctx, "augment"))
	assert.Equal(t, 1, ex.count())

	require.NoError(t, p.pollOnce(ctx, "augment"))
	recs, err := store.ReadAll("augment.log")
	require.NoError(t, err)
	assert.Len(t, recs, 3, "redelivered fragment absorbed once")
}

func TestPollSkipsRevokedPlatform(t *testing.T) {
	p, store := testPipeline(t, 100, &countingExtractor{})
	ctx := context.Background()

	adapter := &stubAdapter{name: "augment", available: true, batches: [][]types.Fragment{
		{frag("c1", "h1")},
	}}
	require.NoError(t, p.registry.Register(adapter))
	require.NoError(t, p.consent.Grant("augment", consent.TypeImplicit))
	require.NoError(t, p.consent.Revoke("augment"))

	require.NoError(t, p.pollOnce(ctx, "augment"))
	_, err := store.ReadAll("augment.log")
	require.Error(t, err, "no canonical file written for a revoked platform")
}

func TestPollExplicitConsentPlatformDeniedUntilGranted(t *testing.T) {
	p, store := testPipeline(t, 100, &countingExtractor{})
	p.cfg.Watcher.Platforms[0].RequireConsent = true
	ctx := context.Background()

	adapter := &stubAdapter{name: "augment", available: true, batches: [][]types.Fragment{
		{frag("c1", "h1")},
	}}
	require.NoError(t, p.registry.Register(adapter))

	// No ledger entry yet: an explicit-consent platform is not polled.
	require.NoError(t, p.pollOnce(ctx, "augment"))
	_, err := store.ReadAll("augment.log")
	require.Error(t, err)

	// An explicit grant opens the gate.
	require.NoError(t, p.consent.Grant("augment", consent.TypeExplicit))
	require.NoError(t, p.pollOnce(ctx, "augment"))
	recs, err := store.ReadAll("augment.log")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestPollSkipsUnavailableAdapter(t *testing.T) {
	p, _ := testPipeline(t, 100, &countingExtractor{})
	ctx := context.Background()

	adapter := &stubAdapter{name: "augment", available: false, batches: [][]types.Fragment{
		{frag("c1", "h1")},
	}}
	require.NoError(t, p.registry.Register(adapter))

	require.NoError(t, p.pollOnce(ctx, "augment"))
	assert.Equal(t, int64(0), p.PendingRecords())
}

func TestStartStop(t *testing.T) {
	p, _ := testPipeline(t, 100, &countingExtractor{})

	adapter := &stubAdapter{name: "augment", available: true}
	require.NoError(t, p.registry.Register(adapter))

	require.NoError(t, p.Start(context.Background()))
	err := p.Start(context.Background())
	require.Error(t, err)
	assert.True(t, engerr.IsConflict(err))

	p.Stop()
	p.Stop() // idempotent
}
