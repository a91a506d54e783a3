package engram

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/engramdev/engram/internal/config"
	"github.com/engramdev/engram/internal/consent"
	"github.com/engramdev/engram/internal/embedding"
	"github.com/engramdev/engram/internal/extraction"
	"github.com/engramdev/engram/internal/index"
	"github.com/engramdev/engram/internal/llm"
	"github.com/engramdev/engram/internal/logstore"
	"github.com/engramdev/engram/internal/pipeline"
	"github.com/engramdev/engram/internal/snapshot"
	"github.com/engramdev/engram/internal/synthesis"
)

// Engine is the main entry point for library mode. It owns the log
// store, the composite index, the snapshot manager, the consent ledger,
// and the watcher pipeline.
//
// Engine is safe for concurrent use by multiple goroutines.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	store   *logstore.Store
	index   *index.Index
	snaps   *snapshot.Manager
	consent *consent.Ledger
	pipe    *pipeline.Pipeline

	cancel context.CancelFunc
}

// New assembles an engine from the given options.
//
// Example:
//
//	eng, err := engram.New(
//	    engram.WithDataDir("/var/lib/engram"),
//	    engram.WithAdapter(engram.NewFileAdapter("augment", "/var/lib/augment/capture.jsonl")),
//	)
func New(opts ...Option) (*Engine, error) {
	ec := defaultEngineConfig()
	for _, opt := range opts {
		opt(ec)
	}

	cfg := ec.cfg
	if ec.configFile != "" {
		loaded, err := config.LoadFromFile(ec.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := ec.logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := logstore.New(cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("open log store: %w", err)
	}

	embedder := ec.embedder
	if embedder == nil {
		embedder = embedding.FromConfig(cfg.Embedding)
	}

	synth := ec.synthesizer
	if synth == nil {
		if cfg.Synthesis.Provider == "openai" {
			synth = synthesis.NewLLMSynthesizer(llm.NewClient(cfg.Synthesis), cfg.Synthesis.Model)
		} else {
			synth = synthesis.NewSimulator()
		}
	}

	extractor := ec.extractor
	if extractor == nil {
		extractor = extraction.FromConfig(cfg.Extraction.Mode, cfg.Synthesis.Model, llm.NewClient(cfg.Synthesis))
	}

	ix := index.New(embedder, synth, index.OptionsFromConfig(cfg.Reasoning), logger)

	snapDir := cfg.Snapshot.Dir
	if snapDir == "" {
		snapDir = filepath.Join(cfg.DataDir, "snapshots")
	}
	snaps := snapshot.NewManager(snapDir, cfg.Snapshot.Retention, logger)

	ledger, err := consent.NewLedger(store, consent.DefaultFile, logger)
	if err != nil {
		return nil, fmt.Errorf("open consent ledger: %w", err)
	}

	cursors, err := pipeline.NewCursorStore(filepath.Join(cfg.DataDir, "cursors.json"))
	if err != nil {
		return nil, fmt.Errorf("open cursor store: %w", err)
	}

	registry := pipeline.NewRegistry()
	for _, a := range ec.adapters {
		if err := registry.Register(a); err != nil {
			return nil, fmt.Errorf("register adapter %s: %w", a.Name(), err)
		}
	}

	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		index:   ix,
		snaps:   snaps,
		consent: ledger,
		pipe:    pipeline.New(registry, store, ix, extractor, ledger, cursors, cfg, logger),
	}

	logger.Info("engine initialized",
		"data_dir", cfg.DataDir,
		"embedding_provider", cfg.Embedding.Provider,
		"extraction_mode", cfg.Extraction.Mode,
		"adapters", len(ec.adapters),
	)
	return e, nil
}

// AppendRecord appends a structured record to a named log file and
// returns the line number of its opening marker.
func (e *Engine) AppendRecord(file string, rec Record) (int, error) {
	return e.store.Append(file, rec)
}

// Validate checks a log file's line-numbering invariant. A non-empty
// result means the file is quarantined until a clean re-check.
func (e *Engine) Validate(file string) ([]Mismatch, error) {
	return e.store.Validate(file)
}

// SearchLog scans a log file for a term, returning matches with
// surrounding context.
func (e *Engine) SearchLog(file, term string) ([]Match, error) {
	return e.store.Search(file, term)
}

// Ingest writes a candidate principle into the composite index.
func (e *Engine) Ingest(ctx context.Context, cand Candidate) error {
	return e.index.Ingest(ctx, cand)
}

// Query retrieves principles relevant to the query, optionally running
// the bounded deliberation loop over them.
func (e *Engine) Query(ctx context.Context, query string, opts SearchOptions) (*SearchResult, error) {
	return e.index.Search(ctx, query, opts)
}

// Snapshot persists the current index under the given tag and returns
// the artifact path.
func (e *Engine) Snapshot(ctx context.Context, tag string) (string, error) {
	if tag == "" {
		tag = e.cfg.Snapshot.Tag
	}
	return e.snaps.Snapshot(ctx, e.index, tag)
}

// Restore loads the most recent snapshot for the tag. A missing or
// corrupt snapshot degrades to an empty index rather than failing.
func (e *Engine) Restore(ctx context.Context, tag string) error {
	if tag == "" {
		tag = e.cfg.Snapshot.Tag
	}
	return e.snaps.Restore(ctx, e.index, tag)
}

// AddEdge records a typed relationship between two existing principles.
func (e *Engine) AddEdge(from, to, typ string) error {
	return e.index.AddEdge(from, to, typ)
}

// Supersede ingests a replacement principle, marks the old one
// superseded, and links them. Returns the replacement's id.
func (e *Engine) Supersede(ctx context.Context, oldID string, replacement Candidate) (string, error) {
	return e.index.Supersede(ctx, oldID, replacement)
}

// ResolveHypothetical closes an open decision point with its judged
// alternatives.
func (e *Engine) ResolveHypothetical(id string, alts []Alternative) error {
	return e.index.ResolveHypothetical(id, alts)
}

// CheckIntegrity reports referential-integrity defects across the
// index's sub-stores.
func (e *Engine) CheckIntegrity() []Violation {
	return e.index.CheckIntegrity()
}

// Grant records explicit consent to monitor a platform.
func (e *Engine) Grant(platform string) error {
	return e.consent.Grant(platform, consent.TypeExplicit)
}

// Revoke withdraws consent for a platform. Its watcher keeps running
// but stops absorbing fragments.
func (e *Engine) Revoke(platform string) error {
	return e.consent.Revoke(platform)
}

// TriggerExtraction runs one extraction pass immediately, bypassing the
// record-count threshold. Returns a conflict error when a pass is
// already in flight.
func (e *Engine) TriggerExtraction(ctx context.Context) error {
	return e.pipe.TriggerExtraction(ctx)
}

// Start launches the watcher pipeline and, when configured, the
// periodic snapshot loop. It returns immediately.
func (e *Engine) Start(ctx context.Context) error {
	ctx, e.cancel = context.WithCancel(ctx)
	if err := e.pipe.Start(ctx); err != nil {
		e.cancel = nil
		return err
	}
	if e.cfg.Snapshot.Interval > 0 {
		go e.snapshotLoop(ctx)
	}
	return nil
}

func (e *Engine) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Snapshot.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Snapshot(ctx, ""); err != nil {
				e.logger.Warn("periodic snapshot failed", "error", err)
			}
		}
	}
}

// Close stops the pipeline and takes a final snapshot so restarts pick
// up where this process left off.
func (e *Engine) Close() error {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.pipe.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := e.Snapshot(ctx, ""); err != nil {
		return fmt.Errorf("final snapshot: %w", err)
	}
	return nil
}

// Store exposes the underlying log store for the HTTP layer.
func (e *Engine) Store() *logstore.Store { return e.store }

// Index exposes the composite index for the HTTP layer.
func (e *Engine) Index() *index.Index { return e.index }

// Snapshots exposes the snapshot manager for the HTTP layer.
func (e *Engine) Snapshots() *snapshot.Manager { return e.snaps }

// Pipeline exposes the watcher pipeline for the HTTP layer.
func (e *Engine) Pipeline() *pipeline.Pipeline { return e.pipe }

// Config returns the effective configuration.
func (e *Engine) Config() *config.Config { return e.cfg }
