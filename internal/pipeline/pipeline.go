package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	gocache "github.com/patrickmn/go-cache"

	"github.com/engramdev/engram/internal/config"
	"github.com/engramdev/engram/internal/consent"
	"github.com/engramdev/engram/internal/extraction"
	"github.com/engramdev/engram/internal/index"
	"github.com/engramdev/engram/internal/logstore"
	"github.com/engramdev/engram/internal/metrics"
	engerr "github.com/engramdev/engram/pkg/errors"
	"github.com/engramdev/engram/pkg/types"
)

const stopTimeout = 10 * time.Second

// Pipeline continuously absorbs fragments from registered adapters,
// deduplicates and normalizes them into canonical log records, and runs
// threshold-triggered extraction passes into the composite index.
//
// Each platform is polled on its own timer; a slow or unavailable adapter
// never blocks the others. At most one extraction pass runs at a time; a
// trigger while one is in flight is a no-op, not queued.
type Pipeline struct {
	registry  *Registry
	store     *logstore.Store
	index     *index.Index
	extractor extraction.Extractor
	consent   *consent.Ledger
	cursors   *CursorStore
	seen      *gocache.Cache
	cfg       *config.Config
	logger    *slog.Logger

	// counter tracks canonical records written since the last successful
	// extraction pass; it resets only when a pass succeeds.
	counter    atomic.Int64
	extracting atomic.Bool
	passes     atomic.Int64

	started atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New assembles a pipeline. The registry supplies adapters for the
// platforms enabled in cfg.Watcher.
func New(registry *Registry, store *logstore.Store, ix *index.Index, extractor extraction.Extractor,
	ledger *consent.Ledger, cursors *CursorStore, cfg *config.Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.Watcher.DedupTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Pipeline{
		registry:  registry,
		store:     store,
		index:     ix,
		extractor: extractor,
		consent:   ledger,
		cursors:   cursors,
		seen:      gocache.New(ttl, ttl/4),
		cfg:       cfg,
		logger:    logger.With("component", "pipeline"),
	}
}

// Start launches one watch loop per enabled platform. Calling Start twice
// is a conflict.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return engerr.NewConflictError("pipeline.start", "", "pipeline already started")
	}
	ctx, p.cancel = context.WithCancel(ctx)

	for _, platform := range p.cfg.Watcher.Platforms {
		if !platform.Enabled {
			p.logger.Info("platform disabled, not polling", "platform", platform.Name)
			continue
		}
		if _, err := p.registry.Get(platform.Name); err != nil {
			p.logger.Warn("no adapter registered for platform", "platform", platform.Name)
			continue
		}
		interval := p.cfg.PlatformInterval(platform)
		p.wg.Add(1)
		go p.watchLoop(ctx, platform.Name, interval)
	}
	return nil
}

// Stop cancels all watch loops and waits for them to drain. A loop stuck
// in a hung adapter call does not block shutdown past the timeout; an
// in-flight extraction pass is given the chance to finish, never killed
// mid-write.
func (p *Pipeline) Stop() {
	if !p.started.CompareAndSwap(true, false) {
		return
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		p.logger.Warn("watch loops did not drain before timeout, detaching")
	}
}

// watchLoop polls one platform on its own timer, backing off
// exponentially after failures and returning to the regular interval on
// the next success.
func (p *Pipeline) watchLoop(ctx context.Context, platform string, interval time.Duration) {
	defer p.wg.Done()

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = interval * 8
	bo.MaxElapsedTime = 0 // keep retrying for the process lifetime

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := p.pollOnce(ctx, platform); err != nil {
				metrics.PollFailures.WithLabelValues(platform).Inc()
				delay := bo.NextBackOff()
				p.logger.Warn("poll failed, backing off",
					"platform", platform, "delay", delay, "error", err)
				timer.Reset(delay)
				continue
			}
			bo.Reset()
			timer.Reset(interval)
		}
	}
}

// pollOnce runs a single poll tick for one platform: consent check,
// availability check, fragment fetch, dedup, canonical write, cursor
// advance, and possibly an extraction pass.
func (p *Pipeline) pollOnce(ctx context.Context, platform string) error {
	if !p.consentAllowed(platform) {
		return nil
	}

	adapter, err := p.registry.Get(platform)
	if err != nil {
		return err
	}
	if !adapter.IsAvailable(ctx) {
		p.logger.Debug("adapter unavailable", "platform", platform)
		return nil
	}

	cur := p.cursors.Get(platform)
	frags, next, err := adapter.GetSince(ctx, cur)
	if err != nil {
		return err
	}

	written := 0
	for _, frag := range frags {
		metrics.FragmentsSeen.WithLabelValues(platform).Inc()
		if err := p.absorb(frag); err != nil {
			if engerr.IsConflict(err) {
				metrics.FragmentsDeduped.WithLabelValues(platform).Inc()
				continue
			}
			return err
		}
		written++
	}

	next.LastChecked = time.Now().UTC()
	if err := p.cursors.Set(platform, next); err != nil {
		return err
	}

	if written > 0 {
		p.logger.Info("absorbed fragments", "platform", platform,
			"delivered", len(frags), "written", written)
	}
	p.maybeExtract(ctx)
	return nil
}

// consentAllowed gates a poll on the ledger. Unrecorded platforms get
// implicit consent unless their config requires an explicit grant, in
// which case they are denied with a warning until one is recorded.
func (p *Pipeline) consentAllowed(platform string) bool {
	if !p.consent.Recorded(platform) {
		if p.platformConfig(platform).RequireConsent {
			p.logger.Warn("no consent recorded for explicit-consent platform, skipping poll",
				"platform", platform)
			return false
		}
		return true
	}
	if !p.consent.Allowed(platform) {
		p.logger.Debug("consent not active, skipping poll", "platform", platform)
		return false
	}
	return true
}

func (p *Pipeline) platformConfig(name string) config.PlatformConfig {
	for _, pc := range p.cfg.Watcher.Platforms {
		if pc.Name == name {
			return pc
		}
	}
	return config.PlatformConfig{Name: name}
}

// absorb writes one fragment as a canonical record unless its dedup key
// was already seen. Returns a conflict error for duplicates.
func (p *Pipeline) absorb(frag types.Fragment) error {
	key := frag.DedupKey()
	if _, dup := p.seen.Get(key); dup {
		return engerr.NewConflictError("pipeline.absorb", key, "duplicate fragment")
	}

	rec := types.Record{
		Section: "CONVERSATION:" + frag.ConversationID,
		Fields: []types.Field{
			{Key: "platform", Value: frag.Platform},
			{Key: "conversation_id", Value: frag.ConversationID},
			{Key: "content_hash", Value: frag.ContentHash},
			{Key: "timestamp", Value: frag.Timestamp.UTC().Format(time.RFC3339Nano)},
			{Key: "payload", Value: frag.Payload},
		},
	}
	if _, err := p.store.Append(frag.Platform+".log", rec); err != nil {
		return err
	}

	p.seen.SetDefault(key, struct{}{})
	p.counter.Add(1)
	return nil
}

// maybeExtract fires an extraction pass when the counter has reached the
// threshold. A pass already in flight makes the trigger a no-op.
func (p *Pipeline) maybeExtract(ctx context.Context) {
	if p.counter.Load() < int64(p.cfg.Extraction.Threshold) {
		return
	}
	if err := p.TriggerExtraction(ctx); err != nil {
		if engerr.IsConflict(err) {
			metrics.ExtractionPasses.WithLabelValues("skipped").Inc()
			return
		}
		p.logger.Warn("extraction pass failed, counter left for retry", "error", err)
	}
}

// TriggerExtraction runs one extraction pass now. Returns a conflict
// error when a pass is already in flight.
func (p *Pipeline) TriggerExtraction(ctx context.Context) error {
	if !p.extracting.CompareAndSwap(false, true) {
		return engerr.NewConflictError("pipeline.extract", "", "extraction pass already in flight")
	}
	defer p.extracting.Store(false)

	start := time.Now()
	pending := p.counter.Load()

	records := p.recentRecords()
	cands, err := p.extractor.DeriveCandidates(ctx, records)
	if err != nil {
		metrics.ExtractionPasses.WithLabelValues("failure").Inc()
		return err
	}
	for _, cand := range cands {
		if err := p.index.Ingest(ctx, cand); err != nil {
			metrics.ExtractionPasses.WithLabelValues("failure").Inc()
			return err
		}
	}

	// Reset only what this pass covered; records absorbed during the pass
	// stay counted toward the next trigger.
	p.counter.Add(-pending)
	p.passes.Add(1)
	metrics.ExtractionPasses.WithLabelValues("success").Inc()
	metrics.ExtractionDuration.Observe(time.Since(start).Seconds())
	p.logger.Info("extraction pass complete",
		"records", len(records), "candidates", len(cands), "duration", time.Since(start))
	return nil
}

// recentRecords gathers the extraction window across all platform files.
func (p *Pipeline) recentRecords() []types.Record {
	window := p.cfg.Extraction.Window
	if window <= 0 {
		window = 50
	}
	var out []types.Record
	for _, platform := range p.cfg.Watcher.Platforms {
		recs, err := p.store.Tail(platform.Name+".log", window)
		if err != nil {
			p.logger.Warn("failed to read extraction window", "platform", platform.Name, "error", err)
			continue
		}
		out = append(out, recs...)
	}
	return out
}

// Passes returns the number of successful extraction passes.
func (p *Pipeline) Passes() int64 { return p.passes.Load() }

// PendingRecords returns the counter of canonical records awaiting
// extraction.
func (p *Pipeline) PendingRecords() int64 { return p.counter.Load() }
