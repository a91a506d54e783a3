// Package metrics provides Prometheus metrics collection for the memory
// engine: fragment intake, canonical appends, extraction passes, reasoning
// queries, and snapshot persistence.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "engram"

// =============================================================================
// Consolidation Pipeline
// =============================================================================

var (
	// FragmentsSeen counts fragments delivered by adapters, before dedup.
	FragmentsSeen = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_seen_total",
			Help:      "Fragments delivered by platform adapters before deduplication",
		},
		[]string{"platform"},
	)

	// FragmentsDeduped counts fragments dropped as duplicates.
	FragmentsDeduped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_deduped_total",
			Help:      "Fragments dropped because their dedup key was already seen",
		},
		[]string{"platform"},
	)

	// PollFailures counts failed adapter poll ticks.
	PollFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_failures_total",
			Help:      "Adapter poll ticks that ended in an error",
		},
		[]string{"platform"},
	)

	// ExtractionPasses counts extraction pass outcomes.
	ExtractionPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_passes_total",
			Help:      "Threshold-triggered extraction passes by outcome",
		},
		[]string{"outcome"}, // success, failure, skipped
	)

	// ExtractionDuration tracks extraction pass latency.
	ExtractionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_duration_seconds",
			Help:      "Duration of extraction passes in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// =============================================================================
// Structured Log Store
// =============================================================================

var (
	// RecordsAppended counts canonical records written per file.
	RecordsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_appended_total",
			Help:      "Records appended to the structured log store",
		},
		[]string{"file"},
	)

	// ValidationFailures counts files failing line-number validation.
	ValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_failures_total",
			Help:      "Log store validation runs that found numbering mismatches",
		},
		[]string{"file"},
	)
)

// =============================================================================
// Composite Index
// =============================================================================

var (
	// PrinciplesIngested counts principles written through the ingest path.
	PrinciplesIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "principles_ingested_total",
			Help:      "Principles ingested into the composite index",
		},
	)

	// QueryLatency tracks end-to-end search latency.
	QueryLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_latency_seconds",
			Help:      "End-to-end latency of index search in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// ReasoningIterations tracks chain lengths of reasoning queries.
	ReasoningIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reasoning_iterations",
			Help:      "Number of deliberation iterations per reasoning query",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10, 15, 20},
		},
	)

	// ReasoningEarlyHalts counts chains that hit the confidence threshold
	// before exhausting the iteration budget.
	ReasoningEarlyHalts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reasoning_early_halts_total",
			Help:      "Reasoning chains halted early on the confidence threshold",
		},
	)
)

// =============================================================================
// Snapshot Manager
// =============================================================================

var (
	// SnapshotBytes reports the compressed size of the latest snapshot.
	SnapshotBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_bytes",
			Help:      "Compressed size of the most recent snapshot per tag",
		},
		[]string{"tag"},
	)

	// SnapshotDuration tracks snapshot write latency.
	SnapshotDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_duration_seconds",
			Help:      "Duration of snapshot serialization and write in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// SnapshotsPruned counts snapshots removed by retention.
	SnapshotsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_pruned_total",
			Help:      "Snapshot artifacts removed by the retention policy",
		},
	)
)
