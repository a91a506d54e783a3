// Package engram provides a persistent memory engine for AI conversation
// history as a Go library. It combines an append-only structured log
// store, a composite semantic index with bounded deliberation, compressed
// snapshot/restore, and a cross-platform watcher pipeline that distils
// durable principles out of raw conversation fragments.
//
// Engram can be used in two modes:
//   - Library Mode: embed the engine directly in your Go application
//   - Daemon Mode: run cmd/engramd as a standalone watcher with an HTTP API
//
// Basic usage:
//
//	eng, err := engram.New(
//	    engram.WithDataDir("/var/lib/engram"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
//
//	res, err := eng.Query(ctx, "how do we handle schema migrations", engram.SearchOptions{
//	    IncludeReasoning: true,
//	})
package engram

import (
	"github.com/engramdev/engram/internal/config"
	"github.com/engramdev/engram/internal/index"
	"github.com/engramdev/engram/internal/logstore"
	"github.com/engramdev/engram/internal/pipeline"
	"github.com/engramdev/engram/pkg/types"
)

// Version is the current version of Engram.
const Version = "1.0.0"

// Re-export core data types for convenience. Users can write
// engram.Principle instead of types.Principle.
type (
	// Principle is a distilled, durable statement of how the user works.
	Principle = types.Principle

	// Relationship is a directed, typed edge between two principles.
	Relationship = types.Relationship

	// Hypothetical is a decision point whose resolution is still open.
	Hypothetical = types.Hypothetical

	// Alternative is one candidate resolution of a hypothetical.
	Alternative = types.Alternative

	// RejectedAlternative records a considered-and-discarded option with
	// the reason it was discarded.
	RejectedAlternative = types.RejectedAlternative

	// ReasoningStep is one iteration of the deliberation loop.
	ReasoningStep = types.ReasoningStep

	// ReasoningChain is the full deliberation over one query.
	ReasoningChain = types.ReasoningChain

	// Fragment is one raw unit of conversation captured from a platform.
	Fragment = types.Fragment

	// Field is one key/value pair inside a structured log record.
	Field = types.Field

	// Record is a complete structured log block.
	Record = types.Record

	// Candidate bundles a principle with its embedding and related
	// reasoning artifacts for ingestion.
	Candidate = types.Candidate

	// Snapshot is the portable serialized form of the whole index.
	Snapshot = types.Snapshot
)

// Re-export index types.
type (
	// SearchOptions controls retrieval and deliberation for a query.
	SearchOptions = index.SearchOptions

	// SearchResult is the unified query response.
	SearchResult = index.SearchResult

	// Hit is one scored retrieval result.
	Hit = index.Hit

	// Violation is one referential-integrity defect.
	Violation = index.Violation
)

// Re-export pipeline types.
type (
	// SourceAdapter captures conversation fragments from one platform.
	SourceAdapter = pipeline.SourceAdapter

	// Cursor marks how far a platform has been read.
	Cursor = pipeline.Cursor
)

// Re-export logstore types.
type (
	// Mismatch is one line-numbering violation found by validation.
	Mismatch = logstore.Mismatch

	// Match is one log search hit.
	Match = logstore.Match
)

// Config holds the full engine configuration.
type Config = config.Config

// PlatformConfig configures one watched source platform.
type PlatformConfig = config.PlatformConfig

// DefaultConfig returns the engine defaults.
func DefaultConfig() *Config { return config.DefaultConfig() }

// NewFileAdapter returns an adapter that tails a JSONL capture file for
// the named platform.
func NewFileAdapter(platform, path string) SourceAdapter {
	return pipeline.NewFileAdapter(platform, path)
}
