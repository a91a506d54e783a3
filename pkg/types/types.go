// Package types defines the core data model of the engram memory engine:
// log records, principles, graph edges, deliberation entities, fragments,
// and snapshot documents. These are the wire shapes shared with external
// callers; internal packages build on them and never redefine them.
package types

import (
	"fmt"
	"time"
)

// PrincipleStatus tracks a principle's lifecycle. Statements are never
// edited in place; a changed statement is a new principle plus a
// "supersedes" edge pointing at the old one.
type PrincipleStatus string

const (
	PrincipleActive     PrincipleStatus = "active"
	PrincipleSuperseded PrincipleStatus = "superseded"
	PrincipleDeprecated PrincipleStatus = "deprecated"
)

// Principle is a durable semantic fact or decision derived from
// conversation history. The metadata sub-store owns the only copy of the
// statement text; every other sub-store refers to it by ID.
type Principle struct {
	ID              string          `json:"id"`
	Statement       string          `json:"statement"`
	Confidence      float64         `json:"confidence"`
	Status          PrincipleStatus `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	SourceRecordIDs []string        `json:"source_record_ids,omitempty"`
}

// EdgeStatus tracks a relationship's lifecycle. Edges are additive:
// superseding an edge flips its status and inserts a replacement, it never
// removes the row.
type EdgeStatus string

const (
	EdgeActive     EdgeStatus = "active"
	EdgeSuperseded EdgeStatus = "superseded"
)

// Relationship is a directed edge between two principles.
type Relationship struct {
	From   string     `json:"from"`
	To     string     `json:"to"`
	Type   string     `json:"type"`
	Status EdgeStatus `json:"status"`
}

// AlternativeStatus records the fate of one option within a hypothetical.
type AlternativeStatus string

const (
	AlternativeAccepted AlternativeStatus = "accepted"
	AlternativeRejected AlternativeStatus = "rejected"
	AlternativePending  AlternativeStatus = "pending"
)

// Alternative is one option considered under a hypothetical question.
type Alternative struct {
	Option string            `json:"option"`
	Status AlternativeStatus `json:"status"`
	Reason string            `json:"reason,omitempty"`
}

// HypotheticalStatus marks whether a hypothetical question is still open.
type HypotheticalStatus string

const (
	HypotheticalOpen     HypotheticalStatus = "open"
	HypotheticalResolved HypotheticalStatus = "resolved"
)

// Hypothetical is an open question paired with the alternatives that were
// weighed against it.
type Hypothetical struct {
	ID           string             `json:"id"`
	Question     string             `json:"question"`
	Alternatives []Alternative      `json:"alternatives,omitempty"`
	Status       HypotheticalStatus `json:"status"`
}

// RejectedAlternative is an option ruled out on its own, outside the scope
// of a specific hypothetical.
type RejectedAlternative struct {
	ID      string `json:"id"`
	Option  string `json:"option"`
	Reason  string `json:"reason"`
	Context string `json:"context,omitempty"`
}

// ReasoningStep is one iteration of the deliberation loop.
type ReasoningStep struct {
	Thought      string   `json:"thought"`
	Confidence   float64  `json:"confidence"`
	Alternatives []string `json:"alternatives,omitempty"`
	Lessons      []string `json:"lessons,omitempty"`
}

// ReasoningChain is the deliberation trace produced for a single query.
// It is ephemeral: chains are returned to callers and never persisted.
type ReasoningChain struct {
	Steps           []ReasoningStep `json:"steps"`
	HaltedEarly     bool            `json:"halted_early"`
	FinalConfidence float64         `json:"final_confidence"`
}

// Fragment is a raw captured piece of conversation from a source platform,
// prior to deduplication and normalization.
type Fragment struct {
	Platform       string    `json:"platform"`
	ConversationID string    `json:"conversation_id"`
	ContentHash    string    `json:"content_hash"`
	Timestamp      time.Time `json:"timestamp"`
	Payload        string    `json:"payload"`
}

// DedupKey is the identity under which fragments are deduplicated.
// Delivery from adapters may be at-least-once; effect on the canonical
// store is at-most-once per key.
func (f Fragment) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s", f.Platform, f.ConversationID, f.ContentHash)
}

// Field is one key/value pair inside a log record. Order is significant
// and preserved.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Record is the unit of the structured log store: a framed, line-numbered
// entry grouped under a semantic section marker. Records are append-only
// and never mutated; superseded state is expressed by appending a new
// record that references the old one.
type Record struct {
	LineNumber int     `json:"line_number"`
	Section    string  `json:"section"`
	Fields     []Field `json:"fields,omitempty"`
}

// Get returns the first value for key, or "" when absent.
func (r Record) Get(key string) string {
	for _, f := range r.Fields {
		if f.Key == key {
			return f.Value
		}
	}
	return ""
}

// SnapshotMeta is the header of a snapshot document.
type SnapshotMeta struct {
	Stats     map[string]int `json:"stats"`
	Tag       string         `json:"tag"`
	CreatedAt time.Time      `json:"created_at"`
}

// Snapshot is a full point-in-time copy of the composite index. The vector
// table is keyed by entity ID and covers principles as well as the embedded
// hypothetical questions and rejected options, so a restore never needs to
// call back into the embedding collaborator.
type Snapshot struct {
	Metadata      SnapshotMeta          `json:"metadata"`
	Principles    []Principle           `json:"principles"`
	Relationships []Relationship        `json:"relationships"`
	Hypotheticals []Hypothetical        `json:"hypotheticals"`
	Rejected      []RejectedAlternative `json:"rejected"`
	VectorTable   map[string][]float32  `json:"vector_table"`
}

// Candidate is the output of an extraction collaborator: one proposed
// principle plus any relationships and deliberation records derived
// alongside it, fed to the composite index's ingest path.
type Candidate struct {
	Principle     Principle             `json:"principle"`
	Embedding     []float32             `json:"embedding,omitempty"`
	Relationships []Relationship        `json:"relationships,omitempty"`
	Hypotheticals []Hypothetical        `json:"hypotheticals,omitempty"`
	Rejected      []RejectedAlternative `json:"rejected,omitempty"`
}
