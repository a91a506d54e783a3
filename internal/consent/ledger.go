// Package consent tracks per-platform capture consent in an append-only
// log-store file, with an audit trail of grant/revoke/compliance events.
// The consolidation pipeline consults it before polling any platform.
package consent

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/engramdev/engram/internal/logstore"
	engerr "github.com/engramdev/engram/pkg/errors"
	"github.com/engramdev/engram/pkg/types"
)

// Status is the current consent state of a platform.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusPending  Status = "pending"
	StatusRevoked  Status = "revoked"
)

// Type distinguishes how consent was obtained.
type Type string

const (
	TypeImplicit Type = "implicit"
	TypeExplicit Type = "explicit"
)

// Event names in the audit trail.
const (
	eventGrant      = "grant"
	eventRevoke     = "revoke"
	eventCompliance = "compliance"
)

// DefaultFile is the ledger's log-store file name.
const DefaultFile = "consent.log"

// Entry is the consolidated consent state for one platform.
type Entry struct {
	Platform    string    `json:"platform"`
	Status      Status    `json:"status"`
	ConsentType Type      `json:"consent_type"`
	Timestamp   time.Time `json:"timestamp"`
}

// Ledger replays and appends consent records. State is rebuilt from the
// file on startup; a missing file degrades to defaults with a warning.
type Ledger struct {
	store  *logstore.Store
	file   string
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]Entry
}

// NewLedger opens (or initializes) the ledger backed by file in store.
func NewLedger(store *logstore.Store, file string, logger *slog.Logger) (*Ledger, error) {
	if file == "" {
		file = DefaultFile
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		store:   store,
		file:    file,
		logger:  logger.With("component", "consent"),
		entries: make(map[string]Entry),
	}

	recs, err := store.ReadAll(file)
	if err != nil {
		l.logger.Warn("consent ledger unreadable, starting with defaults", "file", file, "error", err)
		return l, nil
	}
	if len(recs) == 0 {
		l.logger.Warn("consent ledger missing or empty, platforms default to implicit consent", "file", file)
		return l, nil
	}
	for _, rec := range recs {
		l.apply(rec)
	}
	return l, nil
}

func (l *Ledger) apply(rec types.Record) {
	platform := rec.Get("platform")
	if platform == "" {
		return
	}
	event := rec.Get("event")
	if event == eventCompliance {
		return // audit only, no state change
	}
	ts, _ := strconv.ParseInt(rec.Get("timestamp"), 10, 64)
	entry := Entry{
		Platform:    platform,
		Status:      Status(rec.Get("status")),
		ConsentType: Type(rec.Get("consent_type")),
		Timestamp:   time.Unix(ts, 0).UTC(),
	}
	l.mu.Lock()
	l.entries[platform] = entry
	l.mu.Unlock()
}

func (l *Ledger) appendEvent(event, platform string, status Status, consentType Type, note string) error {
	now := time.Now().UTC()
	rec := types.Record{
		Section: "CONSENT:" + platform,
		Fields: []types.Field{
			{Key: "event", Value: event},
			{Key: "platform", Value: platform},
			{Key: "status", Value: string(status)},
			{Key: "consent_type", Value: string(consentType)},
			{Key: "timestamp", Value: strconv.FormatInt(now.Unix(), 10)},
		},
	}
	if note != "" {
		rec.Fields = append(rec.Fields, types.Field{Key: "note", Value: note})
	}
	if _, err := l.store.Append(l.file, rec); err != nil {
		return err
	}
	if event != eventCompliance {
		l.mu.Lock()
		l.entries[platform] = Entry{Platform: platform, Status: status, ConsentType: consentType, Timestamp: now}
		l.mu.Unlock()
	}
	return nil
}

// Grant records consent for a platform.
func (l *Ledger) Grant(platform string, consentType Type) error {
	if platform == "" {
		return engerr.NewValidationError("consent.grant", "", "platform must not be empty")
	}
	return l.appendEvent(eventGrant, platform, StatusActive, consentType, "")
}

// Revoke withdraws consent for a platform.
func (l *Ledger) Revoke(platform string) error {
	l.mu.RLock()
	prev, ok := l.entries[platform]
	l.mu.RUnlock()
	if !ok {
		return engerr.NewNotFoundError("consent.revoke", platform, "no consent recorded")
	}
	return l.appendEvent(eventRevoke, platform, StatusRevoked, prev.ConsentType, "")
}

// RecordCompliance appends an audit-only compliance check event.
func (l *Ledger) RecordCompliance(platform, note string) error {
	l.mu.RLock()
	prev := l.entries[platform]
	l.mu.RUnlock()
	return l.appendEvent(eventCompliance, platform, prev.Status, prev.ConsentType, note)
}

// Status returns the consent entry for platform.
func (l *Ledger) Status(platform string) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[platform]
	if !ok {
		return Entry{}, engerr.NewNotFoundError("consent.status", platform, "no consent recorded")
	}
	return e, nil
}

// Recorded reports whether any consent entry exists for platform.
// Callers that require explicit consent treat an unrecorded platform as
// denied regardless of Allowed's implicit default.
func (l *Ledger) Recorded(platform string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[platform]
	return ok
}

// Allowed reports whether the pipeline may poll platform. Platforms with
// no recorded entry default to implicit consent; anything recorded must
// be active.
func (l *Ledger) Allowed(platform string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[platform]
	if !ok {
		return true
	}
	return e.Status == StatusActive
}
