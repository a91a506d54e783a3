package pipeline

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	engerr "github.com/engramdev/engram/pkg/errors"
)

// Cursor is the per-platform resume point. It is persisted so a process
// restart continues where the previous one stopped instead of re-scanning
// consumed fragments.
type Cursor struct {
	LastChecked time.Time `json:"last_checked"`
	LastKeySeen string    `json:"last_key_seen"`
}

// CursorStore persists per-platform cursors as one JSON document,
// rewritten atomically on every save.
type CursorStore struct {
	path string

	mu      sync.Mutex
	cursors map[string]Cursor
}

// NewCursorStore loads (or initializes) the cursor file at path. An
// unreadable file degrades to empty cursors: the worst case is a
// re-scan, which deduplication absorbs.
func NewCursorStore(path string) (*CursorStore, error) {
	s := &CursorStore{path: path, cursors: make(map[string]Cursor)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, engerr.NewIOError("cursor.load", path, "read cursor file").WithCause(err)
	}
	if err := json.Unmarshal(data, &s.cursors); err != nil {
		s.cursors = make(map[string]Cursor)
	}
	return s, nil
}

// Get returns the cursor for platform, zero-valued when absent.
func (s *CursorStore) Get(platform string) Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[platform]
}

// Set updates the cursor for platform and persists the document.
func (s *CursorStore) Set(platform string, cur Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[platform] = cur
	return s.saveLocked()
}

func (s *CursorStore) saveLocked() error {
	data, err := json.MarshalIndent(s.cursors, "", "  ")
	if err != nil {
		return engerr.NewIOError("cursor.save", s.path, "marshal cursors").WithCause(err)
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return engerr.NewIOError("cursor.save", s.path, "create parent directory").WithCause(err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return engerr.NewIOError("cursor.save", s.path, "write temp file").WithCause(err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return engerr.NewIOError("cursor.save", s.path, "rename into place").WithCause(err)
	}
	return nil
}
