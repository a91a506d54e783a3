// Package pipeline implements the consolidation pipeline: it polls
// platform adapters on independent timers, deduplicates fragments,
// writes canonical records through the structured log store, and fires
// threshold-triggered extraction passes into the composite index.
package pipeline

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	engerr "github.com/engramdev/engram/pkg/errors"
	"github.com/engramdev/engram/pkg/types"
)

// SourceAdapter is the capability contract every source platform
// implements. Adapters are free to deliver at-least-once; the pipeline
// makes the effect on the canonical store at-most-once.
type SourceAdapter interface {
	Name() string
	IsAvailable(ctx context.Context) bool
	GetSince(ctx context.Context, cursor Cursor) ([]types.Fragment, Cursor, error)
}

// Registry maps platform names to adapters. Selection happens by name,
// never by runtime type inspection.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]SourceAdapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]SourceAdapter)}
}

// Register adds an adapter under its own name.
func (r *Registry) Register(a SourceAdapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := a.Name()
	if name == "" {
		return engerr.NewValidationError("registry.register", "", "adapter name must not be empty")
	}
	if _, exists := r.adapters[name]; exists {
		return engerr.NewConflictError("registry.register", name, "adapter already registered")
	}
	r.adapters[name] = a
	return nil
}

// Get returns the adapter for a platform name.
func (r *Registry) Get(name string) (SourceAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, engerr.NewNotFoundError("registry.get", name, "unknown platform")
	}
	return a, nil
}

// Names returns registered platform names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FileAdapter reads fragments from a JSON-lines capture file, one
// fragment per line. It backs local capture and tests; the real platform
// readers live outside the engine behind the same contract.
type FileAdapter struct {
	name string
	path string
}

// NewFileAdapter creates an adapter named name reading from path.
func NewFileAdapter(name, path string) *FileAdapter {
	return &FileAdapter{name: name, path: path}
}

// Name returns the platform name.
func (a *FileAdapter) Name() string { return a.name }

// IsAvailable reports whether the capture file exists.
func (a *FileAdapter) IsAvailable(_ context.Context) bool {
	_, err := os.Stat(a.path)
	return err == nil
}

// GetSince returns the fragments after the cursor's last seen key. A
// cursor key that no longer appears in the file replays from the start;
// deduplication downstream keeps that harmless.
func (a *FileAdapter) GetSince(ctx context.Context, cursor Cursor) ([]types.Fragment, Cursor, error) {
	f, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cursor, nil
		}
		return nil, cursor, engerr.NewIOError("adapter.getsince", a.name, "open capture file").WithCause(err)
	}
	defer f.Close()

	var all []types.Fragment
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, cursor, engerr.NewIOError("adapter.getsince", a.name, "context canceled").WithCause(err)
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var frag types.Fragment
		if err := json.Unmarshal(line, &frag); err != nil {
			// A malformed capture line is skipped, not fatal: the file
			// is written by untrusted tooling.
			continue
		}
		if frag.Platform == "" {
			frag.Platform = a.name
		}
		if frag.ContentHash == "" {
			sum := sha256.Sum256([]byte(frag.Payload))
			frag.ContentHash = hex.EncodeToString(sum[:8])
		}
		all = append(all, frag)
	}
	if err := sc.Err(); err != nil {
		return nil, cursor, engerr.NewIOError("adapter.getsince", a.name, "scan capture file").WithCause(err)
	}

	start := 0
	if cursor.LastKeySeen != "" {
		for i, frag := range all {
			if frag.DedupKey() == cursor.LastKeySeen {
				start = i + 1
				break
			}
		}
	}
	out := all[start:]
	next := cursor
	if len(out) > 0 {
		next.LastKeySeen = out[len(out)-1].DedupKey()
	}
	return out, next, nil
}
