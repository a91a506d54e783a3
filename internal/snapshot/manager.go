// Package snapshot persists and restores the composite index as a single
// compressed artifact per point in time. Artifacts are written under
// <dir>/<tag>/ with timestamp-ordered filenames and pruned beyond a
// configured retention count.
package snapshot

import (
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/engramdev/engram/internal/index"
	"github.com/engramdev/engram/internal/metrics"
	engerr "github.com/engramdev/engram/pkg/errors"
	"github.com/engramdev/engram/pkg/types"
)

const artifactSuffix = ".json.gz"

// Timestamp layout chosen so lexicographic filename order equals
// chronological order.
const stampLayout = "20060102T150405.000000000"

// Manager writes and restores snapshots of a composite index.
type Manager struct {
	dir       string
	retention int
	logger    *slog.Logger
}

// NewManager creates a snapshot manager rooted at dir keeping retention
// artifacts per tag.
func NewManager(dir string, retention int, logger *slog.Logger) *Manager {
	if retention < 1 {
		retention = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{dir: dir, retention: retention, logger: logger.With("component", "snapshot")}
}

// Snapshot serializes all four sub-stores of ix into one compressed
// document and writes it atomically. Returns the artifact path.
func (m *Manager) Snapshot(ctx context.Context, ix *index.Index, tag string) (string, error) {
	if tag == "" {
		return "", engerr.NewValidationError("snapshot.write", "", "tag must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return "", engerr.NewIOError("snapshot.write", tag, "context canceled").WithCause(err)
	}
	start := time.Now()

	doc := ix.Export(tag)
	tagDir := filepath.Join(m.dir, tag)
	if err := os.MkdirAll(tagDir, 0o755); err != nil {
		return "", engerr.NewIOError("snapshot.write", tag, "create tag directory").WithCause(err)
	}

	name := doc.Metadata.CreatedAt.UTC().Format(stampLayout) + artifactSuffix
	path := filepath.Join(tagDir, name)
	if err := writeArtifact(path, doc); err != nil {
		return "", err
	}

	if fi, err := os.Stat(path); err == nil {
		metrics.SnapshotBytes.WithLabelValues(tag).Set(float64(fi.Size()))
	}
	metrics.SnapshotDuration.Observe(time.Since(start).Seconds())

	m.prune(tagDir)
	m.logger.Info("snapshot written", "tag", tag, "path", path,
		"principles", doc.Metadata.Stats["principles"])
	return path, nil
}

// Restore loads the most recent snapshot for tag into ix, replaying the
// sub-stores in dependency order. A missing or unreadable snapshot
// degrades to an empty index with a warning; the index is never left
// partially loaded.
func (m *Manager) Restore(ctx context.Context, ix *index.Index, tag string) error {
	if err := ctx.Err(); err != nil {
		return engerr.NewIOError("snapshot.restore", tag, "context canceled").WithCause(err)
	}

	artifacts, err := m.List(tag)
	if err != nil || len(artifacts) == 0 {
		m.logger.Warn("no snapshot found, starting from empty index", "tag", tag)
		ix.Reset()
		return nil
	}
	latest := artifacts[len(artifacts)-1]

	doc, err := readArtifact(latest)
	if err != nil {
		m.logger.Warn("snapshot unreadable, starting from empty index",
			"tag", tag, "path", latest, "error", err)
		ix.Reset()
		return nil
	}

	if err := ix.Import(*doc); err != nil {
		m.logger.Warn("snapshot failed integrity replay, starting from empty index",
			"tag", tag, "path", latest, "error", err)
		ix.Reset()
		return nil
	}

	m.logger.Info("snapshot restored", "tag", tag, "path", latest,
		"principles", doc.Metadata.Stats["principles"])
	return nil
}

// List returns the artifact paths for tag in chronological order.
func (m *Manager) List(tag string) ([]string, error) {
	tagDir := filepath.Join(m.dir, tag)
	entries, err := os.ReadDir(tagDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, engerr.NewIOError("snapshot.list", tag, "read tag directory").WithCause(err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".gz" {
			continue
		}
		paths = append(paths, filepath.Join(tagDir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// prune removes artifacts beyond the retention count, oldest first.
func (m *Manager) prune(tagDir string) {
	paths, err := m.List(filepath.Base(tagDir))
	if err != nil || len(paths) <= m.retention {
		return
	}
	for _, path := range paths[:len(paths)-m.retention] {
		if err := os.Remove(path); err != nil {
			m.logger.Warn("failed to prune snapshot", "path", path, "error", err)
			continue
		}
		metrics.SnapshotsPruned.Inc()
	}
}

// writeArtifact serializes and compresses doc, then renames it into place
// so readers never observe a half-written artifact.
func writeArtifact(path string, doc types.Snapshot) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return engerr.NewIOError("snapshot.write", path, "create temp file").WithCause(err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	gz := gzip.NewWriter(tmp)
	enc := json.NewEncoder(gz)
	if err := enc.Encode(doc); err != nil {
		_ = tmp.Close()
		return engerr.NewIOError("snapshot.write", path, "encode document").WithCause(err)
	}
	if err := gz.Close(); err != nil {
		_ = tmp.Close()
		return engerr.NewIOError("snapshot.write", path, "flush compressed stream").WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		return engerr.NewIOError("snapshot.write", path, "close temp file").WithCause(err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return engerr.NewIOError("snapshot.write", path, "rename into place").WithCause(err)
	}
	return nil
}

// readArtifact decompresses and parses the document fully before anything
// touches the index.
func readArtifact(path string) (*types.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, engerr.NewIOError("snapshot.read", path, "open artifact").WithCause(err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, engerr.NewIOError("snapshot.read", path, "open compressed stream").WithCause(err)
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, engerr.NewIOError("snapshot.read", path, "decompress artifact").WithCause(err)
	}

	var doc types.Snapshot
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, engerr.NewIOError("snapshot.read", path, "parse document").WithCause(err)
	}
	return &doc, nil
}
