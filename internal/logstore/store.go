// Package logstore implements the append-only structured log that serves
// as the durability substrate of the memory engine.
//
// File format: plain text, one entry per line, `<lineNumber>|<payload>`.
// A payload is either a section marker (`@SECTION` or `@SECTION:id`), the
// record's field row (`key=value` pairs joined by `|`), or the closing
// marker `@END`. Line numbers are a strictly increasing, gapless sequence
// per file; they are assigned on append and never renumbered.
package logstore

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/engramdev/engram/internal/metrics"
	engerr "github.com/engramdev/engram/pkg/errors"
	"github.com/engramdev/engram/pkg/types"
)

const endMarker = "@END"

// Values are escaped so that a field row can be split on unescaped pipes
// and equals signs.
var (
	fieldEscaper   = strings.NewReplacer("%", "%25", "|", "%7C", "=", "%3D", "\n", "%0A", "\r", "%0D")
	fieldUnescaper = strings.NewReplacer("%7C", "|", "%3D", "=", "%0A", "\n", "%0D", "\r", "%25", "%")
)

// Mismatch describes one line whose number does not match the expected
// sequence.
type Mismatch struct {
	Line     int `json:"line"`
	Expected int `json:"expected"`
	Actual   int `json:"actual"`
}

// Match is one search hit with a line of surrounding context.
type Match struct {
	Line    int      `json:"line"`
	Text    string   `json:"text"`
	Context []string `json:"context,omitempty"`
}

// Store is an append-only writer/reader over named log files in a single
// directory. Appends to the same file are serialized through an exclusive
// per-file lock; writers to different files proceed independently.
type Store struct {
	dir    string
	logger *slog.Logger

	mu          sync.Mutex
	locks       map[string]*sync.Mutex
	quarantined map[string]bool
}

// New creates a store rooted at dir, creating it if needed.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, engerr.NewIOError("logstore.new", dir, "create log directory").WithCause(err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:         dir,
		logger:      logger.With("component", "logstore"),
		locks:       make(map[string]*sync.Mutex),
		quarantined: make(map[string]bool),
	}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) fileLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

func (s *Store) isQuarantined(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quarantined[name]
}

func (s *Store) setQuarantined(name string, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quarantined[name] = v
}

// Quarantined reports whether appends to the file are currently blocked.
func (s *Store) Quarantined(name string) bool { return s.isQuarantined(name) }

func (s *Store) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", engerr.NewValidationError("logstore.path", name, "file name must not contain path separators")
	}
	return filepath.Join(s.dir, name), nil
}

// Append writes rec to the named file as a framed block: section marker,
// one field row when fields are present, and the closing marker. Line
// numbers continue the file's physical sequence. Returns the count of
// lines written.
func (s *Store) Append(name string, rec types.Record) (int, error) {
	path, err := s.path(name)
	if err != nil {
		return 0, err
	}
	if s.isQuarantined(name) {
		return 0, engerr.NewConflictError("logstore.append", name, "file is quarantined after failed validation")
	}
	if rec.Section == "" {
		return 0, engerr.NewValidationError("logstore.append", name, "record section must not be empty")
	}

	lock := s.fileLock(name)
	lock.Lock()
	defer lock.Unlock()

	last, err := s.lastLineNumberLocked(path)
	if err != nil {
		return 0, err
	}

	var b strings.Builder
	n := last
	writeLine := func(payload string) {
		n++
		b.WriteString(strconv.Itoa(n))
		b.WriteByte('|')
		b.WriteString(payload)
		b.WriteByte('\n')
	}

	writeLine("@" + rec.Section)
	if len(rec.Fields) > 0 {
		parts := make([]string, 0, len(rec.Fields))
		for _, f := range rec.Fields {
			parts = append(parts, fieldEscaper.Replace(f.Key)+"="+fieldEscaper.Replace(f.Value))
		}
		writeLine(strings.Join(parts, "|"))
	}
	writeLine(endMarker)

	// A crash mid-write can leave the final physical line without its
	// newline. Terminate it first so the torn line cannot swallow the new
	// block's opening marker.
	unterminated, err := tailUnterminated(path)
	if err != nil {
		return 0, engerr.NewIOError("logstore.append", name, "inspect file tail").WithCause(err)
	}
	block := b.String()
	if unterminated {
		block = "\n" + block
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, engerr.NewIOError("logstore.append", name, "open for append").WithCause(err)
	}
	defer f.Close()

	if _, err := f.WriteString(block); err != nil {
		return 0, engerr.NewIOError("logstore.append", name, "write record block").WithCause(err)
	}
	if err := f.Sync(); err != nil {
		return 0, engerr.NewIOError("logstore.append", name, "sync after append").WithCause(err)
	}

	written := n - last
	metrics.RecordsAppended.WithLabelValues(name).Inc()
	return written, nil
}

// LastLineNumber returns the number of the last physical line, or 0 for a
// missing or empty file. Torn trailing blocks still count: numbering must
// stay gapless on the next append.
func (s *Store) LastLineNumber(name string) (int, error) {
	path, err := s.path(name)
	if err != nil {
		return 0, err
	}
	lock := s.fileLock(name)
	lock.Lock()
	defer lock.Unlock()
	return s.lastLineNumberLocked(path)
}

// tailUnterminated reports whether the file ends without a newline.
func tailUnterminated(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return false, nil
	}
	buf := make([]byte, 1)
	if _, err := f.ReadAt(buf, info.Size()-1); err != nil {
		return false, err
	}
	return buf[0] != '\n', nil
}

func (s *Store) lastLineNumberLocked(path string) (int, error) {
	lines, err := readLines(path)
	if err != nil {
		return 0, err
	}
	if len(lines) == 0 {
		return 0, nil
	}
	return lines[len(lines)-1].num, nil
}

// Validate scans the file top to bottom and reports every line whose
// number breaks the strictly-increasing-by-one sequence. A file with any
// mismatch is quarantined: further appends fail with a conflict error
// until a later Validate passes. Other files are unaffected.
func (s *Store) Validate(name string) ([]Mismatch, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	lock := s.fileLock(name)
	lock.Lock()
	lines, err := readLines(path)
	lock.Unlock()
	if err != nil {
		return nil, err
	}

	var mismatches []Mismatch
	for i, ln := range lines {
		expected := i + 1
		if ln.num != expected {
			mismatches = append(mismatches, Mismatch{Line: i + 1, Expected: expected, Actual: ln.num})
		}
	}

	if len(mismatches) > 0 {
		s.setQuarantined(name, true)
		metrics.ValidationFailures.WithLabelValues(name).Inc()
		s.logger.Warn("log file failed validation, quarantined",
			"file", name, "mismatches", len(mismatches))
	} else {
		s.setQuarantined(name, false)
	}
	return mismatches, nil
}

// Search scans the file linearly for lines containing term and returns
// each hit with one line of context on either side. Files are bounded by
// an external retention policy, so a linear scan is acceptable.
func (s *Store) Search(name, term string) ([]Match, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	lock := s.fileLock(name)
	lock.Lock()
	lines, err := readLines(path)
	lock.Unlock()
	if err != nil {
		return nil, err
	}

	var matches []Match
	for i, ln := range lines {
		if !strings.Contains(ln.payload, term) {
			continue
		}
		m := Match{Line: ln.num, Text: ln.payload}
		if i > 0 {
			m.Context = append(m.Context, lines[i-1].payload)
		}
		if i+1 < len(lines) {
			m.Context = append(m.Context, lines[i+1].payload)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// ReadAll returns every complete record in the file, in append order.
// A trailing block without its closing marker is treated as absent.
func (s *Store) ReadAll(name string) ([]types.Record, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	lock := s.fileLock(name)
	lock.Lock()
	lines, err := readLines(path)
	lock.Unlock()
	if err != nil {
		return nil, err
	}
	return assembleRecords(lines), nil
}

// ReadSection returns complete records whose section equals section or is
// section-scoped under it (section marker `@section:id`).
func (s *Store) ReadSection(name, section string) ([]types.Record, error) {
	recs, err := s.ReadAll(name)
	if err != nil {
		return nil, err
	}
	var out []types.Record
	for _, r := range recs {
		if r.Section == section || strings.HasPrefix(r.Section, section+":") {
			out = append(out, r)
		}
	}
	return out, nil
}

// Tail returns the last n complete records of the file.
func (s *Store) Tail(name string, n int) ([]types.Record, error) {
	recs, err := s.ReadAll(name)
	if err != nil {
		return nil, err
	}
	if n <= 0 || n >= len(recs) {
		return recs, nil
	}
	return recs[len(recs)-n:], nil
}

type line struct {
	num     int
	payload string
}

// readLines parses the physical lines of a file. A missing file reads as
// empty. Lines without a parsable number prefix are I/O-level corruption.
func readLines(path string) ([]line, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, engerr.NewIOError("logstore.read", filepath.Base(path), "open for read").WithCause(err)
	}
	defer f.Close()

	var lines []line
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		text := sc.Text()
		if text == "" {
			continue
		}
		idx := strings.IndexByte(text, '|')
		if idx <= 0 {
			return nil, engerr.NewValidationError("logstore.read", filepath.Base(path),
				fmt.Sprintf("malformed line %q: missing number prefix", truncate(text, 40)))
		}
		num, err := strconv.Atoi(text[:idx])
		if err != nil {
			return nil, engerr.NewValidationError("logstore.read", filepath.Base(path),
				fmt.Sprintf("malformed line number %q", text[:idx]))
		}
		lines = append(lines, line{num: num, payload: text[idx+1:]})
	}
	if err := sc.Err(); err != nil {
		return nil, engerr.NewIOError("logstore.read", filepath.Base(path), "scan file").WithCause(err)
	}
	return lines, nil
}

// assembleRecords frames lines into records. Only blocks terminated by the
// closing marker are returned; an unterminated block (a torn tail from an
// interrupted write) is never partially replayed.
func assembleRecords(lines []line) []types.Record {
	var records []types.Record
	var cur *types.Record
	for _, ln := range lines {
		switch {
		case ln.payload == endMarker:
			if cur != nil {
				records = append(records, *cur)
				cur = nil
			}
		case strings.HasPrefix(ln.payload, "@"):
			// A new marker while a block is open abandons the open block.
			cur = &types.Record{LineNumber: ln.num, Section: ln.payload[1:]}
		default:
			if cur == nil {
				continue
			}
			for _, part := range strings.Split(ln.payload, "|") {
				k, v, found := strings.Cut(part, "=")
				if !found {
					continue
				}
				cur.Fields = append(cur.Fields, types.Field{
					Key:   fieldUnescaper.Replace(k),
					Value: fieldUnescaper.Replace(v),
				})
			}
		}
	}
	return records
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
