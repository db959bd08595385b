package lock

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/wI2L/jsondiff"
)

// fileMu serializes writes to a given lockfile path within this
// process; cross-process safety comes from the write-temp-then-rename
// below, which is atomic on every platform this module targets.
var fileMu sync.Mutex

// Load reads and parses the lockfile at path. A missing file is not an
// error — it returns an empty Lockfile, matching a fresh project with
// no prior resolution.
func Load(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Lockfile{Entries: make(map[string]Entry)}, nil
	}
	if err != nil {
		return nil, err
	}

	l, raw, migrated, err := decodeWithRaw(data)
	if err != nil {
		return nil, err
	}
	if migrated {
		logMigration(raw, l)
	}
	return l, nil
}

// logMigration computes a structural diff between each migrated
// entry's on-disk shape and its canonical shape purely for the debug
// log line — the source file is never rewritten until the next
// explicit Write.
func logMigration(raw map[string]Entry, canonical *Lockfile) {
	legacyJSON := entriesProjectionJSON(raw)
	canonicalSubset := make(map[string]Entry, len(raw))
	for name := range raw {
		canonicalSubset[name] = canonical.Entries[name]
	}
	canonicalJSON := entriesProjectionJSON(canonicalSubset)

	patch, err := jsondiff.CompareJSON(legacyJSON, canonicalJSON)
	if err != nil {
		slog.Debug("lock: legacy migration, structural diff unavailable", "error", err)
		return
	}
	slog.Debug("lock: migrated legacy lockfile shape", "entries", len(raw), "patch_ops", len(patch))
}

// WriteOption configures a Write call.
type WriteOption func(*writeOpts)

type writeOpts struct {
	previous []byte
}

// WithPreviousBytes supplies the lockfile's prior on-disk content so
// Write can log a unified diff of what changed.
func WithPreviousBytes(b []byte) WriteOption {
	return func(o *writeOpts) { o.previous = b }
}

// Write serializes l in canonical form and atomically replaces path.
// Per spec.md §4F, re-writing an unchanged Lockfile produces
// byte-identical output — callers can rely on this for idempotence
// tests.
func Write(path string, l *Lockfile, opts ...WriteOption) error {
	var o writeOpts
	for _, opt := range opts {
		opt(&o)
	}

	fileMu.Lock()
	defer fileMu.Unlock()

	out := encode(l)
	if o.previous != nil {
		logDiff(path, o.previous, out)
	}

	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func logDiff(path string, oldBytes, newBytes []byte) {
	if string(oldBytes) == string(newBytes) {
		return
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(oldBytes)),
		B:        difflib.SplitLines(string(newBytes)),
		FromFile: path,
		ToFile:   path,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return
	}
	slog.Debug("lock: wrote updated lockfile", "diff", text)
}
