package lock

import (
	"os"
	"path/filepath"
	"testing"
)

func sampleLockfile() *Lockfile {
	return &Lockfile{Entries: map[string]Entry{
		"decimal": {
			Version:  "2.0.0",
			Checksum: "abcd1234",
			Managers: []string{"mix"},
			DepRefs:  []DepRef{{Name: "jason", Repo: "hexpm"}},
			Repo:     "hexpm",
		},
		"jason": {
			Version:  "1.4.0",
			Checksum: "ef567890",
			Repo:     "hexpm",
		},
	}}
}

func TestWriteThenLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hex.lock")

	l := sampleLockfile()
	if err := Write(path, l); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got.Entries))
	}
	if got.Entries["decimal"].Version != "2.0.0" {
		t.Errorf("decimal version = %q", got.Entries["decimal"].Version)
	}
	if got.Entries["decimal"].DepRefs[0].Name != "jason" {
		t.Errorf("unexpected dep refs: %+v", got.Entries["decimal"].DepRefs)
	}
}

func TestWriteIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hex.lock")

	l := sampleLockfile()
	if err := Write(path, l); err != nil {
		t.Fatalf("Write #1: %v", err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if err := Write(path, l); err != nil {
		t.Fatalf("Write #2: %v", err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(first) != string(second) {
		t.Errorf("Write is not idempotent:\n--- first ---\n%s\n--- second ---\n%s", first, second)
	}
}

func TestWriteSortsManagersAndDeps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hex.lock")

	l := &Lockfile{Entries: map[string]Entry{
		"a": {
			Version:  "1.0.0",
			Checksum: "deadbeef",
			Managers: []string{"rebar3", "mix"},
			DepRefs:  []DepRef{{Name: "z"}, {Name: "b"}},
			Repo:     "hexpm",
		},
	}}
	if err := Write(path, l); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	e := got.Entries["a"]
	if e.Managers[0] != "mix" || e.Managers[1] != "rebar3" {
		t.Errorf("managers not sorted: %v", e.Managers)
	}
	if e.DepRefs[0].Name != "b" || e.DepRefs[1].Name != "z" {
		t.Errorf("dep refs not sorted: %v", e.DepRefs)
	}
}

func TestLoadMissingFileReturnsEmptyLockfile(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), "absent.lock"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(l.Entries) != 0 {
		t.Errorf("expected empty lockfile, got %d entries", len(l.Entries))
	}
}

func TestLoadMigratesLegacyShapeWithoutRepoOrManagers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hex.lock")
	legacy := `"decimal": {"2.0.0", "abcd1234"}
`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	l, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	e, ok := l.Entries["decimal"]
	if !ok {
		t.Fatal("expected decimal entry to be parsed")
	}
	if e.Version != "2.0.0" || e.Checksum != "abcd1234" {
		t.Errorf("unexpected migrated entry: %+v", e)
	}
	if e.Repo != "" || len(e.Managers) != 0 {
		t.Errorf("legacy entry should migrate with empty repo/managers, got %+v", e)
	}

	afterLoad, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(afterLoad) != legacy {
		t.Error("Load must not rewrite the file on disk before an explicit Write")
	}
}

func TestWithPreviousBytesDoesNotAffectOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hex.lock")

	l := sampleLockfile()
	if err := Write(path, l); err != nil {
		t.Fatalf("Write #1: %v", err)
	}
	prev, _ := os.ReadFile(path)

	l.Entries["jason"] = Entry{Version: "1.4.1", Checksum: "ef567890", Repo: "hexpm"}
	if err := Write(path, l, WithPreviousBytes(prev)); err != nil {
		t.Fatalf("Write #2: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Entries["jason"].Version != "1.4.1" {
		t.Errorf("jason version = %q, want 1.4.1", got.Entries["jason"].Version)
	}
}
