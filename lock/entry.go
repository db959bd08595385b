// Package lock serializes a resolved dependency set to and from the
// canonical lockfile text format described in spec.md §4F: a sorted
// mapping whose entries re-serialize byte-identically when unchanged,
// and which tolerates legacy tuple shapes on read without rewriting
// them until the next explicit Write.
package lock

import "sort"

// DepRef is one entry in a lock Entry's dependency reference list —
// enough to detect drift against the registry without re-resolving.
type DepRef struct {
	Name string
	Repo string
}

// Entry is one resolved package in the lockfile: (name, version,
// checksum, managers, dep-refs, repo) per spec.md §4F. The name itself
// is the Lockfile map key, not a field here.
type Entry struct {
	Version  string
	Checksum string // lowercase hex
	Managers []string
	DepRefs  []DepRef
	Repo     string
}

// Lockfile is the full resolved set, keyed by package name.
type Lockfile struct {
	Entries map[string]Entry
}

// canonicalize returns e with Managers and DepRefs sorted, matching the
// canonical form spec.md §4F requires for idempotent re-serialization.
func (e Entry) canonicalize() Entry {
	out := e
	if len(e.Managers) > 0 {
		out.Managers = append([]string(nil), e.Managers...)
		sort.Strings(out.Managers)
	}
	if len(e.DepRefs) > 0 {
		out.DepRefs = append([]DepRef(nil), e.DepRefs...)
		sort.Slice(out.DepRefs, func(i, j int) bool {
			if out.DepRefs[i].Name != out.DepRefs[j].Name {
				return out.DepRefs[i].Name < out.DepRefs[j].Name
			}
			return out.DepRefs[i].Repo < out.DepRefs[j].Repo
		})
	}
	return out
}

// sortedNames returns the lockfile's package names in canonical
// (lexicographic) order.
func (l *Lockfile) sortedNames() []string {
	names := make([]string, 0, len(l.Entries))
	for name := range l.Entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
