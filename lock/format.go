package lock

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// encode renders l in the canonical lockfile text format: one sorted
// entry per line, fields in a fixed order, trailing newline. Re-running
// encode over an unchanged Lockfile yields byte-identical output.
func encode(l *Lockfile) []byte {
	var b strings.Builder
	for _, name := range l.sortedNames() {
		e := l.Entries[name].canonicalize()
		b.WriteString(encodeEntry(name, e))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func encodeEntry(name string, e Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: {%s, %s, %s", quote(name), quote(e.Version), quote(e.Checksum), encodeStringList(e.Managers))
	fmt.Fprintf(&b, ", %s, %s}", encodeDepRefs(e.DepRefs), quote(e.Repo))
	return b.String()
}

func encodeStringList(vals []string) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = quote(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func encodeDepRefs(refs []DepRef) string {
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = fmt.Sprintf("{%s, %s}", quote(r.Name), quote(r.Repo))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func quote(s string) string {
	return strconv.Quote(s)
}

// decodeWithRaw parses the canonical text format produced by encode, and
// also tolerates legacy shapes missing the trailing repo field or the
// managers list entirely (spec.md §4F). Besides the lockfile it returns
// the pre-canonicalization shape of every entry that needed legacy
// migration, so callers can diff the on-disk ordering against the
// canonical one without re-parsing, and whether any entry needed
// migration.
func decodeWithRaw(data []byte) (*Lockfile, map[string]Entry, bool, error) {
	l := &Lockfile{Entries: make(map[string]Entry)}
	raw := make(map[string]Entry)
	migrated := false

	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return l, raw, false, nil
	}

	for i, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		name, rawEntry, wasLegacy, err := decodeLine(line)
		if err != nil {
			return nil, nil, false, fmt.Errorf("lock: line %d: %w", i+1, err)
		}
		if wasLegacy {
			migrated = true
			raw[name] = rawEntry
		}
		l.Entries[name] = rawEntry.canonicalize()
	}
	return l, raw, migrated, nil
}

func decodeLine(line string) (string, Entry, bool, error) {
	sep := strings.Index(line, ": {")
	if sep < 0 {
		return "", Entry{}, false, fmt.Errorf("malformed entry: %q", line)
	}
	name, err := strconv.Unquote(line[:sep])
	if err != nil {
		return "", Entry{}, false, fmt.Errorf("malformed name: %w", err)
	}

	body := strings.TrimSuffix(strings.TrimPrefix(line[sep+2:], "{"), "}")
	fields, err := splitTopLevel(body)
	if err != nil {
		return "", Entry{}, false, err
	}

	legacy := len(fields) < 5
	var e Entry
	if len(fields) > 0 {
		e.Version, err = strconv.Unquote(fields[0])
		if err != nil {
			return "", Entry{}, false, fmt.Errorf("version: %w", err)
		}
	}
	if len(fields) > 1 {
		e.Checksum, err = strconv.Unquote(fields[1])
		if err != nil {
			return "", Entry{}, false, fmt.Errorf("checksum: %w", err)
		}
	}
	if len(fields) > 2 {
		e.Managers, err = decodeStringList(fields[2])
		if err != nil {
			return "", Entry{}, false, fmt.Errorf("managers: %w", err)
		}
	}
	if len(fields) > 3 {
		e.DepRefs, err = decodeDepRefs(fields[3])
		if err != nil {
			return "", Entry{}, false, fmt.Errorf("deps: %w", err)
		}
	}
	if len(fields) > 4 {
		e.Repo, err = strconv.Unquote(fields[4])
		if err != nil {
			return "", Entry{}, false, fmt.Errorf("repo: %w", err)
		}
	}

	return name, e, legacy, nil
}

// splitTopLevel splits a comma-separated field list, respecting
// nested [...] / {...} / "..." groups so commas inside them don't
// split the outer list.
func splitTopLevel(s string) ([]string, error) {
	var fields []string
	depth := 0
	inStr := false
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' && (i == 0 || s[i-1] != '\\'):
			inStr = !inStr
		case inStr:
			// inside a quoted string, ignore structural characters
		case c == '[' || c == '{':
			depth++
		case c == ']' || c == '}':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced brackets in %q", s)
			}
		case c == ',' && depth == 0:
			fields = append(fields, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	if strings.TrimSpace(s[start:]) != "" || len(fields) > 0 {
		fields = append(fields, strings.TrimSpace(s[start:]))
	}
	return fields, nil
}

func decodeStringList(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts, err := splitTopLevel(s)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Unquote(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

func decodeDepRefs(s string) ([]DepRef, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts, err := splitTopLevel(s)
	if err != nil {
		return nil, err
	}
	out := make([]DepRef, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		inner := strings.TrimSuffix(strings.TrimPrefix(p, "{"), "}")
		pair, err := splitTopLevel(inner)
		if err != nil {
			return nil, err
		}
		var ref DepRef
		if len(pair) > 0 {
			ref.Name, err = strconv.Unquote(pair[0])
			if err != nil {
				return nil, err
			}
		}
		if len(pair) > 1 {
			ref.Repo, err = strconv.Unquote(pair[1])
			if err != nil {
				return nil, err
			}
		}
		out = append(out, ref)
	}
	return out, nil
}
