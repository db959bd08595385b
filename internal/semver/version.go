// Package semver parses, compares, and renders semantic versions and
// version requirements for hex-core's resolver and registry store.
package semver

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidVersion is wrapped by every version parse failure.
var ErrInvalidVersion = errors.New("invalid version")

// Version is an ordered tuple (major, minor, patch, pre-release, build).
// Comparison follows the precedence rules in spec.md §3: numeric fields
// compare by value, a pre-release sequence present is lower than one
// absent, pre-release identifiers compare numerically when all digits
// else lexicographically, and build metadata is ignored for ordering.
type Version struct {
	Major, Minor, Patch int
	Pre                 []string
	Build               string
	raw                 string
}

// Parse parses a version string such as "1.2.3-rc.1+build.5".
func Parse(s string) (Version, error) {
	v := Version{raw: s}

	rest := s
	if i := strings.IndexByte(rest, '+'); i >= 0 {
		v.Build = rest[i+1:]
		rest = rest[:i]
	}
	if i := strings.IndexByte(rest, '-'); i >= 0 {
		pre := rest[i+1:]
		rest = rest[:i]
		if pre == "" {
			return Version{}, invalidf(s, "empty pre-release")
		}
		v.Pre = strings.Split(pre, ".")
		for _, id := range v.Pre {
			if id == "" {
				return Version{}, invalidf(s, "empty pre-release identifier")
			}
		}
	}

	parts := strings.Split(rest, ".")
	if len(parts) != 3 {
		return Version{}, invalidf(s, "expected major.minor.patch")
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := parseNumericField(p)
		if err != nil {
			return Version{}, invalidf(s, "field %q: %v", p, err)
		}
		nums[i] = n
	}
	v.Major, v.Minor, v.Patch = nums[0], nums[1], nums[2]
	return v, nil
}

// MustParse parses or panics. Intended for tests and constant tables.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func parseNumericField(s string) (int, error) {
	if s == "" {
		return 0, errors.New("empty field")
	}
	if len(s) > 1 && s[0] == '0' {
		return 0, errors.New("leading zero")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errors.New("non-numeric")
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func invalidf(raw, format string, args ...any) error {
	return fmt.Errorf("%w: %s: "+format, append([]any{ErrInvalidVersion, raw}, args...)...)
}

// String renders the version canonically.
func (v Version) String() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(v.Major))
	b.WriteByte('.')
	b.WriteString(strconv.Itoa(v.Minor))
	b.WriteByte('.')
	b.WriteString(strconv.Itoa(v.Patch))
	if len(v.Pre) > 0 {
		b.WriteByte('-')
		b.WriteString(strings.Join(v.Pre, "."))
	}
	if v.Build != "" {
		b.WriteByte('+')
		b.WriteString(v.Build)
	}
	return b.String()
}

// IsPreRelease reports whether the version carries a pre-release sequence.
func (v Version) IsPreRelease() bool {
	return len(v.Pre) > 0
}

// Triple returns the (major, minor, patch) tuple, ignoring pre-release
// and build metadata — used by `~>` matching and by pre-release scoping.
func (v Version) Triple() (int, int, int) {
	return v.Major, v.Minor, v.Patch
}

// Compare returns -1, 0, or 1 per the total order in spec.md §3.
func Compare(a, b Version) int {
	if c := compareInt(a.Major, b.Major); c != 0 {
		return c
	}
	if c := compareInt(a.Minor, b.Minor); c != 0 {
		return c
	}
	if c := compareInt(a.Patch, b.Patch); c != 0 {
		return c
	}
	if c := comparePre(a.Pre, b.Pre); c != 0 {
		return c
	}
	return 0
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// comparePre compares pre-release sequences: absent is greater than
// present; otherwise identifier-by-identifier, shorter-is-lesser when
// all shared identifiers are equal.
func comparePre(a, b []string) int {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	if len(a) == 0 {
		return 1 // a has no pre-release: a > b
	}
	if len(b) == 0 {
		return -1 // b has no pre-release: a < b
	}
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := compareIdentifier(a[i], b[i]); c != 0 {
			return c
		}
	}
	return compareInt(len(a), len(b))
}

func compareIdentifier(a, b string) int {
	an, aIsNum := asNumeric(a)
	bn, bIsNum := asNumeric(b)
	switch {
	case aIsNum && bIsNum:
		return compareInt(an, bn)
	case aIsNum && !bIsNum:
		return -1
	case !aIsNum && bIsNum:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

func asNumeric(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Less reports whether a sorts strictly before b.
func Less(a, b Version) bool { return Compare(a, b) < 0 }

// Equal reports whether a and b compare equal (build metadata ignored).
func Equal(a, b Version) bool { return Compare(a, b) == 0 }
