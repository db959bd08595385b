package semver

import "testing"

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"1.2.3", false},
		{"1.2.3-rc.1", false},
		{"1.2.3-rc.1+build.5", false},
		{"1.2.3+build", false},
		{"01.2.3", true},
		{"1.2", true},
		{"1.2.3-", true},
		{"a.b.c", true},
	}

	for _, tt := range tests {
		_, err := Parse(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

func TestVersionStringRoundTrip(t *testing.T) {
	for _, s := range []string{"1.2.3", "1.2.3-rc.1", "1.2.3+build.5", "1.2.3-rc.1+build.5"} {
		v, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q): %v", s, err)
		}
		if got := v.String(); got != s {
			t.Errorf("String() = %q, want %q", got, s)
		}
	}
}

func TestCompareAntisymmetric(t *testing.T) {
	versions := []string{"1.0.0", "1.0.1", "1.1.0", "2.0.0", "1.0.0-rc.1", "1.0.0-alpha", "1.0.0-10", "1.0.0-2"}
	for _, a := range versions {
		for _, b := range versions {
			va, vb := MustParse(a), MustParse(b)
			if Compare(va, vb) != -Compare(vb, va) {
				t.Errorf("Compare(%s, %s) != -Compare(%s, %s)", a, b, b, a)
			}
		}
	}
}

func TestPreReleaseLowerThanRelease(t *testing.T) {
	if !Less(MustParse("1.0.0-rc.1"), MustParse("1.0.0")) {
		t.Error("pre-release must sort below the corresponding release")
	}
}

func TestPreReleaseIdentifierComparison(t *testing.T) {
	// numeric identifiers compare numerically
	if !Less(MustParse("1.0.0-2"), MustParse("1.0.0-10")) {
		t.Error("1.0.0-2 should be less than 1.0.0-10 (numeric compare)")
	}
	// numeric identifiers are always lower than alphanumeric ones
	if !Less(MustParse("1.0.0-9"), MustParse("1.0.0-alpha")) {
		t.Error("numeric identifiers should sort below alphanumeric ones")
	}
	// lexicographic compare when not all-digits
	if !Less(MustParse("1.0.0-alpha"), MustParse("1.0.0-beta")) {
		t.Error("alpha should sort below beta")
	}
}

func TestBuildMetadataIgnoredForOrdering(t *testing.T) {
	if Compare(MustParse("1.0.0+a"), MustParse("1.0.0+b")) != 0 {
		t.Error("build metadata must not affect ordering")
	}
}

func TestCompareTotalOrder(t *testing.T) {
	a, b, c := MustParse("1.0.0"), MustParse("1.1.0"), MustParse("2.0.0")
	if !(Less(a, b) && Less(b, c) && Less(a, c)) {
		t.Error("comparison must be transitive")
	}
}
