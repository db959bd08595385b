package wire

import (
	"bytes"
	"testing"
)

func TestPackageRoundTrip(t *testing.T) {
	p := Package{
		Repository: "hexpm",
		Name:       "ecto",
		Releases: []Release{
			{
				Version:       "3.10.0",
				InnerChecksum: []byte{1, 2, 3, 4},
				Dependencies: []Dependency{
					{Package: "db_connection", Requirement: "~> 2.5", Optional: false, App: "db_connection", Repository: "hexpm"},
					{Package: "telemetry", Requirement: "~> 1.0", Optional: true},
				},
			},
			{
				Version: "3.9.0",
				Retired: &RetirementStatus{Reason: RetirementSecurity, Message: "CVE-xxxx"},
			},
		},
	}

	data := MarshalPackage(p)
	got, err := UnmarshalPackage(data)
	if err != nil {
		t.Fatalf("UnmarshalPackage: %v", err)
	}

	if got.Repository != p.Repository || got.Name != p.Name {
		t.Fatalf("got %+v, want %+v", got, p)
	}
	if len(got.Releases) != 2 {
		t.Fatalf("got %d releases, want 2", len(got.Releases))
	}
	if got.Releases[0].Version != "3.10.0" {
		t.Errorf("Version = %q", got.Releases[0].Version)
	}
	if !bytes.Equal(got.Releases[0].InnerChecksum, []byte{1, 2, 3, 4}) {
		t.Errorf("InnerChecksum = %v", got.Releases[0].InnerChecksum)
	}
	if len(got.Releases[0].Dependencies) != 2 {
		t.Fatalf("got %d dependencies", len(got.Releases[0].Dependencies))
	}
	if got.Releases[0].Dependencies[1].Optional != true {
		t.Error("expected telemetry dependency to be optional")
	}
	if got.Releases[0].Dependencies[0].Optional != false {
		t.Error("expected db_connection dependency to not be optional")
	}
	if got.Releases[1].Retired == nil || got.Releases[1].Retired.Reason != RetirementSecurity {
		t.Errorf("Retired = %+v", got.Releases[1].Retired)
	}
}

func TestEmptyPackage(t *testing.T) {
	p := Package{Repository: "hexpm", Name: "ecto"}
	data := MarshalPackage(p)
	got, err := UnmarshalPackage(data)
	if err != nil {
		t.Fatalf("UnmarshalPackage: %v", err)
	}
	if len(got.Releases) != 0 {
		t.Errorf("got %d releases, want 0", len(got.Releases))
	}
}

func TestSignedRoundTrip(t *testing.T) {
	s := Signed{Payload: []byte("hello"), Signature: []byte("sig-bytes")}
	data := MarshalSigned(s)
	got, err := UnmarshalSigned(data)
	if err != nil {
		t.Fatalf("UnmarshalSigned: %v", err)
	}
	if string(got.Payload) != "hello" || string(got.Signature) != "sig-bytes" {
		t.Errorf("got %+v", got)
	}
}

func TestUnmarshalPackageRejectsGarbage(t *testing.T) {
	if _, err := UnmarshalPackage([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Error("expected error decoding garbage bytes")
	}
}
