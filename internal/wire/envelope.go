// Package wire implements the signed registry envelope and the Package
// payload message from spec.md §6, encoded on the protobuf wire format
// via google.golang.org/protobuf/encoding/protowire. No generated
// bindings are used — protoc is unavailable in this environment — so
// each message has its own marshal/unmarshal function pair
// (MarshalSigned/UnmarshalSigned, MarshalPackage/UnmarshalPackage, and
// unexported ones for the nested messages) against the exact field
// numbers the spec defines.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// RetirementReason mirrors hex_core's retirement reason enum.
type RetirementReason int32

const (
	RetirementOther      RetirementReason = 0
	RetirementInvalid    RetirementReason = 1
	RetirementSecurity   RetirementReason = 2
	RetirementDeprecated RetirementReason = 3
	RetirementRenamed    RetirementReason = 4
)

// RetirementStatus carries why a release was retired.
type RetirementStatus struct {
	Reason  RetirementReason
	Message string
}

// Dependency is one declared dependency edge of a Release.
type Dependency struct {
	Package     string
	Requirement string
	Optional    bool
	App         string
	Repository  string
}

// Release is one version of a package as carried on the wire.
type Release struct {
	Version       string
	InnerChecksum []byte
	Dependencies  []Dependency
	Retired       *RetirementStatus
}

// Package is the signed envelope's payload.
type Package struct {
	Repository string
	Name       string
	Releases   []Release
}

// Signed is the outer envelope: an opaque payload plus its signature.
type Signed struct {
	Payload   []byte
	Signature []byte
}

const (
	fieldSignedPayload   protowire.Number = 1
	fieldSignedSignature protowire.Number = 2

	fieldPackageRepository protowire.Number = 1
	fieldPackageName       protowire.Number = 2
	fieldPackageReleases   protowire.Number = 3

	fieldReleaseVersion       protowire.Number = 1
	fieldReleaseInnerChecksum protowire.Number = 2
	fieldReleaseDependencies  protowire.Number = 3
	fieldReleaseRetired       protowire.Number = 4

	fieldDependencyPackage     protowire.Number = 1
	fieldDependencyRequirement protowire.Number = 2
	fieldDependencyOptional    protowire.Number = 3
	fieldDependencyApp         protowire.Number = 4
	fieldDependencyRepository  protowire.Number = 5

	fieldRetirementReason  protowire.Number = 1
	fieldRetirementMessage protowire.Number = 2
)

// MarshalSigned encodes a Signed envelope.
func MarshalSigned(s Signed) []byte {
	var b []byte
	b = appendBytesField(b, fieldSignedPayload, s.Payload)
	b = appendBytesField(b, fieldSignedSignature, s.Signature)
	return b
}

// UnmarshalSigned decodes a Signed envelope.
func UnmarshalSigned(data []byte) (Signed, error) {
	var s Signed
	err := rangeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case fieldSignedPayload:
			s.Payload = append([]byte(nil), v...)
		case fieldSignedSignature:
			s.Signature = append([]byte(nil), v...)
		}
		return nil
	})
	return s, err
}

// MarshalPackage encodes a Package payload.
func MarshalPackage(p Package) []byte {
	var b []byte
	b = appendStringField(b, fieldPackageRepository, p.Repository)
	b = appendStringField(b, fieldPackageName, p.Name)
	for _, r := range p.Releases {
		b = appendBytesField(b, fieldPackageReleases, marshalRelease(r))
	}
	return b
}

// UnmarshalPackage decodes a Package payload.
func UnmarshalPackage(data []byte) (Package, error) {
	var p Package
	err := rangeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case fieldPackageRepository:
			p.Repository = string(v)
		case fieldPackageName:
			p.Name = string(v)
		case fieldPackageReleases:
			r, err := unmarshalRelease(v)
			if err != nil {
				return err
			}
			p.Releases = append(p.Releases, r)
		}
		return nil
	})
	return p, err
}

func marshalRelease(r Release) []byte {
	var b []byte
	b = appendStringField(b, fieldReleaseVersion, r.Version)
	b = appendBytesField(b, fieldReleaseInnerChecksum, r.InnerChecksum)
	for _, d := range r.Dependencies {
		b = appendBytesField(b, fieldReleaseDependencies, marshalDependency(d))
	}
	if r.Retired != nil {
		b = appendBytesField(b, fieldReleaseRetired, marshalRetirement(*r.Retired))
	}
	return b
}

func unmarshalRelease(data []byte) (Release, error) {
	var r Release
	err := rangeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case fieldReleaseVersion:
			r.Version = string(v)
		case fieldReleaseInnerChecksum:
			r.InnerChecksum = append([]byte(nil), v...)
		case fieldReleaseDependencies:
			d, err := unmarshalDependency(v)
			if err != nil {
				return err
			}
			r.Dependencies = append(r.Dependencies, d)
		case fieldReleaseRetired:
			status, err := unmarshalRetirement(v)
			if err != nil {
				return err
			}
			r.Retired = &status
		}
		return nil
	})
	return r, err
}

func marshalDependency(d Dependency) []byte {
	var b []byte
	b = appendStringField(b, fieldDependencyPackage, d.Package)
	b = appendStringField(b, fieldDependencyRequirement, d.Requirement)
	b = appendBoolField(b, fieldDependencyOptional, d.Optional)
	b = appendStringField(b, fieldDependencyApp, d.App)
	b = appendStringField(b, fieldDependencyRepository, d.Repository)
	return b
}

func unmarshalDependency(data []byte) (Dependency, error) {
	var d Dependency
	err := rangeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case fieldDependencyPackage:
			d.Package = string(v)
		case fieldDependencyRequirement:
			d.Requirement = string(v)
		case fieldDependencyApp:
			d.App = string(v)
		case fieldDependencyRepository:
			d.Repository = string(v)
		}
		return nil
	})
	if err != nil {
		return Dependency{}, err
	}
	// Bool is varint-encoded, handled separately below since rangeFields
	// hands every field to the callback pre-decoded as length-delimited
	// bytes only for BytesType; varint fields are read directly here.
	d.Optional = hasTruthyVarint(data, fieldDependencyOptional)
	return d, nil
}

func marshalRetirement(r RetirementStatus) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldRetirementReason, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Reason))
	b = appendStringField(b, fieldRetirementMessage, r.Message)
	return b
}

func unmarshalRetirement(data []byte) (RetirementStatus, error) {
	var r RetirementStatus
	off := 0
	for off < len(data) {
		num, typ, n := protowire.ConsumeTag(data[off:])
		if n < 0 {
			return RetirementStatus{}, fmt.Errorf("wire: bad tag: %w", protowire.ParseError(n))
		}
		off += n
		switch {
		case num == fieldRetirementReason && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data[off:])
			if n < 0 {
				return RetirementStatus{}, fmt.Errorf("wire: bad varint: %w", protowire.ParseError(n))
			}
			r.Reason = RetirementReason(v)
			off += n
		case num == fieldRetirementMessage && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data[off:])
			if n < 0 {
				return RetirementStatus{}, fmt.Errorf("wire: bad bytes: %w", protowire.ParseError(n))
			}
			r.Message = string(v)
			off += n
		default:
			n := protowire.ConsumeFieldValue(num, typ, data[off:])
			if n < 0 {
				return RetirementStatus{}, fmt.Errorf("wire: skip field: %w", protowire.ParseError(n))
			}
			off += n
		}
	}
	return r, nil
}

// hasTruthyVarint re-scans data for a varint-typed num field and reports
// whether any occurrence carries a nonzero value. Used for the one bool
// field (Dependency.Optional); rangeFields below only yields bytes-typed
// payloads to its callback, so varints are handled with this narrow scan.
func hasTruthyVarint(data []byte, field protowire.Number) bool {
	off := 0
	for off < len(data) {
		num, typ, n := protowire.ConsumeTag(data[off:])
		if n < 0 {
			return false
		}
		off += n
		if num == field && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(data[off:])
			if n < 0 {
				return false
			}
			off += n
			if v != 0 {
				return true
			}
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, data[off:])
		if n < 0 {
			return false
		}
		off += n
	}
	return false
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

// rangeFields walks every length-delimited (BytesType) top-level field in
// data, invoking fn with the raw inner bytes. Varint- and fixed-typed
// fields are skipped by this walker; callers needing those (bool,
// integer) scan separately, since every message in this package has at
// most one such field.
func rangeFields(data []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	off := 0
	for off < len(data) {
		num, typ, n := protowire.ConsumeTag(data[off:])
		if n < 0 {
			return fmt.Errorf("wire: bad tag: %w", protowire.ParseError(n))
		}
		off += n

		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data[off:])
			if n < 0 {
				return fmt.Errorf("wire: bad bytes field %d: %w", num, protowire.ParseError(n))
			}
			off += n
			if err := fn(num, typ, v); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data[off:])
			if n < 0 {
				return fmt.Errorf("wire: bad field %d: %w", num, protowire.ParseError(n))
			}
			off += n
		}
	}
	return nil
}
