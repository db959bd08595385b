// Package archive implements the outer/inner tar archive format from
// spec.md §4C: an uncompressed outer tar carrying a version tag, a
// checksum, canonical-term metadata, and a gzip-compressed inner tar of
// the package's files.
package archive

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/git-pkgs/hex-core/internal/canonterm"
)

// Supported outer-archive version tags.
const (
	VersionV2 = "2"
	VersionV3 = "3"
)

var supportedVersions = map[string]bool{VersionV2: true, VersionV3: true}

// Entry names within the outer tar.
const (
	entryVersion  = "VERSION"
	entryChecksum = "CHECKSUM"
	entryMetaV3   = "metadata.config"
	entryMetaV2   = "metadata.exs"
	entryContents = "contents.tar.gz"
)

// Sentinel errors per spec.md §7.
var (
	ErrMissingFile              = errors.New("archive: missing required entry")
	ErrUnsupportedVersion       = errors.New("archive: unsupported version")
	ErrChecksumMismatch         = errors.New("archive: checksum mismatch")
	ErrRegistryChecksumMismatch = errors.New("archive: registry checksum mismatch")
	ErrUnsafePath               = errors.New("archive: unsafe path in inner tarball")
	ErrEmptyPackage             = errors.New("archive: empty package")
)

// Metadata is the decoded canonical-term metadata carried in the
// archive (metadata.config / metadata.exs).
type Metadata = canonterm.Metadata

// File is one entry of the inner package tarball.
type File struct {
	Name string
	Body []byte
	Mode int64
}

// Pack creates an outer archive from metadata and a file list. version
// selects which metadata entry name is used ("2" -> metadata.exs, "3"
// (default) -> metadata.config); both write the same canonical-term
// encoding, only the outer entry name differs.
func Pack(meta Metadata, files []File, version string) ([]byte, error) {
	if len(files) == 0 {
		return nil, ErrEmptyPackage
	}
	if version == "" {
		version = VersionV3
	}
	if !supportedVersions[version] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, version)
	}

	contents, err := packInnerTarball(files)
	if err != nil {
		return nil, err
	}
	metaBytes := canonterm.Encode(meta)
	checksum := computeChecksum(version, metaBytes, contents)

	var outer bytes.Buffer
	tw := tar.NewWriter(&outer)
	if err := writeOuterEntry(tw, entryVersion, []byte(version)); err != nil {
		return nil, err
	}
	if err := writeOuterEntry(tw, entryChecksum, []byte(hexEncode(checksum))); err != nil {
		return nil, err
	}
	metaName := metadataEntryName(version)
	if err := writeOuterEntry(tw, metaName, metaBytes); err != nil {
		return nil, err
	}
	if err := writeOuterEntry(tw, entryContents, contents); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("archive: closing outer tar: %w", err)
	}
	return outer.Bytes(), nil
}

func metadataEntryName(version string) string {
	if version == VersionV2 {
		return entryMetaV2
	}
	return entryMetaV3
}

func writeOuterEntry(tw *tar.Writer, name string, body []byte) error {
	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(body)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("archive: writing header for %s: %w", name, err)
	}
	if _, err := tw.Write(body); err != nil {
		return fmt.Errorf("archive: writing body for %s: %w", name, err)
	}
	return nil
}

func packInnerTarball(files []File) ([]byte, error) {
	sorted := make([]File, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, f := range sorted {
		mode := f.Mode
		if mode == 0 {
			mode = 0o644
		}
		hdr := &tar.Header{
			Name: f.Name,
			Mode: mode,
			Size: int64(len(f.Body)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("archive: writing inner header for %s: %w", f.Name, err)
		}
		if _, err := tw.Write(f.Body); err != nil {
			return nil, fmt.Errorf("archive: writing inner body for %s: %w", f.Name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("archive: closing inner tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("archive: closing gzip stream: %w", err)
	}
	return buf.Bytes(), nil
}

// computeChecksum is SHA-256(version || metadata || contents.tar.gz),
// per spec.md §4C/§3.
func computeChecksum(version string, metaBytes, contents []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(version))
	h.Write(metaBytes)
	h.Write(contents)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func hexEncode(b [32]byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 64)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0x0f]
	}
	return string(out)
}

// Unpack validates and extracts an outer archive under dest, following
// the seven-step contract in spec.md §4C. expectedChecksum, if non-nil,
// is the registry's checksum for this release (step 5); pass nil to
// skip that comparison (e.g. when unpacking without registry context).
func Unpack(archiveBytes []byte, dest string, expectedChecksum []byte) (Metadata, error) {
	entries, err := readOuterEntries(archiveBytes)
	if err != nil {
		return nil, err
	}

	for _, name := range []string{entryVersion, entryChecksum, entryContents} {
		if _, ok := entries[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingFile, name)
		}
	}
	metaBytes, metaName, err := findMetadataEntry(entries)
	if err != nil {
		return nil, err
	}

	version := strings.TrimSpace(string(entries[entryVersion]))
	if !supportedVersions[version] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, version)
	}
	_ = metaName

	wantChecksum := strings.TrimSpace(string(entries[entryChecksum]))
	computed := computeChecksum(version, metaBytes, entries[entryContents])
	if hexEncode(computed) != strings.ToLower(wantChecksum) {
		return nil, ErrChecksumMismatch
	}

	if expectedChecksum != nil {
		if hexEncode(computed) != strings.ToLower(hexString(expectedChecksum)) {
			return nil, ErrRegistryChecksumMismatch
		}
	}

	meta, err := canonterm.Decode(metaBytes)
	if err != nil {
		return nil, fmt.Errorf("archive: decoding metadata: %w", err)
	}

	if err := extractInnerTarball(entries[entryContents], dest); err != nil {
		return nil, err
	}

	if err := writeSidecar(dest, metaBytes); err != nil {
		return nil, err
	}

	return meta, nil
}

func hexString(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0x0f]
	}
	return string(out)
}

func findMetadataEntry(entries map[string][]byte) ([]byte, string, error) {
	if v, ok := entries[entryMetaV3]; ok {
		return v, entryMetaV3, nil
	}
	if v, ok := entries[entryMetaV2]; ok {
		return v, entryMetaV2, nil
	}
	return nil, "", fmt.Errorf("%w: metadata.config or metadata.exs", ErrMissingFile)
}

func readOuterEntries(archiveBytes []byte) (map[string][]byte, error) {
	entries := make(map[string][]byte)
	tr := tar.NewReader(bytes.NewReader(archiveBytes))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("archive: reading outer tar: %w", err)
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("archive: reading entry %s: %w", hdr.Name, err)
		}
		entries[hdr.Name] = body
	}
	return entries, nil
}

func extractInnerTarball(gzipped []byte, dest string) error {
	gz, err := gzip.NewReader(bytes.NewReader(gzipped))
	if err != nil {
		return fmt.Errorf("archive: opening gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	now := time.Now()
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("archive: reading inner tar: %w", err)
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("archive: creating directory %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("archive: creating parent of %s: %w", target, err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fileMode(hdr.Mode))
			if err != nil {
				return fmt.Errorf("archive: creating file %s: %w", target, err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return fmt.Errorf("archive: writing file %s: %w", target, err)
			}
			f.Close()
		case tar.TypeSymlink, tar.TypeLink:
			return fmt.Errorf("%w: %s is a symlink", ErrUnsafePath, hdr.Name)
		default:
			// Other special types (devices, fifos) are never produced by
			// Pack and are rejected rather than silently skipped.
			return fmt.Errorf("%w: %s has unsupported entry type", ErrUnsafePath, hdr.Name)
		}

		if err := os.Chtimes(target, now, now); err != nil {
			return fmt.Errorf("archive: touching mtime of %s: %w", target, err)
		}
	}
	return nil
}

func fileMode(mode int64) os.FileMode {
	if mode == 0 {
		return 0o644
	}
	return os.FileMode(mode) & 0o777
}

// safeJoin joins dest and name, rejecting absolute paths and paths that
// escape dest via ".." components.
func safeJoin(dest, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: absolute path %q", ErrUnsafePath, name)
	}
	cleaned := filepath.Clean(name)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.HasPrefix(cleaned, string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes destination", ErrUnsafePath, name)
	}
	full := filepath.Join(dest, cleaned)
	if !strings.HasPrefix(full, filepath.Clean(dest)+string(filepath.Separator)) && full != filepath.Clean(dest) {
		return "", fmt.Errorf("%w: %q escapes destination", ErrUnsafePath, name)
	}
	return full, nil
}

func writeSidecar(dest string, metaBytes []byte) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("archive: creating destination %s: %w", dest, err)
	}
	path := filepath.Join(dest, "hex_metadata.config")
	if err := os.WriteFile(path, metaBytes, 0o644); err != nil {
		return fmt.Errorf("archive: writing sidecar %s: %w", path, err)
	}
	return nil
}
