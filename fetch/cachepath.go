package fetch

import "fmt"

// TarballCacheName returns the filename a fetched tarball is stored
// under: name-version.tar, matching the wire layout's
// own naming (spec.md §6) so a cache hit can be recognized by name alone
// before checksum verification runs.
func TarballCacheName(name, version string) string {
	return fmt.Sprintf("%s-%s.tar", name, version)
}

// RegistryCacheName returns the filename a package's signed registry
// envelope is stored under on disk (spec.md §4D).
func RegistryCacheName(name string) string {
	return fmt.Sprintf("%s.envelope", name)
}
