package resolve

// ReleaseSource answers the solver's only question about the outside
// world: what releases of (repo, name) exist, and what do they declare.
// Grounded on spec.md §4D ("E depends on D") — the real implementation
// is store.Store; tests substitute an in-memory fake (spec.md §9's
// capability-seam note).
type ReleaseSource interface {
	Releases(repo, name string) ([]ReleaseInfo, bool)
}

// ReleaseInfo is the subset of a registry release the solver needs.
type ReleaseInfo struct {
	Version      string
	Retired      *RetirementInfo
	Dependencies []DependencyRef
}

// RetirementInfo carries why a release was retired. Per spec.md §9, a
// retired release is still resolvable if the lockfile pins it.
type RetirementInfo struct {
	Reason  string
	Message string
}

// DependencyRef is one declared dependency edge of a release.
type DependencyRef struct {
	Repo        string // empty means "same repo as the declaring package"
	Name        string
	Requirement string
	Optional    bool
	App         string
}
