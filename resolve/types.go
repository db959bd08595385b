// Package resolve implements the backtracking version solver from
// spec.md §4E: given a project's direct dependency declarations and an
// optional existing lockfile, it produces a consistent name-to-version
// resolution or a structured conflict explaining what couldn't be
// satisfied simultaneously.
package resolve

import (
	"fmt"

	packageurl "github.com/package-url/packageurl-go"
)

// Node is one of a project's direct dependency declarations — the only
// tree shape a caller supplies. Every transitive dependency is
// discovered during resolution itself, via ReleaseSource.
type Node struct {
	Repo        string
	Name        string
	Requirement string
	Optional    bool
	// Override marks this declaration as authoritative: any requirement
	// for a different package, introduced transitively through this
	// node's own resolved dependencies, is suppressed whenever a
	// requirement for that package also exists outside this node's
	// subtree. See DESIGN.md for the worked rationale (spec.md §4E/§8
	// scenario 6 names this behavior without pinning its exact
	// mechanics).
	Override bool
}

// Selection is one resolved (repo, version) pair.
type Selection struct {
	Repo    string
	Version string
}

// Resolution is the solver's successful output: a name-to-selection
// mapping satisfying every active requirement in the input tree.
type Resolution struct {
	Selections map[string]Selection
}

// RequirementOrigin names one contributing requirement and the path
// that introduced it, for conflict diagnostics only.
type RequirementOrigin struct {
	Requirement string
	FromPath    []string
}

// Conflict reports that no candidate version of Name satisfies every
// active requirement simultaneously.
type Conflict struct {
	Name          string
	Requirements  []RequirementOrigin
	CorrelationID string
	// Diff is a unified diff between the two incompatible requirement
	// strings, populated only when there are exactly two.
	Diff string
	PURL string
}

func (c *Conflict) Error() string {
	return fmt.Sprintf("resolve: no version of %s satisfies every active requirement", c.Name)
}

// RepoConflict reports that the same package name was required from
// two different repositories — always fatal, never backtracked.
type RepoConflict struct {
	Name          string
	Repos         []string
	CorrelationID string
	PURL          string
}

func (c *RepoConflict) Error() string {
	return fmt.Sprintf("resolve: %s required from multiple repositories: %v", c.Name, c.Repos)
}

func purlFor(name, version string) string {
	return packageurl.NewPackageURL("hex", "", name, version, nil, "").ToString()
}
