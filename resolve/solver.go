package resolve

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/git-pkgs/hex-core/internal/semver"
)

// activeReq is one contributing constraint on a name, tagged with
// whether it arrived through an override subtree (see Node.Override).
type activeReq struct {
	repo           string
	requirement    semver.Requirement
	raw            string
	fromPath       []string
	optional       bool
	withinOverride bool
}

// solver is the explicit backtracking state spec.md §9 calls for:
// active requirement set, assignment stack (via recursion + undo log,
// with per-name undo also indexed in assignUndo so an already-assigned
// name can be re-validated and re-queued once a later requirement lands
// on it), and candidate cursors (the per-call loop over newest-first
// candidates).
type solver struct {
	source ReleaseSource
	locked map[string]Selection

	active        map[string][]activeReq
	assigned      map[string]Selection
	assignUndo    map[string]func() // name -> undo for its current assignment + the deps it pushed
	order         []string
	seen          map[string]bool
	requiredCount map[string]int
	overrideRoot  map[string]bool
}

// Solve resolves direct against source, preferring locked's pins where
// every active requirement still matches (spec.md §4E step 2).
func Solve(direct []Node, locked map[string]Selection, source ReleaseSource) (*Resolution, error) {
	s := &solver{
		source:        source,
		locked:        locked,
		active:        make(map[string][]activeReq),
		assigned:      make(map[string]Selection),
		assignUndo:    make(map[string]func()),
		seen:          make(map[string]bool),
		requiredCount: make(map[string]int),
		overrideRoot:  make(map[string]bool),
	}

	for _, n := range direct {
		if n.Override {
			s.overrideRoot[n.Name] = true
		}
	}
	return s.solveDirect(direct)
}

func (s *solver) solveDirect(direct []Node) (*Resolution, error) {
	for _, n := range direct {
		parsed, err := semver.ParseRequirement(n.Requirement)
		if err != nil {
			return nil, fmt.Errorf("resolve: invalid requirement %q for %s: %w", n.Requirement, n.Name, err)
		}
		s.pushActive(n.Name, activeReq{
			repo:        defaultRepo(n.Repo),
			requirement: parsed,
			raw:         n.Requirement,
			fromPath:    []string{n.Name},
			optional:    n.Optional,
		})
	}

	if err := s.resolveAt(0); err != nil {
		return nil, err
	}
	return &Resolution{Selections: s.assigned}, nil
}

func defaultRepo(repo string) string {
	if repo == "" {
		return "hexpm"
	}
	return repo
}

// pushActive records a new contributing requirement, returning an undo
// closure that fully reverts it (including any order/seen bookkeeping),
// so a failed candidate can be rolled back without disturbing siblings.
func (s *solver) pushActive(name string, req activeReq) func() {
	s.active[name] = append(s.active[name], req)

	wasRequired := s.requiredCount[name] > 0
	if !req.optional {
		s.requiredCount[name]++
	}

	addedOrder := false
	// Append a fresh order slot whenever name is new, or whenever an
	// optional-only name just became required — its earlier slot (if
	// any) was already skipped past by the time this matters, so a
	// later slot is what actually gets it resolved.
	if !s.seen[name] || (!wasRequired && s.requiredCount[name] > 0) {
		s.seen[name] = true
		s.order = append(s.order, name)
		addedOrder = true
	}
	return func() {
		s.active[name] = s.active[name][:len(s.active[name])-1]
		if !req.optional {
			s.requiredCount[name]--
		}
		if addedOrder {
			s.order = s.order[:len(s.order)-1]
			if len(s.active[name]) == 0 {
				s.seen[name] = false
			}
		}
	}
}

// surviving returns the active requirements for name after override
// suppression: if at least one plain (non-override-tainted) requirement
// exists, every override-tainted requirement is dropped.
func (s *solver) surviving(name string) ([]activeReq, bool) {
	reqs := s.active[name]
	hasPlain := false
	for _, r := range reqs {
		if !r.withinOverride {
			hasPlain = true
			break
		}
	}
	if !hasPlain {
		return reqs, true
	}
	out := make([]activeReq, 0, len(reqs))
	for _, r := range reqs {
		if !r.withinOverride {
			out = append(out, r)
		}
	}
	return out, false
}

func (s *solver) resolveAt(idx int) error {
	if idx >= len(s.order) {
		return nil
	}
	name := s.order[idx]
	if _, done := s.assigned[name]; done {
		return s.resolveAt(idx + 1)
	}
	if s.requiredCount[name] == 0 {
		// Optional-only so far: not pulled in by anything non-optional
		// yet (spec.md §9 "optional deps do not pull a package in by
		// themselves"). If a later name's dependencies make it required,
		// pushActive appends a fresh order slot for it, and that later
		// slot resolves it.
		return s.resolveAt(idx + 1)
	}

	reqs, allOverridden := s.surviving(name)

	repo := ""
	var repos []string
	for _, r := range reqs {
		if repo == "" {
			repo = r.repo
		}
		found := false
		for _, seenRepo := range repos {
			if seenRepo == r.repo {
				found = true
				break
			}
		}
		if !found {
			repos = append(repos, r.repo)
		}
	}
	if len(repos) > 1 {
		return &RepoConflict{Name: name, Repos: repos, CorrelationID: uuid.NewString(), PURL: purlFor(name, "")}
	}

	releases, ok := s.source.Releases(repo, name)
	if !ok || len(releases) == 0 {
		return s.conflictFor(name, reqs)
	}

	candidates := sortedCandidates(releases)

	if sel, ok := s.locked[name]; ok && sel.Repo == repo {
		if matchesAll(sel.Version, reqs) {
			// Prefer the locked version even if retired, per spec.md §9.
			if rel, ok := findRelease(releases, sel.Version); ok {
				if undo, ok2 := s.tryAssign(name, repo, rel, allOverridden); ok2 {
					err := s.resolveAt(idx + 1)
					if err == nil {
						return nil
					}
					undo()
					if _, isRepo := err.(*RepoConflict); isRepo {
						return err
					}
				}
			}
		}
	}

	for _, rel := range candidates {
		if _, already := s.assigned[name]; already && s.assigned[name].Version == rel.Version {
			continue
		}
		if rel.Retired != nil {
			continue // not locked to this version, so a retired release is skipped
		}
		if !matchesAll(rel.Version, reqs) {
			continue
		}
		undo, ok := s.tryAssign(name, repo, rel, allOverridden)
		if !ok {
			continue
		}
		err := s.resolveAt(idx + 1)
		if err == nil {
			return nil
		}
		undo()
		if _, isRepo := err.(*RepoConflict); isRepo {
			return err
		}
	}

	return s.conflictFor(name, reqs)
}

func (s *solver) conflictFor(name string, reqs []activeReq) error {
	origins := make([]RequirementOrigin, 0, len(reqs))
	for _, r := range reqs {
		origins = append(origins, RequirementOrigin{Requirement: r.raw, FromPath: r.fromPath})
	}
	c := &Conflict{Name: name, Requirements: origins, CorrelationID: uuid.NewString(), PURL: purlFor(name, "")}
	if len(reqs) == 2 {
		c.Diff = unifiedDiff(reqs[0].raw, reqs[1].raw)
	}
	return c
}

func unifiedDiff(a, b string) string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: "requirement-a",
		ToFile:   "requirement-b",
		Context:  0,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}
	return text
}

// tryAssign tentatively selects rel for name and pushes its
// non-optional (and separately-required optional) dependencies as new
// active requirements. It returns an undo closure and ok=false if one of
// rel's own requirement strings fails to parse.
func (s *solver) tryAssign(name, repo string, rel ReleaseInfo, overriddenNode bool) (func(), bool) {
	var undos []func()
	s.assigned[name] = Selection{Repo: repo, Version: rel.Version}
	undos = append(undos, func() {
		delete(s.assigned, name)
	})

	childOverride := s.overrideRoot[name] || overriddenNode

	for _, dep := range rel.Dependencies {
		depRepo := dep.Repo
		if depRepo == "" {
			depRepo = repo
		}
		parsed, err := semver.ParseRequirement(dep.Requirement)
		if err != nil {
			for i := len(undos) - 1; i >= 0; i-- {
				undos[i]()
			}
			return nil, false
		}
		pushUndo := s.pushActive(dep.Name, activeReq{
			repo:           depRepo,
			requirement:    parsed,
			raw:            dep.Requirement,
			fromPath:       append(append([]string{}, currentPath(s, name)...), dep.Name),
			optional:       dep.Optional,
			withinOverride: childOverride,
		})
		// dep.Name may already be assigned from an earlier order slot; the
		// requirement just pushed onto it needs to be checked against that
		// assignment right now, not only at the moment dep.Name was first
		// resolved (spec.md §4E step 6).
		reassignUndo, ok := s.reassignIfNeeded(dep.Name)
		if !ok {
			pushUndo()
			for i := len(undos) - 1; i >= 0; i-- {
				undos[i]()
			}
			return nil, false
		}
		undos = append(undos, pushUndo, reassignUndo)
	}

	combined := func() {
		for i := len(undos) - 1; i >= 0; i-- {
			undos[i]()
		}
	}
	prevAssignUndo := s.assignUndo[name]
	s.assignUndo[name] = combined
	return func() {
		combined()
		s.assignUndo[name] = prevAssignUndo
	}, true
}

// reassignIfNeeded re-validates name's current assignment, if any,
// against its full surviving requirement set. If the existing
// selection still matches nothing changes. Otherwise it undoes that
// stale assignment (and everything it in turn required) and tries
// candidates newest-first — preferring a still-matching locked pin,
// same as a fresh resolution — re-running tryAssign for whichever one
// first succeeds. ok=false means no candidate satisfies the combined
// requirements and the caller must treat the assignment that triggered
// this as infeasible; the normal backtracking in resolveAt's candidate
// loop is what ends up retrying name's own original order slot with a
// different choice.
func (s *solver) reassignIfNeeded(name string) (func(), bool) {
	cur, ok := s.assigned[name]
	if !ok {
		return func() {}, true
	}
	reqs, allOverridden := s.surviving(name)
	if matchesAll(cur.Version, reqs) {
		return func() {}, true
	}
	for _, r := range reqs {
		if r.repo != cur.Repo {
			return nil, false
		}
	}

	releases, ok := s.source.Releases(cur.Repo, name)
	if !ok {
		return nil, false
	}
	oldRelease, ok := findRelease(releases, cur.Version)
	if !ok {
		return nil, false
	}
	oldUndo := s.assignUndo[name]
	if oldUndo == nil {
		return nil, false
	}
	oldUndo()

	restoreOld := func() {
		s.tryAssign(name, cur.Repo, oldRelease, allOverridden)
	}

	tryCandidate := func(rel ReleaseInfo) (func(), bool) {
		undo, ok := s.tryAssign(name, cur.Repo, rel, allOverridden)
		if !ok {
			return nil, false
		}
		return func() {
			undo()
			restoreOld()
		}, true
	}

	if sel, lok := s.locked[name]; lok && sel.Repo == cur.Repo && matchesAll(sel.Version, reqs) {
		if rel, found := findRelease(releases, sel.Version); found {
			if undo, ok2 := tryCandidate(rel); ok2 {
				return undo, true
			}
		}
	}

	for _, rel := range sortedCandidates(releases) {
		if rel.Version == cur.Version || rel.Retired != nil {
			continue
		}
		if !matchesAll(rel.Version, reqs) {
			continue
		}
		if undo, ok2 := tryCandidate(rel); ok2 {
			return undo, true
		}
	}

	restoreOld()
	return nil, false
}

func currentPath(s *solver, name string) []string {
	if reqs, ok := s.active[name]; ok && len(reqs) > 0 {
		return reqs[0].fromPath
	}
	return []string{name}
}

func matchesAll(version string, reqs []activeReq) bool {
	v, err := semver.Parse(version)
	if err != nil {
		return false
	}
	for _, r := range reqs {
		if !semver.Match(v, r.requirement) {
			return false
		}
	}
	return true
}

func findRelease(releases []ReleaseInfo, version string) (ReleaseInfo, bool) {
	for _, r := range releases {
		if r.Version == version {
			return r, true
		}
	}
	return ReleaseInfo{}, false
}

// sortedCandidates orders releases newest-first by semantic precedence;
// ties (identical precedence, differing build metadata) are broken by
// lexicographic comparison of the build-metadata string — deterministic,
// arbitrary, per spec.md §9's open-question note.
func sortedCandidates(releases []ReleaseInfo) []ReleaseInfo {
	out := make([]ReleaseInfo, 0, len(releases))
	parsed := make(map[string]semver.Version, len(releases))
	for _, r := range releases {
		v, err := semver.Parse(r.Version)
		if err != nil {
			continue
		}
		parsed[r.Version] = v
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		vi, vj := parsed[out[i].Version], parsed[out[j].Version]
		if c := semver.Compare(vi, vj); c != 0 {
			return c > 0 // newest first
		}
		return vi.Build > vj.Build
	})
	return out
}
