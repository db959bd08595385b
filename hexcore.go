// Package hexcore composes the registry store, version resolver, fetch
// coordinator, and lockfile into the single operation external
// collaborators actually want: given a project's direct dependencies
// and its existing lockfile, produce (and persist) a consistent,
// fully-downloaded resolution. Per spec.md §7 this is all-or-nothing —
// if any tarball fetch fails after resolution succeeds, the lockfile
// is left untouched.
package hexcore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/git-pkgs/hex-core/client"
	"github.com/git-pkgs/hex-core/fetch"
	"github.com/git-pkgs/hex-core/internal/archive"
	"github.com/git-pkgs/hex-core/lock"
	"github.com/git-pkgs/hex-core/resolve"
	"github.com/git-pkgs/hex-core/state"
	"github.com/git-pkgs/hex-core/store"
)

var tracer = otel.Tracer("github.com/git-pkgs/hex-core")

// Re-export the component types most callers assemble a Converge call
// from, so this package is the one import most integrations need.
type (
	Node       = resolve.Node
	Resolution = resolve.Resolution
	Selection  = resolve.Selection
	Conflict   = resolve.Conflict
	RepoConfig = client.RepoConfig
	Lockfile   = lock.Lockfile
)

// Destination is where a selected package's tarball should be
// extracted to.
type Destination struct {
	Dir string
}

// DestinationFunc maps a resolved (name, version) to where its tarball
// should land. A nil DestinationFunc passed to Converge skips
// fetch/unpack entirely; only resolution and the lockfile write run.
type DestinationFunc func(name string, sel Selection) Destination

// Converge runs resolve -> fetch -> unpack -> lock against the
// repositories in cfg, reusing whatever the lockfile at lockPath
// already pins. managers optionally supplies, for any top-level name,
// which build-tool managers declared it (the registry wire format
// carries no such field — see DESIGN.md).
func Converge(ctx context.Context, tree []Node, lockPath string, cfg *state.Config, destFor DestinationFunc, managers map[string][]string) (*Resolution, error) {
	ctx, span := tracer.Start(ctx, "hexcore.converge", trace.WithAttributes(
		attribute.Int("hexcore.direct_dependencies", len(tree)),
	))
	var err error
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "converge failed")
		} else {
			span.SetStatus(codes.Ok, "converged")
		}
		span.End()
	}()

	previousBytes, readErr := os.ReadFile(lockPath)
	if readErr != nil {
		previousBytes = nil
	}
	existing, lerr := lock.Load(lockPath)
	if lerr != nil {
		err = fmt.Errorf("hexcore: load lockfile: %w", lerr)
		return nil, err
	}

	cl := client.NewClient(client.WithUserAgent("hex-core"))
	defer cl.Close()

	coord := fetch.NewCoordinator(cl, int64(cfg.HTTPConcurrency()))
	st := store.New(cfg.CacheDir(), nil)

	source := &onDemandSource{ctx: ctx, store: st, client: cl, coord: coord, repos: cfg.Repos()}

	res, rerr := resolve.Solve(tree, lockedSelectionsOf(existing), source)
	if rerr != nil {
		err = rerr
		return nil, err
	}
	if source.firstErr != nil {
		err = fmt.Errorf("hexcore: registry fetch failed during resolution: %w", source.firstErr)
		return nil, err
	}

	if destFor != nil {
		if ferr := fetchAndUnpack(ctx, coord, st, cfg.Repos(), cfg.CacheDir(), res, destFor); ferr != nil {
			err = ferr
			return nil, err
		}
	}

	newLock, berr := buildLockfile(st, res, managers)
	if berr != nil {
		err = berr
		return nil, err
	}

	opts := []lock.WriteOption{}
	if previousBytes != nil {
		opts = append(opts, lock.WithPreviousBytes(previousBytes))
	}
	if werr := lock.Write(lockPath, newLock, opts...); werr != nil {
		err = fmt.Errorf("hexcore: write lockfile: %w", werr)
		return nil, err
	}

	return res, nil
}

func lockedSelectionsOf(l *Lockfile) map[string]Selection {
	if l == nil {
		return nil
	}
	out := make(map[string]Selection, len(l.Entries))
	for name, e := range l.Entries {
		out[name] = Selection{Repo: e.Repo, Version: e.Version}
	}
	return out
}

// onDemandSource adapts store.Store into resolve.ReleaseSource,
// transparently fetching-and-verifying a registry page the first time
// the solver asks about a name it hasn't seen yet.
type onDemandSource struct {
	ctx      context.Context
	store    *store.Store
	client   *client.Client
	coord    *fetch.Coordinator
	repos    map[string]*client.RepoConfig
	firstErr error
}

func (s *onDemandSource) Releases(repo, name string) ([]resolve.ReleaseInfo, bool) {
	if _, ok := s.store.Get(repo, name); !ok {
		repoCfg, known := s.repos[repo]
		if !known {
			return nil, false
		}
		err := s.store.Prefetch(s.ctx, s.client, s.coord, map[string]*client.RepoConfig{repo: repoCfg},
			[]store.Identity{{Repo: repo, Name: name}})
		if err != nil {
			if s.firstErr == nil {
				s.firstErr = err
			}
			return nil, false
		}
	}
	return resolve.StoreSource{Store: s.store}.Releases(repo, name)
}

// fetchAndUnpack downloads and extracts every selection's tarball,
// caching the raw fetched bytes under cacheDir (skipped when cacheDir
// is empty). Per spec.md §7 this is all-or-nothing: the first failure
// aborts the whole batch before the lockfile write is ever reached.
func fetchAndUnpack(ctx context.Context, coord *fetch.Coordinator, st *store.Store, repos map[string]*client.RepoConfig, cacheDir string, res *Resolution, destFor DestinationFunc) error {
	jobs := make([]fetch.Job, 0, len(res.Selections))
	names := make([]string, 0, len(res.Selections))
	for name, sel := range res.Selections {
		repo, ok := repos[sel.Repo]
		if !ok {
			return fmt.Errorf("hexcore: unknown repo %q for %s", sel.Repo, name)
		}
		jobs = append(jobs, fetch.Job{Kind: fetch.JobKindTarball, Repo: repo, Name: name, Version: sel.Version})
		names = append(names, name)
	}

	results := coord.FetchAll(ctx, jobs)
	byName := make(map[string]fetch.Result, len(results))
	for _, r := range results {
		byName[r.Job.Name] = r
	}

	for _, name := range names {
		sel := res.Selections[name]
		r, ok := byName[name]
		if !ok {
			return fmt.Errorf("hexcore: fetch %s %s: no result delivered", name, sel.Version)
		}
		if r.Err != nil {
			return fmt.Errorf("hexcore: fetch %s %s: %w", name, sel.Version, r.Err)
		}

		expected, err := st.Checksum(sel.Repo, name, sel.Version)
		if err != nil {
			return fmt.Errorf("hexcore: checksum for %s %s: %w", name, sel.Version, err)
		}

		if cacheDir != "" {
			cachePath := filepath.Join(cacheDir, "packages", "cache", fetch.TarballCacheName(name, sel.Version))
			if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
				return fmt.Errorf("hexcore: creating tarball cache dir for %s %s: %w", name, sel.Version, err)
			}
			if err := os.WriteFile(cachePath, r.Body, 0o644); err != nil {
				return fmt.Errorf("hexcore: caching tarball for %s %s: %w", name, sel.Version, err)
			}
		}

		dest := destFor(name, sel)
		if _, err := archive.Unpack(r.Body, dest.Dir, expected); err != nil {
			return fmt.Errorf("hexcore: unpack %s %s: %w", name, sel.Version, err)
		}
	}
	return nil
}

// DiagnosticURLs returns the registry, download, docs, and PURL links
// for one resolved selection, for callers that want to print or log
// them (e.g. alongside a lockfile write). It never affects resolution
// or fetching itself.
func DiagnosticURLs(cfg *state.Config, name string, sel Selection) (map[string]string, error) {
	repo, ok := cfg.Repo(sel.Repo)
	if !ok {
		return nil, fmt.Errorf("hexcore: unknown repo %q for %s", sel.Repo, name)
	}
	return client.BuildURLs(client.NewURLBuilder(repo), name, sel.Version), nil
}

// buildLockfile projects a Resolution into the canonical lock shape,
// pulling each entry's checksum and dependency references back out of
// the store that resolution already populated.
func buildLockfile(st *store.Store, res *Resolution, managers map[string][]string) (*Lockfile, error) {
	entries := make(map[string]lock.Entry, len(res.Selections))
	for name, sel := range res.Selections {
		checksum, err := st.Checksum(sel.Repo, name, sel.Version)
		if err != nil {
			return nil, fmt.Errorf("hexcore: checksum for %s %s: %w", name, sel.Version, err)
		}
		deps, err := st.Deps(sel.Repo, name, sel.Version)
		if err != nil {
			return nil, fmt.Errorf("hexcore: deps for %s %s: %w", name, sel.Version, err)
		}
		refs := make([]lock.DepRef, 0, len(deps))
		for _, d := range deps {
			refs = append(refs, lock.DepRef{Name: d.Package, Repo: d.Repository})
		}
		entries[name] = lock.Entry{
			Version:  sel.Version,
			Checksum: fmt.Sprintf("%x", checksum),
			Managers: managers[name],
			DepRefs:  refs,
			Repo:     sel.Repo,
		}
	}
	return &Lockfile{Entries: entries}, nil
}
