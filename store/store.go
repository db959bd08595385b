// Package store implements the per-process registry cache from spec.md
// §4D: a map from package identity to its cached release list, refreshed
// through the fetch coordinator and persisted to disk as the raw signed
// envelope so verification is always repeated on load, never trusted.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/git-pkgs/hex-core/client"
	"github.com/git-pkgs/hex-core/fetch"
	"github.com/git-pkgs/hex-core/internal/wire"
)

// Identity names a package within a configured repository.
type Identity struct {
	Repo string
	Name string
}

func (id Identity) String() string { return id.Repo + "/" + id.Name }

type entry struct {
	ETag     string
	Releases []wire.Release
}

// Store is a single-writer/many-reader registry cache guarded by a
// sync.RWMutex: lookups take the read lock, updates take the writer lock
// only to swap the entry pointer (spec.md §5). Lookups are not
// lock-free.
type Store struct {
	mu       sync.RWMutex
	entries  map[Identity]*entry
	cacheDir string
	logger   *slog.Logger
}

// New builds an empty Store. cacheDir, if non-empty, is where Load/persist
// read and write raw signed envelopes between runs.
func New(cacheDir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		entries:  make(map[Identity]*entry),
		cacheDir: cacheDir,
		logger:   logger,
	}
}

// Get returns the cached release list for (repo, name), if present.
func (s *Store) Get(repo, name string) ([]wire.Release, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[Identity{Repo: repo, Name: name}]
	if !ok {
		return nil, false
	}
	return e.Releases, true
}

// Release finds one specific version within a cached package, or
// reports ok=false if the package or version isn't cached.
func (s *Store) Release(repo, name, version string) (wire.Release, bool) {
	releases, ok := s.Get(repo, name)
	if !ok {
		return wire.Release{}, false
	}
	for _, r := range releases {
		if r.Version == version {
			return r, true
		}
	}
	return wire.Release{}, false
}

// Checksum returns the registry-declared checksum for (repo, name, version).
func (s *Store) Checksum(repo, name, version string) ([]byte, error) {
	r, ok := s.Release(repo, name, version)
	if !ok {
		return nil, fmt.Errorf("store: no cached release %s/%s@%s", repo, name, version)
	}
	return r.InnerChecksum, nil
}

// Deps returns the declared dependency list for (repo, name, version).
func (s *Store) Deps(repo, name, version string) ([]wire.Dependency, error) {
	r, ok := s.Release(repo, name, version)
	if !ok {
		return nil, fmt.Errorf("store: no cached release %s/%s@%s", repo, name, version)
	}
	return r.Dependencies, nil
}

func (s *Store) etag(id Identity) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[id]; ok {
		return e.ETag
	}
	return ""
}

func (s *Store) set(id Identity, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = e
}

// Prefetch sends a batch of (repo, name) requests through the fetch
// coordinator one at a time, in request order, each keyed by the
// package's current etag; the requests are not issued concurrently. On a 200 it verifies
// the signed envelope (delegating to cl, which owns the repo's public
// key), decodes the payload, and replaces the cached entry; on 304 it
// keeps what's already cached. Individual failures are collected and
// returned together rather than aborting the whole batch.
func (s *Store) Prefetch(ctx context.Context, cl *client.Client, coord *fetch.Coordinator, repos map[string]*client.RepoConfig, requests []Identity) error {
	var errs []error
	for _, id := range requests {
		repo, ok := repos[id.Repo]
		if !ok {
			errs = append(errs, fmt.Errorf("store: unknown repo %q", id.Repo))
			continue
		}

		fresh, body, etag, err := coord.FetchRegistry(ctx, repo, id.Name, s.etag(id))
		if err != nil {
			errs = append(errs, fmt.Errorf("store: prefetch %s: %w", id, err))
			continue
		}
		if fresh == client.NotModified {
			s.logger.Debug("registry not modified", "package", id.String())
			continue
		}

		payload, err := cl.Verify(body, repo)
		if err != nil {
			errs = append(errs, fmt.Errorf("store: verifying %s: %w", id, err))
			continue
		}
		releases, err := cl.DecodePackage(payload, repo, id.Name)
		if err != nil {
			errs = append(errs, fmt.Errorf("store: decoding %s: %w", id, err))
			continue
		}

		s.set(id, &entry{ETag: etag, Releases: releases})
		if err := s.persist(id, body); err != nil {
			s.logger.Warn("failed to persist registry cache", "package", id.String(), "error", err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("store: %d prefetch failures: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// persist writes the raw signed envelope bytes as-is, under the file
// name fetch.RegistryCacheName gives the package, so Load
// re-verifies the signature on every read rather than trusting disk.
func (s *Store) persist(id Identity, envelopeBytes []byte) error {
	if s.cacheDir == "" {
		return nil
	}
	dir := filepath.Join(s.cacheDir, "registry", id.Repo)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, fetch.RegistryCacheName(id.Name)), envelopeBytes, 0o644)
}

// Load re-verifies and loads a package's persisted envelope from disk,
// per spec.md §4D ("verification is repeated on load"). A missing cache
// file is reported via ok=false, not an error.
func (s *Store) Load(cl *client.Client, repo *client.RepoConfig, name string) (ok bool, err error) {
	if s.cacheDir == "" {
		return false, nil
	}
	path := filepath.Join(s.cacheDir, "registry", repo.Name, fetch.RegistryCacheName(name))
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: reading cache for %s/%s: %w", repo.Name, name, err)
	}

	payload, err := cl.Verify(raw, repo)
	if err != nil {
		return false, fmt.Errorf("store: re-verifying cached envelope for %s/%s: %w", repo.Name, name, err)
	}
	releases, err := cl.DecodePackage(payload, repo, name)
	if err != nil {
		return false, fmt.Errorf("store: decoding cached package %s/%s: %w", repo.Name, name, err)
	}

	s.set(Identity{Repo: repo.Name, Name: name}, &entry{Releases: releases})
	return true, nil
}
