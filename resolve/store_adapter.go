package resolve

import (
	"github.com/git-pkgs/hex-core/internal/wire"
	"github.com/git-pkgs/hex-core/store"
)

// StoreSource adapts a *store.Store to ReleaseSource.
type StoreSource struct {
	Store *store.Store
}

// Releases implements ReleaseSource.
func (s StoreSource) Releases(repo, name string) ([]ReleaseInfo, bool) {
	releases, ok := s.Store.Get(repo, name)
	if !ok {
		return nil, false
	}
	out := make([]ReleaseInfo, 0, len(releases))
	for _, r := range releases {
		out = append(out, ReleaseInfo{
			Version:      r.Version,
			Retired:      retirementInfo(r.Retired),
			Dependencies: dependencyRefs(r.Dependencies),
		})
	}
	return out, true
}

func retirementInfo(r *wire.RetirementStatus) *RetirementInfo {
	if r == nil {
		return nil
	}
	return &RetirementInfo{Reason: retirementReasonName(r.Reason), Message: r.Message}
}

func retirementReasonName(r wire.RetirementReason) string {
	switch r {
	case wire.RetirementInvalid:
		return "invalid"
	case wire.RetirementSecurity:
		return "security"
	case wire.RetirementDeprecated:
		return "deprecated"
	case wire.RetirementRenamed:
		return "renamed"
	default:
		return "other"
	}
}

func dependencyRefs(deps []wire.Dependency) []DependencyRef {
	out := make([]DependencyRef, 0, len(deps))
	for _, d := range deps {
		out = append(out, DependencyRef{
			Repo:        d.Repository,
			Name:        d.Package,
			Requirement: d.Requirement,
			Optional:    d.Optional,
			App:         d.App,
		})
	}
	return out
}
