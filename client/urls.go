package client

import (
	"fmt"

	packageurl "github.com/package-url/packageurl-go"
)

// URLBuilder constructs diagnostic/display URLs for a package — the
// repository page, the tarball, the docs, and its PURL. hex-core has
// exactly one ecosystem, so this builder is fixed to hex.pm/hexdocs.pm
// shapes, driven by a RepoConfig's base URL.
type URLBuilder struct {
	repo *RepoConfig
}

// NewURLBuilder returns a URLBuilder scoped to repo.
func NewURLBuilder(repo *RepoConfig) *URLBuilder {
	return &URLBuilder{repo: repo}
}

// Registry returns the repository's human-facing package page.
func (u *URLBuilder) Registry(name, version string) string {
	if version != "" {
		return fmt.Sprintf("%s/packages/%s/%s", u.repo.URL, name, version)
	}
	return fmt.Sprintf("%s/packages/%s", u.repo.URL, name)
}

// Download returns the tarball URL for a specific version.
func (u *URLBuilder) Download(name, version string) string {
	if version == "" {
		return ""
	}
	return fmt.Sprintf("%s/tarballs/%s-%s.tar", u.repo.URL, name, version)
}

// Documentation returns the hexdocs.pm URL for a package/version.
func (u *URLBuilder) Documentation(name, version string) string {
	if version != "" {
		return fmt.Sprintf("https://hexdocs.pm/%s/%s", name, version)
	}
	return fmt.Sprintf("https://hexdocs.pm/%s", name)
}

// PURL renders a Package URL identifying name[@version] within this
// repository, qualified with repository_url when the repo isn't the
// default hexpm upstream.
func (u *URLBuilder) PURL(name, version string) string {
	var qualifiers packageurl.Qualifiers
	if u.repo.Name != "" && u.repo.Name != "hexpm" {
		qualifiers = append(qualifiers, packageurl.Qualifier{Key: "repository_url", Value: u.repo.URL})
	}
	p := packageurl.NewPackageURL("hex", "", name, version, qualifiers, "")
	return p.ToString()
}

// BuildURLs returns a map of every non-empty URL for name/version,
// keyed "registry", "download", "docs", "purl".
func BuildURLs(u *URLBuilder, name, version string) map[string]string {
	out := make(map[string]string)
	if v := u.Registry(name, version); v != "" {
		out["registry"] = v
	}
	if v := u.Download(name, version); v != "" {
		out["download"] = v
	}
	if v := u.Documentation(name, version); v != "" {
		out["docs"] = v
	}
	if v := u.PURL(name, version); v != "" {
		out["purl"] = v
	}
	return out
}
