// Package state implements the process-wide configuration snapshot from
// spec.md §4H: cache directory, per-repo configuration, HTTP
// concurrency, offline flag, diff command, and clock, built once at
// startup and treated as read-mostly thereafter.
package state

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/git-pkgs/hex-core/client"
)

// Clock is the capability seam for the process clock (spec.md §9's
// "dynamic dispatch over HTTP/filesystem/clock" note).
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config is the immutable configuration snapshot. Construct with New or
// ForTesting; fields are unexported, so code outside this package reads
// them only through the accessor methods below and sets them only
// through Options applied at construction.
type Config struct {
	cacheDir        string
	apiURL          string
	repos           map[string]*client.RepoConfig
	httpConcurrency int
	offline         bool
	diffCommand     string
	httpProxy       string
	httpsProxy      string
	clock           Clock
}

// Option configures a Config at construction time.
type Option func(*Config)

// WithCacheDir overrides the cache directory (default: $HEX_HOME or
// ~/.hex).
func WithCacheDir(dir string) Option {
	return func(c *Config) { c.cacheDir = dir }
}

// WithRepo registers or replaces a named repository configuration.
func WithRepo(name string, repo *client.RepoConfig) Option {
	return func(c *Config) {
		if c.repos == nil {
			c.repos = make(map[string]*client.RepoConfig)
		}
		c.repos[name] = repo
	}
}

// WithOffline forces the offline flag regardless of HEX_OFFLINE.
func WithOffline(offline bool) Option {
	return func(c *Config) { c.offline = offline }
}

// WithClock overrides the process clock; production code never needs
// this, it exists for ForTesting fixtures.
func WithClock(clock Clock) Option {
	return func(c *Config) { c.clock = clock }
}

// New builds a Config from the environment variables spec.md §6 names,
// applying opts afterward so callers can override any derived default.
func New(opts ...Option) *Config {
	c := &Config{
		cacheDir:        defaultCacheDir(),
		apiURL:          envOr("HEX_API_URL", "https://hex.pm/api"),
		repos:           make(map[string]*client.RepoConfig),
		httpConcurrency: envInt("HEX_HTTP_CONCURRENCY", 8),
		offline:         envBool("HEX_OFFLINE"),
		diffCommand:     os.Getenv("HEX_DIFF_COMMAND"),
		httpProxy:       firstNonEmpty(os.Getenv("HTTP_PROXY"), os.Getenv("http_proxy")),
		httpsProxy:      firstNonEmpty(os.Getenv("HTTPS_PROXY"), os.Getenv("https_proxy")),
		clock:           realClock{},
	}

	c.repos["hexpm"] = &client.RepoConfig{
		Name:              "hexpm",
		URL:               c.apiURL,
		NoVerifyOrigin:    envBool("HEX_UNSAFE_REGISTRY"),
		NoVerifySignature: envBool("HEX_UNSAFE_REGISTRY"),
	}
	if mirror := os.Getenv("HEX_MIRROR"); mirror != "" {
		c.repos["hexpm"].URL = mirror
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ForTesting builds a Config from fixed defaults instead of the
// environment (cache directory /tmp/hex-core-test, no repositories,
// HTTP concurrency 8), then applies opts — reserved for test fixtures
// per spec.md §4H. Unlike New it registers no default hexpm repository.
func ForTesting(opts ...Option) *Config {
	c := &Config{
		cacheDir:        "/tmp/hex-core-test",
		repos:           make(map[string]*client.RepoConfig),
		httpConcurrency: 8,
		clock:           realClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Config) CacheDir() string     { return c.cacheDir }
func (c *Config) APIURL() string       { return c.apiURL }
func (c *Config) HTTPConcurrency() int { return c.httpConcurrency }
func (c *Config) Offline() bool        { return c.offline }
func (c *Config) DiffCommand() string  { return c.diffCommand }
func (c *Config) HTTPProxy() string    { return c.httpProxy }
func (c *Config) HTTPSProxy() string   { return c.httpsProxy }
func (c *Config) Clock() Clock         { return c.clock }
func (c *Config) Repo(name string) (*client.RepoConfig, bool) {
	r, ok := c.repos[name]
	return r, ok
}

// Repos returns every configured repository, keyed by name, for iteration.
func (c *Config) Repos() map[string]*client.RepoConfig {
	return c.repos
}

func defaultCacheDir() string {
	if home := os.Getenv("HEX_HOME"); home != "" {
		return home
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".hex")
	}
	return ".hex"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string) bool {
	v := os.Getenv(key)
	return v == "1" || v == "true"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
