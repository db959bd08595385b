// Package client implements the repository client from spec.md §4B:
// signed registry fetch, tarball fetch, public-key fetch, envelope
// verification, and payload decoding — everything that talks HTTP to a
// configured repository.
package client

import (
	"context"
	"crypto/rsa"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/rs/dnscache"

	"github.com/git-pkgs/hex-core/internal/wire"
)

// RepoConfig describes one configured upstream repository.
type RepoConfig struct {
	Name              string
	URL               string
	PublicKeyPEM      []byte
	AuthKey           string
	NoVerifySignature bool
	NoVerifyOrigin    bool

	mu     sync.Mutex
	pubKey *rsa.PublicKey
}

func (r *RepoConfig) publicKey() (*rsa.PublicKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubKey != nil {
		return r.pubKey, nil
	}
	if len(r.PublicKeyPEM) == 0 {
		return nil, nil
	}
	key, err := wire.PublicKey(r.PublicKeyPEM)
	if err != nil {
		return nil, err
	}
	r.pubKey = key
	return key, nil
}

// Freshness describes whether GetPackage returned a new body or the
// upstream reported the cached etag as still current.
type Freshness int

const (
	NotModified Freshness = iota
	Fresh
)

// Client is an HTTP client with DNS caching and a bounded retry policy,
// shared across every configured repository.
type Client struct {
	http       *http.Client
	userAgent  string
	maxRetries int
	backoff    time.Duration
	resolver   *dnscache.Resolver
	stop       chan struct{}
	stopOnce   sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the total per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithMaxRetries sets the number of retries for transient errors.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithUserAgent sets the User-Agent header sent on every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithBackoff overrides the fixed inter-retry delay (default 100ms per
// spec.md §4B).
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// NewClient builds a Client with a DNS-cached dialer whose cache is
// refreshed every five minutes by a background goroutine until Close.
func NewClient(opts ...Option) *Client {
	resolver := &dnscache.Resolver{}
	stop := make(chan struct{})

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	c := &Client{
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					host, port, err := net.SplitHostPort(addr)
					if err != nil {
						return nil, err
					}
					ips, err := resolver.LookupHost(ctx, host)
					if err != nil {
						return nil, err
					}
					var lastErr error
					for _, ip := range ips {
						conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
						if err == nil {
							return conn, nil
						}
						lastErr = err
					}
					return nil, fmt.Errorf("client: failed to dial any resolved IP for %s: %w", host, lastErr)
				},
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		userAgent:  "hex-core/1.0",
		maxRetries: 2,
		backoff:    100 * time.Millisecond,
		resolver:   resolver,
		stop:       stop,
	}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				resolver.Refresh(true)
			case <-stop:
				return
			}
		}
	}()

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultClient returns a Client with the package defaults: 60s
// timeout, 2 retries with a fixed 100ms backoff.
func DefaultClient() *Client {
	return NewClient()
}

// Close stops the background DNS-cache refresh goroutine.
func (c *Client) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// do executes req with the configured retry policy: transient errors
// (connection failure, 5xx) are retried up to maxRetries times with a
// fixed backoff; 4xx responses are returned immediately as final.
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	bo := backoff.NewConstantBackOff(c.backoff)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(bo.NextBackOff()):
			}
		}

		resp, err := c.http.Do(req.Clone(ctx))
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrHTTPTransient, err)
			continue
		}
		if resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("%w: status %d", ErrHTTPTransient, resp.StatusCode)
			continue
		}
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			return nil, &StatusError{StatusCode: resp.StatusCode, URL: req.URL.String(), Body: string(body)}
		}
		return resp, nil
	}
	return nil, lastErr
}

func (c *Client) newRequest(ctx context.Context, method, url string, repo *RepoConfig, etag string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if repo != nil && repo.AuthKey != "" {
		req.Header.Set("Authorization", repo.AuthKey)
	}
	return req, nil
}

// GetPackage performs GET {repo.URL}/packages/{name}, sending
// If-None-Match when etag is non-empty. A 304 response yields
// NotModified with no body; otherwise Fresh with the response body and
// its new ETag.
func (c *Client) GetPackage(ctx context.Context, repo *RepoConfig, name, etag string) (Freshness, []byte, string, error) {
	url := fmt.Sprintf("%s/packages/%s", strings.TrimSuffix(repo.URL, "/"), name)
	req, err := c.newRequest(ctx, http.MethodGet, url, repo, etag)
	if err != nil {
		return NotModified, nil, "", err
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return NotModified, nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return NotModified, nil, etag, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return NotModified, nil, "", fmt.Errorf("client: reading package body: %w", err)
	}
	return Fresh, body, resp.Header.Get("ETag"), nil
}

// GetTarball performs GET {repo.URL}/tarballs/{name}-{version}.tar.
func (c *Client) GetTarball(ctx context.Context, repo *RepoConfig, name, version string) ([]byte, error) {
	url := fmt.Sprintf("%s/tarballs/%s-%s.tar", strings.TrimSuffix(repo.URL, "/"), name, version)
	req, err := c.newRequest(ctx, http.MethodGet, url, repo, "")
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// GetPublicKey performs GET {baseURL}/public_key and returns the
// PEM-encoded key bytes.
func (c *Client) GetPublicKey(ctx context.Context, baseURL string) ([]byte, error) {
	url := fmt.Sprintf("%s/public_key", strings.TrimSuffix(baseURL, "/"))
	req, err := c.newRequest(ctx, http.MethodGet, url, nil, "")
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Verify decodes envelopeBytes as a wire.Signed and, unless
// repo.NoVerifySignature is set, checks its signature against the
// repo's configured public key.
func (c *Client) Verify(envelopeBytes []byte, repo *RepoConfig) ([]byte, error) {
	envelope, err := wire.UnmarshalSigned(envelopeBytes)
	if err != nil {
		return nil, fmt.Errorf("client: decoding envelope: %w", err)
	}
	key, err := repo.publicKey()
	if err != nil {
		return nil, fmt.Errorf("client: parsing public key for %s: %w", repo.Name, err)
	}
	return wire.Verify(envelope, key, repo.NoVerifySignature)
}

// DecodePackage decodes a verified payload into its release list,
// enforcing the origin check unless repo.NoVerifyOrigin is set.
func (c *Client) DecodePackage(payload []byte, repo *RepoConfig, name string) ([]wire.Release, error) {
	pkg, err := wire.DecodePackage(payload, repo.Name, name, repo.NoVerifyOrigin)
	if err != nil {
		return nil, err
	}
	return pkg.Releases, nil
}
