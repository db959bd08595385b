package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetPackageFreshAndNotModified(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	c := NewClient(WithBackoff(time.Millisecond))
	defer c.Close()
	repo := &RepoConfig{Name: "hexpm", URL: srv.URL}

	fresh, body, etag, err := c.GetPackage(context.Background(), repo, "decimal", "")
	if err != nil {
		t.Fatalf("GetPackage: %v", err)
	}
	if fresh != Fresh || string(body) != "payload" || etag != `"v1"` {
		t.Fatalf("got fresh=%v body=%q etag=%q", fresh, body, etag)
	}

	fresh, body, _, err = c.GetPackage(context.Background(), repo, "decimal", `"v1"`)
	if err != nil {
		t.Fatalf("GetPackage (cached): %v", err)
	}
	if fresh != NotModified || body != nil {
		t.Fatalf("got fresh=%v body=%q, want NotModified/nil", fresh, body)
	}
}

func TestGetTarball(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tarballs/decimal-2.0.0.tar" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte("tarball-bytes"))
	}))
	defer srv.Close()

	c := NewClient(WithBackoff(time.Millisecond))
	defer c.Close()
	repo := &RepoConfig{Name: "hexpm", URL: srv.URL}

	body, err := c.GetTarball(context.Background(), repo, "decimal", "2.0.0")
	if err != nil {
		t.Fatalf("GetTarball: %v", err)
	}
	if string(body) != "tarball-bytes" {
		t.Errorf("body = %q", body)
	}
}

func TestGetPublicKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/public_key" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte("-----BEGIN PUBLIC KEY-----\n...\n-----END PUBLIC KEY-----\n"))
	}))
	defer srv.Close()

	c := NewClient(WithBackoff(time.Millisecond))
	defer c.Close()

	body, err := c.GetPublicKey(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("GetPublicKey: %v", err)
	}
	if len(body) == 0 {
		t.Error("expected non-empty key body")
	}
}

func TestRetriesTransientThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewClient(WithBackoff(time.Millisecond), WithMaxRetries(2))
	defer c.Close()
	repo := &RepoConfig{Name: "hexpm", URL: srv.URL}

	_, body, _, err := c.GetPackage(context.Background(), repo, "decimal", "")
	if err != nil {
		t.Fatalf("GetPackage: %v", err)
	}
	if string(body) != "ok" {
		t.Errorf("body = %q", body)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestFourXXIsFinalNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(WithBackoff(time.Millisecond), WithMaxRetries(2))
	defer c.Close()
	repo := &RepoConfig{Name: "hexpm", URL: srv.URL}

	_, _, _, err := c.GetPackage(context.Background(), repo, "missing", "")
	if err == nil {
		t.Fatal("expected error")
	}
	statusErr, ok := err.(*StatusError)
	if !ok {
		t.Fatalf("got %T, want *StatusError", err)
	}
	if !statusErr.IsNotFound() {
		t.Errorf("IsNotFound() = false")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 4xx)", calls)
	}
}

func TestExhaustedRetriesReturnsTransientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(WithBackoff(time.Millisecond), WithMaxRetries(1))
	defer c.Close()
	repo := &RepoConfig{Name: "hexpm", URL: srv.URL}

	_, _, _, err := c.GetPackage(context.Background(), repo, "decimal", "")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestAuthorizationSentOnlyWhenConfigured(t *testing.T) {
	var gotAuth, gotAuthWhenEmpty string
	sawAuthHeader := false

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			sawAuthHeader = true
			gotAuth = r.Header.Get("Authorization")
		}
		gotAuthWhenEmpty = r.Header.Get("Authorization")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewClient(WithBackoff(time.Millisecond))
	defer c.Close()

	authed := &RepoConfig{Name: "private", URL: srv.URL, AuthKey: "secret-key"}
	if _, _, _, err := c.GetPackage(context.Background(), authed, "pkg", ""); err != nil {
		t.Fatalf("GetPackage: %v", err)
	}
	if !sawAuthHeader || gotAuth != "secret-key" {
		t.Errorf("Authorization header = %q, want secret-key", gotAuth)
	}

	unauthed := &RepoConfig{Name: "public", URL: srv.URL}
	if _, _, _, err := c.GetPackage(context.Background(), unauthed, "pkg", ""); err != nil {
		t.Fatalf("GetPackage: %v", err)
	}
	if gotAuthWhenEmpty != "" {
		t.Errorf("Authorization header = %q, want empty when AuthKey unset", gotAuthWhenEmpty)
	}
}

func TestURLBuilder(t *testing.T) {
	repo := &RepoConfig{Name: "hexpm", URL: "https://repo.hex.pm"}
	u := NewURLBuilder(repo)

	if got := u.Download("decimal", "2.0.0"); got != "https://repo.hex.pm/tarballs/decimal-2.0.0.tar" {
		t.Errorf("Download = %q", got)
	}
	if got := u.Documentation("decimal", "2.0.0"); got != "https://hexdocs.pm/decimal/2.0.0" {
		t.Errorf("Documentation = %q", got)
	}
	if got := u.PURL("decimal", "2.0.0"); got != "pkg:hex/decimal@2.0.0" {
		t.Errorf("PURL = %q", got)
	}

	mirror := &RepoConfig{Name: "my_org", URL: "https://repo.example.com"}
	um := NewURLBuilder(mirror)
	if got := um.PURL("decimal", "2.0.0"); got != "pkg:hex/decimal@2.0.0?repository_url=https%3A%2F%2Frepo.example.com" {
		t.Errorf("PURL with repository_url = %q", got)
	}

	urls := BuildURLs(u, "decimal", "2.0.0")
	for _, key := range []string{"registry", "download", "docs", "purl"} {
		if urls[key] == "" {
			t.Errorf("BuildURLs missing %q", key)
		}
	}
}
