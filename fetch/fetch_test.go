package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/git-pkgs/hex-core/client"
)

func TestFetchRegistryDeduplicatesConcurrentCallers(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	cl := client.NewClient(client.WithBackoff(time.Millisecond))
	defer cl.Close()
	repo := &client.RepoConfig{Name: "hexpm", URL: srv.URL}
	coord := NewCoordinator(cl, 4)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, body, _, err := coord.FetchRegistry(context.Background(), repo, "decimal", "")
			if err != nil {
				t.Errorf("FetchRegistry: %v", err)
			}
			if string(body) != "payload" {
				t.Errorf("body = %q", body)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("upstream calls = %d, want 1 (deduplicated)", got)
	}
}

func TestFetchTarball(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tarball-bytes"))
	}))
	defer srv.Close()

	cl := client.NewClient(client.WithBackoff(time.Millisecond))
	defer cl.Close()
	repo := &client.RepoConfig{Name: "hexpm", URL: srv.URL}
	coord := NewCoordinator(cl, 4)

	body, err := coord.FetchTarball(context.Background(), repo, "decimal", "2.0.0")
	if err != nil {
		t.Fatalf("FetchTarball: %v", err)
	}
	if string(body) != "tarball-bytes" {
		t.Errorf("body = %q", body)
	}
}

func TestFetchAllDeliversEveryResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cl := client.NewClient(client.WithBackoff(time.Millisecond))
	defer cl.Close()
	repo := &client.RepoConfig{Name: "hexpm", URL: srv.URL}
	coord := NewCoordinator(cl, 2)

	jobs := []Job{
		{Kind: JobKindRegistry, Repo: repo, Name: "decimal"},
		{Kind: JobKindTarball, Repo: repo, Name: "decimal", Version: "2.0.0"},
		{Kind: JobKindTarball, Repo: repo, Name: "ecto", Version: "3.0.0"},
	}
	results := coord.FetchAll(context.Background(), jobs)
	if len(results) != len(jobs) {
		t.Fatalf("got %d results, want %d", len(results), len(jobs))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("job %+v failed: %v", r.Job, r.Err)
		}
		if r.CorrelationID == "" {
			t.Error("expected non-empty correlation ID")
		}
	}
}

func TestFetchErrorDeliveredToAllWaiters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cl := client.NewClient(client.WithBackoff(time.Millisecond))
	defer cl.Close()
	repo := &client.RepoConfig{Name: "hexpm", URL: srv.URL}
	coord := NewCoordinator(cl, 4)

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _, err := coord.FetchRegistry(context.Background(), repo, "missing", "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err == nil {
			t.Error("expected every waiter to see the failure")
		}
	}
}

func TestTarballCacheName(t *testing.T) {
	if got := TarballCacheName("decimal", "2.0.0"); got != "decimal-2.0.0.tar" {
		t.Errorf("got %q", got)
	}
}
