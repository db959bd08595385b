// Package fetch implements the bounded-concurrency deduplicated download
// coordinator from spec.md §4G: registry and tarball jobs are fanned out
// over a fixed worker budget, jobs sharing a fingerprint collapse into a
// single network call, and a failed job's error reaches every waiter
// without being retried at this layer (retry lives in the client).
package fetch

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/git-pkgs/hex-core/client"
)

// JobKind distinguishes the two fingerprint shapes spec.md §4G names.
type JobKind int

const (
	// JobKindRegistry fingerprints as (repo, name, etag).
	JobKindRegistry JobKind = iota
	// JobKindTarball fingerprints as (repo, name, version).
	JobKindTarball
)

// Job describes one unit of fetch work.
type Job struct {
	Kind    JobKind
	Repo    *client.RepoConfig
	Name    string
	ETag    string // JobKindRegistry only
	Version string // JobKindTarball only
}

func (j Job) fingerprint() string {
	switch j.Kind {
	case JobKindRegistry:
		return fmt.Sprintf("registry:%s:%s:%s", j.Repo.Name, j.Name, j.ETag)
	default:
		return fmt.Sprintf("tarball:%s:%s:%s", j.Repo.Name, j.Name, j.Version)
	}
}

// Result is what a Job resolves to, successful or not.
type Result struct {
	Job           Job
	CorrelationID string
	Freshness     client.Freshness // JobKindRegistry only
	Body          []byte
	ETag          string
	Err           error
}

// ProgressFunc receives byte progress for a tarball job. The coordinator
// calls it once per tarball job, after the fetch returns, with bytesDone
// and bytesTotal both set to the body length (0 on failure). It runs on a
// goroutine of its own, not on the worker. Progress while the body is
// still streaming is not reported.
type ProgressFunc func(correlationID string, bytesDone, bytesTotal int64)

// call is the shared outcome of one in-flight fingerprint: every caller
// attached to it waits on done and then reads result.
type call struct {
	done   chan struct{}
	result Result
}

// Coordinator runs jobs against a client.Client with a fixed concurrency
// budget, per-job deduplication by fingerprint, and a circuit breaker per
// repository host.
type Coordinator struct {
	cl       *client.Client
	sem      *semaphore.Weighted
	progress ProgressFunc

	mu       sync.Mutex
	inflight map[string]*call

	breakersMu sync.RWMutex
	breakers   map[string]*circuit.Breaker
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithProgress sets the non-blocking progress callback invoked for
// tarball jobs.
func WithProgress(fn ProgressFunc) Option {
	return func(c *Coordinator) { c.progress = fn }
}

// NewCoordinator builds a Coordinator bounded to maxInFlight concurrent
// jobs (spec.md §4G default: 8).
func NewCoordinator(cl *client.Client, maxInFlight int64, opts ...Option) *Coordinator {
	if maxInFlight <= 0 {
		maxInFlight = 8
	}
	c := &Coordinator{
		cl:       cl,
		sem:      semaphore.NewWeighted(maxInFlight),
		inflight: make(map[string]*call),
		breakers: make(map[string]*circuit.Breaker),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// breakerFor returns or creates the circuit breaker guarding repo's host.
func (c *Coordinator) breakerFor(repo *client.RepoConfig) *circuit.Breaker {
	host := repoHost(repo)

	c.breakersMu.RLock()
	b, ok := c.breakers[host]
	c.breakersMu.RUnlock()
	if ok {
		return b
	}

	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()
	if b, ok := c.breakers[host]; ok {
		return b
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 30 * time.Second
	bo.MaxInterval = 5 * time.Minute
	bo.Multiplier = 2.0
	bo.Reset()

	b = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    bo,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	})
	c.breakers[host] = b
	return b
}

func repoHost(repo *client.RepoConfig) string {
	parsed, err := url.Parse(repo.URL)
	if err != nil || parsed.Host == "" {
		return repo.Name
	}
	return parsed.Host
}

// run executes job against the coordinator's client, deduplicating
// against any identical fingerprint already in flight.
func (c *Coordinator) run(ctx context.Context, job Job) Result {
	fp := job.fingerprint()

	c.mu.Lock()
	if existing, ok := c.inflight[fp]; ok {
		c.mu.Unlock()
		<-existing.done
		return existing.result
	}
	cl := &call{done: make(chan struct{})}
	c.inflight[fp] = cl
	c.mu.Unlock()

	result := c.doRun(ctx, job)

	c.mu.Lock()
	delete(c.inflight, fp)
	c.mu.Unlock()

	cl.result = result
	close(cl.done)
	return result
}

func (c *Coordinator) doRun(ctx context.Context, job Job) Result {
	correlationID := uuid.NewString()
	result := Result{Job: job, CorrelationID: correlationID}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		result.Err = err
		return result
	}
	defer c.sem.Release(1)

	breaker := c.breakerFor(job.Repo)
	if !breaker.Ready() {
		result.Err = fmt.Errorf("fetch: circuit open for %s", repoHost(job.Repo))
		return result
	}

	err := breaker.Call(func() error {
		switch job.Kind {
		case JobKindRegistry:
			fresh, body, etag, err := c.cl.GetPackage(ctx, job.Repo, job.Name, job.ETag)
			result.Freshness = fresh
			result.Body = body
			result.ETag = etag
			return err
		default:
			body, err := c.cl.GetTarball(ctx, job.Repo, job.Name, job.Version)
			result.Body = body
			if c.progress != nil {
				c.reportProgress(correlationID, int64(len(body)), int64(len(body)))
			}
			return err
		}
	}, 0)
	result.Err = err
	return result
}

// reportProgress invokes the progress callback in its own goroutine so a
// slow or panicking callback never blocks the worker.
func (c *Coordinator) reportProgress(id string, done, total int64) {
	go func() {
		defer func() { recover() }()
		c.progress(id, done, total)
	}()
}

// FetchRegistry runs a single registry job, deduplicated against any
// identical in-flight (repo, name, etag) request.
func (c *Coordinator) FetchRegistry(ctx context.Context, repo *client.RepoConfig, name, etag string) (client.Freshness, []byte, string, error) {
	r := c.run(ctx, Job{Kind: JobKindRegistry, Repo: repo, Name: name, ETag: etag})
	return r.Freshness, r.Body, r.ETag, r.Err
}

// FetchTarball runs a single tarball job, deduplicated against any
// identical in-flight (repo, name, version) request.
func (c *Coordinator) FetchTarball(ctx context.Context, repo *client.RepoConfig, name, version string) ([]byte, error) {
	r := c.run(ctx, Job{Kind: JobKindTarball, Repo: repo, Name: name, Version: version})
	return r.Body, r.Err
}

// FetchAll runs every job concurrently (bounded by the coordinator's
// semaphore) and delivers results in completion order, not submission
// order, per spec.md §4G. It returns once every job has completed or ctx
// is cancelled; an individual job's failure is reported on its Result,
// not returned as the call's error.
func (c *Coordinator) FetchAll(ctx context.Context, jobs []Job) []Result {
	results := make(chan Result, len(jobs))
	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			results <- c.run(ctx, j)
		}(job)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]Result, 0, len(jobs))
	for r := range results {
		out = append(out, r)
	}
	return out
}
