// Package inflight deduplicates concurrent generation jobs per canonical key.
//
// The registry is process-local: it guarantees at most one running job per
// key inside this process and nothing across processes.
package inflight

import (
	"context"
	"sync"
	"time"

	"assetforge/internal/domain"
)

// Result is the terminal outcome broadcast to every waiter of a job.
type Result struct {
	Artifact *domain.CachedArtifact
	Err      error
	// Reused is set when the job found a cached artifact before submitting.
	Reused bool
}

// Future is a single-resolution value shared by the starter and all joiners.
type Future struct {
	done   chan struct{}
	once   sync.Once
	result Result
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(r Result) bool {
	resolved := false
	f.once.Do(func() {
		f.result = r
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the future resolves.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the job settles or ctx ends. Leaving early does not
// affect the job or the other waiters.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Ticket is what JoinOrStart hands back to a caller.
type Ticket struct {
	Key       string
	IsStarter bool
	Future    *Future
	StartedAt time.Time
}

type job struct {
	future    *Future
	startedAt time.Time
}

// Registry maps canonical keys to their running job.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*job
	now  func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*job), now: time.Now}
}

// JoinOrStart attaches the caller to the running job for key, or makes the
// caller its starter. onStart runs only for a would-be starter, under the same
// lock that creates the entry; when it fails no entry is created and its error
// is returned. Joiners never run onStart.
func (r *Registry) JoinOrStart(key string, onStart func() error) (Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[key]; ok {
		return Ticket{Key: key, IsStarter: false, Future: j.future, StartedAt: j.startedAt}, nil
	}
	if onStart != nil {
		if err := onStart(); err != nil {
			return Ticket{}, err
		}
	}
	j := &job{future: newFuture(), startedAt: r.now()}
	r.jobs[key] = j
	return Ticket{Key: key, IsStarter: true, Future: j.future, StartedAt: j.startedAt}, nil
}

// Settle resolves the job's future and removes the entry in one locked step,
// so the next request for key starts a fresh cycle. It reports whether an
// entry was settled.
func (r *Registry) Settle(key string, res Result) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[key]
	if !ok {
		return false
	}
	delete(r.jobs, key)
	return j.future.resolve(res)
}

// Has reports whether a job is running for key.
func (r *Registry) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.jobs[key]
	return ok
}

// InFlight returns the number of running jobs.
func (r *Registry) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
