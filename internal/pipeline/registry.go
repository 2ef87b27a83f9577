package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
)

// ErrRunNotFound is returned for unknown run ids.
var ErrRunNotFound = errors.New("pipeline: run not found")

// DefaultRetainedRuns bounds how many finished runs a Registry remembers.
const DefaultRetainedRuns = 256

// Registry starts runs asynchronously, limits how many execute at once and
// keeps them addressable by id for polling. Runs waiting for a slot stay
// Idle and may still be cancelled.
type Registry struct {
	ctx      context.Context
	orch     *Orchestrator
	slots    chan struct{}
	retained int

	mu   sync.RWMutex
	runs map[string]*Run
	wg   sync.WaitGroup
}

// NewRegistry returns a Registry executing at most maxConcurrent runs. Runs
// still waiting for a slot when ctx ends fail as cancelled.
func NewRegistry(ctx context.Context, orch *Orchestrator, maxConcurrent int) *Registry {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Registry{
		ctx:      ctx,
		orch:     orch,
		slots:    make(chan struct{}, maxConcurrent),
		retained: DefaultRetainedRuns,
		runs:     make(map[string]*Run),
	}
}

// Submit registers a new run and executes it in the background.
func (r *Registry) Submit(roomID, wallpaperID string) *Run {
	run := r.orch.NewRun(roomID, wallpaperID)

	r.mu.Lock()
	r.runs[run.ID()] = run
	r.pruneLocked()
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		select {
		case r.slots <- struct{}{}:
			defer func() { <-r.slots }()
		case <-r.ctx.Done():
		}
		if _, err := r.orch.Execute(r.ctx, run); err != nil {
			slog.Error("run could not start", "run_id", run.ID(), "error", err)
		}
	}()
	return run
}

// Get returns a run by id.
func (r *Registry) Get(id string) (*Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// Cancel abandons a run that has not started executing.
func (r *Registry) Cancel(id string) error {
	run, err := r.Get(id)
	if err != nil {
		return err
	}
	return run.Cancel()
}

// List returns snapshots of all known runs, most recently started first.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	out := make([]Snapshot, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run.Snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Active returns the number of runs that have not finished.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, run := range r.runs {
		if !run.State().Terminal() {
			n++
		}
	}
	return n
}

// Wait blocks until every submitted run has finished or ctx is done.
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pruneLocked forgets the oldest finished runs beyond the retention limit.
func (r *Registry) pruneLocked() {
	if len(r.runs) <= r.retained {
		return
	}
	finished := make([]Snapshot, 0, len(r.runs))
	for _, run := range r.runs {
		if snap := run.Snapshot(); snap.State.Terminal() {
			finished = append(finished, snap)
		}
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].UpdatedAt.Before(finished[j].UpdatedAt) })

	excess := len(r.runs) - r.retained
	for i := 0; i < excess && i < len(finished); i++ {
		delete(r.runs, finished[i].RunID)
	}
}
