package inference

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// RestartPolicy configures exponential backoff respawning of a crashed worker
type RestartPolicy struct {
	MaxRetries    int           // Consecutive failed spawns before giving up (default: 5)
	RetryDelay    time.Duration // Initial retry delay (default: 1 second)
	MaxRetryDelay time.Duration // Maximum retry delay cap (default: 30 seconds)
}

// DefaultRestartPolicy returns the default respawn policy
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// SpawnFunc starts a fresh worker bound to ctx.
type SpawnFunc func(ctx context.Context) (*Worker, error)

// Supervisor keeps one model worker alive. When the process dies it is
// respawned with exponential backoff; requests in flight at that moment fail
// and the pipeline reports them as failed runs.
type Supervisor struct {
	spawn  SpawnFunc
	policy RestartPolicy

	mu       sync.RWMutex
	current  *Worker
	restarts atomic.Uint32

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Backend = (*Supervisor)(nil)

// NewSupervisor returns an unstarted supervisor for the worker described by cfg.
func NewSupervisor(cfg WorkerConfig, policy RestartPolicy) (*Supervisor, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("inference command is required")
	}
	spawn := func(ctx context.Context) (*Worker, error) {
		w, err := NewWorker(cfg)
		if err != nil {
			return nil, err
		}
		if err := w.Start(ctx); err != nil {
			return nil, err
		}
		return w, nil
	}
	return newSupervisor(spawn, policy), nil
}

func newSupervisor(spawn SpawnFunc, policy RestartPolicy) *Supervisor {
	def := DefaultRestartPolicy()
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = def.MaxRetries
	}
	if policy.RetryDelay <= 0 {
		policy.RetryDelay = def.RetryDelay
	}
	if policy.MaxRetryDelay < policy.RetryDelay {
		policy.MaxRetryDelay = max(def.MaxRetryDelay, policy.RetryDelay)
	}
	return &Supervisor{spawn: spawn, policy: policy}
}

// Start spawns the first worker and begins watching it.
func (s *Supervisor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w, err := s.spawn(ctx)
	if err != nil {
		cancel()
		return err
	}
	s.cancel = cancel
	s.setCurrent(w)

	s.wg.Add(1)
	go s.watch(ctx)
	return nil
}

func (s *Supervisor) watch(ctx context.Context) {
	defer s.wg.Done()

	for {
		w := s.worker()
		select {
		case <-ctx.Done():
			return
		case <-w.Done():
		}
		if ctx.Err() != nil {
			return
		}

		slog.Warn("inference worker died, respawning", "worker_id", w.ID())
		w.Stop()

		next, err := s.respawn(ctx)
		if err != nil {
			slog.Error("inference worker respawn abandoned", "error", err)
			return
		}
		s.setCurrent(next)
		s.restarts.Add(1)
	}
}

// respawn retries spawn until it succeeds, ctx ends or the policy gives up.
func (s *Supervisor) respawn(ctx context.Context) (*Worker, error) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		w, err := s.spawn(ctx)
		if err == nil {
			slog.Info("inference worker respawned", "worker_id", w.ID(), "attempts", attempt+1)
			return w, nil
		}

		attempt++
		slog.Error("inference worker spawn failed", "attempt", attempt, "error", err)
		if attempt >= s.policy.MaxRetries {
			return nil, fmt.Errorf("max retries exceeded (%d consecutive failed spawns)", attempt)
		}

		delay := backoff(attempt, s.policy)
		slog.Warn("retrying inference worker spawn",
			"attempt", attempt,
			"max_retries", s.policy.MaxRetries,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// backoff returns RetryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func backoff(attempt int, p RestartPolicy) time.Duration {
	if attempt > 30 {
		return p.MaxRetryDelay
	}
	delay := p.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > p.MaxRetryDelay {
		delay = p.MaxRetryDelay
	}
	return delay
}

func (s *Supervisor) worker() *Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Supervisor) setCurrent(w *Worker) {
	s.mu.Lock()
	s.current = w
	s.mu.Unlock()
}

// Segment implements Backend.
func (s *Supervisor) Segment(ctx context.Context, img *image.RGBA) (Output, error) {
	w := s.worker()
	if w == nil {
		return Output{}, ErrWorkerNotActive
	}
	return w.Segment(ctx, img)
}

// EstimateLayout implements Backend.
func (s *Supervisor) EstimateLayout(ctx context.Context, img *image.RGBA) ([]Output, error) {
	w := s.worker()
	if w == nil {
		return nil, ErrWorkerNotActive
	}
	return w.EstimateLayout(ctx, img)
}

// Active reports whether the current worker accepts requests.
func (s *Supervisor) Active() bool {
	w := s.worker()
	return w != nil && w.Active()
}

// Metrics returns the current worker's counters and the number of respawns.
func (s *Supervisor) Metrics() Metrics {
	var m Metrics
	if w := s.worker(); w != nil {
		m = w.Metrics()
	}
	m.Restarts = s.restarts.Load()
	return m
}

// Stop ends supervision and stops the current worker.
func (s *Supervisor) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if w := s.worker(); w != nil {
		return w.Stop()
	}
	return nil
}
