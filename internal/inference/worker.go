package inference

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	writeTimeout = 2 * time.Second
	stopTimeout  = 2 * time.Second
)

// WorkerConfig configures the model worker subprocess.
type WorkerConfig struct {
	WorkerID          string
	Command           string
	Args              []string
	SegmentationModel string
	LayoutModel       string
}

// Worker runs both models in an external process speaking length-prefixed
// msgpack over stdin and stdout. Stderr is forwarded to slog.
type Worker struct {
	cfg WorkerConfig

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader

	writeMu sync.Mutex
	mu      sync.Mutex
	pending map[uint64]chan response
	nextID  atomic.Uint64

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	isActive atomic.Bool
	stopped  atomic.Bool

	requests       atomic.Uint64
	failures       atomic.Uint64
	totalLatencyMS atomic.Uint64
	lastSeenAt     atomic.Value // time.Time
}

var _ Backend = (*Worker)(nil)

// NewWorker validates cfg and returns an unstarted worker.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("inference command is required")
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "inference"
	}

	slog.Info("inference worker created",
		"worker_id", cfg.WorkerID,
		"command", cfg.Command,
		"segmentation_model", cfg.SegmentationModel,
		"layout_model", cfg.LayoutModel,
	)
	return &Worker{cfg: cfg, pending: make(map[uint64]chan response)}, nil
}

// ID returns the worker id.
func (w *Worker) ID() string { return w.cfg.WorkerID }

// Start spawns the worker process.
func (w *Worker) Start(ctx context.Context) error {
	if w.isActive.Load() {
		return fmt.Errorf("worker already started")
	}
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.cmd = exec.CommandContext(w.ctx, w.cfg.Command, w.cfg.Args...)
	stdin, err := w.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := w.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := w.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := w.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start inference process: %w", err)
	}

	slog.Info("inference process spawned",
		"worker_id", w.cfg.WorkerID,
		"pid", w.cmd.Process.Pid,
	)

	w.attach(stdin, stdout)

	w.wg.Add(2)
	go w.logStderr(stderr)
	go w.waitProcess()
	return nil
}

// attach wires the process pipes and starts the result reader.
func (w *Worker) attach(stdin io.WriteCloser, stdout io.Reader) {
	if w.ctx == nil {
		w.ctx, w.cancel = context.WithCancel(context.Background())
	}
	w.stdin = stdin
	w.stdout = stdout
	w.lastSeenAt.Store(time.Now())
	w.isActive.Store(true)

	w.wg.Add(1)
	go w.readResults()
}

// Segment implements Backend.
func (w *Worker) Segment(ctx context.Context, img *image.RGBA) (Output, error) {
	outs, err := w.call(ctx, taskSegment, w.cfg.SegmentationModel, img)
	if err != nil {
		return Output{}, err
	}
	if len(outs) != 1 {
		return Output{}, fmt.Errorf("segmentation returned %d outputs, want 1", len(outs))
	}
	return outs[0], nil
}

// EstimateLayout implements Backend.
func (w *Worker) EstimateLayout(ctx context.Context, img *image.RGBA) ([]Output, error) {
	return w.call(ctx, taskLayout, w.cfg.LayoutModel, img)
}

func (w *Worker) call(ctx context.Context, task, model string, img *image.RGBA) ([]Output, error) {
	if !w.isActive.Load() {
		return nil, ErrWorkerNotActive
	}
	w.requests.Add(1)
	start := time.Now()

	id := w.nextID.Add(1)
	ch := make(chan response, 1)
	w.mu.Lock()
	w.pending[id] = ch
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.pending, id)
		w.mu.Unlock()
	}()

	b := img.Bounds()
	req := request{
		ID:     id,
		Task:   task,
		Model:  model,
		Width:  b.Dx(),
		Height: b.Dy(),
		Pixels: img.Pix,
	}
	if err := w.send(ctx, req); err != nil {
		w.failures.Add(1)
		return nil, err
	}

	select {
	case resp := <-ch:
		w.totalLatencyMS.Add(uint64(time.Since(start).Milliseconds()))
		if resp.Error != "" {
			w.failures.Add(1)
			return nil, fmt.Errorf("inference %s failed: %s", task, resp.Error)
		}
		outs := make([]Output, 0, len(resp.Outputs))
		for _, wo := range resp.Outputs {
			o, err := wo.decode()
			if err != nil {
				w.failures.Add(1)
				return nil, err
			}
			outs = append(outs, o)
		}
		return outs, nil
	case <-ctx.Done():
		w.failures.Add(1)
		return nil, ctx.Err()
	case <-w.ctx.Done():
		w.failures.Add(1)
		return nil, ErrWorkerNotActive
	}
}

// send writes req to stdin with a timeout so a hung process cannot block the caller.
func (w *Worker) send(ctx context.Context, req request) error {
	writeErr := make(chan error, 1)
	go func() {
		w.writeMu.Lock()
		defer w.writeMu.Unlock()
		writeErr <- writeFrame(w.stdin, req)
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			return fmt.Errorf("failed to write to stdin: %w", err)
		}
		return nil
	case <-time.After(writeTimeout):
		return fmt.Errorf("stdin write timeout (inference worker may be hung)")
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ctx.Done():
		return fmt.Errorf("worker context cancelled during write")
	}
}

// readResults dispatches responses to their waiting callers.
func (w *Worker) readResults() {
	defer w.wg.Done()

	for {
		var resp response
		if err := readFrame(w.stdout, &resp); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				slog.Debug("inference worker stdout closed", "worker_id", w.cfg.WorkerID)
			} else {
				slog.Error("failed to read inference result",
					"worker_id", w.cfg.WorkerID,
					"error", err,
				)
			}
			w.isActive.Store(false)
			if w.cancel != nil {
				w.cancel()
			}
			return
		}
		w.lastSeenAt.Store(time.Now())

		w.mu.Lock()
		ch, ok := w.pending[resp.ID]
		w.mu.Unlock()
		if !ok {
			slog.Warn("dropping inference result with no waiting request",
				"worker_id", w.cfg.WorkerID,
				"request_id", resp.ID,
			)
			continue
		}
		ch <- resp
	}
}

// logStderr maps the worker's log levels onto slog.
func (w *Worker) logStderr(stderr io.Reader) {
	defer w.wg.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case containsAny(line, "[ERROR]", "[CRITICAL]"):
			slog.Error("inference worker error", "worker_id", w.cfg.WorkerID, "log", line)
		case containsAny(line, "[WARNING]", "[WARN]"):
			slog.Warn("inference worker warning", "worker_id", w.cfg.WorkerID, "log", line)
		default:
			slog.Debug("inference worker log", "worker_id", w.cfg.WorkerID, "log", line)
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Error("error reading stderr", "worker_id", w.cfg.WorkerID, "error", err)
	}
}

// waitProcess reaps the process so it never lingers as a zombie.
func (w *Worker) waitProcess() {
	defer w.wg.Done()

	err := w.cmd.Wait()
	w.isActive.Store(false)
	if err == nil {
		slog.Info("inference process exited cleanly", "worker_id", w.cfg.WorkerID)
		return
	}
	select {
	case <-w.ctx.Done():
		slog.Debug("inference process exited (shutdown)", "worker_id", w.cfg.WorkerID)
	default:
		slog.Error("inference process exited unexpectedly",
			"worker_id", w.cfg.WorkerID,
			"error", err,
		)
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Done is closed once the worker process is gone. Only valid after Start.
func (w *Worker) Done() <-chan struct{} { return w.ctx.Done() }

// Active reports whether the worker accepts requests.
func (w *Worker) Active() bool { return w.isActive.Load() }

// Metrics returns worker counters.
func (w *Worker) Metrics() Metrics {
	reqs := w.requests.Load()
	m := Metrics{
		Requests: reqs,
		Failures: w.failures.Load(),
		Active:   w.isActive.Load(),
	}
	if ok := reqs - m.Failures; ok > 0 {
		m.AvgLatencyMS = float64(w.totalLatencyMS.Load()) / float64(ok)
	}
	if v, ok := w.lastSeenAt.Load().(time.Time); ok {
		m.LastSeenAt = v.Format(time.RFC3339)
	}
	return m
}

// Stop closes stdin and waits for the process, killing it after a grace period.
func (w *Worker) Stop() error {
	if w.cancel == nil || w.stopped.Swap(true) {
		return nil
	}
	w.isActive.Store(false)
	slog.Info("stopping inference worker", "worker_id", w.cfg.WorkerID)

	if w.stdin != nil {
		w.stdin.Close()
	}
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("inference worker stopped cleanly", "worker_id", w.cfg.WorkerID)
	case <-time.After(stopTimeout):
		slog.Warn("inference worker stop timeout, force killing process", "worker_id", w.cfg.WorkerID)
		if w.cmd != nil && w.cmd.Process != nil {
			if err := w.cmd.Process.Kill(); err != nil {
				slog.Error("failed to kill inference process", "worker_id", w.cfg.WorkerID, "error", err)
			}
		}
	}
	return nil
}
