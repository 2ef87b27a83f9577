// Package core wires the preview service together and owns its lifecycle.
package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/Rikharthu/bath-wallpaper-preview/internal/api"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/artifact"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/compositor"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/config"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/control"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/emitter"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/eventbus"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/inference"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/layout"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/library"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/mask"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/native"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/pipeline"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/synthesis"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/types"
)

// Service is the wallpaper preview daemon
type Service struct {
	cfg *config.Config

	db      *sql.DB
	native  native.Library
	cache   *artifact.Cache
	library *library.Library
	backend inference.Backend
	worker  *inference.Supervisor // nil when backend is injected
	orch    *pipeline.Orchestrator
	bus     *eventbus.Bus

	runs           *pipeline.Registry
	server         *api.Server
	emitter        *emitter.MQTTEmitter
	controlHandler *control.Handler

	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	cancelRun context.CancelFunc
}

// Option customises a Service.
type Option func(*Service)

// WithBackend replaces the inference worker process.
func WithBackend(b inference.Backend) Option {
	return func(s *Service) { s.backend = b }
}

// NewService loads the configuration at configPath and builds the service.
func NewService(configPath string, opts ...Option) (*Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return New(cfg, opts...)
}

// New builds the service from a validated configuration.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	slog.Info("configuration loaded",
		"instance_id", cfg.InstanceID,
		"storage_root", cfg.Storage.Root,
		"native_backend", cfg.Native.Backend,
		"mqtt_enabled", cfg.MQTT.Enabled(),
	)

	s := &Service{cfg: cfg, bus: eventbus.New()}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initialize(); err != nil {
		s.closeStorage()
		return nil, err
	}
	return s, nil
}

func (s *Service) initialize() error {
	lib, err := openNative(s.cfg)
	if err != nil {
		return err
	}
	s.native = lib

	store, err := artifact.NewFileStore(filepath.Join(s.cfg.Storage.Root, "artifacts"))
	if err != nil {
		return fmt.Errorf("failed to open artifact store: %w", err)
	}
	s.cache = artifact.NewCache(store)

	db, err := library.OpenSQLite(s.cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	s.db = db
	s.library = library.New(db, s.cfg.Storage.Root, s.cache)
	if err := s.library.Init(context.Background()); err != nil {
		return fmt.Errorf("failed to init catalog: %w", err)
	}

	if s.backend == nil {
		w, err := inference.NewSupervisor(inference.WorkerConfig{
			WorkerID:          s.cfg.InstanceID + "-inference",
			Command:           s.cfg.Inference.Command,
			Args:              s.cfg.Inference.Args,
			SegmentationModel: s.cfg.Inference.SegmentationModel,
			LayoutModel:       s.cfg.Inference.LayoutModel,
		}, inference.RestartPolicy{
			MaxRetries:    s.cfg.Inference.MaxRestarts,
			RetryDelay:    s.cfg.InferenceRestartDelay(),
			MaxRetryDelay: 30 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("failed to create inference worker: %w", err)
		}
		s.worker = w
		s.backend = w
	}

	renderer, err := mask.NewRenderer(s.cfg.Threshold())
	if err != nil {
		return err
	}
	synth, err := synthesis.NewAdapter(s.native, s.cfg.Synthesis.TileSize, s.cfg.Synthesis.MaxInputSide)
	if err != nil {
		return err
	}

	s.orch, err = pipeline.New(pipeline.Deps{
		Backend:    s.backend,
		Photos:     s.library,
		Cache:      s.cache,
		Renderer:   renderer,
		Parser:     layout.NewParser(s.native),
		Synthesis:  synth,
		Compositor: compositor.New(s.native),
	}, pipeline.Timeouts{
		Inference:   s.cfg.InferenceTimeout(),
		Synthesis:   s.cfg.SynthesisTimeout(),
		Compositing: s.cfg.CompositingTimeout(),
	})
	if err != nil {
		return err
	}
	s.orch.Observe(s.bus.Publish)

	if s.cfg.MQTT.Enabled() {
		s.emitter = emitter.NewMQTTEmitter(s.cfg.MQTT)
	}
	return nil
}

// Run starts the service and blocks until ctx is cancelled or the HTTP
// server fails.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	s.isRunning = true
	s.started = time.Now()
	ctx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel
	s.mu.Unlock()
	defer cancel()

	slog.Info("preview service starting", "instance_id", s.cfg.InstanceID)

	if s.worker != nil {
		if err := s.worker.Start(ctx); err != nil {
			return fmt.Errorf("failed to start inference worker: %w", err)
		}
	}

	s.runs = pipeline.NewRegistry(ctx, s.orch, s.cfg.Pipeline.MaxConcurrentRuns)

	if s.emitter != nil {
		if err := s.startMQTT(ctx); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.server = api.New(s.cfg.Server, api.Deps{
		Library: s.library,
		Cache:   s.cache,
		Runs:    s.runs,
		Health:  s.readiness,
	})
	s.mu.Unlock()

	errChan := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
		if err := s.server.Listen(addr); err != nil {
			errChan <- fmt.Errorf("http server failed: %w", err)
		}
	}()

	slog.Info("preview service running",
		"port", s.cfg.Server.Port,
		"max_concurrent_runs", s.cfg.Pipeline.MaxConcurrentRuns,
	)

	select {
	case <-ctx.Done():
		slog.Info("preview service run loop exiting")
		return nil
	case err := <-errChan:
		return err
	}
}

func (s *Service) startMQTT(ctx context.Context) error {
	if err := s.emitter.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect mqtt: %w", err)
	}

	events := make(chan pipeline.Event, 64)
	if err := s.bus.Subscribe("mqtt-emitter", events); err != nil {
		return fmt.Errorf("failed to subscribe emitter: %w", err)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.emitter.Run(ctx, events)
	}()

	s.controlHandler = control.NewHandler(s.cfg.MQTT, s.emitter.Client, control.CommandCallbacks{
		OnGetStatus:       s.getStatus,
		OnGeneratePreview: s.generatePreview,
		OnInvalidate:      s.invalidate,
	})
	if err := s.controlHandler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start control plane: %w", err)
	}
	return nil
}

// Shutdown stops accepting work, waits for active runs within ctx and
// releases every resource.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		s.closeStorage()
		return nil
	}
	server, cancel := s.server, s.cancelRun
	s.mu.Unlock()

	slog.Info("shutting down preview service")

	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("failed to stop http server", "error", err)
		}
	}
	if s.controlHandler != nil {
		if err := s.controlHandler.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}

	if s.runs != nil {
		if err := s.runs.Wait(ctx); err != nil {
			slog.Warn("active runs did not finish before shutdown deadline",
				"active_runs", s.runs.Active(),
				"error", err)
		}
	}
	if cancel != nil {
		cancel()
	}

	s.bus.Close()
	slog.Info("waiting for goroutines to finish")
	s.wg.Wait()

	if s.worker != nil {
		if err := s.worker.Stop(); err != nil {
			slog.Error("failed to stop inference worker", "error", err)
		}
	}
	if s.emitter != nil {
		s.emitter.Disconnect()
	}
	s.closeStorage()

	s.mu.Lock()
	uptime := time.Since(s.started)
	s.isRunning = false
	s.mu.Unlock()

	slog.Info("preview service shutdown complete", "uptime", uptime)
	return nil
}

func (s *Service) closeStorage() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Error("failed to close catalog", "error", err)
		}
		s.db = nil
	}
}

// ShutdownTimeout returns the configured graceful shutdown budget.
func (s *Service) ShutdownTimeout() time.Duration { return s.cfg.ShutdownTimeout() }

// Runs returns the run registry. It is nil until Run has started.
func (s *Service) Runs() *pipeline.Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runs
}

func (s *Service) generatePreview(roomID, wallpaperID string) (string, error) {
	runs := s.Runs()
	if runs == nil {
		return "", errors.New("service is not running")
	}
	ctx := context.Background()
	if _, err := s.library.Get(ctx, types.PhotoRoom, roomID); err != nil {
		return "", err
	}
	if _, err := s.library.Get(ctx, types.PhotoWallpaper, wallpaperID); err != nil {
		return "", err
	}
	return runs.Submit(roomID, wallpaperID).ID(), nil
}

func (s *Service) invalidate(kind, id string) error {
	k, err := types.ParseArtifactKind(kind)
	if err != nil {
		return err
	}
	return s.cache.InvalidateDerived(k, id)
}
