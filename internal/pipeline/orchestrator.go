// Package pipeline drives a preview run through segmentation, layout
// estimation, texture synthesis and assembly, consulting the artifact cache
// before every stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Rikharthu/bath-wallpaper-preview/internal/artifact"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/compositor"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/imaging"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/inference"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/layout"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/mask"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/synthesis"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/types"
)

// ErrTimeout is returned when an inference or native call exceeds its budget.
var ErrTimeout = errors.New("timeout")

// ReasonCancelled is the failure reason of a run abandoned before a stage.
const ReasonCancelled = "cancelled"

// PhotoSource loads source photos by id.
type PhotoSource interface {
	RoomPhoto(ctx context.Context, id string) (image.Image, error)
	WallpaperPhoto(ctx context.Context, id string) (image.Image, error)
}

// Timeouts bound the blocking calls of each stage. Zero disables a bound.
type Timeouts struct {
	Inference   time.Duration
	Synthesis   time.Duration
	Compositing time.Duration
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Backend    inference.Backend
	Photos     PhotoSource
	Cache      *artifact.Cache
	Renderer   *mask.Renderer
	Parser     *layout.Parser
	Synthesis  *synthesis.Adapter
	Compositor *compositor.Compositor
}

// Orchestrator runs the preview pipeline. Independent runs may execute
// concurrently; computations for the same cache key are collapsed so at most
// one is in flight.
type Orchestrator struct {
	deps     Deps
	timeouts Timeouts
	flights  singleflight.Group

	mu        sync.RWMutex
	observers []func(Event)
}

// New returns an Orchestrator.
func New(deps Deps, timeouts Timeouts) (*Orchestrator, error) {
	switch {
	case deps.Backend == nil:
		return nil, fmt.Errorf("pipeline: inference backend is required")
	case deps.Photos == nil:
		return nil, fmt.Errorf("pipeline: photo source is required")
	case deps.Cache == nil:
		return nil, fmt.Errorf("pipeline: artifact cache is required")
	case deps.Renderer == nil || deps.Parser == nil || deps.Synthesis == nil || deps.Compositor == nil:
		return nil, fmt.Errorf("pipeline: renderer, parser, synthesis and compositor are required")
	}
	return &Orchestrator{deps: deps, timeouts: timeouts}, nil
}

// Observe registers fn to receive every state change. fn must not block.
func (o *Orchestrator) Observe(fn func(Event)) {
	o.mu.Lock()
	o.observers = append(o.observers, fn)
	o.mu.Unlock()
}

func (o *Orchestrator) emit(ev Event) {
	o.mu.RLock()
	obs := o.observers
	o.mu.RUnlock()
	for _, fn := range obs {
		fn(ev)
	}
}

// NewRun creates an Idle run for a room and wallpaper pair.
func (o *Orchestrator) NewRun(roomID, wallpaperID string) *Run {
	return newRun(roomID, wallpaperID, o.emit)
}

// Generate creates and executes a run.
func (o *Orchestrator) Generate(ctx context.Context, roomID, wallpaperID string) (*Run, State) {
	run := o.NewRun(roomID, wallpaperID)
	state, err := o.Execute(ctx, run)
	if err != nil {
		slog.Error("pipeline run could not start", "run_id", run.ID(), "error", err)
	}
	return run, state
}

// scratch holds per-run intermediate values.
type scratch struct {
	room  image.Image
	mask  *image.Gray
	lay   types.RoomLayout
	tile  *image.RGBA
	final types.MediaFile
}

type stage struct {
	phase Phase
	exec  func(ctx context.Context, run *Run, sc *scratch) (hit bool, err error)
}

// Execute drives run from Idle to Done or Failed. ctx is checked only
// between stages; a stage that has started always finishes or times out.
// The returned error is set only when run was not Idle.
func (o *Orchestrator) Execute(ctx context.Context, run *Run) (State, error) {
	if err := run.begin(); err != nil {
		return run.State(), err
	}
	defer run.finish()

	if err := artifact.ValidateID(run.roomID); err != nil {
		return o.fail(run, fmt.Errorf("room id: %w", err)), nil
	}
	if err := artifact.ValidateID(run.wallpaperID); err != nil {
		return o.fail(run, fmt.Errorf("wallpaper id: %w", err)), nil
	}

	slog.Info("pipeline run started",
		"run_id", run.id,
		"room_id", run.roomID,
		"wallpaper_id", run.wallpaperID,
	)

	stages := []stage{
		{PhaseSegmenting, o.segment},
		{PhaseEstimatingLayout, o.estimateLayout},
		{PhaseSynthesizingTexture, o.synthesize},
		{PhaseAssembling, o.assemble},
	}

	sc := &scratch{}
	stageCtx := context.WithoutCancel(ctx)
	for _, st := range stages {
		if run.isAbandoned() {
			return o.fail(run, errors.New(ReasonCancelled)), nil
		}
		if err := ctx.Err(); err != nil {
			return o.fail(run, fmt.Errorf("%s: %w", ReasonCancelled, err)), nil
		}
		if err := run.transition(State{Phase: st.phase}); err != nil {
			return run.State(), err
		}

		start := time.Now()
		hit, err := st.exec(stageCtx, run, sc)
		rep := StageReport{Phase: st.phase, Stage: st.phase.String(), CacheHit: hit, Duration: time.Since(start)}
		run.record(rep)
		if err != nil {
			return o.fail(run, err), nil
		}
		slog.Debug("pipeline stage finished",
			"run_id", run.id,
			"stage", rep.Stage,
			"cache_hit", hit,
			"duration_ms", rep.Duration.Milliseconds(),
		)
	}

	done := Done(sc.final)
	if err := run.transition(done); err != nil {
		return run.State(), err
	}
	slog.Info("pipeline run done",
		"run_id", run.id,
		"preview_id", sc.final.ID,
	)
	return done, nil
}

func (o *Orchestrator) fail(run *Run, err error) State {
	reason := err.Error()
	if errors.Is(err, ErrTimeout) {
		reason = ErrTimeout.Error()
	}
	state := Failed(reason)
	if terr := run.transition(state); terr != nil {
		slog.Error("pipeline failed to record failure", "run_id", run.id, "error", terr)
	}
	slog.Warn("pipeline run failed",
		"run_id", run.id,
		"room_id", run.roomID,
		"wallpaper_id", run.wallpaperID,
		"error", err,
	)
	return state
}

// cached carries a stage result and whether it came from the artifact cache.
type cached[T any] struct {
	v   T
	hit bool
}

// flight runs fn at most once at a time per cache key and waits at most d
// for it. Native calls cannot be interrupted: a caller that times out leaves
// the key held until fn returns, so later callers join the running
// computation instead of starting a second one. A computation that finishes
// after its callers gave up still persists its result. Callers that join a
// flight see its cache hit flag.
func flight[T any](ctx context.Context, g *singleflight.Group, d time.Duration, kind types.ArtifactKind, id string, fn func(context.Context) (cached[T], error)) (cached[T], error) {
	ch := g.DoChan(string(kind)+"/"+id, func() (any, error) {
		fctx, cancel := ctx, context.CancelFunc(func() {})
		if d > 0 {
			fctx, cancel = context.WithTimeout(ctx, d)
		}
		defer cancel()
		return fn(fctx)
	})

	var expired <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case r := <-ch:
		if r.Err != nil {
			if errors.Is(r.Err, context.DeadlineExceeded) {
				return cached[T]{}, ErrTimeout
			}
			return cached[T]{}, r.Err
		}
		return r.Val.(cached[T]), nil
	case <-expired:
		slog.Warn("pipeline stage timed out, computation left running",
			"kind", kind,
			"id", id,
			"timeout", d,
		)
		return cached[T]{}, ErrTimeout
	}
}

func (o *Orchestrator) roomPhoto(ctx context.Context, run *Run, sc *scratch) (image.Image, error) {
	if sc.room != nil {
		return sc.room, nil
	}
	img, err := o.deps.Photos.RoomPhoto(ctx, run.roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load room photo: %w", err)
	}
	sc.room = img
	return img, nil
}

func (o *Orchestrator) segment(ctx context.Context, run *Run, sc *scratch) (bool, error) {
	c, err := flight(ctx, &o.flights, o.timeouts.Inference, types.KindRoomMask, run.roomID, func(ctx context.Context) (cached[*image.Gray], error) {
		m, ok, err := o.deps.Cache.LoadMask(run.roomID)
		if err != nil {
			return cached[*image.Gray]{}, fmt.Errorf("failed to read mask cache: %w", err)
		}
		if ok {
			return cached[*image.Gray]{v: m, hit: true}, nil
		}

		room, err := o.roomPhoto(ctx, run, sc)
		if err != nil {
			return cached[*image.Gray]{}, err
		}
		rgba, err := imaging.ToRGBA(room)
		if err != nil {
			return cached[*image.Gray]{}, err
		}
		out, err := o.deps.Backend.Segment(ctx, rgba)
		if err != nil {
			return cached[*image.Gray]{}, fmt.Errorf("segmentation failed: %w", err)
		}
		view, err := out.View()
		if err != nil {
			return cached[*image.Gray]{}, fmt.Errorf("segmentation output: %w", err)
		}
		m, err = o.deps.Renderer.Render(view)
		if err != nil {
			return cached[*image.Gray]{}, fmt.Errorf("failed to render mask: %w", err)
		}
		if _, err := o.deps.Cache.SaveMask(run.roomID, m); err != nil {
			return cached[*image.Gray]{}, fmt.Errorf("failed to cache mask: %w", err)
		}
		return cached[*image.Gray]{v: m}, nil
	})
	if err != nil {
		return false, err
	}
	sc.mask = c.v
	return c.hit, nil
}

func (o *Orchestrator) estimateLayout(ctx context.Context, run *Run, sc *scratch) (bool, error) {
	c, err := flight(ctx, &o.flights, o.timeouts.Inference, types.KindRoomLayout, run.roomID, func(ctx context.Context) (cached[types.RoomLayout], error) {
		l, ok, err := o.deps.Cache.LoadLayout(run.roomID)
		if err != nil {
			return cached[types.RoomLayout]{}, fmt.Errorf("failed to read layout cache: %w", err)
		}
		if ok {
			return cached[types.RoomLayout]{v: l, hit: true}, nil
		}

		room, err := o.roomPhoto(ctx, run, sc)
		if err != nil {
			return cached[types.RoomLayout]{}, err
		}
		rgba, err := imaging.ToRGBA(room)
		if err != nil {
			return cached[types.RoomLayout]{}, err
		}
		outs, err := o.deps.Backend.EstimateLayout(ctx, rgba)
		if err != nil {
			return cached[types.RoomLayout]{}, fmt.Errorf("layout estimation failed: %w", err)
		}
		l, err = o.deps.Parser.Parse(outs)
		if err != nil {
			return cached[types.RoomLayout]{}, fmt.Errorf("layout estimation failed: %w", err)
		}
		if _, err := o.deps.Cache.SaveLayout(run.roomID, l); err != nil {
			return cached[types.RoomLayout]{}, fmt.Errorf("failed to cache layout: %w", err)
		}
		return cached[types.RoomLayout]{v: l}, nil
	})
	if err != nil {
		return false, err
	}
	sc.lay = c.v
	return c.hit, nil
}

func (o *Orchestrator) synthesize(ctx context.Context, run *Run, sc *scratch) (bool, error) {
	c, err := flight(ctx, &o.flights, o.timeouts.Synthesis, types.KindWallpaperTile, run.wallpaperID, func(ctx context.Context) (cached[*image.RGBA], error) {
		t, ok, err := o.deps.Cache.LoadTile(run.wallpaperID)
		if err != nil {
			return cached[*image.RGBA]{}, fmt.Errorf("failed to read tile cache: %w", err)
		}
		if ok {
			return cached[*image.RGBA]{v: t, hit: true}, nil
		}

		src, err := o.deps.Photos.WallpaperPhoto(ctx, run.wallpaperID)
		if err != nil {
			return cached[*image.RGBA]{}, fmt.Errorf("failed to load wallpaper photo: %w", err)
		}
		t, err = o.deps.Synthesis.Synthesize(src)
		if err != nil {
			return cached[*image.RGBA]{}, err
		}
		if _, err := o.deps.Cache.SaveTile(run.wallpaperID, t); err != nil {
			return cached[*image.RGBA]{}, fmt.Errorf("failed to cache tile: %w", err)
		}
		return cached[*image.RGBA]{v: t}, nil
	})
	if err != nil {
		return false, err
	}
	sc.tile = c.v
	return c.hit, nil
}

func (o *Orchestrator) assemble(ctx context.Context, run *Run, sc *scratch) (bool, error) {
	previewID := types.PreviewID(run.roomID, run.wallpaperID)
	c, err := flight(ctx, &o.flights, o.timeouts.Compositing, types.KindPreview, previewID, func(ctx context.Context) (cached[types.MediaFile], error) {
		mf, ok, err := o.deps.Cache.LookupPreview(previewID)
		if err != nil {
			return cached[types.MediaFile]{}, fmt.Errorf("failed to read preview cache: %w", err)
		}
		if ok {
			return cached[types.MediaFile]{v: mf, hit: true}, nil
		}

		room, err := o.roomPhoto(ctx, run, sc)
		if err != nil {
			return cached[types.MediaFile]{}, err
		}
		preview, err := o.deps.Compositor.Compose(room, sc.mask, sc.tile, sc.lay)
		if err != nil {
			return cached[types.MediaFile]{}, err
		}
		mf, err = o.deps.Cache.SavePreview(previewID, preview)
		if err != nil {
			return cached[types.MediaFile]{}, fmt.Errorf("failed to cache preview: %w", err)
		}
		return cached[types.MediaFile]{v: mf}, nil
	})
	if err != nil {
		return false, err
	}
	sc.final = c.v
	return c.hit, nil
}
