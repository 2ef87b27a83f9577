package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotCancellable is returned when cancel is requested mid-pipeline.
	ErrNotCancellable = errors.New("pipeline: run cannot be cancelled while a stage is active")
	// ErrRunNotIdle is returned when executing a run that has already started.
	ErrRunNotIdle = errors.New("pipeline: run is not idle")
	// ErrInvalidTransition indicates a state machine bug.
	ErrInvalidTransition = errors.New("pipeline: invalid state transition")
)

// StageReport records how one stage completed.
type StageReport struct {
	Phase    Phase         `json:"-"`
	Stage    string        `json:"stage"`
	CacheHit bool          `json:"cache_hit"`
	Duration time.Duration `json:"duration_ns"`
}

// Event is emitted on every state change.
type Event struct {
	RunID       string    `json:"run_id"`
	RoomID      string    `json:"room_id"`
	WallpaperID string    `json:"wallpaper_id"`
	State       State     `json:"state"`
	Timestamp   time.Time `json:"timestamp"`
}

// Snapshot is a consistent copy of a run.
type Snapshot struct {
	RunID       string        `json:"run_id"`
	RoomID      string        `json:"room_id"`
	WallpaperID string        `json:"wallpaper_id"`
	State       State         `json:"state"`
	Stages      []StageReport `json:"stages"`
	StartedAt   time.Time     `json:"started_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Run owns the state of one preview generation for a room and wallpaper pair.
type Run struct {
	id          string
	roomID      string
	wallpaperID string
	notify      func(Event)

	mu        sync.Mutex
	state     State
	abandoned bool
	running   bool
	stages    []StageReport
	startedAt time.Time
	updatedAt time.Time
}

func newRun(roomID, wallpaperID string, notify func(Event)) *Run {
	now := time.Now()
	return &Run{
		id:          uuid.NewString(),
		roomID:      roomID,
		wallpaperID: wallpaperID,
		notify:      notify,
		state:       Idle(),
		startedAt:   now,
		updatedAt:   now,
	}
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// RoomID returns the room photo id.
func (r *Run) RoomID() string { return r.roomID }

// WallpaperID returns the wallpaper photo id.
func (r *Run) WallpaperID() string { return r.wallpaperID }

// State returns the current state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Snapshot returns a copy of the run.
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		RunID:       r.id,
		RoomID:      r.roomID,
		WallpaperID: r.wallpaperID,
		State:       r.state,
		Stages:      append([]StageReport(nil), r.stages...),
		StartedAt:   r.startedAt,
		UpdatedAt:   r.updatedAt,
	}
}

// Cancel abandons a run that has not started. It is a no-op on finished runs
// and fails with ErrNotCancellable while a stage is active.
func (r *Run) Cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.state.Cancellable() {
		return fmt.Errorf("%w (state %s)", ErrNotCancellable, r.state)
	}
	if r.state.Phase == PhaseIdle {
		r.abandoned = true
	}
	return nil
}

// Reset returns a finished run to Idle so it can be executed again.
func (r *Run) Reset() error {
	if err := r.transition(Idle()); err != nil {
		return err
	}
	r.mu.Lock()
	r.stages = nil
	r.abandoned = false
	r.mu.Unlock()
	return nil
}

func (r *Run) transition(next State) error {
	r.mu.Lock()
	if !canTransition(r.state.Phase, next.Phase) {
		from := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}
	r.state = next
	r.updatedAt = time.Now()
	ev := Event{
		RunID:       r.id,
		RoomID:      r.roomID,
		WallpaperID: r.wallpaperID,
		State:       next,
		Timestamp:   r.updatedAt,
	}
	r.mu.Unlock()

	if r.notify != nil {
		r.notify(ev)
	}
	return nil
}

func (r *Run) record(rep StageReport) {
	r.mu.Lock()
	r.stages = append(r.stages, rep)
	r.mu.Unlock()
}

func (r *Run) begin() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Phase != PhaseIdle || r.running {
		return fmt.Errorf("%w (state %s)", ErrRunNotIdle, r.state)
	}
	r.running = true
	r.startedAt = time.Now()
	return nil
}

func (r *Run) finish() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

func (r *Run) isAbandoned() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.abandoned
}
