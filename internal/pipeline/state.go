package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/Rikharthu/bath-wallpaper-preview/internal/types"
)

// Phase is the active stage of a run.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSegmenting
	PhaseEstimatingLayout
	PhaseSynthesizingTexture
	PhaseAssembling
	PhaseDone
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseIdle:                "idle",
	PhaseSegmenting:          "segmenting",
	PhaseEstimatingLayout:    "estimating_layout",
	PhaseSynthesizingTexture: "synthesizing_texture",
	PhaseAssembling:          "assembling",
	PhaseDone:                "done",
	PhaseFailed:              "failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// State is the tagged union of run states. Preview is set only in Done,
// Reason only in Failed.
type State struct {
	Phase   Phase
	Preview types.MediaFile
	Reason  string
}

// Idle is the initial state.
func Idle() State { return State{Phase: PhaseIdle} }

// Done is the successful terminal state.
func Done(preview types.MediaFile) State { return State{Phase: PhaseDone, Preview: preview} }

// Failed is the error terminal state.
func Failed(reason string) State { return State{Phase: PhaseFailed, Reason: reason} }

// Terminal reports whether the run has finished.
func (s State) Terminal() bool { return s.Phase == PhaseDone || s.Phase == PhaseFailed }

// Cancellable reports whether back/cancel is allowed. Mid-pipeline states are not.
func (s State) Cancellable() bool { return s.Phase == PhaseIdle || s.Terminal() }

func (s State) String() string {
	switch s.Phase {
	case PhaseDone:
		return fmt.Sprintf("done(%s)", s.Preview.ID)
	case PhaseFailed:
		return fmt.Sprintf("failed(%s)", s.Reason)
	}
	return s.Phase.String()
}

// canTransition encodes the state machine edges.
func canTransition(from, to Phase) bool {
	switch to {
	case PhaseFailed:
		return !from.terminal()
	case PhaseIdle:
		return from.terminal()
	case PhaseDone:
		return from == PhaseAssembling
	default:
		return to == from+1 && from < PhaseAssembling
	}
}

func (p Phase) terminal() bool { return p == PhaseDone || p == PhaseFailed }

type stateJSON struct {
	Phase   string           `json:"phase"`
	Preview *types.MediaFile `json:"preview,omitempty"`
	Reason  string           `json:"reason,omitempty"`
}

// MarshalJSON renders the state for API and event consumers.
func (s State) MarshalJSON() ([]byte, error) {
	out := stateJSON{Phase: s.Phase.String(), Reason: s.Reason}
	if s.Phase == PhaseDone {
		p := s.Preview
		out.Preview = &p
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the MarshalJSON form.
func (s *State) UnmarshalJSON(data []byte) error {
	var in stateJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	for i, name := range phaseNames {
		if name == in.Phase {
			*s = State{Phase: Phase(i), Reason: in.Reason}
			if in.Preview != nil {
				s.Preview = *in.Preview
			}
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", in.Phase)
}
