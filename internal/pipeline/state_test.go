package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/Rikharthu/bath-wallpaper-preview/internal/types"
)

// TestTransitions verifies the allowed state machine edges.
func TestTransitions(t *testing.T) {
	allowed := [][2]Phase{
		{PhaseIdle, PhaseSegmenting},
		{PhaseSegmenting, PhaseEstimatingLayout},
		{PhaseEstimatingLayout, PhaseSynthesizingTexture},
		{PhaseSynthesizingTexture, PhaseAssembling},
		{PhaseAssembling, PhaseDone},
		{PhaseIdle, PhaseFailed},
		{PhaseSynthesizingTexture, PhaseFailed},
		{PhaseDone, PhaseIdle},
		{PhaseFailed, PhaseIdle},
	}
	for _, e := range allowed {
		if !canTransition(e[0], e[1]) {
			t.Errorf("Expected %s -> %s to be allowed", e[0], e[1])
		}
	}

	forbidden := [][2]Phase{
		{PhaseIdle, PhaseEstimatingLayout},
		{PhaseSegmenting, PhaseSynthesizingTexture},
		{PhaseSegmenting, PhaseDone},
		{PhaseDone, PhaseFailed},
		{PhaseFailed, PhaseDone},
		{PhaseAssembling, PhaseIdle},
		{PhaseAssembling, PhaseSegmenting},
	}
	for _, e := range forbidden {
		if canTransition(e[0], e[1]) {
			t.Errorf("Expected %s -> %s to be rejected", e[0], e[1])
		}
	}
}

// TestCancellable verifies only idle and terminal states allow cancel.
func TestCancellable(t *testing.T) {
	for p := PhaseIdle; p <= PhaseFailed; p++ {
		want := p == PhaseIdle || p == PhaseDone || p == PhaseFailed
		if got := (State{Phase: p}).Cancellable(); got != want {
			t.Errorf("%s: expected cancellable=%v, got %v", p, want, got)
		}
	}
}

// TestStateJSON verifies the tagged union encoding.
func TestStateJSON(t *testing.T) {
	done := Done(types.MediaFile{ID: "r_w", FilePath: "/tmp/r_w.png"})
	data, err := json.Marshal(done)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	want := `{"phase":"done","preview":{"id":"r_w","file_path":"/tmp/r_w.png"}}`
	if string(data) != want {
		t.Errorf("Expected %s, got %s", want, data)
	}

	var back State
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if back != done {
		t.Errorf("Expected %+v, got %+v", done, back)
	}

	data, _ = json.Marshal(Failed("timeout"))
	if string(data) != `{"phase":"failed","reason":"timeout"}` {
		t.Errorf("Unexpected failed encoding %s", data)
	}
}
