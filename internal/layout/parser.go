// Package layout turns raw layout estimation outputs into a RoomLayout.
package layout

import (
	"errors"
	"fmt"

	"github.com/Rikharthu/bath-wallpaper-preview/internal/inference"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/native"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/tensor"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/types"
)

// ErrUnexpectedInferenceOutput means the model outputs do not match the
// expected contract, usually a model version mismatch.
var ErrUnexpectedInferenceOutput = errors.New("layout: unexpected inference output")

var expectedRank = map[string]int{
	inference.OutputEdges:       3,
	inference.OutputCorners:     3,
	inference.OutputCornersFlip: 3,
	inference.OutputType:        2,
}

// Parser decodes layout estimation outputs through the native routine.
type Parser struct {
	lib native.Library
}

// NewParser returns a Parser using lib for decoding.
func NewParser(lib native.Library) *Parser {
	return &Parser{lib: lib}
}

// Parse requires exactly the edges, corners, corners_flip and type arrays.
// It is a pure transform; persisting the result is up to the caller.
func (p *Parser) Parse(outputs []inference.Output) (types.RoomLayout, error) {
	views, err := collect(outputs)
	if err != nil {
		return types.RoomLayout{}, err
	}

	rec, err := p.lib.DecodeLayout(native.LayoutInputs{
		Edges:       views[inference.OutputEdges],
		Corners:     views[inference.OutputCorners],
		CornersFlip: views[inference.OutputCornersFlip],
		Type:        views[inference.OutputType],
	})
	if err != nil {
		return types.RoomLayout{}, fmt.Errorf("failed to decode layout: %w", err)
	}

	layout, err := native.DecodeLayout(rec)
	if err != nil {
		return types.RoomLayout{}, fmt.Errorf("failed to decode layout record: %w", err)
	}
	return layout, nil
}

func collect(outputs []inference.Output) (map[string]tensor.View, error) {
	if len(outputs) != len(expectedRank) {
		return nil, fmt.Errorf("%w: got %d arrays, want %d", ErrUnexpectedInferenceOutput, len(outputs), len(expectedRank))
	}

	views := make(map[string]tensor.View, len(outputs))
	for _, out := range outputs {
		rank, ok := expectedRank[out.Name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown array %q", ErrUnexpectedInferenceOutput, out.Name)
		}
		if _, dup := views[out.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate array %q", ErrUnexpectedInferenceOutput, out.Name)
		}
		if len(out.Shape) != rank {
			return nil, fmt.Errorf("%w: array %q has rank %d, want %d", ErrUnexpectedInferenceOutput, out.Name, len(out.Shape), rank)
		}
		v, err := out.View()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedInferenceOutput, err)
		}
		views[out.Name] = v
	}
	return views, nil
}
