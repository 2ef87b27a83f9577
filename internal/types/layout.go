package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Capacity of the native layout record.
const (
	MaxEdges        = 8
	MaxWallPolygons = 3
)

var (
	// ErrInvalidRoomType is returned for room type ids outside 0..10.
	ErrInvalidRoomType = errors.New("types: invalid room type")
	// ErrLayoutCapacity is returned when a layout holds more edges or polygons than the native record can carry.
	ErrLayoutCapacity = errors.New("types: layout exceeds native capacity")
)

// Point is a pixel coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Line is an oriented edge segment.
type Line struct {
	Start Point `json:"start"`
	End   Point `json:"end"`
}

// Polygon is a quadrilateral wall region. Corner order is fixed.
type Polygon struct {
	TopLeft     Point `json:"topLeft"`
	TopRight    Point `json:"topRight"`
	BottomRight Point `json:"bottomRight"`
	BottomLeft  Point `json:"bottomLeft"`
}

// Corners returns the polygon corners in their fixed order.
func (p Polygon) Corners() [4]Point {
	return [4]Point{p.TopLeft, p.TopRight, p.BottomRight, p.BottomLeft}
}

// RoomType is one of the 11 layout classes.
type RoomType uint8

// RoomTypeCount is the number of layout classes.
const RoomTypeCount = 11

// Valid reports whether t is in 0..10.
func (t RoomType) Valid() bool {
	return t < RoomTypeCount
}

// ParseRoomType converts a raw class id, rejecting out of range values.
func ParseRoomType(v int) (RoomType, error) {
	if v < 0 || v >= RoomTypeCount {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRoomType, v)
	}
	return RoomType(v), nil
}

// RoomLayout is the decoded room geometry for one room photo.
type RoomLayout struct {
	RoomType     RoomType
	Edges        []Line
	WallPolygons []Polygon
}

// Validate checks the room type range and the native capacity.
func (l RoomLayout) Validate() error {
	if !l.RoomType.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidRoomType, l.RoomType)
	}
	if len(l.Edges) > MaxEdges {
		return fmt.Errorf("%w: %d edges (max %d)", ErrLayoutCapacity, len(l.Edges), MaxEdges)
	}
	if len(l.WallPolygons) > MaxWallPolygons {
		return fmt.Errorf("%w: %d wall polygons (max %d)", ErrLayoutCapacity, len(l.WallPolygons), MaxWallPolygons)
	}
	return nil
}

type roomLayoutJSON struct {
	RoomType     int       `json:"roomType"`
	Edges        []Line    `json:"edges"`
	WallPolygons []Polygon `json:"wallPolygons"`
}

// MarshalJSON always emits arrays, never null, so the encoding round-trips.
func (l RoomLayout) MarshalJSON() ([]byte, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	out := roomLayoutJSON{
		RoomType:     int(l.RoomType),
		Edges:        l.Edges,
		WallPolygons: l.WallPolygons,
	}
	if out.Edges == nil {
		out.Edges = []Line{}
	}
	if out.WallPolygons == nil {
		out.WallPolygons = []Polygon{}
	}
	return json.Marshal(out)
}

// UnmarshalJSON rejects out of range room types instead of clamping them.
func (l *RoomLayout) UnmarshalJSON(data []byte) error {
	var in roomLayoutJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	rt, err := ParseRoomType(in.RoomType)
	if err != nil {
		return err
	}
	decoded := RoomLayout{
		RoomType:     rt,
		Edges:        in.Edges,
		WallPolygons: in.WallPolygons,
	}
	if decoded.Edges == nil {
		decoded.Edges = []Line{}
	}
	if decoded.WallPolygons == nil {
		decoded.WallPolygons = []Polygon{}
	}
	if err := decoded.Validate(); err != nil {
		return err
	}
	*l = decoded
	return nil
}
