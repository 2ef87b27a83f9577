package native

import (
	"fmt"

	"github.com/Rikharthu/bath-wallpaper-preview/internal/types"
)

// Point mirrors the native LayoutPoint.
type Point struct {
	X, Y int32
}

// Line mirrors the native LayoutLine.
type Line struct {
	Start, End Point
}

// WallPolygon mirrors the native LayoutWallPolygon.
type WallPolygon struct {
	TopLeft, TopRight, BottomRight, BottomLeft Point
}

// LayoutRecord mirrors the native RoomLayoutData: fixed slots plus active counts.
type LayoutRecord struct {
	Lines           [types.MaxEdges]Line
	NumLines        uint8
	RoomType        uint8
	WallPolygons    [types.MaxWallPolygons]WallPolygon
	NumWallPolygons uint8
}

func toNativePoint(p types.Point) Point { return Point{X: int32(p.X), Y: int32(p.Y)} }

func fromNativePoint(p Point) types.Point { return types.Point{X: int(p.X), Y: int(p.Y)} }

func toNativeLine(l types.Line) Line {
	return Line{Start: toNativePoint(l.Start), End: toNativePoint(l.End)}
}

func fromNativeLine(l Line) types.Line {
	return types.Line{Start: fromNativePoint(l.Start), End: fromNativePoint(l.End)}
}

func toNativePolygon(p types.Polygon) WallPolygon {
	return WallPolygon{
		TopLeft:     toNativePoint(p.TopLeft),
		TopRight:    toNativePoint(p.TopRight),
		BottomRight: toNativePoint(p.BottomRight),
		BottomLeft:  toNativePoint(p.BottomLeft),
	}
}

func fromNativePolygon(p WallPolygon) types.Polygon {
	return types.Polygon{
		TopLeft:     fromNativePoint(p.TopLeft),
		TopRight:    fromNativePoint(p.TopRight),
		BottomRight: fromNativePoint(p.BottomRight),
		BottomLeft:  fromNativePoint(p.BottomLeft),
	}
}

// EncodeLayout packs a layout into its fixed-capacity record.
func EncodeLayout(l types.RoomLayout) (LayoutRecord, error) {
	var rec LayoutRecord
	if !l.RoomType.Valid() {
		return rec, fmt.Errorf("%w: %d", types.ErrInvalidRoomType, l.RoomType)
	}
	n, err := EncodeSlots(rec.Lines[:], l.Edges, toNativeLine)
	if err != nil {
		return LayoutRecord{}, fmt.Errorf("edges: %w", err)
	}
	rec.NumLines = uint8(n)

	n, err = EncodeSlots(rec.WallPolygons[:], l.WallPolygons, toNativePolygon)
	if err != nil {
		return LayoutRecord{}, fmt.Errorf("wall polygons: %w", err)
	}
	rec.NumWallPolygons = uint8(n)
	rec.RoomType = uint8(l.RoomType)
	return rec, nil
}

// DecodeLayout unpacks a record returned by the native layout routine.
func DecodeLayout(rec LayoutRecord) (types.RoomLayout, error) {
	rt, err := types.ParseRoomType(int(rec.RoomType))
	if err != nil {
		return types.RoomLayout{}, err
	}
	edges, err := DecodeSlots(rec.Lines[:], int(rec.NumLines), fromNativeLine)
	if err != nil {
		return types.RoomLayout{}, fmt.Errorf("edges: %w", err)
	}
	polys, err := DecodeSlots(rec.WallPolygons[:], int(rec.NumWallPolygons), fromNativePolygon)
	if err != nil {
		return types.RoomLayout{}, fmt.Errorf("wall polygons: %w", err)
	}
	return types.RoomLayout{RoomType: rt, Edges: edges, WallPolygons: polys}, nil
}
