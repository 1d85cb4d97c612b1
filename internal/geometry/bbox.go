package geometry

import (
	"encoding/json"
	"fmt"
	"math"
)

// BBox is an axis-aligned box in normalized space. It encodes as
// [minX, minY, maxX, maxY].
type BBox struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// Box constructs a BBox from its four edges.
func Box(minX, minY, maxX, maxY float64) BBox {
	return BBox{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}

// WellFormed reports min < max on both axes with finite edges.
func (b BBox) WellFormed() bool {
	if !finite(b.MinX) || !finite(b.MinY) || !finite(b.MaxX) || !finite(b.MaxY) {
		return false
	}
	return b.MinX < b.MaxX && b.MinY < b.MaxY
}

// InRange reports whether every edge lies inside [0,1].
func (b BBox) InRange() bool {
	return inUnit(b.MinX) && inUnit(b.MinY) && inUnit(b.MaxX) && inUnit(b.MaxY)
}

// Clamp pins every edge into [0,1]. It does not reorder edges, so an
// inverted box stays inverted and is still reported by WellFormed.
func (b BBox) Clamp() BBox {
	return BBox{
		MinX: Clamp01(b.MinX),
		MinY: Clamp01(b.MinY),
		MaxX: Clamp01(b.MaxX),
		MaxY: Clamp01(b.MaxY),
	}
}

// Canon orders the edges so min <= max on both axes.
func (b BBox) Canon() BBox {
	if b.MinX > b.MaxX {
		b.MinX, b.MaxX = b.MaxX, b.MinX
	}
	if b.MinY > b.MaxY {
		b.MinY, b.MaxY = b.MaxY, b.MinY
	}
	return b
}

// Width returns MaxX-MinX.
func (b BBox) Width() float64 { return b.MaxX - b.MinX }

// Height returns MaxY-MinY.
func (b BBox) Height() float64 { return b.MaxY - b.MinY }

// Center returns the midpoint of the box.
func (b BBox) Center() Point {
	return Point{X: (b.MinX + b.MaxX) / 2, Y: (b.MinY + b.MaxY) / 2}
}

// Diagonal returns the length of the box diagonal.
func (b BBox) Diagonal() float64 {
	return math.Hypot(b.Width(), b.Height())
}

// Contains reports whether p lies inside the box, edges included.
func (b BBox) Contains(p Point) bool {
	return p.X >= b.MinX && p.X <= b.MaxX && p.Y >= b.MinY && p.Y <= b.MaxY
}

// ClampPoint returns the point of the box closest to p.
func (b BBox) ClampPoint(p Point) Point {
	return Point{
		X: math.Min(math.Max(p.X, b.MinX), b.MaxX),
		Y: math.Min(math.Max(p.Y, b.MinY), b.MaxY),
	}
}

// Union returns the smallest box covering both boxes.
func (b BBox) Union(o BBox) BBox {
	return BBox{
		MinX: math.Min(b.MinX, o.MinX),
		MinY: math.Min(b.MinY, o.MinY),
		MaxX: math.Max(b.MaxX, o.MaxX),
		MaxY: math.Max(b.MaxY, o.MaxY),
	}
}

// Grow expands a degenerate axis around its midpoint so it spans at least
// min. Well-formed axes are returned unchanged.
func (b BBox) Grow(min float64) BBox {
	if b.Width() < min {
		mid := (b.MinX + b.MaxX) / 2
		b.MinX, b.MaxX = mid-min/2, mid+min/2
	}
	if b.Height() < min {
		mid := (b.MinY + b.MaxY) / 2
		b.MinY, b.MaxY = mid-min/2, mid+min/2
	}
	return b
}

// BoundsOf returns the tight box around the given points.
func BoundsOf(points []Point) BBox {
	if len(points) == 0 {
		return BBox{}
	}
	out := BBox{MinX: points[0].X, MinY: points[0].Y, MaxX: points[0].X, MaxY: points[0].Y}
	for _, p := range points[1:] {
		out.MinX = math.Min(out.MinX, p.X)
		out.MinY = math.Min(out.MinY, p.Y)
		out.MaxX = math.Max(out.MaxX, p.X)
		out.MaxY = math.Max(out.MaxY, p.Y)
	}
	return out
}

// MarshalJSON encodes the box as [minX, minY, maxX, maxY].
func (b BBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{b.MinX, b.MinY, b.MaxX, b.MaxY})
}

// UnmarshalJSON accepts the four element array form or an object with
// min_x/min_y/max_x/max_y keys.
func (b *BBox) UnmarshalJSON(data []byte) error {
	var edges []float64
	if err := json.Unmarshal(data, &edges); err == nil {
		if len(edges) != 4 {
			return fmt.Errorf("bbox: expected 4 values, got %d", len(edges))
		}
		*b = BBox{MinX: edges[0], MinY: edges[1], MaxX: edges[2], MaxY: edges[3]}
		return nil
	}
	var obj struct {
		MinX *float64 `json:"min_x"`
		MinY *float64 `json:"min_y"`
		MaxX *float64 `json:"max_x"`
		MaxY *float64 `json:"max_y"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("bbox: %w", err)
	}
	if obj.MinX == nil || obj.MinY == nil || obj.MaxX == nil || obj.MaxY == nil {
		return fmt.Errorf("bbox: missing edge")
	}
	*b = BBox{MinX: *obj.MinX, MinY: *obj.MinY, MaxX: *obj.MaxX, MaxY: *obj.MaxY}
	return nil
}

// String renders the box for logs.
func (b BBox) String() string {
	return fmt.Sprintf("[%.3f %.3f %.3f %.3f]", b.MinX, b.MinY, b.MaxX, b.MaxY)
}
