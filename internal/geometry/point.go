package geometry

import (
	"encoding/json"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Point is a normalized image coordinate. It encodes as a two element JSON
// array [x, y].
type Point struct {
	X float64
	Y float64
}

// Pt is shorthand for constructing a Point.
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

// Vec converts the point to a gonum vector.
func (p Point) Vec() r2.Vec {
	return r2.Vec{X: p.X, Y: p.Y}
}

func fromVec(v r2.Vec) Point {
	return Point{X: v.X, Y: v.Y}
}

// Add returns p+q.
func (p Point) Add(q Point) Point {
	return fromVec(r2.Add(p.Vec(), q.Vec()))
}

// Sub returns p-q.
func (p Point) Sub(q Point) Point {
	return fromVec(r2.Sub(p.Vec(), q.Vec()))
}

// Lerp interpolates between p and q.
func (p Point) Lerp(q Point, t float64) Point {
	return fromVec(r2.Add(p.Vec(), r2.Scale(t, r2.Sub(q.Vec(), p.Vec()))))
}

// Distance returns the euclidean distance between two points.
func Distance(a, b Point) float64 {
	return r2.Norm(r2.Sub(a.Vec(), b.Vec()))
}

// Clamp pins both coordinates into [0,1].
func (p Point) Clamp() Point {
	return Point{X: Clamp01(p.X), Y: Clamp01(p.Y)}
}

// InRange reports whether both coordinates already lie inside [0,1].
func (p Point) InRange() bool {
	return inUnit(p.X) && inUnit(p.Y)
}

// Finite reports whether neither coordinate is NaN or infinite.
func (p Point) Finite() bool {
	return finite(p.X) && finite(p.Y)
}

// MarshalJSON encodes the point as [x, y].
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

// UnmarshalJSON accepts [x, y] or {"x":..,"y":..}.
func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("point: expected 2 coordinates, got %d", len(pair))
		}
		p.X, p.Y = pair[0], pair[1]
		return nil
	}
	var obj struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("point: %w", err)
	}
	if obj.X == nil || obj.Y == nil {
		return fmt.Errorf("point: missing x or y")
	}
	p.X, p.Y = *obj.X, *obj.Y
	return nil
}

// Clamp01 pins v into [0,1]. NaN collapses to 0.
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
