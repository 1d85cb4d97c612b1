package geometry

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Kind names a primitive variant.
type Kind string

const (
	KindCircle  Kind = "circle"
	KindRect    Kind = "rect"
	KindEllipse Kind = "ellipse"
	KindOutline Kind = "outline"
)

// curveSteps controls outline flattening for bounds and hit tests.
const curveSteps = 16

// Primitive is the closed set of part shapes. Only the types in this
// package implement it.
type Primitive interface {
	Kind() Kind
	// Bounds returns the tight box around the shape.
	Bounds() BBox
	// Clamp pins every coordinate into [0,1].
	Clamp() Primitive
	// Contains reports whether p lies inside the shape.
	Contains(p Point) bool
	// Transform maps the shape through p' = p*scale + offset per axis.
	Transform(sx, sy, dx, dy float64) Primitive
	// Valid reports structural problems such as negative radii.
	Valid() error

	sealed()
}

// Circle is centered at Center with an isotropic Radius.
type Circle struct {
	Center Point
	Radius float64
}

func (Circle) Kind() Kind { return KindCircle }
func (Circle) sealed()    {}

func (c Circle) Bounds() BBox {
	return Box(c.Center.X-c.Radius, c.Center.Y-c.Radius, c.Center.X+c.Radius, c.Center.Y+c.Radius)
}

func (c Circle) Clamp() Primitive {
	return Circle{Center: c.Center.Clamp(), Radius: Clamp01(c.Radius)}
}

func (c Circle) Contains(p Point) bool {
	return Distance(c.Center, p) <= c.Radius
}

// Transform keeps a circle when the scale is uniform and degrades to an
// ellipse otherwise.
func (c Circle) Transform(sx, sy, dx, dy float64) Primitive {
	center := Point{X: c.Center.X*sx + dx, Y: c.Center.Y*sy + dy}
	if sx == sy {
		return Circle{Center: center, Radius: c.Radius * math.Abs(sx)}
	}
	return Ellipse{Center: center, Radii: Point{X: c.Radius * math.Abs(sx), Y: c.Radius * math.Abs(sy)}}
}

func (c Circle) Valid() error {
	if !c.Center.Finite() || !finite(c.Radius) {
		return fmt.Errorf("circle: non-finite value")
	}
	if c.Radius <= 0 {
		return fmt.Errorf("circle: radius must be positive")
	}
	return nil
}

// Rect is an axis-aligned rectangle with optional rounded corners.
type Rect struct {
	Origin       Point
	Size         Point
	CornerRadius float64
}

func (Rect) Kind() Kind { return KindRect }
func (Rect) sealed()    {}

func (r Rect) Bounds() BBox {
	return Box(r.Origin.X, r.Origin.Y, r.Origin.X+r.Size.X, r.Origin.Y+r.Size.Y)
}

// Clamp clips the rectangle to the unit square. Both corners are clamped, so
// an overhang on any edge is trimmed rather than shifted inward.
func (r Rect) Clamp() Primitive {
	box := r.Bounds().Canon().Clamp()
	w, h := box.Width(), box.Height()
	corner := math.Min(Clamp01(r.CornerRadius), math.Min(w, h)/2)
	return Rect{Origin: Point{X: box.MinX, Y: box.MinY}, Size: Point{X: w, Y: h}, CornerRadius: corner}
}

func (r Rect) Contains(p Point) bool {
	b := r.Bounds()
	if !b.Contains(p) {
		return false
	}
	cr := math.Min(r.CornerRadius, math.Min(r.Size.X, r.Size.Y)/2)
	if cr <= 0 {
		return true
	}
	// Only the four corner squares need the rounded test.
	cx := math.Min(math.Max(p.X, b.MinX+cr), b.MaxX-cr)
	cy := math.Min(math.Max(p.Y, b.MinY+cr), b.MaxY-cr)
	return Distance(Point{X: cx, Y: cy}, p) <= cr
}

func (r Rect) Transform(sx, sy, dx, dy float64) Primitive {
	a := Point{X: r.Origin.X*sx + dx, Y: r.Origin.Y*sy + dy}
	b := Point{X: (r.Origin.X+r.Size.X)*sx + dx, Y: (r.Origin.Y+r.Size.Y)*sy + dy}
	box := Box(a.X, a.Y, b.X, b.Y).Canon()
	return Rect{
		Origin:       Point{X: box.MinX, Y: box.MinY},
		Size:         Point{X: box.Width(), Y: box.Height()},
		CornerRadius: r.CornerRadius * math.Min(math.Abs(sx), math.Abs(sy)),
	}
}

func (r Rect) Valid() error {
	if !r.Origin.Finite() || !r.Size.Finite() || !finite(r.CornerRadius) {
		return fmt.Errorf("rect: non-finite value")
	}
	if r.Size.X <= 0 || r.Size.Y <= 0 {
		return fmt.Errorf("rect: size must be positive")
	}
	if r.CornerRadius < 0 {
		return fmt.Errorf("rect: corner radius must not be negative")
	}
	return nil
}

// Ellipse is axis-aligned with per-axis radii.
type Ellipse struct {
	Center Point
	Radii  Point
}

func (Ellipse) Kind() Kind { return KindEllipse }
func (Ellipse) sealed()    {}

func (e Ellipse) Bounds() BBox {
	return Box(e.Center.X-e.Radii.X, e.Center.Y-e.Radii.Y, e.Center.X+e.Radii.X, e.Center.Y+e.Radii.Y)
}

func (e Ellipse) Clamp() Primitive {
	return Ellipse{Center: e.Center.Clamp(), Radii: e.Radii.Clamp()}
}

func (e Ellipse) Contains(p Point) bool {
	if e.Radii.X <= 0 || e.Radii.Y <= 0 {
		return false
	}
	nx := (p.X - e.Center.X) / e.Radii.X
	ny := (p.Y - e.Center.Y) / e.Radii.Y
	return nx*nx+ny*ny <= 1
}

func (e Ellipse) Transform(sx, sy, dx, dy float64) Primitive {
	return Ellipse{
		Center: Point{X: e.Center.X*sx + dx, Y: e.Center.Y*sy + dy},
		Radii:  Point{X: e.Radii.X * math.Abs(sx), Y: e.Radii.Y * math.Abs(sy)},
	}
}

func (e Ellipse) Valid() error {
	if !e.Center.Finite() || !e.Radii.Finite() {
		return fmt.Errorf("ellipse: non-finite value")
	}
	if e.Radii.X <= 0 || e.Radii.Y <= 0 {
		return fmt.Errorf("ellipse: radii must be positive")
	}
	return nil
}

// Outline is a freeform closed contour made of typed segments.
type Outline struct {
	Path Path
}

func (Outline) Kind() Kind { return KindOutline }
func (Outline) sealed()    {}

// Bounds uses the flattened contour so curve control points that sit
// outside the drawn shape do not inflate the box.
func (o Outline) Bounds() BBox {
	var pts []Point
	for _, poly := range o.Path.Flatten(curveSteps) {
		pts = append(pts, poly...)
	}
	if len(pts) == 0 {
		pts = o.Path.Points()
	}
	return BoundsOf(pts)
}

func (o Outline) Clamp() Primitive {
	return Outline{Path: o.Path.Map(Point.Clamp)}
}

// Contains uses the even-odd rule over the flattened contour.
func (o Outline) Contains(p Point) bool {
	inside := false
	for _, poly := range o.Path.Flatten(curveSteps) {
		if polygonContains(poly, p) {
			inside = !inside
		}
	}
	return inside
}

func (o Outline) Transform(sx, sy, dx, dy float64) Primitive {
	return Outline{Path: o.Path.Map(func(p Point) Point {
		return Point{X: p.X*sx + dx, Y: p.Y*sy + dy}
	})}
}

func (o Outline) Valid() error {
	if err := o.Path.Validate(); err != nil {
		return err
	}
	if len(o.Path.Flatten(curveSteps)) == 0 {
		return fmt.Errorf("outline: no closed area")
	}
	return nil
}

func polygonContains(poly []Point, p Point) bool {
	inside := false
	j := len(poly) - 1
	for i := range poly {
		a, b := poly[i], poly[j]
		if (a.Y > p.Y) != (b.Y > p.Y) {
			x := a.X + (p.Y-a.Y)*(b.X-a.X)/(b.Y-a.Y)
			if p.X < x {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// Shape wraps a Primitive with a tagged JSON encoding:
//
//	{"type":"circle","center":[x,y],"radius":r}
//	{"type":"rect","origin":[x,y],"size":[w,h],"corner_radius":c}
//	{"type":"ellipse","center":[x,y],"radii":[rx,ry]}
//	{"type":"outline","path":"M ... Z"}
type Shape struct {
	Primitive
}

// Of wraps a primitive.
func Of(p Primitive) Shape {
	return Shape{Primitive: p}
}

// IsZero reports whether no primitive is set.
func (s Shape) IsZero() bool {
	return s.Primitive == nil
}

type shapeWire struct {
	Type         string   `json:"type"`
	Center       *Point   `json:"center,omitempty"`
	Radius       *float64 `json:"radius,omitempty"`
	Origin       *Point   `json:"origin,omitempty"`
	Size         *Point   `json:"size,omitempty"`
	CornerRadius *float64 `json:"corner_radius,omitempty"`
	Radii        *Point   `json:"radii,omitempty"`
	Path         string   `json:"path,omitempty"`
}

// MarshalJSON encodes the tagged form. A zero Shape encodes as null.
func (s Shape) MarshalJSON() ([]byte, error) {
	if s.Primitive == nil {
		return []byte("null"), nil
	}
	var w shapeWire
	switch v := s.Primitive.(type) {
	case Circle:
		w = shapeWire{Type: string(KindCircle), Center: &v.Center, Radius: &v.Radius}
	case Rect:
		w = shapeWire{Type: string(KindRect), Origin: &v.Origin, Size: &v.Size}
		if v.CornerRadius > 0 {
			w.CornerRadius = &v.CornerRadius
		}
	case Ellipse:
		w = shapeWire{Type: string(KindEllipse), Center: &v.Center, Radii: &v.Radii}
	case Outline:
		w = shapeWire{Type: string(KindOutline), Path: v.Path.String()}
	default:
		return nil, fmt.Errorf("shape: unsupported primitive %T", s.Primitive)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the tagged form.
func (s *Shape) UnmarshalJSON(data []byte) error {
	if strings.TrimSpace(string(data)) == "null" {
		s.Primitive = nil
		return nil
	}
	var w shapeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("shape: %w", err)
	}
	prim, err := w.primitive()
	if err != nil {
		return err
	}
	s.Primitive = prim
	return nil
}

func (w shapeWire) primitive() (Primitive, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(w.Type))) {
	case KindCircle:
		if w.Center == nil || w.Radius == nil {
			return nil, fmt.Errorf("shape: circle requires center and radius")
		}
		return Circle{Center: *w.Center, Radius: *w.Radius}, nil
	case KindRect:
		if w.Origin == nil || w.Size == nil {
			return nil, fmt.Errorf("shape: rect requires origin and size")
		}
		r := Rect{Origin: *w.Origin, Size: *w.Size}
		if w.CornerRadius != nil {
			r.CornerRadius = *w.CornerRadius
		}
		return r, nil
	case KindEllipse:
		if w.Center == nil || w.Radii == nil {
			return nil, fmt.Errorf("shape: ellipse requires center and radii")
		}
		return Ellipse{Center: *w.Center, Radii: *w.Radii}, nil
	case KindOutline:
		path, err := ParsePath(w.Path)
		if err != nil {
			return nil, fmt.Errorf("shape: %w", err)
		}
		return Outline{Path: path}, nil
	default:
		return nil, fmt.Errorf("shape: unknown type %q", w.Type)
	}
}
