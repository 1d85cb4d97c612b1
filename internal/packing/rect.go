package packing

import "fmt"

// Rect is an axis-aligned pixel rectangle.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// MaxX is the exclusive right edge.
func (r Rect) MaxX() int { return r.X + r.W }

// MaxY is the exclusive bottom edge.
func (r Rect) MaxY() int { return r.Y + r.H }

// Intersects reports whether the rectangles share interior area.
func (r Rect) Intersects(o Rect) bool {
	return r.X < o.MaxX() && o.X < r.MaxX() && r.Y < o.MaxY() && o.Y < r.MaxY()
}

// Within reports whether r lies inside [lo, hi] on both axes.
func (r Rect) Within(lo, hi int) bool {
	return r.X >= lo && r.Y >= lo && r.MaxX() <= hi && r.MaxY() <= hi
}

// Contains reports whether o lies inside r.
func (r Rect) Contains(o Rect) bool {
	return o.X >= r.X && o.Y >= r.Y && o.MaxX() <= r.MaxX() && o.MaxY() <= r.MaxY()
}

func (r Rect) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.W, r.H, r.X, r.Y)
}
