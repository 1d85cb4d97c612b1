package segmentation

import (
	"errors"
	"image"
	"math"

	"partforge/internal/geometry"
)

// ErrNoContour reports a mask with no usable foreground region.
var ErrNoContour = errors.New("no usable contour")

// moore lists the 8-neighbourhood clockwise (y grows downward), starting west.
var moore = [8]image.Point{
	{-1, 0}, {-1, -1}, {0, -1}, {1, -1},
	{1, 0}, {1, 1}, {0, 1}, {-1, 1},
}

type region struct {
	label  int
	start  image.Point
	area   int
	edges  uint8
	bounds image.Rectangle
}

const (
	edgeLeft uint8 = 1 << iota
	edgeTop
	edgeRight
	edgeBottom
	allEdges = edgeLeft | edgeTop | edgeRight | edgeBottom
)

// Vectorize traces the largest foreground region of mask into a closed
// outline in normalized coordinates. Regions touching all four image edges
// are skipped. tolerance is the simplification tolerance in pixels.
func Vectorize(mask image.Image, tolerance float64) (geometry.Outline, error) {
	b := mask.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return geometry.Outline{}, ErrNoContour
	}
	fg := threshold(mask)
	labels, regions := label(fg, w, h)

	var best *region
	for i := range regions {
		r := &regions[i]
		if r.edges == allEdges || r.area < 3 {
			continue
		}
		if best == nil || r.area > best.area {
			best = r
		}
	}
	if best == nil {
		return geometry.Outline{}, ErrNoContour
	}

	contour := trace(labels, w, h, best.label, best.start)
	pts := make([]geometry.Point, len(contour))
	for i, p := range contour {
		pts[i] = geometry.Pt(float64(p.X), float64(p.Y))
	}
	pts = simplifyClosed(pts, tolerance)
	if len(pts) < 3 {
		return geometry.Outline{}, ErrNoContour
	}

	path := make(geometry.Path, 0, len(pts)+1)
	for i, p := range pts {
		n := geometry.Pt((p.X+0.5)/float64(w), (p.Y+0.5)/float64(h))
		if i == 0 {
			path = append(path, geometry.MoveTo(n))
			continue
		}
		path = append(path, geometry.LineTo(n))
	}
	path = append(path, geometry.Close())
	return geometry.Outline{Path: path}, nil
}

// threshold marks opaque, light pixels as foreground.
func threshold(mask image.Image) []bool {
	b := mask.Bounds()
	w, h := b.Dx(), b.Dy()
	fg := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, a := mask.At(b.Min.X+x, b.Min.Y+y).RGBA()
			if a < 0x8000 {
				continue
			}
			fg[y*w+x] = (r+g+bl)/3 >= 0x8000
		}
	}
	return fg
}

// label assigns 8-connected component labels (starting at 1) in raster order.
func label(fg []bool, w, h int) ([]int, []region) {
	labels := make([]int, w*h)
	var regions []region
	var stack []image.Point
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !fg[y*w+x] || labels[y*w+x] != 0 {
				continue
			}
			r := region{label: len(regions) + 1, start: image.Pt(x, y), bounds: image.Rect(x, y, x+1, y+1)}
			labels[y*w+x] = r.label
			stack = append(stack[:0], image.Pt(x, y))
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				r.area++
				r.bounds = r.bounds.Union(image.Rect(p.X, p.Y, p.X+1, p.Y+1))
				if p.X == 0 {
					r.edges |= edgeLeft
				}
				if p.Y == 0 {
					r.edges |= edgeTop
				}
				if p.X == w-1 {
					r.edges |= edgeRight
				}
				if p.Y == h-1 {
					r.edges |= edgeBottom
				}
				for _, d := range moore {
					q := p.Add(d)
					if q.X < 0 || q.Y < 0 || q.X >= w || q.Y >= h {
						continue
					}
					idx := q.Y*w + q.X
					if fg[idx] && labels[idx] == 0 {
						labels[idx] = r.label
						stack = append(stack, q)
					}
				}
			}
			regions = append(regions, r)
		}
	}
	return labels, regions
}

// trace walks the outer boundary of one region with Moore-neighbour tracing
// and Jacob's stopping criterion. start must be the region's first pixel in
// raster order so its west neighbour is background.
func trace(labels []int, w, h, id int, start image.Point) []image.Point {
	inside := func(p image.Point) bool {
		return p.X >= 0 && p.Y >= 0 && p.X < w && p.Y < h && labels[p.Y*w+p.X] == id
	}
	contour := []image.Point{start}
	cur := start
	back := start.Add(moore[0])
	startBack := back
	limit := 4*w*h + 8
	for range limit {
		bi := direction(back.Sub(cur))
		next, prev := cur, back
		found := false
		for k := 1; k <= 8; k++ {
			idx := (bi + k) % 8
			cand := cur.Add(moore[idx])
			if inside(cand) {
				next = cand
				prev = cur.Add(moore[(idx+7)%8])
				found = true
				break
			}
		}
		if !found {
			break
		}
		cur, back = next, prev
		if cur == start && back == startBack {
			break
		}
		contour = append(contour, cur)
	}
	return contour
}

func direction(d image.Point) int {
	for i, m := range moore {
		if m == d {
			return i
		}
	}
	return 0
}

// simplifyClosed applies Douglas-Peucker to a closed contour by splitting it at
// the point farthest from the first.
func simplifyClosed(pts []geometry.Point, tolerance float64) []geometry.Point {
	if len(pts) < 4 || tolerance <= 0 {
		return pts
	}
	far, farDist := 0, -1.0
	for i, p := range pts {
		if d := geometry.Distance(pts[0], p); d > farDist {
			far, farDist = i, d
		}
	}
	if far == 0 {
		return pts[:1]
	}
	closed := append(append([]geometry.Point(nil), pts...), pts[0])
	first := douglasPeucker(closed[:far+1], tolerance)
	second := douglasPeucker(closed[far:], tolerance)
	out := append(first[:len(first)-1], second...)
	return out[:len(out)-1]
}

func douglasPeucker(pts []geometry.Point, tolerance float64) []geometry.Point {
	if len(pts) < 3 {
		return append([]geometry.Point(nil), pts...)
	}
	keep := make([]bool, len(pts))
	keep[0], keep[len(pts)-1] = true, true
	type span struct{ lo, hi int }
	stack := []span{{0, len(pts) - 1}}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		idx, maxDist := -1, tolerance
		for i := s.lo + 1; i < s.hi; i++ {
			if d := segmentDistance(pts[i], pts[s.lo], pts[s.hi]); d > maxDist {
				idx, maxDist = i, d
			}
		}
		if idx < 0 {
			continue
		}
		keep[idx] = true
		stack = append(stack, span{s.lo, idx}, span{idx, s.hi})
	}
	out := make([]geometry.Point, 0, len(pts))
	for i, p := range pts {
		if keep[i] {
			out = append(out, p)
		}
	}
	return out
}

func segmentDistance(p, a, b geometry.Point) float64 {
	ab := b.Sub(a)
	lenSq := ab.X*ab.X + ab.Y*ab.Y
	if lenSq == 0 {
		return geometry.Distance(p, a)
	}
	t := ((p.X-a.X)*ab.X + (p.Y-a.Y)*ab.Y) / lenSq
	t = math.Max(0, math.Min(1, t))
	return geometry.Distance(p, a.Lerp(b, t))
}
