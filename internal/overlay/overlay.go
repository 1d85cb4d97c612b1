package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	"golang.org/x/image/vector"

	"partforge/internal/geometry"
	"partforge/internal/services/llm"
)

const flattenSteps = 24

// Style controls how candidates are drawn.
type Style struct {
	Fill   color.NRGBA
	Stroke color.NRGBA
	// StrokeWidth is in pixels.
	StrokeWidth float64
}

// DefaultStyle is a magenta fill with an opaque outline.
func DefaultStyle() Style {
	return Style{
		Fill:        color.NRGBA{R: 255, G: 0, B: 200, A: 96},
		Stroke:      color.NRGBA{R: 255, G: 0, B: 200, A: 255},
		StrokeWidth: 2,
	}
}

// Renderer draws candidates.
type Renderer struct {
	style Style
}

// New returns a renderer. A zero style falls back to DefaultStyle.
func New(style Style) *Renderer {
	if style == (Style{}) {
		style = DefaultStyle()
	}
	return &Renderer{style: style}
}

// Draw returns a copy of base with shape drawn over it. Shape coordinates are
// normalized to the base image.
func (r *Renderer) Draw(base image.Image, shape geometry.Primitive) *image.RGBA {
	b := base.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), base, b.Min, draw.Src)
	if shape == nil {
		return dst
	}
	w, h := float64(b.Dx()), float64(b.Dy())
	path := geometry.PathOf(shape).Map(func(p geometry.Point) geometry.Point {
		return geometry.Pt(p.X*w, p.Y*h)
	})

	fill := vector.NewRasterizer(b.Dx(), b.Dy())
	fill.DrawOp = draw.Over
	tracePath(fill, path)
	fill.Draw(dst, dst.Bounds(), image.NewUniform(r.style.Fill), image.Point{})

	if r.style.StrokeWidth > 0 {
		stroke := vector.NewRasterizer(b.Dx(), b.Dy())
		stroke.DrawOp = draw.Over
		for _, poly := range path.Flatten(flattenSteps) {
			for i := range poly {
				strokeSegment(stroke, poly[i], poly[(i+1)%len(poly)], r.style.StrokeWidth/2)
			}
		}
		stroke.Draw(dst, dst.Bounds(), image.NewUniform(r.style.Stroke), image.Point{})
	}
	return dst
}

// Composite draws shape over base and encodes the result for the reasoning
// service.
func (r *Renderer) Composite(base image.Image, shape geometry.Shape) (llm.Image, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, r.Draw(base, shape.Primitive)); err != nil {
		return llm.Image{}, fmt.Errorf("encode composite: %w", err)
	}
	return llm.Image{MIME: "image/png", Data: buf.Bytes()}, nil
}

func tracePath(z *vector.Rasterizer, path geometry.Path) {
	open := false
	for _, seg := range path {
		switch seg.Op {
		case geometry.OpMove:
			if open {
				z.ClosePath()
			}
			z.MoveTo(f32(seg.Pts[0]))
			open = true
		case geometry.OpLine:
			z.LineTo(f32(seg.Pts[0]))
		case geometry.OpQuad:
			bx, by := f32(seg.Pts[0])
			cx, cy := f32(seg.Pts[1])
			z.QuadTo(bx, by, cx, cy)
		case geometry.OpCubic:
			bx, by := f32(seg.Pts[0])
			cx, cy := f32(seg.Pts[1])
			dx, dy := f32(seg.Pts[2])
			z.CubeTo(bx, by, cx, cy, dx, dy)
		case geometry.OpClose:
			if open {
				z.ClosePath()
				open = false
			}
		}
	}
	if open {
		z.ClosePath()
	}
}

// strokeSegment adds a quad of the given half width around a->b. Every quad
// has the same winding so overlaps never cancel.
func strokeSegment(z *vector.Rasterizer, a, b geometry.Point, half float64) {
	d := b.Sub(a)
	length := math.Hypot(d.X, d.Y)
	if length == 0 {
		return
	}
	n := geometry.Pt(-d.Y/length*half, d.X/length*half)
	z.MoveTo(f32(a.Add(n)))
	z.LineTo(f32(b.Add(n)))
	z.LineTo(f32(b.Sub(n)))
	z.LineTo(f32(a.Sub(n)))
	z.ClosePath()
}

func f32(p geometry.Point) (float32, float32) {
	return float32(p.X), float32(p.Y)
}
