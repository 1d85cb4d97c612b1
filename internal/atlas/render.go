package atlas

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Render draws a reference atlas: each part's source region scaled into its
// atlas rectangle over a transparent canvas. Overflowing parts are skipped.
func (a Atlas) Render(src image.Image) *image.RGBA {
	size := a.Layout.CanvasSize
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)
	origin := src.Bounds().Min
	for _, p := range a.Parts {
		if p.Overflow {
			continue
		}
		from := image.Rect(p.SourceRect.X, p.SourceRect.Y, p.SourceRect.MaxX(), p.SourceRect.MaxY()).Add(origin)
		to := image.Rect(p.AtlasRect.X, p.AtlasRect.Y, p.AtlasRect.MaxX(), p.AtlasRect.MaxY())
		draw.CatmullRom.Scale(dst, to, src, from.Intersect(src.Bounds()), draw.Over, nil)
	}
	return dst
}
