package packing

import "math"

// packGrid splits the canvas into ceil(sqrt(n)) columns and as many rows as
// needed, then centres each item in its cell at the largest scale (at most 1)
// that keeps its aspect ratio.
func packGrid(items []Item, opts Options) ([]Placement, []string) {
	n := len(items)
	cols := int(math.Ceil(math.Sqrt(float64(n))))
	rows := (n + cols - 1) / cols
	pad := opts.Padding
	usable := opts.CanvasSize - 2*pad
	cellW := (usable - (cols-1)*pad) / cols
	cellH := (usable - (rows-1)*pad) / rows

	placed := make([]Placement, len(items))
	var overflow []string
	for i, it := range items {
		if cellW < 1 || cellH < 1 {
			overflow = append(overflow, it.ID)
			placed[i] = Placement{ID: it.ID, Rect: origin(opts, it, 0), Scale: 0}
			continue
		}
		s := math.Min(1, math.Min(float64(cellW)/float64(it.Width), float64(cellH)/float64(it.Height)))
		w := min(scaled(it.Width, s), cellW)
		h := min(scaled(it.Height, s), cellH)
		col, row := i%cols, i/cols
		placed[i] = Placement{
			ID: it.ID,
			Rect: Rect{
				X: pad + col*(cellW+pad) + (cellW-w)/2,
				Y: pad + row*(cellH+pad) + (cellH-h)/2,
				W: w,
				H: h,
			},
			Scale: s,
		}
	}
	return placed, overflow
}
