package packing

import (
	"slices"
	"sort"
)

// minRemainder is the smallest free-rectangle side, in content pixels, worth
// keeping after a split.
const minRemainder = 2

// packMaxRects places items tallest first. Each item goes into the free
// rectangle with the top-most, then left-most, origin that can hold it plus
// its padding; the chosen rectangle is split into a right and a bottom
// remainder. Free rectangles never overlap, so neither do placements.
func packMaxRects(items []Item, opts Options) ([]Placement, []string) {
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := items[order[a]], items[order[b]]
		if ia.Height != ib.Height {
			return ia.Height > ib.Height
		}
		return ia.Width > ib.Width
	})

	return retry(items, opts, func(s float64, degrade bool) ([]Placement, []string) {
		pad := opts.Padding
		// Free rectangles are in footprint space: each item reserves its size
		// plus padding to the right and below.
		free := []Rect{{X: pad, Y: pad, W: opts.CanvasSize - pad, H: opts.CanvasSize - pad}}
		placed := make([]Placement, len(items))
		var overflow []string
		for _, idx := range order {
			it := items[idx]
			w, h := scaled(it.Width, s), scaled(it.Height, s)
			fw, fh := w+pad, h+pad
			best := -1
			for i, f := range free {
				if fw > f.W || fh > f.H {
					continue
				}
				if best < 0 || f.Y < free[best].Y || (f.Y == free[best].Y && f.X < free[best].X) {
					best = i
				}
			}
			if best < 0 {
				if !degrade {
					return nil, []string{it.ID}
				}
				overflow = append(overflow, it.ID)
				placed[idx] = Placement{ID: it.ID, Rect: origin(opts, it, s), Scale: s}
				continue
			}
			f := free[best]
			placed[idx] = Placement{ID: it.ID, Rect: Rect{X: f.X, Y: f.Y, W: w, H: h}, Scale: s}
			free = slices.Delete(free, best, best+1)
			right := Rect{X: f.X + fw, Y: f.Y, W: f.W - fw, H: fh}
			bottom := Rect{X: f.X, Y: f.Y + fh, W: f.W, H: f.H - fh}
			for _, r := range []Rect{right, bottom} {
				if r.W >= pad+minRemainder && r.H >= pad+minRemainder {
					free = append(free, r)
				}
			}
		}
		return placed, overflow
	})
}
