package packing

// packRow flows items left to right in input order, wrapping to a new row
// when the next item would cross the right edge. A row is as tall as its
// tallest item.
func packRow(items []Item, opts Options) ([]Placement, []string) {
	return retry(items, opts, func(s float64, degrade bool) ([]Placement, []string) {
		lo, hi := opts.Padding, opts.CanvasSize-opts.Padding
		x, y, rowH := lo, lo, 0
		placed := make([]Placement, 0, len(items))
		var overflow []string
		for _, it := range items {
			w, h := scaled(it.Width, s), scaled(it.Height, s)
			if x > lo && x+w > hi {
				x, y, rowH = lo, y+rowH+opts.Padding, 0
			}
			if x+w > hi || y+h > hi {
				if !degrade {
					return nil, []string{it.ID}
				}
				overflow = append(overflow, it.ID)
				placed = append(placed, Placement{ID: it.ID, Rect: origin(opts, it, s), Scale: s})
				continue
			}
			placed = append(placed, Placement{ID: it.ID, Rect: Rect{X: x, Y: y, W: w, H: h}, Scale: s})
			x += w + opts.Padding
			rowH = max(rowH, h)
		}
		return placed, overflow
	})
}
