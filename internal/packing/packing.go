package packing

import (
	"fmt"
	"math"
	"strings"

	"partforge/internal/services"
)

// Algorithm selects a packing strategy.
type Algorithm string

const (
	AlgorithmRow      Algorithm = "row"
	AlgorithmGrid     Algorithm = "grid"
	AlgorithmMaxRects Algorithm = "maxrects"
)

// Algorithms lists every supported algorithm.
var Algorithms = []Algorithm{AlgorithmRow, AlgorithmGrid, AlgorithmMaxRects}

// ParseAlgorithm maps user input onto an Algorithm.
func ParseAlgorithm(value string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "row", "rows", "shelf":
		return AlgorithmRow, nil
	case "grid":
		return AlgorithmGrid, nil
	case "maxrects", "max_rects", "max-rects", "guillotine":
		return AlgorithmMaxRects, nil
	default:
		return "", fmt.Errorf("unknown packing algorithm %q", value)
	}
}

const (
	// areaMargin is the share of the usable canvas the initial scale targets.
	areaMargin = 0.85
	// shrinkFactor is applied to the scale after a layout fails to fit.
	shrinkFactor = 0.9
	maxAttempts  = 64
)

// Item is one part to place, sized in source pixels.
type Item struct {
	ID     string `json:"id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Options configures a packing run.
type Options struct {
	Algorithm  Algorithm
	CanvasSize int
	Padding    int
}

// Placement is one placed item. Scale maps source pixels to canvas pixels.
type Placement struct {
	ID    string  `json:"id"`
	Rect  Rect    `json:"rect"`
	Scale float64 `json:"scale"`
}

// Layout is the packing result. Placements follow input order.
type Layout struct {
	Algorithm  Algorithm   `json:"algorithm"`
	CanvasSize int         `json:"canvas_size"`
	Padding    int         `json:"padding"`
	Placements []Placement `json:"placements"`
	// Overflow lists items that did not fit and were placed at the origin.
	Overflow []string `json:"overflow,omitempty"`
}

// Lookup returns the placement for id.
func (l Layout) Lookup(id string) (Placement, bool) {
	for _, p := range l.Placements {
		if p.ID == id {
			return p, true
		}
	}
	return Placement{}, false
}

// OverflowError reports degraded layouts as services.ErrOverflow.
func (l Layout) OverflowError() error {
	if len(l.Overflow) == 0 {
		return nil
	}
	return services.Wrap(services.ErrOverflow, "packing", string(l.Algorithm),
		fmt.Sprintf("%d part(s) did not fit and overlap at the origin: %s", len(l.Overflow), strings.Join(l.Overflow, ", ")), nil)
}

// Pack places items into the canvas using the selected algorithm.
func Pack(items []Item, opts Options) (Layout, error) {
	if err := validate(items, opts); err != nil {
		return Layout{}, err
	}
	layout := Layout{Algorithm: opts.Algorithm, CanvasSize: opts.CanvasSize, Padding: opts.Padding}
	if len(items) == 0 {
		return layout, nil
	}
	var placed []Placement
	var overflow []string
	switch opts.Algorithm {
	case AlgorithmRow:
		placed, overflow = packRow(items, opts)
	case AlgorithmGrid:
		placed, overflow = packGrid(items, opts)
	case AlgorithmMaxRects:
		placed, overflow = packMaxRects(items, opts)
	}
	layout.Placements = placed
	layout.Overflow = overflow
	return layout, nil
}

func validate(items []Item, opts Options) error {
	switch opts.Algorithm {
	case AlgorithmRow, AlgorithmGrid, AlgorithmMaxRects:
	default:
		return services.Wrap(services.ErrValidation, "packing", "pack", fmt.Sprintf("unknown algorithm %q", opts.Algorithm), nil)
	}
	if opts.Padding < 0 {
		return services.Wrap(services.ErrValidation, "packing", "pack", "padding must not be negative", nil)
	}
	if opts.CanvasSize <= 2*opts.Padding {
		return services.Wrap(services.ErrValidation, "packing", "pack",
			fmt.Sprintf("canvas %d leaves no room inside padding %d", opts.CanvasSize, opts.Padding), nil)
	}
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it.Width <= 0 || it.Height <= 0 {
			return services.Wrap(services.ErrValidation, "packing", "pack", fmt.Sprintf("item %q has non-positive size %dx%d", it.ID, it.Width, it.Height), nil)
		}
		if _, dup := seen[it.ID]; dup {
			return services.Wrap(services.ErrValidation, "packing", "pack", fmt.Sprintf("duplicate item id %q", it.ID), nil)
		}
		seen[it.ID] = struct{}{}
	}
	return nil
}

// initialScale fits the total item area into the usable canvas area with a
// safety margin. Items are never scaled up.
func initialScale(items []Item, opts Options) float64 {
	usable := float64(opts.CanvasSize - 2*opts.Padding)
	var total float64
	for _, it := range items {
		total += float64(it.Width) * float64(it.Height)
	}
	return math.Min(1, math.Sqrt(usable*usable*areaMargin/total))
}

// scaled floors v*s to whole pixels, never below one. The epsilon keeps
// exact ratios such as 506/2000*2000 from rounding down a pixel.
func scaled(v int, s float64) int {
	return max(1, int(math.Floor(float64(v)*s+1e-9)))
}

// retry runs attempt with a shrinking scale until it places everything, then
// falls back to the degraded attempt at the last scale.
func retry(items []Item, opts Options, attempt func(scale float64, degrade bool) ([]Placement, []string)) ([]Placement, []string) {
	s := initialScale(items, opts)
	for range maxAttempts {
		placed, overflow := attempt(s, false)
		if len(overflow) == 0 {
			return placed, nil
		}
		s *= shrinkFactor
	}
	return attempt(s, true)
}

func origin(opts Options, it Item, s float64) Rect {
	limit := opts.CanvasSize - 2*opts.Padding
	return Rect{X: opts.Padding, Y: opts.Padding, W: min(scaled(it.Width, s), limit), H: min(scaled(it.Height, s), limit)}
}
