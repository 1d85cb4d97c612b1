package atlas

import (
	"fmt"
	"io"
	"math"

	"partforge/internal/geometry"
	"partforge/internal/packing"
	"partforge/internal/parts"
	"partforge/internal/services"
)

// PackedPart is an assembled part with its atlas rectangle.
type PackedPart struct {
	parts.Part
	AtlasRect packing.Rect `json:"atlas_rect"`
	// SourceRect is the part's bounding box in source image pixels.
	SourceRect packing.Rect `json:"source_rect"`
	Scale      float64      `json:"scale"`
	// Overflow marks a part placed at the origin because nothing fit.
	Overflow bool `json:"overflow,omitempty"`
}

// Atlas is a packed set of parts.
type Atlas struct {
	SourceWidth  int            `json:"source_width"`
	SourceHeight int            `json:"source_height"`
	Layout       packing.Layout `json:"layout"`
	Parts        []PackedPart   `json:"parts"`
}

// pixelEpsilon absorbs float error in products such as 0.7*500.
const pixelEpsilon = 1e-9

// SourceRect converts a normalized box into source pixels. Edges are floored
// and ceiled outward so the rectangle covers the whole box.
func SourceRect(box geometry.BBox, width, height int) packing.Rect {
	b := box.Canon().Clamp()
	x0 := int(math.Floor(b.MinX*float64(width) + pixelEpsilon))
	y0 := int(math.Floor(b.MinY*float64(height) + pixelEpsilon))
	x1 := int(math.Ceil(b.MaxX*float64(width) - pixelEpsilon))
	y1 := int(math.Ceil(b.MaxY*float64(height) - pixelEpsilon))
	x0 = min(x0, width-1)
	y0 = min(y0, height-1)
	return packing.Rect{X: x0, Y: y0, W: max(1, x1-x0), H: max(1, y1-y0)}
}

// Items derives packing items from parts in input order.
func Items(list []parts.Part, width, height int) ([]packing.Item, error) {
	if width <= 0 || height <= 0 {
		return nil, services.Wrap(services.ErrValidation, "packing", "items",
			fmt.Sprintf("source dimensions %dx%d must be positive", width, height), nil)
	}
	items := make([]packing.Item, len(list))
	for i, p := range list {
		r := SourceRect(p.BBox, width, height)
		items[i] = packing.Item{ID: p.ID, Width: r.W, Height: r.H}
	}
	return items, nil
}

// Build packs the parts of a source image sized width by height.
func Build(list []parts.Part, width, height int, opts packing.Options) (Atlas, error) {
	items, err := Items(list, width, height)
	if err != nil {
		return Atlas{}, err
	}
	layout, err := packing.Pack(items, opts)
	if err != nil {
		return Atlas{}, err
	}
	overflow := make(map[string]bool, len(layout.Overflow))
	for _, id := range layout.Overflow {
		overflow[id] = true
	}
	a := Atlas{SourceWidth: width, SourceHeight: height, Layout: layout, Parts: make([]PackedPart, 0, len(list))}
	for _, p := range list {
		placement, ok := layout.Lookup(p.ID)
		if !ok {
			return Atlas{}, services.Wrap(services.ErrService, "packing", "build", fmt.Sprintf("layout omits part %q", p.ID), nil)
		}
		a.Parts = append(a.Parts, PackedPart{
			Part:       p,
			AtlasRect:  placement.Rect,
			SourceRect: SourceRect(p.BBox, width, height),
			Scale:      placement.Scale,
			Overflow:   overflow[p.ID],
		})
	}
	return a, nil
}

// Rects returns the id to atlas rectangle map.
func (a Atlas) Rects() map[string]packing.Rect {
	out := make(map[string]packing.Rect, len(a.Parts))
	for _, p := range a.Parts {
		out[p.ID] = p.AtlasRect
	}
	return out
}

// Entry is one line of the correspondence list.
type Entry struct {
	ID          string       `json:"id"`
	DisplayName string       `json:"display_name"`
	Source      packing.Rect `json:"source"`
	Target      packing.Rect `json:"target"`
	Scale       float64      `json:"scale"`
}

// Correspondence lists source to atlas mappings in part order.
type Correspondence struct {
	CanvasSize int     `json:"canvas_size"`
	Padding    int     `json:"padding"`
	Algorithm  string  `json:"algorithm"`
	Entries    []Entry `json:"entries"`
}

// Correspondence builds the list handed to the synthesis service.
func (a Atlas) Correspondence() Correspondence {
	c := Correspondence{
		CanvasSize: a.Layout.CanvasSize,
		Padding:    a.Layout.Padding,
		Algorithm:  string(a.Layout.Algorithm),
		Entries:    make([]Entry, len(a.Parts)),
	}
	for i, p := range a.Parts {
		name := p.DisplayName
		if name == "" {
			name = parts.DisplayNameFor(p.ID)
		}
		c.Entries[i] = Entry{ID: p.ID, DisplayName: name, Source: p.SourceRect, Target: p.AtlasRect, Scale: p.Scale}
	}
	return c
}

// WriteText writes the human-readable form, one part per line:
//
//	wheel_front "Wheel Front": source 200x250+640+480 -> atlas 180x225+4+4 scale 0.900
func (c Correspondence) WriteText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "atlas %dx%d %s padding %d\n", c.CanvasSize, c.CanvasSize, c.Algorithm, c.Padding); err != nil {
		return err
	}
	for _, e := range c.Entries {
		if _, err := fmt.Fprintf(w, "%s %q: source %s -> atlas %s scale %.3f\n", e.ID, e.DisplayName, e.Source, e.Target, e.Scale); err != nil {
			return err
		}
	}
	return nil
}
