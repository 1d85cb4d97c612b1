package stage

import (
	"context"
	"math"
	"strings"

	"partforge/internal/geometry"
	"partforge/internal/parts"
	"partforge/internal/services/llm"
)

// minUnitExtent is the smallest rough box edge a unit may have.
const minUnitExtent = 0.01

// DiscoveryInput holds everything Discover needs.
type DiscoveryInput struct {
	Image    llm.Image
	Revision Revision[parts.Manifest]
	Options  Options
}

type discoveryPayload struct {
	Units []discoveryUnit `json:"units"`
	Parts []discoveryUnit `json:"parts"`
}

type discoveryUnit struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"display_name"`
	Name        string          `json:"name"`
	Anchor      *geometry.Point `json:"anchor"`
	RoughBox    *geometry.BBox  `json:"rough_box"`
	BBox        *geometry.BBox  `json:"bbox"`
	TypeHint    string          `json:"type_hint"`
	Strategy    string          `json:"strategy"`
}

// Discover proposes the manifest of candidate units for an image.
func Discover(ctx context.Context, r Reasoner, in DiscoveryInput) (parts.Manifest, Trace, error) {
	if err := in.Revision.validate(NameDiscovery); err != nil {
		return parts.Manifest{}, Trace{}, err
	}
	req := llm.Request{
		Name:        NameDiscovery,
		System:      discoverySystem,
		Prompt:      discoveryPrompt(),
		Images:      []llm.Image{in.Image},
		Temperature: in.Options.Temperature,
		OnChunk:     in.Options.OnChunk,
	}
	req, err := in.Revision.apply(NameDiscovery, req)
	if err != nil {
		return parts.Manifest{}, Trace{}, err
	}
	var payload discoveryPayload
	trace, err := call(ctx, r, NameDiscovery, "discover", req, &payload)
	if err != nil {
		return parts.Manifest{}, trace, err
	}
	manifest, err := normalizeManifest(payload)
	return manifest, trace, err
}

func normalizeManifest(payload discoveryPayload) (parts.Manifest, error) {
	raw := payload.Units
	if len(raw) == 0 {
		raw = payload.Parts
	}
	if len(raw) == 0 {
		return parts.Manifest{}, malformed(NameDiscovery, "normalize", "manifest contains no units")
	}
	units := make([]parts.Unit, 0, len(raw))
	ids := make([]string, 0, len(raw))
	for i, u := range raw {
		name := firstNonEmpty(u.DisplayName, u.Name)
		id := parts.Slug(u.ID)
		if id == "" {
			id = parts.Slug(name)
		}
		box := u.RoughBox
		if box == nil {
			box = u.BBox
		}
		if box == nil {
			return parts.Manifest{}, malformed(NameDiscovery, "normalize", "unit %d (%s) has no rough_box", i+1, firstNonEmpty(id, "unnamed"))
		}
		rough, ok := normalizeBox(*box)
		if !ok {
			return parts.Manifest{}, malformed(NameDiscovery, "normalize", "unit %d (%s) has a non-finite rough_box", i+1, firstNonEmpty(id, "unnamed"))
		}
		anchor := rough.Center()
		if u.Anchor != nil && u.Anchor.Finite() {
			anchor = rough.ClampPoint(*u.Anchor)
		}
		ids = append(ids, id)
		units = append(units, parts.Unit{
			DisplayName: strings.TrimSpace(name),
			Anchor:      anchor,
			RoughBox:    rough,
			TypeHint:    parts.ParseTypeHint(u.TypeHint),
			Strategy:    parts.ParseStrategy(u.Strategy),
		})
	}
	for i, id := range parts.UniqueIDs(ids) {
		units[i].ID = id
		if units[i].DisplayName == "" {
			units[i].DisplayName = parts.DisplayNameFor(id)
		}
	}
	return parts.Manifest{Units: units}, nil
}

// normalizeBox orders, clamps and inflates a model-supplied box so it is
// well formed. It reports false for non-finite input.
func normalizeBox(b geometry.BBox) (geometry.BBox, bool) {
	for _, v := range []float64{b.MinX, b.MinY, b.MaxX, b.MaxY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return geometry.BBox{}, false
		}
	}
	box := b.Canon().Clamp()
	if box.Width() < minUnitExtent || box.Height() < minUnitExtent {
		box = box.Grow(minUnitExtent).Clamp()
	}
	return box, box.WellFormed()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
